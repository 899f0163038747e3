// Command docsync inspects document collections and replicates them.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/docsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "docsync: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
