package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/docsync/internal/bulkwrite"
	"github.com/roach88/docsync/internal/doc"
	"github.com/roach88/docsync/internal/storage"
)

// NewPutCommand creates the put command.
func NewPutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DocumentOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "put <document-json | ->",
		Short: "Insert or update a document",
		Long: `Write a document as the next revision of whatever is stored under
its primary key. Pass "-" to read the document from stdin.

Examples:
  docsync put --db fork.db --schemas ./schemas --collection human '{"passportId":"alice","firstName":"Alice"}'
  cat alice.json | docsync put --db fork.db --schemas ./schemas --collection human -`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPut(opts, args[0], cmd)
		},
	}
	opts.bind(cmd)

	return cmd
}

func runPut(opts *DocumentOptions, arg string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	raw := []byte(arg)
	if arg == "-" {
		var err error
		if raw, err = io.ReadAll(cmd.InOrStdin()); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeInvalidDoc, "failed to read stdin", err)
		}
	}

	store, err := opts.open(formatter)
	if err != nil {
		return err
	}
	defer store.Close()

	var flat map[string]any
	if err := json.Unmarshal(raw, &flat); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidDoc, "document is not a JSON object", err)
	}
	collection := store.Schema()
	d, err := collection.FromMap(flat)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidDoc, "invalid document", err)
	}

	written, err := storage.Upsert(context.Background(), store, doc.NewLWTClock(), d, "cli-put")
	if err != nil {
		return failWrite(formatter, err)
	}

	if formatter.Format == "json" {
		return formatter.Success(collection.ToMap(written))
	}
	fmt.Fprintf(formatter.Writer, "✓ %s %s\n", written.ID, written.Rev)
	return nil
}

// failWrite reports a write error, telling conflicts apart from storage
// failures.
func failWrite(formatter *OutputFormatter, err error) error {
	if bulkwrite.IsConflict(err) {
		return formatter.Fail(ExitFailure, ErrCodeConflict, "write conflict", err)
	}
	return formatter.Fail(ExitFailure, ErrCodeStorage, "write failed", err)
}
