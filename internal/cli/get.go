package cli

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
)

// GetOptions holds flags for the get command.
type GetOptions struct {
	*DocumentOptions
	Deleted bool
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GetOptions{DocumentOptions: &DocumentOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "get <id>...",
		Short: "Read documents by primary key",
		Long: `Read documents by primary key. Deleted documents are skipped unless
--deleted is given. Missing ids are reported on stderr.

Examples:
  docsync get --db fork.db --schemas ./schemas --collection human alice bob`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(opts, args, cmd)
		},
	}
	opts.bind(cmd)
	cmd.Flags().BoolVar(&opts.Deleted, "deleted", false, "include deleted documents")

	return cmd
}

func runGet(opts *GetOptions, ids []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	store, err := opts.open(formatter)
	if err != nil {
		return err
	}
	defer store.Close()

	docs, err := store.FindDocumentsByID(context.Background(), ids, opts.Deleted)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeStorage, "read failed", err)
	}

	collection := store.Schema()
	found := make(map[string]map[string]any, len(docs))
	for _, d := range docs {
		found[d.ID] = collection.ToMap(d)
	}

	// Requested order, duplicates dropped.
	out := make([]map[string]any, 0, len(found))
	var missing []string
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if m, ok := found[id]; ok {
			out = append(out, m)
		} else {
			missing = append(missing, id)
		}
	}

	if len(missing) > 0 {
		slices.Sort(missing)
		fmt.Fprintf(formatter.GetErrWriter(), "not found: %s\n", strings.Join(missing, ", "))
	}
	return formatter.Success(out)
}
