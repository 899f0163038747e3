package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/docsync/internal/queryplan"
	"github.com/roach88/docsync/internal/storage"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*DocumentOptions
	Count bool
}

// QueryOutput is the JSON result of the query command.
type QueryOutput struct {
	Plan      queryplan.Plan   `json:"plan"`
	Documents []map[string]any `json:"documents,omitempty"`
	Count     *int             `json:"count,omitempty"`
	CountMode string           `json:"countMode,omitempty"`
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{DocumentOptions: &DocumentOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "query <query-json>",
		Short: "Run a Mango query",
		Long: `Run a Mango query against a collection and print the matching
documents in query order, or only their number with --count.

Examples:
  docsync query --db fork.db --schemas ./schemas --collection human '{"selector":{"age":{"$gte":18}},"limit":10}'
  docsync query --db fork.db --schemas ./schemas --collection human '{"selector":{"lastName":"Kim"}}' --count`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], cmd)
		},
	}
	opts.bind(cmd)
	cmd.Flags().BoolVar(&opts.Count, "count", false, "print only the number of matches")

	return cmd
}

func runQuery(opts *QueryOptions, rawQuery string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	q, err := queryplan.ParseQuery([]byte(rawQuery))
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeQuery, "invalid query", err)
	}

	store, err := opts.open(formatter)
	if err != nil {
		return err
	}
	defer store.Close()

	prepared, err := storage.PrepareQuery(store, q)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeQuery, "invalid query", err)
	}
	formatter.VerboseLog("Using index %v", prepared.Plan.Index)

	ctx := context.Background()
	out := QueryOutput{Plan: prepared.Plan}
	if opts.Count {
		res, err := store.Count(ctx, prepared)
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeStorage, "count failed", err)
		}
		out.Count = &res.Count
		out.CountMode = string(res.Mode)
		if formatter.Format == "json" {
			return formatter.Success(out)
		}
		fmt.Fprintln(formatter.Writer, res.Count)
		return nil
	}

	res, err := store.Query(ctx, prepared)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeStorage, "query failed", err)
	}
	collection := store.Schema()
	out.Documents = make([]map[string]any, len(res.Documents))
	for i, d := range res.Documents {
		out.Documents[i] = collection.ToMap(d)
	}
	if formatter.Format == "json" {
		return formatter.Success(out)
	}
	return formatter.Success(out.Documents)
}
