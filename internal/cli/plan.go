package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/docsync/internal/queryplan"
)

// PlanOptions holds flags for the plan command.
type PlanOptions struct {
	*RootOptions
	Schemas    string
	Collection string
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "plan <query-json>",
		Short: "Show the index plan of a query",
		Long: `Normalize a Mango query and show the index and key range it would
be answered with, without touching any data.

Examples:
  docsync plan --schemas ./schemas --collection human '{"selector":{"age":{"$gt":30}}}'
  docsync plan --schemas ./schemas --collection human '{"selector":{},"sort":[{"age":"desc"}]}' --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Schemas, "schemas", "", "schema file or directory (required)")
	cmd.Flags().StringVar(&opts.Collection, "collection", "", "collection name (required)")
	_ = cmd.MarkFlagRequired("schemas")
	_ = cmd.MarkFlagRequired("collection")

	return cmd
}

func runPlan(opts *PlanOptions, rawQuery string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	collection, err := loadCollection(opts.Schemas, opts.Collection)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeSchema, "failed to load schema", err)
	}

	q, err := queryplan.ParseQuery([]byte(rawQuery))
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeQuery, "invalid query", err)
	}
	prepared, err := queryplan.Prepare(collection, q)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeQuery, "invalid query", err)
	}

	formatter.VerboseLog("Planned against %d index(es) of %s", len(collection.Indexes)+1, collection.Name)

	if formatter.Format == "json" {
		return formatter.Success(prepared)
	}

	plan := prepared.Plan
	w := formatter.Writer
	fmt.Fprintf(w, "index:     %v\n", plan.Index)
	fmt.Fprintf(w, "start:     %s %s\n", formatKeys(plan.StartKeys), inclusive(plan.InclusiveStart))
	fmt.Fprintf(w, "end:       %s %s\n", formatKeys(plan.EndKeys), inclusive(plan.InclusiveEnd))
	fmt.Fprintf(w, "sorted:    %t\n", plan.SortFieldsSameAsIndexFields)
	fmt.Fprintf(w, "satisfied: %t\n", plan.SelectorSatisfiedByIndex)
	fmt.Fprintf(w, "quality:   %d\n", queryplan.RateQueryPlan(plan))
	return nil
}

// formatKeys prints range sentinels by name.
func formatKeys(keys []any) string {
	out := "["
	for i, k := range keys {
		if i > 0 {
			out += " "
		}
		switch {
		case queryplan.IsIndexMin(k):
			out += "MIN"
		case queryplan.IsIndexMax(k):
			out += "MAX"
		default:
			out += fmt.Sprintf("%v", k)
		}
	}
	return out + "]"
}

func inclusive(b bool) string {
	if b {
		return "(inclusive)"
	}
	return "(exclusive)"
}
