package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/docsync/internal/doc"
	"github.com/roach88/docsync/internal/schema"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid       bool                `json:"valid"`
	Collections []CollectionSummary `json:"collections,omitempty"`
	Error       *ValidationError    `json:"error,omitempty"`
}

// CollectionSummary describes one valid collection.
type CollectionSummary struct {
	Name       string     `json:"name"`
	PrimaryKey string     `json:"primaryKey"`
	Version    int        `json:"version"`
	Indexes    [][]string `json:"indexes,omitempty"`
}

// ValidationError locates a schema error.
type ValidationError struct {
	Collection string `json:"collection,omitempty"`
	Field      string `json:"field,omitempty"`
	Message    string `json:"message"`
	File       string `json:"file,omitempty"`
	Line       int    `json:"line,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <schemas>",
		Short: "Validate collection schemas",
		Long: `Validate collection schemas written in CUE or YAML.

<schemas> is a single .cue/.yaml file or a directory of them. Every
collection must declare a primary key, and every index must name fields
of the collection.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	if _, err := os.Stat(path); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("schemas not found: %s", path), nil)
	}

	schemas, err := schema.Load(path)
	if err != nil {
		return outputValidationError(formatter, validationErrorOf(err))
	}

	formatter.VerboseLog("Loaded %d collection(s) from %s", len(schemas), path)

	result := ValidationResult{Valid: true, Collections: make([]CollectionSummary, len(schemas))}
	for i, s := range schemas {
		result.Collections[i] = summarize(s)
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	w := formatter.Writer
	fmt.Fprintf(w, "✓ %d collection(s) valid\n", len(schemas))
	for _, c := range result.Collections {
		fmt.Fprintf(w, "  %s (primary key %s, %d index(es))\n", c.Name, c.PrimaryKey, len(c.Indexes))
	}
	return nil
}

func summarize(s doc.Schema) CollectionSummary {
	return CollectionSummary{
		Name:       s.Name,
		PrimaryKey: s.PrimaryKey,
		Version:    s.Version,
		Indexes:    s.Indexes,
	}
}

func validationErrorOf(err error) ValidationError {
	var cErr *schema.CompileError
	if !errors.As(err, &cErr) {
		return ValidationError{Message: err.Error()}
	}
	out := ValidationError{
		Collection: cErr.Collection,
		Field:      cErr.Field,
		Message:    cErr.Message,
	}
	if cErr.Pos.IsValid() {
		out.File = cErr.Pos.Filename()
		out.Line = cErr.Pos.Line()
	}
	return out
}

// outputValidationError reports an invalid schema. Invalid schemas are a
// validation failure (exit code 1), not a command error.
func outputValidationError(formatter *OutputFormatter, vErr ValidationError) error {
	if formatter.Format == "json" {
		if err := formatter.Success(ValidationResult{Valid: false, Error: &vErr}); err != nil {
			return err
		}
		return NewExitError(ExitFailure, "validation failed")
	}

	w := formatter.Writer
	fmt.Fprintln(w, "✗ Validation failed")
	if vErr.Line > 0 {
		fmt.Fprintf(w, "%s:%d\n", vErr.File, vErr.Line)
	}
	where := vErr.Field
	if vErr.Collection != "" {
		where = vErr.Collection + "." + vErr.Field
	}
	if where != "" {
		fmt.Fprintf(w, "  %s: %s\n", where, vErr.Message)
	} else {
		fmt.Fprintf(w, "  %s\n", vErr.Message)
	}
	return NewExitError(ExitFailure, "validation failed")
}
