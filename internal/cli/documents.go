package cli

import (
	"github.com/spf13/cobra"
)

// DocumentOptions holds the flags shared by the document commands.
type DocumentOptions struct {
	*RootOptions
	DB         string
	Schemas    string
	Collection string
}

func (o *DocumentOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.DB, "db", "", "SQLite database file (required)")
	cmd.Flags().StringVar(&o.Schemas, "schemas", "", "schema file or directory (required)")
	cmd.Flags().StringVar(&o.Collection, "collection", "", "collection name (required)")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("schemas")
	_ = cmd.MarkFlagRequired("collection")
}

// open loads the collection schema and opens its store. Failures are
// reported through formatter.
func (o *DocumentOptions) open(formatter *OutputFormatter) (*openedStore, error) {
	collection, err := loadCollection(o.Schemas, o.Collection)
	if err != nil {
		return nil, formatter.Fail(ExitCommandError, ErrCodeSchema, "failed to load schema", err)
	}
	store, err := openFile(o.DB, collection)
	if err != nil {
		return nil, formatter.Fail(ExitFailure, ErrCodeStorage, "failed to open database", err)
	}
	formatter.VerboseLog("Opened %s in %s", collection.Name, o.DB)
	return store, nil
}
