package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/roach88/docsync/internal/config"
	"github.com/roach88/docsync/internal/doc"
	"github.com/roach88/docsync/internal/replication"
	"github.com/roach88/docsync/internal/schema"
	"github.com/roach88/docsync/internal/storage"
	"github.com/roach88/docsync/internal/storage/memory"
	"github.com/roach88/docsync/internal/storage/sharded"
	"github.com/roach88/docsync/internal/storage/sqlite"
)

// openedStore is one side of a replication with everything that must be
// closed after it.
type openedStore struct {
	storage.Instance
	dbs []*sqlite.DB
}

// Close closes the instance, then its databases.
func (o *openedStore) Close() error {
	var errs []error
	if err := o.Instance.Close(); err != nil && !errors.Is(err, storage.ErrClosed) {
		errs = append(errs, err)
	}
	for _, db := range o.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openStore opens the collection on side s. A store with more than one
// shard is served through a sharded instance.
func openStore(side string, s config.Store, collection doc.Schema) (*openedStore, error) {
	params := storage.Params{DatabaseName: databaseName(side, s), Schema: collection}

	opened := &openedStore{}
	var shards []storage.Instance
	fail := func(err error) (*openedStore, error) {
		for _, inst := range shards {
			_ = inst.Close()
		}
		for _, db := range opened.dbs {
			_ = db.Close()
		}
		return nil, fmt.Errorf("open %s store: %w", side, err)
	}

	n := max(s.Shards, 1)
	for i := range n {
		shardParams := params
		if n > 1 {
			shardParams.DatabaseName = fmt.Sprintf("%s.%d", params.DatabaseName, i)
		}
		switch s.Backend {
		case config.BackendMemory:
			inst, err := memory.New(shardParams)
			if err != nil {
				return fail(err)
			}
			shards = append(shards, inst)
		default:
			db, err := sqlite.Open(s.ShardPaths()[i])
			if err != nil {
				return fail(err)
			}
			opened.dbs = append(opened.dbs, db)
			inst, err := db.Collection(shardParams)
			if err != nil {
				return fail(err)
			}
			shards = append(shards, inst)
		}
	}

	if n == 1 {
		opened.Instance = shards[0]
		return opened, nil
	}
	inst, err := sharded.New(params, shards...)
	if err != nil {
		return fail(err)
	}
	opened.Instance = inst
	return opened, nil
}

// openMeta opens the replication meta collection next to the fork: in the
// fork's first SQLite database, or in memory for a memory fork.
func openMeta(cfg *config.Config, fork *openedStore) (storage.Instance, error) {
	params := storage.Params{
		DatabaseName:   fork.DatabaseName(),
		CollectionName: metaCollectionName(cfg.Identifier, cfg.Collection),
		Schema:         replication.MetaSchema(),
	}
	if len(fork.dbs) == 0 {
		return memory.New(params)
	}
	return fork.dbs[0].Collection(params)
}

// metaCollectionName keeps the meta documents of different replications
// sharing one fork database apart.
func metaCollectionName(identifier, collection string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, identifier+"_"+collection)
	return "replication_meta_" + clean
}

func databaseName(side string, s config.Store) string {
	if s.Path == "" {
		return side
	}
	return strings.TrimSuffix(filepath.Base(s.Path), filepath.Ext(s.Path))
}

// loadCollection loads the schemas at path and returns the named one.
func loadCollection(path, collection string) (doc.Schema, error) {
	schemas, err := schema.Load(path)
	if err != nil {
		return doc.Schema{}, err
	}
	return schema.Find(schemas, collection)
}

// openFile opens collection in the single SQLite file at path.
func openFile(path string, collection doc.Schema) (*openedStore, error) {
	return openStore("db", config.Store{Backend: config.BackendSQLite, Path: path}, collection)
}
