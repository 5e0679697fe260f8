// Package badger backs pkg/dboxindex with github.com/dgraph-io/badger/v4,
// using badger's native MVCC read transactions as the View snapshot and a
// single badger database per storage root as the persisted index file.
package badger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/cobaltmail/dboxmap/internal/logger"
	"github.com/cobaltmail/dboxmap/pkg/dboxindex"
)

// IndexFileName is the subdirectory holding the badger database for one
// storage root, analogous to the original engine's single flat index
// file at <storage_dir>/dovecot.map.index.
const IndexFileName = "dbox-map.index.db"

// Index is a badger-backed dboxindex.Index.
type Index struct {
	dir      string
	db       *badgerdb.DB
	syncMu   sync.Mutex
	syncSeq  uint64
	hadError bool
}

// New returns an unopened Index rooted at storageDir.
func New(storageDir string) *Index {
	return &Index{dir: filepath.Join(storageDir, IndexFileName)}
}

func (idx *Index) Path() string { return idx.dir }

func (idx *Index) Open(createMissing bool) error {
	if idx.db != nil {
		return nil // idempotent
	}
	if _, err := os.Stat(idx.dir); err != nil {
		if !os.IsNotExist(err) {
			return dboxmapIOErr(idx.dir, err)
		}
		if !createMissing {
			return err
		}
		if err := os.MkdirAll(idx.dir, 0o750); err != nil {
			return dboxmapIOErr(idx.dir, err)
		}
	}
	opts := badgerdb.DefaultOptions(idx.dir).WithLogger(nil).WithSyncWrites(true)
	db, err := badgerdb.Open(opts)
	if err != nil {
		return dboxmapIOErr(idx.dir, err)
	}
	idx.db = db
	logger.Debug("map index opened", logger.StorageDir(idx.dir))
	return nil
}

func (idx *Index) Close() error {
	if idx.db == nil {
		return nil
	}
	err := idx.db.Close()
	idx.db = nil
	return err
}

func (idx *Index) NewView() (dboxindex.View, error) {
	if idx.db == nil {
		return nil, fmt.Errorf("dboxindex/badger: index not open")
	}
	return newView(idx.db)
}

func (idx *Index) BeginTransaction(external bool) (dboxindex.Transaction, error) {
	if idx.db == nil {
		return nil, fmt.Errorf("dboxindex/badger: index not open")
	}
	return beginTransaction(idx.db, external), nil
}

func (idx *Index) BeginSync() (dboxindex.Sync, error) {
	if idx.db == nil {
		return nil, fmt.Errorf("dboxindex/badger: index not open")
	}
	return beginSync(&idx.syncMu, &idx.syncSeq), nil
}

func (idx *Index) ResetError() {
	idx.hadError = false
}

func dboxmapIOErr(path string, cause error) error {
	return fmt.Errorf("dboxindex/badger: %s: %w", path, cause)
}
