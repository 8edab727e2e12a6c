package store

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/cockroachdb/pebble"
)

// walDB persists accepted records in a pebble database, keyed by the
// record bytes themselves. Values are empty; membership is the data.
type walDB struct {
	db     *pebble.DB
	noSync bool
}

// OpenPersistent creates a store whose accepted records survive
// restarts. Existing records under dataDir are loaded before returning.
// With noSync, writes skip fsync; the store can lose the tail of a run
// on power loss but not corrupt itself.
func OpenPersistent(cfg Config, dataDir string, noSync bool) (*Store, error) {
	s, err := New(cfg)
	if err != nil {
		return nil, err
	}

	db, err := pebble.Open(filepath.Join(dataDir, "hashes"), &pebble.Options{
		MemTableSize:          16 << 20, // 16MB
		L0CompactionThreshold: 8,
	})
	if err != nil {
		return nil, fmt.Errorf("open pebble store: %w", err)
	}
	s.wal = &walDB{db: db, noSync: noSync}

	loaded, err := s.reload()
	if err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("hash store opened", "data_dir", dataDir, "records", loaded, "nosync", noSync)
	return s, nil
}

// reload inserts every persisted record into the in-memory buckets.
func (s *Store) reload() (int, error) {
	iter, err := s.wal.db.NewIter(nil)
	if err != nil {
		return 0, fmt.Errorf("iterate pebble store: %w", err)
	}
	defer func() { _ = iter.Close() }()

	loaded := 0
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		if len(key) != RecordSize {
			continue
		}
		record := make([]byte, RecordSize)
		copy(record, key)
		if s.insert(record) {
			loaded++
		}
	}
	if err := iter.Error(); err != nil {
		return loaded, fmt.Errorf("iterate pebble store: %w", err)
	}
	return loaded, nil
}

func (w *walDB) syncOpt() *pebble.WriteOptions {
	if w.noSync {
		return pebble.NoSync
	}
	return pebble.Sync
}

func (w *walDB) append(record []byte) error {
	return w.db.Set(record, nil, w.syncOpt())
}

// appendMany commits a group of records in one pebble batch.
func (w *walDB) appendMany(records [][]byte) error {
	if len(records) == 0 {
		return nil
	}
	batch := w.db.NewBatch()
	for _, record := range records {
		if err := batch.Set(record, nil, nil); err != nil {
			batch.Close()
			return err
		}
	}
	return batch.Commit(w.syncOpt())
}

func (w *walDB) close() error {
	return w.db.Close()
}
