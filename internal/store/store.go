// Package store implements the bucketed hash set behind the sink
// server, with an on-demand merkle tree and optional pebble-backed
// persistence.
package store

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
)

// RecordSize is the fixed size of a stored hash record (512 bits).
const RecordSize = 64

// lockStripes is the number of mutexes striped across buckets.
const lockStripes = 256

// Config controls store sizing.
type Config struct {
	// IndexBits selects the number of buckets (1 << IndexBits). The
	// bucket index is the record's leading IndexBits bits. 1..24.
	IndexBits int
}

// DefaultIndexBits matches the reference service's benchmark default.
const DefaultIndexBits = 16

// Store is a set of fixed-size records bucketed by their leading bits.
// All methods are safe for concurrent use.
type Store struct {
	indexBits int
	buckets   []map[string]struct{}
	locks     [lockStripes]sync.Mutex
	count     atomic.Int64
	occupied  atomic.Int64

	treeMu sync.RWMutex
	tree   *merkleTree

	wal *walDB
}

// New creates an in-memory store.
func New(cfg Config) (*Store, error) {
	if cfg.IndexBits == 0 {
		cfg.IndexBits = DefaultIndexBits
	}
	if cfg.IndexBits < 1 || cfg.IndexBits > 24 {
		return nil, fmt.Errorf("index bits must be 1..24, got %d", cfg.IndexBits)
	}
	return &Store{
		indexBits: cfg.IndexBits,
		buckets:   make([]map[string]struct{}, 1<<cfg.IndexBits),
	}, nil
}

// index takes the record's leading indexBits bits as the bucket number.
func (s *Store) index(record []byte) int {
	v := binary.BigEndian.Uint32(record[:4])
	return int(v >> (32 - s.indexBits))
}

// Add inserts a record and reports whether it was new. The record must
// be exactly RecordSize bytes; callers validate at the API boundary.
func (s *Store) Add(record []byte) (isNew bool, err error) {
	if len(record) != RecordSize {
		return false, fmt.Errorf("record must be %d bytes, got %d", RecordSize, len(record))
	}
	isNew = s.insert(record)
	if isNew && s.wal != nil {
		if err := s.wal.append(record); err != nil {
			return true, fmt.Errorf("persist record: %w", err)
		}
	}
	return isNew, nil
}

// AddBatch inserts every RecordSize-byte chunk of body and returns
// new/existing counts. The body length must be a multiple of RecordSize.
func (s *Store) AddBatch(body []byte) (newCount, existingCount int, err error) {
	if len(body)%RecordSize != 0 {
		return 0, 0, fmt.Errorf("batch must be a multiple of %d bytes, got %d", RecordSize, len(body))
	}
	var added [][]byte
	for off := 0; off < len(body); off += RecordSize {
		record := body[off : off+RecordSize]
		if s.insert(record) {
			newCount++
			if s.wal != nil {
				added = append(added, record)
			}
		} else {
			existingCount++
		}
	}
	if s.wal != nil {
		if err := s.wal.appendMany(added); err != nil {
			return newCount, existingCount, fmt.Errorf("persist records: %w", err)
		}
	}
	return newCount, existingCount, nil
}

func (s *Store) insert(record []byte) bool {
	idx := s.index(record)
	lock := &s.locks[idx%lockStripes]
	lock.Lock()
	defer lock.Unlock()

	bucket := s.buckets[idx]
	if bucket == nil {
		bucket = make(map[string]struct{})
		s.buckets[idx] = bucket
		s.occupied.Add(1)
	}
	key := string(record)
	if _, ok := bucket[key]; ok {
		return false
	}
	bucket[key] = struct{}{}
	s.count.Add(1)
	return true
}

// Contains reports whether the record is in the store.
func (s *Store) Contains(record []byte) bool {
	if len(record) != RecordSize {
		return false
	}
	idx := s.index(record)
	lock := &s.locks[idx%lockStripes]
	lock.Lock()
	defer lock.Unlock()
	bucket := s.buckets[idx]
	if bucket == nil {
		return false
	}
	_, ok := bucket[string(record)]
	return ok
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	return int(s.count.Load())
}

// OccupiedSlots returns the number of non-empty buckets.
func (s *Store) OccupiedSlots() int {
	return int(s.occupied.Load())
}

// TotalSlots returns the bucket count.
func (s *Store) TotalSlots() int {
	return 1 << s.indexBits
}

// Snapshot returns a copy of every stored record. Order is unspecified.
func (s *Store) Snapshot() [][]byte {
	out := make([][]byte, 0, s.Len())
	for idx := range s.buckets {
		lock := &s.locks[idx%lockStripes]
		lock.Lock()
		for key := range s.buckets[idx] {
			out = append(out, []byte(key))
		}
		lock.Unlock()
	}
	return out
}

// Close releases the persistence layer, if any.
func (s *Store) Close() error {
	if s.wal == nil {
		return nil
	}
	return s.wal.close()
}
