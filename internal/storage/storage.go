// Package storage is the Pebble key-value store shared by the vault, the disk
// version-tree backend and accumulator persistence. Each user owns a Bucket,
// a key prefix that keeps its records apart from the others.
package storage

import (
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"Vaultnet/internal/errs"
)

const (
	// defaultSyncInterval is the default interval between WAL syncs.
	defaultSyncInterval = 100 * time.Millisecond

	// defaultCacheSize is the default block cache size.
	defaultCacheSize = 32 << 20
)

// Options tune a Storage. Zero values select the defaults.
type Options struct {
	CacheSize    int64         // CacheSize is the block cache size in bytes
	SyncInterval time.Duration // SyncInterval is the delay between WAL syncs
}

// Mutation is one write of a batch. A nil Value deletes Key.
type Mutation struct {
	Key   []byte // Key is the key to write
	Value []byte // Value is the value to store, nil to delete
}

// Storage is a key-value store backed by Pebble.
// Writes are non-blocking (NoSync) and a background goroutine
// periodically syncs the WAL to disk.
type Storage struct {
	db       *pebble.DB    // db is the underlying Pebble database
	stopSync chan struct{} // stopSync signals the sync goroutine to stop
	interval time.Duration // interval is the WAL sync period
	wg       sync.WaitGroup
}

// New opens a store at path with default options.
func New(path string) (*Storage, error) {
	return Open(path, Options{})
}

// Open opens a store at path.
func Open(path string, o Options) (*Storage, error) {
	if o.CacheSize <= 0 {
		o.CacheSize = defaultCacheSize
	}

	if o.SyncInterval <= 0 {
		o.SyncInterval = defaultSyncInterval
	}

	cache := pebble.NewCache(o.CacheSize)
	defer cache.Unref()

	db, err := pebble.Open(path, &pebble.Options{
		Cache:                       cache,
		MemTableSize:                16 << 20,
		MemTableStopWritesThreshold: 2,
	})
	if err != nil {
		return nil, errs.Transport(err, "open store at %s", path)
	}

	s := &Storage{
		db:       db,
		stopSync: make(chan struct{}),
		interval: o.SyncInterval,
	}

	s.startSyncLoop()

	return s, nil
}

// Get returns the value of key, or nil if it does not exist.
func (s *Storage) Get(key []byte) ([]byte, error) {
	value, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Transport(err, "get")
	}
	defer closer.Close()

	// value is only valid until closer.Close()
	result := make([]byte, len(value))
	copy(result, value)

	return result, nil
}

// Has reports whether key exists.
func (s *Storage) Has(key []byte) (bool, error) {
	_, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, errs.Transport(err, "has")
	}

	closer.Close()

	return true, nil
}

// Set stores a key-value pair.
func (s *Storage) Set(key, value []byte) error {
	if err := s.db.Set(key, value, pebble.NoSync); err != nil {
		return errs.Transport(err, "set")
	}

	return nil
}

// Delete removes key.
func (s *Storage) Delete(key []byte) error {
	if err := s.db.Delete(key, pebble.NoSync); err != nil {
		return errs.Transport(err, "delete")
	}

	return nil
}

// Apply writes every mutation atomically.
func (s *Storage) Apply(muts []Mutation) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for _, m := range muts {
		var err error
		if m.Value == nil {
			err = batch.Delete(m.Key, nil)
		} else {
			err = batch.Set(m.Key, m.Value, nil)
		}

		if err != nil {
			return errs.Transport(err, "batch")
		}
	}

	if err := batch.Commit(pebble.NoSync); err != nil {
		return errs.Transport(err, "commit batch")
	}

	return nil
}

// IteratePrefix calls fn for each pair whose key starts with prefix, in key
// order. Key and value are only valid during the call.
// If fn returns an error, iteration stops and the error is returned.
func (s *Storage) IteratePrefix(prefix []byte, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return errs.Transport(err, "iterate")
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return errs.Transport(err, "read value")
		}

		if err := fn(iter.Key(), value); err != nil {
			return err
		}
	}

	return iter.Error()
}

// DeletePrefix removes every key starting with prefix.
func (s *Storage) DeletePrefix(prefix []byte) error {
	upper := prefixUpperBound(prefix)
	if upper == nil {
		return errs.New(errs.ErrInvalidArgument, "unbounded prefix")
	}

	if err := s.db.DeleteRange(prefix, upper, pebble.NoSync); err != nil {
		return errs.Transport(err, "delete range")
	}

	return nil
}

// Bucket returns the view of the keys under prefix.
func (s *Storage) Bucket(prefix string) *Bucket {
	return &Bucket{s: s, prefix: []byte(prefix)}
}

// prefixUpperBound computes the exclusive upper bound for a prefix scan.
// Returns nil if prefix is all 0xFF (full range).
func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)

	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}

	return nil
}

// Close stops the sync goroutine, syncs once more and closes the database.
func (s *Storage) Close() error {
	close(s.stopSync)
	s.wg.Wait()

	if err := s.sync(); err != nil {
		return errs.Transport(err, "final sync")
	}

	return s.db.Close()
}

// startSyncLoop starts the background goroutine that periodically syncs the WAL.
func (s *Storage) startSyncLoop() {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				_ = s.sync()
			case <-s.stopSync:
				return
			}
		}
	}()
}

// sync forces a WAL sync to disk.
func (s *Storage) sync() error {
	return s.db.LogData(nil, pebble.Sync)
}
