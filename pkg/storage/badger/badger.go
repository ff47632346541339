// Package badger implements the raw reading store on BadgerDB (LSM tree).
package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/co2track/co2track/pkg/reading"
	"github.com/co2track/co2track/pkg/storage"
)

// keyPrefix namespaces reading keys so future keyspaces (sequences,
// metadata) can share the same DB.
const keyPrefix = 'r'

// ctxCheckEvery bounds how long an iteration can ignore cancellation.
const ctxCheckEvery = 1000

// Store implements storage.RawStore using BadgerDB.
type Store struct {
	db  *badger.DB
	seq *badger.Sequence

	path     string
	inMemory bool
}

// Config holds BadgerDB configuration.
type Config struct {
	// Path to store database files.
	Path string

	// InMemory mode (for testing).
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage (0 = 48 MB default,
	// sized for always-on sensor boxes like a Raspberry Pi).
	MaxMemoryMB int64
}

// New opens a BadgerDB raw store.
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// Conservative memory limits: readings arrive about once a minute,
	// so throughput never justifies badger's server-class defaults.
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(memTableSize / 2).
		WithIndexCacheSize(memTableSize / 4).
		WithMaxLevels(4).
		WithNumCompactors(2).
		WithValueThreshold(1024).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	seq, err := db.GetSequence([]byte("seq:reading"), 128)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open id sequence: %w", err)
	}

	return &Store{db: db, seq: seq, path: cfg.Path, inMemory: cfg.InMemory}, nil
}

// Insert stores a reading and returns it with its assigned ID.
func (s *Store) Insert(ctx context.Context, r reading.Reading) (reading.Reading, error) {
	if err := ctx.Err(); err != nil {
		return reading.Reading{}, err
	}

	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	if r.Source == "" {
		r.Source = reading.DefaultSource
	}

	id, err := s.seq.Next()
	if err != nil {
		return reading.Reading{}, fmt.Errorf("failed to allocate reading id: %w", err)
	}
	r.ID = int64(id) + 1 // sequences start at 0; ids start at 1

	value, err := json.Marshal(r)
	if err != nil {
		return reading.Reading{}, fmt.Errorf("failed to encode reading: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(makeKey(r.Timestamp, r.Source, r.ID), value)
	})
	if err != nil {
		return reading.Reading{}, fmt.Errorf("failed to write reading: %w", err)
	}
	return r, nil
}

// Range returns readings in [start, end) in timestamp order.
func (s *Store) Range(ctx context.Context, start, end time.Time) ([]reading.Reading, error) {
	var results []reading.Reading
	err := s.scan(ctx, start, end, func(r reading.Reading) {
		results = append(results, r)
	})
	return results, err
}

// WindowStats computes stats over [start, end) for readings accepted by
// filter (nil = all). The local hour is evaluated in start's location.
func (s *Store) WindowStats(ctx context.Context, start, end time.Time, filter storage.HourFilter) (reading.WindowStats, error) {
	loc := start.Location()

	var matched []reading.Reading
	err := s.scan(ctx, start, end, func(r reading.Reading) {
		if filter != nil && !filter(r.Timestamp.In(loc).Hour()) {
			return
		}
		matched = append(matched, r)
	})
	if err != nil {
		return reading.WindowStats{}, err
	}
	return reading.Summarize(matched), nil
}

// scan iterates readings in [start, end), checking cancellation
// periodically so long scans cannot block shutdown.
func (s *Store) scan(ctx context.Context, start, end time.Time, fn func(reading.Reading)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchSize = 100

		it := txn.NewIterator(opts)
		defer it.Close()

		var iterCount int
		for it.Seek(seekKey(start)); it.Valid(); it.Next() {
			iterCount++
			if iterCount%ctxCheckEvery == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}

			item := it.Item()
			ts, ok := parseKey(item.Key())
			if !ok {
				break // left the reading keyspace
			}
			if !ts.Before(end) {
				break
			}

			err := item.Value(func(val []byte) error {
				var r reading.Reading
				if err := json.Unmarshal(val, &r); err != nil {
					return fmt.Errorf("failed to decode reading: %w", err)
				}
				fn(r)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Bounds returns the oldest and newest reading timestamps.
func (s *Store) Bounds(ctx context.Context) (storage.Bounds, error) {
	if err := ctx.Err(); err != nil {
		return storage.Bounds{}, err
	}

	var b storage.Bounds
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		it.Seek([]byte{keyPrefix})
		if it.Valid() {
			if ts, ok := parseKey(it.Item().Key()); ok {
				b.Oldest = ts
				b.Ok = true
			}
		}
		it.Close()

		if !b.Ok {
			return nil
		}

		opts.Reverse = true
		rit := txn.NewIterator(opts)
		defer rit.Close()
		// Seek past the reading keyspace, then step back to its last key.
		rit.Seek([]byte{keyPrefix + 1})
		if rit.Valid() {
			if ts, ok := parseKey(rit.Item().Key()); ok {
				b.Newest = ts
			}
		}
		return nil
	})
	return b, err
}

// DeleteBefore removes readings older than cutoff.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		var iterCount int
		for it.Seek([]byte{keyPrefix}); it.Valid(); it.Next() {
			iterCount++
			if iterCount%ctxCheckEvery == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}

			ts, ok := parseKey(it.Item().Key())
			if !ok || !ts.Before(cutoff) {
				break
			}
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	// A write batch splits the deletions across transactions, so a
	// large purge cannot hit badger's transaction size limit.
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return 0, fmt.Errorf("failed to delete reading: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("failed to flush deletions: %w", err)
	}
	return int64(len(keys)), nil
}

// Reclaim runs value log garbage collection until badger reports no
// more files worth rewriting.
func (s *Store) Reclaim(ctx context.Context) error {
	if s.inMemory {
		return nil
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.db.RunValueLogGC(0.5); err != nil {
			// ErrNoRewrite means GC found nothing to reclaim.
			if err == badger.ErrNoRewrite {
				return nil
			}
			return fmt.Errorf("value log gc: %w", err)
		}
	}
}

// SizeBytes reports the on-disk footprint of the store's data
// directory. In-memory stores fall back to badger's own size estimate.
func (s *Store) SizeBytes(ctx context.Context) (int64, error) {
	if s.inMemory {
		lsm, vlog := s.db.Size()
		return lsm + vlog, nil
	}

	var size int64
	err := filepath.Walk(s.path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// Close releases the id sequence and shuts down BadgerDB cleanly.
func (s *Store) Close() error {
	if err := s.seq.Release(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}

// makeKey builds a time-ordered key:
// [prefix (1)][unix nanos (8)][source hash (8)][id (8)].
// Time-first layout lets range queries seek directly to the window
// start instead of scanning the whole keyspace.
func makeKey(ts time.Time, source string, id int64) []byte {
	key := make([]byte, 25)
	key[0] = keyPrefix
	binary.BigEndian.PutUint64(key[1:9], uint64(ts.UnixNano()))
	binary.BigEndian.PutUint64(key[9:17], xxhash.Sum64String(source))
	binary.BigEndian.PutUint64(key[17:25], uint64(id))
	return key
}

// seekKey is the smallest possible key at or after ts.
func seekKey(ts time.Time) []byte {
	key := make([]byte, 9)
	key[0] = keyPrefix
	binary.BigEndian.PutUint64(key[1:9], uint64(ts.UnixNano()))
	return key
}

// parseKey extracts the timestamp from a reading key. Returns false for
// keys outside the reading keyspace.
func parseKey(key []byte) (time.Time, bool) {
	if len(key) != 25 || key[0] != keyPrefix {
		return time.Time{}, false
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(key[1:9]))), true
}

var _ storage.RawStore = (*Store)(nil)
