package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// Badger implements Store on BadgerDB. A partition is a key prefix plus a marker key.
type Badger struct {
	db *badger.DB
}

var _ Store = (*Badger)(nil)

// BadgerOptions configures the Badger backend.
type BadgerOptions struct {
	// Dir holds the Badger data files. Required unless InMemory is set.
	Dir string
	// InMemory keeps everything in memory; used by tests.
	InMemory bool
	// Logger receives Badger warnings and errors. Defaults to a no-op logger.
	Logger *zap.Logger
}

// NewBadger opens a Badger database.
func NewBadger(opts BadgerOptions) (*Badger, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("badger directory is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dbOpts = dbOpts.WithLogger(badgerLogger{l: logger.Sugar().Named("badger")})

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &Badger{db: db}, nil
}

func markerKey(partition string) []byte {
	return append([]byte{'m'}, partition...)
}

func dataPrefix(partition string) []byte {
	p := make([]byte, 0, len(partition)+2)
	p = append(p, 'd')
	p = append(p, partition...)
	return append(p, 0)
}

func dataKey(partition string, key uint64) []byte {
	return binary.BigEndian.AppendUint64(dataPrefix(partition), key)
}

// hasPartition reports whether the partition marker exists.
func hasPartition(txn *badger.Txn, partition string) (bool, error) {
	_, err := txn.Get(markerKey(partition))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func requirePartition(txn *badger.Txn, partition string) error {
	if _, err := txn.Get(markerKey(partition)); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrPartitionNotFound, partition)
		}
		return err
	}
	return nil
}

// EnsureCreated writes the partition marker.
func (b *Badger) EnsureCreated(_ context.Context, partition string) error {
	if err := ValidatePartition(partition); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(markerKey(partition), nil)
	})
}

// Exists reports whether the partition marker is present.
func (b *Badger) Exists(_ context.Context, partition string) (bool, error) {
	if err := ValidatePartition(partition); err != nil {
		return false, err
	}
	var ok bool
	err := b.db.View(func(txn *badger.Txn) (err error) {
		ok, err = hasPartition(txn, partition)
		return err
	})
	return ok, err
}

// Partitions lists partition markers.
func (b *Badger) Partitions(_ context.Context) ([]string, error) {
	var out []string
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := []byte{'m'}
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		iterOpts.PrefetchValues = false
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			out = append(out, string(it.Item().Key()[1:]))
		}
		return nil
	})
	return out, err
}

// Drop removes every document of the partition and its marker.
func (b *Badger) Drop(_ context.Context, partition string) error {
	if err := ValidatePartition(partition); err != nil {
		return err
	}
	if err := b.db.DropPrefix(dataPrefix(partition)); err != nil {
		return fmt.Errorf("failed to drop partition %s: %w", partition, err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(markerKey(partition))
	})
}

// Upsert inserts or replaces one document.
func (b *Badger) Upsert(ctx context.Context, partition string, key uint64, data []byte) error {
	return b.UpsertBatch(ctx, partition, []Entry{{Key: key, Data: data}})
}

// UpsertBatch writes all entries in one transaction.
func (b *Badger) UpsertBatch(_ context.Context, partition string, entries []Entry) error {
	if err := ValidatePartition(partition); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	return b.db.Update(func(txn *badger.Txn) error {
		if err := requirePartition(txn, partition); err != nil {
			return err
		}
		for _, e := range entries {
			if err := txn.Set(dataKey(partition, e.Key), e.Data); err != nil {
				return fmt.Errorf("failed to upsert key %d: %w", e.Key, err)
			}
		}
		return nil
	})
}

// Get returns the document stored under key.
func (b *Badger) Get(_ context.Context, partition string, key uint64) ([]byte, bool, error) {
	if err := ValidatePartition(partition); err != nil {
		return nil, false, err
	}
	var (
		val   []byte
		found bool
	)
	err := b.db.View(func(txn *badger.Txn) error {
		if ok, err := hasPartition(txn, partition); !ok {
			return err
		}
		item, err := txn.Get(dataKey(partition, key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		val, err = item.ValueCopy(nil)
		return err
	})
	return val, found, err
}

// GetBatch returns the documents that exist for keys.
func (b *Badger) GetBatch(_ context.Context, partition string, keys []uint64) ([]Entry, error) {
	if err := ValidatePartition(partition); err != nil {
		return nil, err
	}
	var out []Entry
	err := b.db.View(func(txn *badger.Txn) error {
		if ok, err := hasPartition(txn, partition); !ok {
			return err
		}
		for _, k := range keys {
			item, err := txn.Get(dataKey(partition, k))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out = append(out, Entry{Key: k, Data: val})
		}
		return nil
	})
	return out, err
}

// Delete removes one document.
func (b *Badger) Delete(ctx context.Context, partition string, key uint64) error {
	return b.DeleteBatch(ctx, partition, []uint64{key})
}

// DeleteBatch removes documents in one transaction.
func (b *Badger) DeleteBatch(_ context.Context, partition string, keys []uint64) error {
	if err := ValidatePartition(partition); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return b.db.Update(func(txn *badger.Txn) error {
		if err := requirePartition(txn, partition); err != nil {
			return err
		}
		for _, k := range keys {
			if err := txn.Delete(dataKey(partition, k)); err != nil {
				return fmt.Errorf("failed to delete key %d: %w", k, err)
			}
		}
		return nil
	})
}

// GetAll iterates the partition prefix in key order.
func (b *Badger) GetAll(_ context.Context, partition string) ([]Entry, error) {
	if err := ValidatePartition(partition); err != nil {
		return nil, err
	}
	var out []Entry
	err := b.db.View(func(txn *badger.Txn) error {
		if ok, err := hasPartition(txn, partition); !ok {
			return err
		}
		prefix := dataPrefix(partition)
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			k := item.Key()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out = append(out, Entry{Key: binary.BigEndian.Uint64(k[len(prefix):]), Data: val})
		}
		return nil
	})
	return out, err
}

// Count returns the number of documents in the partition.
func (b *Badger) Count(_ context.Context, partition string) (int64, error) {
	if err := ValidatePartition(partition); err != nil {
		return 0, err
	}
	var n int64
	err := b.db.View(func(txn *badger.Txn) error {
		if ok, err := hasPartition(txn, partition); !ok {
			return err
		}
		prefix := dataPrefix(partition)
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		iterOpts.PrefetchValues = false
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Close closes the database.
func (b *Badger) Close() error {
	return b.db.Close()
}

// badgerLogger routes Badger warnings and errors to zap and drops info/debug chatter.
type badgerLogger struct {
	l *zap.SugaredLogger
}

func (b badgerLogger) Errorf(f string, v ...interface{})   { b.l.Errorf(f, v...) }
func (b badgerLogger) Warningf(f string, v ...interface{}) { b.l.Warnf(f, v...) }
func (badgerLogger) Infof(string, ...interface{})          {}
func (badgerLogger) Debugf(string, ...interface{})         {}
