// Package storage defines the record store used by vector collections and its backends.
package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrInvalidPartition is returned when a partition name is not a plain identifier.
	ErrInvalidPartition = errors.New("invalid partition name")
	// ErrPartitionNotFound is returned by reads and writes against a partition that was never created.
	ErrPartitionNotFound = errors.New("partition not found")
)

var partitionPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Entry is a single serialized document addressed by its key.
type Entry struct {
	Key  uint64
	Data []byte
}

// Store persists serialized documents keyed by uint64, grouped in named partitions.
// One partition holds one collection. Batch mutations are all-or-nothing.
// Missing keys are omitted from batch reads rather than reported as errors, and reads
// against a partition that does not exist come back empty. Writes to such a partition
// fail with ErrPartitionNotFound.
type Store interface {
	EnsureCreated(ctx context.Context, partition string) error
	Exists(ctx context.Context, partition string) (bool, error)
	Drop(ctx context.Context, partition string) error
	// Partitions lists existing partitions in name order.
	Partitions(ctx context.Context) ([]string, error)

	Upsert(ctx context.Context, partition string, key uint64, data []byte) error
	UpsertBatch(ctx context.Context, partition string, entries []Entry) error
	Get(ctx context.Context, partition string, key uint64) ([]byte, bool, error)
	GetBatch(ctx context.Context, partition string, keys []uint64) ([]Entry, error)
	Delete(ctx context.Context, partition string, key uint64) error
	DeleteBatch(ctx context.Context, partition string, keys []uint64) error

	// GetAll scans the whole partition.
	GetAll(ctx context.Context, partition string) ([]Entry, error)
	Count(ctx context.Context, partition string) (int64, error)

	Close() error
}

// ValidatePartition reports ErrInvalidPartition for names outside [A-Za-z0-9_].
func ValidatePartition(partition string) error {
	if !partitionPattern.MatchString(partition) {
		return fmt.Errorf("%w: %q", ErrInvalidPartition, partition)
	}
	return nil
}
