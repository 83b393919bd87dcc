// Package checkpoint persists the per partition cursor of every pipe.
//
// Cursors only move forward. Committing an offset lower than the stored one
// fails with ErrRegression, committing the same offset is a no-op.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrRegression = errors.New("checkpoint regression")
	ErrStoreOpen  = errors.New("checkpoint store is not open")
)

// Checkpoint marks the last resolved offset of a partition.
type Checkpoint struct {
	Pipe      string    `json:"pipe"`
	Partition string    `json:"partition"`
	Offset    int64     `json:"offset"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is shared by all workers of a host. Each (pipe, partition) key is
// written only by the worker that owns the partition.
type Store interface {
	// Load returns the stored checkpoint and whether one exists.
	Load(ctx context.Context, pipe, partition string) (Checkpoint, bool, error)

	// Commit moves the cursor forward.
	Commit(ctx context.Context, cp Checkpoint) error

	// List returns every partition checkpoint of a pipe.
	List(ctx context.Context, pipe string) ([]Checkpoint, error)

	Close() error
}

func regression(cp Checkpoint, stored int64) error {
	return fmt.Errorf("%w: %s/%s stored=%d commit=%d", ErrRegression, cp.Pipe, cp.Partition, stored, cp.Offset)
}

func key(pipe, partition string) string {
	return pipe + "\x00" + partition
}
