// Package sources normalizes append-only logs and point-to-point queues
// into record batches.
package sources

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tarungka/pipes/internal/models"
)

// Kind tells the coordinator whether a source keeps order in a partition.
type Kind string

const (
	// KindStream sources are ordered logs. The starting position applies to
	// partitions without a checkpoint.
	KindStream Kind = "stream"
	// KindQueue sources redeliver unacknowledged messages after a
	// visibility timeout and make no ordering promise.
	KindQueue Kind = "queue"
)

// QueuePartition is the single partition every queue source reports.
const QueuePartition = "queue"

var (
	ErrClosed           = errors.New("source is closed")
	ErrUnknownPartition = errors.New("unknown partition")
	ErrNotOpen          = errors.New("partition is not open")
)

// Cursor is where a partition resumes. Valid is false on first activation.
type Cursor struct {
	Offset int64
	Valid  bool
}

// Resume returns the cursor for the last committed offset.
func Resume(offset int64) Cursor { return Cursor{Offset: offset, Valid: true} }

// Source is read by one worker per partition. Open, Pull and Ack for a
// given partition are never called concurrently.
type Source interface {
	Name() string
	Kind() Kind

	// Partitions lists the partitions a worker must be started for.
	Partitions(ctx context.Context) ([]string, error)

	// Open positions a partition after the cursor, or at the starting
	// position when the cursor is not valid.
	Open(ctx context.Context, partition string, from Cursor) error

	// Pull returns up to max records. An empty batch means nothing was
	// available before the source's poll wait ran out.
	Pull(ctx context.Context, partition string, max int) (models.Batch, error)

	// Ack tells the source every record up to and including checkpoint is
	// resolved.
	Ack(ctx context.Context, partition string, checkpoint int64) error

	Close() error
}

// TransientError is a source failure that is worth retrying.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient source error during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err, or anything it wraps, is a TransientError.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// StartingPosition is used by stream sources on first activation.
type StartingPosition string

const (
	Earliest StartingPosition = "earliest"
	Latest   StartingPosition = "latest"
)

// ParseStartingPosition accepts earliest/latest and the TRIM_HORIZON/LATEST
// spellings. The empty string means latest.
func ParseStartingPosition(s string) (StartingPosition, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "latest":
		return Latest, nil
	case "earliest", "trim_horizon":
		return Earliest, nil
	}
	return "", fmt.Errorf("unknown starting position %q", s)
}

func newBatch(src Source, partition string, records []models.Record) models.Batch {
	return models.Batch{
		Source:    src.Name(),
		Partition: partition,
		Ordered:   src.Kind() == KindStream,
		Records:   records,
	}
}
