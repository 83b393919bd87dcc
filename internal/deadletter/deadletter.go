// Package deadletter records what a pipe gave up on so it can be inspected
// and replayed by an operator.
package deadletter

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tarungka/pipes/internal/models"
)

var ErrStoreClosed = errors.New("dead-letter store is closed")

// Stage names the pipe stage that exhausted its retries.
type Stage string

const (
	StageEnrichment Stage = "enrichment"
	StageDispatch   Stage = "dispatch"
)

// RecordSnapshot is the persisted form of a record.
type RecordSnapshot struct {
	ID       string `json:"id" codec:"id" bson:"id"`
	Identity string `json:"identity" codec:"identity" bson:"identity"`
	Offset   int64  `json:"offset" codec:"offset" bson:"offset"`
	Body     []byte `json:"body" codec:"body" bson:"body"`
}

// Entry is one dead-letter event. A batch dead-lettered as a whole is one
// entry holding all of its records.
type Entry struct {
	ID        string           `json:"id" codec:"id" bson:"_id"`
	Pipe      string           `json:"pipe" codec:"pipe" bson:"pipe"`
	Partition string           `json:"partition" codec:"partition" bson:"partition"`
	Stage     Stage            `json:"stage" codec:"stage" bson:"stage"`
	Reason    string           `json:"reason" codec:"reason" bson:"reason"`
	Attempts  int              `json:"attempts" codec:"attempts" bson:"attempts"`
	Records   []RecordSnapshot `json:"records" codec:"records" bson:"records"`
	CreatedAt time.Time        `json:"created_at" codec:"-" bson:"created_at"`
}

// Store receives dead-letter entries. Put must be safe for concurrent use
// by all partition workers.
type Store interface {
	Put(ctx context.Context, e Entry) error
	// List returns the newest entries of a pipe first. limit <= 0 means all.
	List(ctx context.Context, pipe string, limit int) ([]Entry, error)
	Close() error
}

// NewEntry snapshots records that could not be delivered.
func NewEntry(pipe, partition string, stage Stage, cause error, attempts int, records []models.Record) Entry {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	snaps := make([]RecordSnapshot, 0, len(records))
	for _, r := range records {
		snaps = append(snaps, RecordSnapshot{
			ID:       r.ID.String(),
			Identity: r.Identity(),
			Offset:   r.Offset(),
			Body:     r.Body(),
		})
	}
	return Entry{
		ID:        id.String(),
		Pipe:      pipe,
		Partition: partition,
		Stage:     stage,
		Reason:    reason,
		Attempts:  attempts,
		Records:   snaps,
		CreatedAt: time.Now().UTC(),
	}
}
