// Package idempotency guards workflow starts against duplicates. A key is
// claimed as pending before an execution is started, confirmed once the
// start succeeded and released again when it failed. A pending claim that
// is never confirmed, because its host died mid start, lapses after the
// pending TTL so a redelivery can claim it again.
package idempotency

import (
	"context"
	"errors"
	"time"
)

var (
	ErrEmptyKey = errors.New("idempotency key is empty")
	// ErrInFlight means another caller holds a pending claim on the key.
	// The start may still happen or fail, so the caller retries later.
	ErrInFlight = errors.New("idempotency key is claimed by a start in flight")
)

const (
	// DefaultTTL is how long a confirmed start is remembered by stores
	// that expire keys.
	DefaultTTL = 24 * time.Hour
	// DefaultPendingTTL bounds how long an unconfirmed claim blocks
	// other starts.
	DefaultPendingTTL = time.Minute
)

const (
	statePending = "pending"
	stateStarted = "started"
)

type Guard interface {
	// Claim takes a pending claim on key. It returns false when a start
	// for key was already confirmed and ErrInFlight while another pending
	// claim holds it.
	Claim(ctx context.Context, key string) (bool, error)
	// Confirm records that the execution for key started.
	Confirm(ctx context.Context, key string) error
	// Release drops a claim whose execution could not be started.
	Release(ctx context.Context, key string) error
	Close() error
}
