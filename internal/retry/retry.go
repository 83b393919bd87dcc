// Package retry is the bounded exponential backoff used by every pipe
// stage that talks to the outside world.
package retry

import (
	"context"
	"errors"
	"time"

	retrygo "github.com/avast/retry-go/v4"
)

const (
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 100 * time.Millisecond
	DefaultMaxBackoff     = 5 * time.Second
)

// Policy bounds how often and how slowly an operation is retried.
type Policy struct {
	MaxAttempts    int           `koanf:"max_attempts" json:"max_attempts"`
	InitialBackoff time.Duration `koanf:"initial_backoff" json:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff" json:"max_backoff"`
}

// WithDefaults fills zero fields.
func (p Policy) WithDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = DefaultInitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = DefaultMaxBackoff
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	return p
}

// Backoff is the wait before the given retry (1 based), without jitter.
// Retries below 1 wait InitialBackoff.
func (p Policy) Backoff(retry int) time.Duration {
	p = p.WithDefaults()
	d := p.InitialBackoff
	for i := 1; i < retry; i++ {
		d *= 2
		if d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return d
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so that Do stops retrying immediately. The mark
// survives wrapping with %w.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	if IsPermanent(err) {
		return err
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do runs fn until it succeeds, returns a permanent error, the attempts are
// used up or ctx is done. onFailure, when set, is called after every failed
// attempt. The returned error is the last one fn produced, joined with the
// context error when ctx ended the loop.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error, onFailure func(attempt uint, err error)) error {
	p = p.WithDefaults()
	opts := []retrygo.Option{
		retrygo.Context(ctx),
		retrygo.Attempts(uint(p.MaxAttempts)),
		retrygo.DelayType(func(n uint, _ error, _ *retrygo.Config) time.Duration {
			return p.Backoff(int(n))
		}),
		retrygo.LastErrorOnly(true),
		retrygo.RetryIf(func(err error) bool { return !IsPermanent(err) }),
	}
	if onFailure != nil {
		opts = append(opts, retrygo.OnRetry(onFailure))
	}

	var last error
	err := retrygo.Do(func() error {
		last = fn(ctx)
		return last
	}, opts...)
	if err == nil {
		return nil
	}
	if last == nil {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(last, ctxErr) {
		return errors.Join(last, ctxErr)
	}
	return last
}
