package sinks

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/tarungka/pipes/internal/logger"
	"github.com/tarungka/pipes/internal/models"
	"golang.org/x/time/rate"
)

const (
	HeaderRecordID = "pipes-record-id"
	HeaderIdentity = "pipes-record-identity"
)

// Outcome is the delivery result of one record.
type Outcome struct {
	Record models.Record
	// Ref is what the sink reported back, such as an execution id.
	Ref string
	// Duplicate is set when an invoke target skipped an execution that
	// was already started for the same idempotency key.
	Duplicate bool
	Err       *DispatchError
}

func (o Outcome) OK() bool { return o.Err == nil }

// DispatchResult holds one outcome per dispatched record, in input order.
type DispatchResult struct {
	Target     string
	Capability Capability
	Outcomes   []Outcome
	Latency    time.Duration
}

func (r DispatchResult) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.OK() {
			n++
		}
	}
	return n
}

func (r DispatchResult) Failed() int { return len(r.Outcomes) - r.Succeeded() }

// Fatal returns the first sink level failure, if any.
func (r DispatchResult) Fatal() *DispatchError {
	for _, o := range r.Outcomes {
		if o.Err != nil && o.Err.Class == Fatal {
			return o.Err
		}
	}
	return nil
}

// Err joins every record failure.
func (r DispatchResult) Err() error {
	var errs []error
	for _, o := range r.Outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errors.Join(errs...)
}

// Dispatcher sends records to a single target.
type Dispatcher struct {
	target  Target
	limiter *rate.Limiter
	logger  zerolog.Logger
}

type Option func(*Dispatcher)

// WithRateLimit caps the records sent per second. perSec <= 0 disables it.
func WithRateLimit(perSec float64) Option {
	return func(d *Dispatcher) {
		if perSec <= 0 {
			d.limiter = nil
			return
		}
		burst := int(math.Ceil(perSec))
		d.limiter = rate.NewLimiter(rate.Limit(perSec), burst)
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

func NewDispatcher(t Target, opts ...Option) (*Dispatcher, error) {
	if err := t.validate(); err != nil {
		return nil, fmt.Errorf("target %s: %w", t.Name, err)
	}
	d := &Dispatcher{
		target: t,
		logger: logger.GetLogger("dispatcher").With().Str("target", t.Name).Str("capability", string(t.Capability)).Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *Dispatcher) Target() Target { return d.target }

// Dispatch delivers records and reports a per record outcome. It never
// returns early on a failed record.
func (d *Dispatcher) Dispatch(ctx context.Context, records []models.Record) DispatchResult {
	start := time.Now()
	res := DispatchResult{
		Target:     d.target.Name,
		Capability: d.target.Capability,
		Outcomes:   make([]Outcome, len(records)),
	}
	for i, r := range records {
		res.Outcomes[i].Record = r
	}
	if len(records) == 0 {
		return res
	}

	if d.limiter != nil {
		for range records {
			if err := d.limiter.Wait(ctx); err != nil {
				for i := range res.Outcomes {
					res.Outcomes[i].Err = d.fail(records[i], err)
				}
				return res
			}
		}
	}

	switch d.target.Capability {
	case Append:
		d.append(ctx, res.Outcomes)
	case Enqueue:
		d.enqueue(ctx, res.Outcomes)
	case Invoke:
		d.invoke(ctx, res.Outcomes)
	}
	res.Latency = time.Since(start)

	if failed := res.Failed(); failed > 0 {
		d.logger.Debug().Int("failed", failed).Int("records", len(records)).Err(res.Err()).Msg("dispatch had failures")
	}
	return res
}

func (d *Dispatcher) fail(r models.Record, err error) *DispatchError {
	return &DispatchError{
		Target:     d.target.Name,
		Capability: d.target.Capability,
		Record:     r.Identity(),
		Class:      Classify(err),
		Err:        err,
	}
}

func message(r models.Record, key string) Message {
	return Message{
		Key:   key,
		Value: r.Body(),
		Headers: map[string]string{
			HeaderRecordID: r.ID.String(),
			HeaderIdentity: r.Identity(),
		},
	}
}

func (d *Dispatcher) append(ctx context.Context, outcomes []Outcome) {
	msgs := make([]Message, 0, len(outcomes))
	idx := make([]int, 0, len(outcomes))
	for i := range outcomes {
		key, err := d.target.keyRule.Key(outcomes[i].Record)
		if err != nil {
			outcomes[i].Err = d.fail(outcomes[i].Record, Reject(err))
			continue
		}
		msgs = append(msgs, message(outcomes[i].Record, key))
		idx = append(idx, i)
	}
	if len(msgs) == 0 {
		return
	}

	errs := d.target.appender.Append(ctx, msgs)
	for j, i := range idx {
		var err error
		if j < len(errs) {
			err = errs[j]
		} else {
			err = errors.New("no result reported by sink")
		}
		if err != nil {
			outcomes[i].Err = d.fail(outcomes[i].Record, err)
		}
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, outcomes []Outcome) {
	for i := range outcomes {
		r := outcomes[i].Record
		if err := d.target.enqueuer.Enqueue(ctx, r.Identity(), message(r, "")); err != nil {
			outcomes[i].Err = d.fail(r, err)
		}
	}
}

func (d *Dispatcher) invoke(ctx context.Context, outcomes []Outcome) {
	for i := range outcomes {
		r := outcomes[i].Record
		key, err := d.target.IdempotencyKey(r)
		if err != nil {
			outcomes[i].Err = d.fail(r, Reject(err))
			continue
		}
		claimed, err := d.target.guard.Claim(ctx, key)
		if err != nil {
			outcomes[i].Err = d.fail(r, fmt.Errorf("claim idempotency key: %w", err))
			continue
		}
		if !claimed {
			d.logger.Debug().Str("key", key).Msg("execution already started, skipping")
			outcomes[i].Duplicate = true
			continue
		}

		ref, err := d.target.invoker.StartExecution(ctx, key, r.Body())
		if errors.Is(err, ErrExecutionExists) {
			d.confirm(ctx, key)
			outcomes[i].Duplicate = true
			continue
		}
		if err != nil {
			if rerr := d.target.guard.Release(context.WithoutCancel(ctx), key); rerr != nil {
				d.logger.Warn().Err(rerr).Str("key", key).Msg("failed to release idempotency key")
			}
			outcomes[i].Err = d.fail(r, err)
			continue
		}
		d.confirm(ctx, key)
		outcomes[i].Ref = ref
	}
}

// confirm marks key as started. A failed confirm only leaves a pending
// claim behind; it lapses and the workflow API rejects the repeated
// execution name.
func (d *Dispatcher) confirm(ctx context.Context, key string) {
	if err := d.target.guard.Confirm(context.WithoutCancel(ctx), key); err != nil {
		d.logger.Warn().Err(err).Str("key", key).Msg("failed to confirm idempotency key")
	}
}

func (d *Dispatcher) Close() error {
	return d.target.Close()
}
