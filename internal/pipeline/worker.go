package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/tarungka/pipes/internal/checkpoint"
	"github.com/tarungka/pipes/internal/deadletter"
	"github.com/tarungka/pipes/internal/enrich"
	"github.com/tarungka/pipes/internal/filter"
	"github.com/tarungka/pipes/internal/models"
	"github.com/tarungka/pipes/internal/retry"
	"github.com/tarungka/pipes/sources"
	"golang.org/x/sync/errgroup"
)

var errStopping = errors.New("pipe is stopping")

// failure is a record that could not be delivered.
type failure struct {
	record models.Record
	err    error
}

// worker owns one source partition. It holds at most one batch at a time
// and does not fetch again until that batch is resolved.
type worker struct {
	pipe      *Pipe
	partition string
	logger    zerolog.Logger

	stage     atomic.Int32
	committed atomic.Int64 // -1 until the first checkpoint exists
	batches   atomic.Uint64
}

func newWorker(p *Pipe, partition string) *worker {
	w := &worker{
		pipe:      p,
		partition: partition,
		logger:    p.logger.With().Str("partition", partition).Logger(),
	}
	w.committed.Store(-1)
	return w
}

func (w *worker) setStage(s Stage) {
	w.stage.Store(int32(s))
	if w.pipe.onStage != nil {
		w.pipe.onStage(w.partition, s)
	}
}

func (w *worker) Stage() Stage { return Stage(w.stage.Load()) }

func (w *worker) status() WorkerStatus {
	return WorkerStatus{
		Partition:  w.partition,
		Stage:      w.Stage(),
		Checkpoint: w.committed.Load(),
		Batches:    w.batches.Load(),
	}
}

func (w *worker) run(ctx context.Context) {
	defer w.pipe.wg.Done()
	p := w.pipe

	if err := w.open(ctx); err != nil {
		if ctx.Err() == nil {
			w.fail(StageIdle, err)
		}
		return
	}
	w.logger.Debug().Int64("checkpoint", w.committed.Load()).Msg("worker started")

	for {
		if p.pullCtx.Err() != nil {
			w.setStage(StageIdle)
			return
		}

		w.setStage(StageFetching)
		batch, err := w.fetch()
		if err != nil {
			w.setStage(StageIdle)
			if errors.Is(err, errStopping) || ctx.Err() != nil {
				return
			}
			w.fail(StageFetching, err)
			return
		}
		if batch.Empty() {
			w.setStage(StageIdle)
			select {
			case <-p.pullCtx.Done():
				return
			case <-time.After(p.cfg.PollInterval):
			}
			continue
		}

		if err := w.process(ctx, batch); err != nil {
			if ctx.Err() != nil {
				w.logger.Warn().Int64("last_offset", batch.LastOffset()).Msg("batch abandoned on hard stop, it will be redelivered")
				w.setStage(StageIdle)
				return
			}
			w.fail(w.Stage(), err)
			return
		}
		w.setStage(StageIdle)
	}
}

func (w *worker) open(ctx context.Context) error {
	p := w.pipe
	cp, ok, err := p.checkpoints.Load(ctx, p.name, w.partition)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	from := sources.Cursor{}
	if ok {
		from = sources.Resume(cp.Offset)
		w.committed.Store(cp.Offset)
	}
	return p.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		err := p.source.Open(ctx, w.partition, from)
		if err != nil && !sources.IsTransient(err) {
			return retry.Permanent(err)
		}
		return err
	}, nil)
}

// fetch pulls the next batch. Transient errors are retried; once the retries
// are used up an empty batch is returned so the worker backs off for a poll
// interval and tries again.
func (w *worker) fetch() (models.Batch, error) {
	p := w.pipe
	var batch models.Batch
	err := p.cfg.Retry.Do(p.pullCtx, func(ctx context.Context) error {
		b, err := p.source.Pull(ctx, w.partition, p.cfg.BatchSize)
		if err != nil {
			if sources.IsTransient(err) {
				return err
			}
			return retry.Permanent(err)
		}
		batch = b
		return nil
	}, func(n uint, err error) {
		w.logger.Warn().Err(err).Uint("attempt", n+1).Msg("fetch failed, retrying")
	})
	if err == nil {
		return batch, nil
	}
	if p.pullCtx.Err() != nil {
		return models.Batch{}, errStopping
	}
	if sources.IsTransient(err) {
		w.logger.Error().Err(err).Msg("source unavailable, backing off")
		return models.Batch{}, nil
	}
	return models.Batch{}, err
}

func (w *worker) process(ctx context.Context, batch models.Batch) error {
	p := w.pipe
	w.batches.Add(1)
	p.metrics.BatchFetched(batch.Len())
	last := batch.LastOffset()

	w.setStage(StageFiltering)
	kept, dropped := filter.Apply(batch, p.rules)
	p.metrics.Filtered(dropped)
	if dropped > 0 {
		w.logger.Trace().Int("dropped", dropped).Int("kept", kept.Len()).Msg("filtered batch")
	}

	w.setStage(StageEnriching)
	records := kept.Records
	if p.enricher != nil && len(records) > 0 {
		enriched, failed, err := w.enrichBatch(ctx, records)
		if err != nil {
			return err
		}
		if len(failed) > 0 {
			if err := w.deadLetter(ctx, batch, deadletter.StageEnrichment, failed, p.cfg.Retry.MaxAttempts); err != nil {
				return err
			}
		}
		records = enriched
	}

	w.setStage(StageDispatching)
	if len(records) > 0 {
		if err := w.dispatch(ctx, batch, records); err != nil {
			return err
		}
	}

	w.setStage(StageCheckpointing)
	return w.commit(ctx, last)
}

func (w *worker) enrichBatch(ctx context.Context, records []models.Record) ([]models.Record, []failure, error) {
	p := w.pipe
	results := make([]models.Record, len(records))
	errs := make([]error, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.enrichConcurrency)
	for i, r := range records {
		g.Go(func() error {
			err := p.cfg.Retry.Do(gctx, func(ctx context.Context) error {
				out, err := p.enricher.Enrich(ctx, r)
				if err != nil {
					p.metrics.EnrichmentFailed()
					var ee *enrich.Error
					if errors.As(err, &ee) && !ee.Retryable() {
						return retry.Permanent(err)
					}
					return err
				}
				results[i] = out
				return nil
			}, func(n uint, err error) {
				w.logger.Debug().Err(err).Uint("attempt", n+1).Str("record", r.Identity()).Msg("enrichment failed, retrying")
			})
			if err == nil {
				return nil
			}
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if p.cfg.OnEnrichmentFailure == FailOnFailure {
				return err
			}
			errs[i] = err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	enriched := make([]models.Record, 0, len(records))
	var failed []failure
	for i, r := range records {
		if errs[i] != nil {
			failed = append(failed, failure{record: r, err: errs[i]})
			continue
		}
		enriched = append(enriched, results[i])
	}
	p.metrics.Enriched(len(enriched))
	return enriched, failed, nil
}

// dispatch sends records until every one is delivered, rejected or the
// retries are used up. Ordered batches only resolve the prefix before the
// first retryable failure; everything after it is sent again.
func (w *worker) dispatch(ctx context.Context, batch models.Batch, records []models.Record) error {
	p := w.pipe
	pending := records
	var rejected []failure
	var lastErr error
	attempts := 0

	err := p.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		attempts++
		dctx, cancel := context.WithTimeout(ctx, p.cfg.DispatchTimeout)
		res := p.dispatcher.Dispatch(dctx, pending)
		cancel()
		p.metrics.RecordDispatchTime(res.Latency)

		if fatal := res.Fatal(); fatal != nil {
			return retry.Permanent(fatal)
		}

		var next []models.Record
		delivered, duplicates, failedN := 0, 0, 0
		blocked := false
		for _, o := range res.Outcomes {
			if !o.OK() {
				failedN++
			}
			switch {
			case blocked:
				next = append(next, o.Record)
			case o.OK():
				delivered++
				if o.Duplicate {
					duplicates++
				}
			case !o.Err.Retryable():
				rejected = append(rejected, failure{record: o.Record, err: o.Err})
			default:
				next = append(next, o.Record)
				lastErr = o.Err
				if batch.Ordered {
					blocked = true
				}
			}
		}
		p.metrics.Dispatched(delivered - duplicates)
		p.metrics.DuplicateSkipped(duplicates)
		if failedN > 0 {
			p.metrics.DispatchFailed(failedN)
		}

		pending = next
		if len(pending) == 0 {
			return nil
		}
		if p.cfg.PerRecordCheckpoint {
			// Rejected records must be recorded before the checkpoint passes them.
			if len(rejected) > 0 {
				if err := w.deadLetter(ctx, batch, deadletter.StageDispatch, rejected, attempts); err != nil {
					return retry.Permanent(err)
				}
				rejected = nil
			}
			if err := w.commitProgress(ctx, batch, pending); err != nil {
				return retry.Permanent(err)
			}
		}
		if lastErr == nil {
			lastErr = errors.New("records pending")
		}
		return lastErr
	}, func(n uint, err error) {
		w.logger.Warn().Err(err).Uint("attempt", n+1).Int("pending", len(pending)).Msg("dispatch failed, retrying")
	})

	if err != nil {
		if retry.IsPermanent(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	undeliverable := rejected
	for _, r := range pending {
		undeliverable = append(undeliverable, failure{record: r, err: lastErr})
	}
	if len(undeliverable) == 0 {
		return nil
	}
	return w.deadLetter(ctx, batch, deadletter.StageDispatch, undeliverable, attempts)
}

// commitProgress moves the checkpoint to the highest batch offset below
// every pending record.
func (w *worker) commitProgress(ctx context.Context, batch models.Batch, pending []models.Record) error {
	var minPending int64 = math.MaxInt64
	for _, r := range pending {
		if r.Offset() < minPending {
			minPending = r.Offset()
		}
	}
	var resolved int64 = -1
	for _, r := range batch.Records {
		if r.Offset() < minPending && r.Offset() > resolved {
			resolved = r.Offset()
		}
	}
	if resolved < 0 {
		return nil
	}
	return w.commit(ctx, resolved)
}

func (w *worker) deadLetter(ctx context.Context, batch models.Batch, stage deadletter.Stage, failed []failure, attempts int) error {
	p := w.pipe
	var entries []deadletter.Entry
	if p.cfg.PerRecordCheckpoint {
		for _, f := range failed {
			entries = append(entries, deadletter.NewEntry(p.name, batch.Partition, stage, f.err, attempts, []models.Record{f.record}))
		}
	} else {
		records := make([]models.Record, 0, len(failed))
		var errs []error
		seen := map[string]bool{}
		for _, f := range failed {
			records = append(records, f.record)
			if f.err != nil && !seen[f.err.Error()] {
				seen[f.err.Error()] = true
				errs = append(errs, f.err)
			}
		}
		entries = append(entries, deadletter.NewEntry(p.name, batch.Partition, stage, errors.Join(errs...), attempts, records))
	}

	for _, e := range entries {
		err := p.cfg.Retry.Do(ctx, func(ctx context.Context) error {
			return p.deadletters.Put(ctx, e)
		}, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("write dead-letter entry: %w", err)
		}
		p.metrics.DeadLettered(len(e.Records))
		w.logger.Warn().
			Str("stage", string(stage)).
			Str("reason", e.Reason).
			Int("records", len(e.Records)).
			Str("entry", e.ID).
			Msg("records dead-lettered")
	}
	return nil
}

// commit persists offset and acks the source. Offsets at or below the last
// commit only ack.
func (w *worker) commit(ctx context.Context, offset int64) error {
	p := w.pipe
	if cur := w.committed.Load(); offset <= cur {
		w.ack(ctx, cur)
		return nil
	}
	cp := checkpoint.Checkpoint{
		Pipe:      p.name,
		Partition: w.partition,
		Offset:    offset,
		UpdatedAt: time.Now().UTC(),
	}
	err := p.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		err := p.checkpoints.Commit(ctx, cp)
		if errors.Is(err, checkpoint.ErrRegression) || errors.Is(err, checkpoint.ErrStoreOpen) {
			return retry.Permanent(err)
		}
		return err
	}, nil)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("commit checkpoint %d: %w", offset, err)
	}
	w.committed.Store(offset)
	p.metrics.CheckpointCommitted()
	w.ack(ctx, offset)
	return nil
}

func (w *worker) ack(ctx context.Context, offset int64) {
	if err := w.pipe.source.Ack(ctx, w.partition, offset); err != nil {
		w.logger.Warn().Err(err).Int64("checkpoint", offset).Msg("source ack failed")
	}
}

func (w *worker) fail(stage Stage, err error) {
	w.setStage(StageFailed)
	w.pipe.fail(&FatalError{Pipe: w.pipe.name, Partition: w.partition, Stage: stage, Err: err})
}
