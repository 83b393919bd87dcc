package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/tarungka/pipes/internal/checkpoint"
	"github.com/tarungka/pipes/internal/deadletter"
	"github.com/tarungka/pipes/internal/enrich"
	"github.com/tarungka/pipes/internal/filter"
	"github.com/tarungka/pipes/internal/logger"
	"github.com/tarungka/pipes/sinks"
	"github.com/tarungka/pipes/sources"
)

// Pipe runs one pipe definition: a worker per source partition, all sharing
// the filter, the enricher and the dispatcher.
type Pipe struct {
	name string
	cfg  PipeConfig

	source            sources.Source
	rules             filter.RuleSet
	enricher          enrich.Enricher
	enrichConcurrency int
	dispatcher        *sinks.Dispatcher
	checkpoints       checkpoint.Store
	deadletters       deadletter.Store
	metrics           *Metrics
	logger            zerolog.Logger
	onStage           func(partition string, s Stage)

	state     atomic.Int32
	mu        sync.RWMutex
	failure   error
	workers   []*worker
	startedAt time.Time

	// runCtx aborts in-flight work. pullCtx only stops fetching so that
	// the batch in hand can drain.
	runCtx     context.Context
	cancelRun  context.CancelFunc
	pullCtx    context.Context
	cancelPull context.CancelFunc

	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

type pipeParts struct {
	source      sources.Source
	rules       filter.RuleSet
	enricher    enrich.Enricher
	dispatcher  *sinks.Dispatcher
	checkpoints checkpoint.Store
	deadletters deadletter.Store
	onStage     func(pipe, partition string, s Stage)
}

func newPipe(cfg PipeConfig, parts pipeParts) *Pipe {
	p := &Pipe{
		name:              cfg.Name,
		cfg:               cfg,
		source:            parts.source,
		rules:             parts.rules,
		enricher:          parts.enricher,
		enrichConcurrency: enrich.DefaultConcurrency,
		dispatcher:        parts.dispatcher,
		checkpoints:       parts.checkpoints,
		deadletters:       parts.deadletters,
		metrics:           NewMetrics(cfg.Name),
		logger:            logger.GetLogger("pipeline").With().Str("pipe", cfg.Name).Logger(),
		done:              make(chan struct{}),
	}
	if cfg.Enrichment != nil {
		p.enrichConcurrency = cfg.Enrichment.WithDefaults().Concurrency
	}
	p.runCtx, p.cancelRun = context.WithCancel(context.Background())
	p.pullCtx, p.cancelPull = context.WithCancel(p.runCtx)
	if hook := parts.onStage; hook != nil {
		p.onStage = func(partition string, s Stage) { hook(cfg.Name, partition, s) }
	}
	p.state.Store(int32(StateStarting))
	return p
}

func (p *Pipe) Name() string { return p.name }

func (p *Pipe) Config() PipeConfig { return p.cfg }

func (p *Pipe) State() State { return State(p.state.Load()) }

// Err is the error that failed the pipe, nil unless the state is FAILED.
func (p *Pipe) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.failure
}

// Done is closed once every worker has exited and the source and target
// are closed.
func (p *Pipe) Done() <-chan struct{} { return p.done }

// Start discovers the source partitions and launches their workers. The
// pipe outlives ctx; use Stop to end it. A Stop that arrives while the
// partitions are discovered ends the pipe before any worker runs.
func (p *Pipe) Start(ctx context.Context) error {
	dctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(p.pullCtx, cancel)()

	var partitions []string
	err := p.cfg.Retry.Do(dctx, func(ctx context.Context) error {
		var err error
		partitions, err = p.source.Partitions(ctx)
		return err
	}, func(n uint, err error) {
		p.logger.Warn().Err(err).Uint("attempt", n+1).Msg("partition discovery failed, retrying")
	})
	if err == nil && len(partitions) == 0 {
		err = errors.New("source has no partitions")
	}

	p.mu.Lock()
	if p.pullCtx.Err() != nil {
		p.mu.Unlock()
		p.state.Store(int32(StateStopped))
		p.finish()
		return fmt.Errorf("pipe %s: %w", p.name, ErrPipeStopped)
	}
	if err != nil {
		p.mu.Unlock()
		p.state.Store(int32(StateFailed))
		p.finish()
		return fmt.Errorf("pipe %s: discover partitions: %w", p.name, err)
	}
	p.startedAt = time.Now().UTC()
	for _, part := range partitions {
		p.workers = append(p.workers, newWorker(p, part))
	}
	p.state.CompareAndSwap(int32(StateStarting), int32(StateRunning))
	for _, w := range p.workers {
		p.wg.Add(1)
		go w.run(p.runCtx)
	}
	p.mu.Unlock()

	go func() {
		p.wg.Wait()
		p.finish()
	}()

	p.logger.Info().
		Str("source", p.source.Name()).
		Str("target", p.dispatcher.Target().Name).
		Strs("partitions", partitions).
		Msg("pipe started")
	return nil
}

// finish releases the source and the target and marks the pipe done.
func (p *Pipe) finish() {
	p.cancelRun()
	p.release()
	close(p.done)
}

// Stop lets every worker finish the batch it holds and commit it. When ctx
// ends first the in-flight batches are abandoned without a checkpoint and
// ctx.Err() is returned; they are fetched again on the next activation.
func (p *Pipe) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		p.state.CompareAndSwap(int32(StateStarting), int32(StateStopping))
	}
	p.cancelPull()
	p.mu.Unlock()
	p.logger.Info().Msg("stopping pipe")

	var err error
	select {
	case <-p.done:
	case <-ctx.Done():
		p.logger.Warn().Msg("drain timed out, abandoning in-flight batches")
		p.cancelRun()
		<-p.done
		err = ctx.Err()
	}
	p.state.CompareAndSwap(int32(StateStopping), int32(StateStopped))
	p.logger.Info().Str("state", p.State().String()).Msg("pipe stopped")
	return err
}

func (p *Pipe) fail(err error) {
	p.mu.Lock()
	first := p.failure == nil
	if first {
		p.failure = err
	}
	p.mu.Unlock()
	if !first {
		return
	}
	p.state.Store(int32(StateFailed))
	p.logger.Error().Err(err).Msg("pipe failed")
	p.cancelRun()
}

func (p *Pipe) release() {
	p.closeOnce.Do(func() {
		if err := p.source.Close(); err != nil {
			p.logger.Warn().Err(err).Msg("closing source")
		}
		if err := p.dispatcher.Close(); err != nil {
			p.logger.Warn().Err(err).Msg("closing target")
		}
	})
}

// WorkerStatus is the view of one partition worker.
type WorkerStatus struct {
	Partition  string `json:"partition"`
	Stage      Stage  `json:"stage"`
	Checkpoint int64  `json:"checkpoint"`
	Batches    uint64 `json:"batches"`
}

// Status is a point in time snapshot of a pipe.
type Status struct {
	Name       string           `json:"name"`
	State      State            `json:"state"`
	Error      string           `json:"error,omitempty"`
	Source     string           `json:"source"`
	SourceKind sources.Kind     `json:"source_kind"`
	Target     string           `json:"target"`
	Capability sinks.Capability `json:"capability"`
	StartedAt  time.Time        `json:"started_at"`
	Partitions []WorkerStatus   `json:"partitions"`
	Stats      Stats            `json:"stats"`
}

func (p *Pipe) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	st := Status{
		Name:       p.name,
		State:      p.State(),
		Source:     p.source.Name(),
		SourceKind: p.source.Kind(),
		Target:     p.dispatcher.Target().Name,
		Capability: p.dispatcher.Target().Capability,
		StartedAt:  p.startedAt,
		Partitions: make([]WorkerStatus, 0, len(p.workers)),
		Stats:      p.metrics.Stats(),
	}
	if p.failure != nil {
		st.Error = p.failure.Error()
	}
	for _, w := range p.workers {
		st.Partitions = append(st.Partitions, w.status())
	}
	return st
}

func (p *Pipe) Checkpoints(ctx context.Context) ([]checkpoint.Checkpoint, error) {
	return p.checkpoints.List(ctx, p.name)
}

func (p *Pipe) DeadLetters(ctx context.Context, limit int) ([]deadletter.Entry, error) {
	return p.deadletters.List(ctx, p.name, limit)
}
