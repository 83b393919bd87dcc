package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tarungka/pipes/internal/checkpoint"
	"github.com/tarungka/pipes/internal/deadletter"
	"github.com/tarungka/pipes/internal/enrich"
	"github.com/tarungka/pipes/internal/idempotency"
	"github.com/tarungka/pipes/internal/logger"
	"github.com/tarungka/pipes/sinks"
	"github.com/tarungka/pipes/sources"
	"golang.org/x/sync/errgroup"
)

// Deps are shared by every pipe of a registry. Nil fields get in-memory
// defaults.
type Deps struct {
	Sources     *sources.Factory
	Sinks       *sinks.Factory
	Checkpoints checkpoint.Store
	DeadLetters deadletter.Store
	Guard       idempotency.Guard

	// OnStage, when set, is called on every worker stage change.
	OnStage func(pipe, partition string, s Stage)
}

// Registry owns the active pipes of a host.
type Registry struct {
	deps   Deps
	logger zerolog.Logger

	mu    sync.RWMutex
	pipes map[string]*Pipe
}

func NewRegistry(deps Deps) *Registry {
	if deps.Sources == nil {
		deps.Sources = sources.NewFactory()
	}
	if deps.Sinks == nil {
		deps.Sinks = sinks.NewFactory()
	}
	if deps.Checkpoints == nil {
		deps.Checkpoints = checkpoint.NewMemoryStore()
	}
	if deps.DeadLetters == nil {
		deps.DeadLetters = deadletter.NewMemoryStore()
	}
	if deps.Guard == nil {
		deps.Guard = idempotency.NewMemoryGuard(idempotency.DefaultTTL)
	}
	return &Registry{
		deps:   deps,
		logger: logger.GetLogger("registry"),
		pipes:  make(map[string]*Pipe),
	}
}

// Activate validates cfg, builds the pipe and starts it. Invalid definitions
// fail with a *ConfigurationError before anything is connected.
func (r *Registry) Activate(ctx context.Context, cfg PipeConfig) (*Pipe, error) {
	cfg = cfg.WithDefaults()
	rules, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	if _, ok := r.Get(cfg.Name); ok {
		return nil, fmt.Errorf("%w: %s", ErrPipeExists, cfg.Name)
	}

	var enricher enrich.Enricher
	if cfg.Enrichment != nil {
		c, err := enrich.New(*cfg.Enrichment)
		if err != nil {
			return nil, &ConfigurationError{Pipe: cfg.Name, Err: err}
		}
		enricher = c
	}

	src, err := r.deps.Sources.Create(cfg.Source)
	if err != nil {
		return nil, &ConfigurationError{Pipe: cfg.Name, Err: fmt.Errorf("source: %w", err)}
	}
	target, err := r.deps.Sinks.Create(cfg.Target, r.deps.Guard)
	if err != nil {
		src.Close()
		return nil, &ConfigurationError{Pipe: cfg.Name, Err: fmt.Errorf("target: %w", err)}
	}
	dispatcher, err := sinks.NewDispatcher(target,
		sinks.WithRateLimit(cfg.Target.MaxPerSecond),
		sinks.WithLogger(r.logger.With().Str("pipe", cfg.Name).Logger()),
	)
	if err != nil {
		src.Close()
		target.Close()
		return nil, &ConfigurationError{Pipe: cfg.Name, Err: fmt.Errorf("target: %w", err)}
	}

	p := newPipe(cfg, pipeParts{
		source:      src,
		rules:       rules,
		enricher:    enricher,
		dispatcher:  dispatcher,
		checkpoints: r.deps.Checkpoints,
		deadletters: r.deps.DeadLetters,
		onStage:     r.deps.OnStage,
	})

	r.mu.Lock()
	if _, ok := r.pipes[cfg.Name]; ok {
		r.mu.Unlock()
		p.release()
		return nil, fmt.Errorf("%w: %s", ErrPipeExists, cfg.Name)
	}
	r.pipes[cfg.Name] = p
	r.mu.Unlock()

	if err := p.Start(ctx); err != nil {
		r.mu.Lock()
		if r.pipes[cfg.Name] == p {
			delete(r.pipes, cfg.Name)
		}
		r.mu.Unlock()
		return nil, err
	}
	return p, nil
}

func (r *Registry) Get(name string) (*Pipe, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pipes[name]
	return p, ok
}

// List returns the status of every pipe sorted by name.
func (r *Registry) List() []Status {
	r.mu.RLock()
	pipes := make([]*Pipe, 0, len(r.pipes))
	for _, p := range r.pipes {
		pipes = append(pipes, p)
	}
	r.mu.RUnlock()

	out := make([]Status, 0, len(pipes))
	for _, p := range pipes {
		out = append(out, p.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stop drains the named pipe and removes it, which is how a FAILED pipe is
// cleared before it is activated again.
func (r *Registry) Stop(ctx context.Context, name string) error {
	r.mu.Lock()
	p, ok := r.pipes[name]
	delete(r.pipes, name)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrPipeNotFound, name)
	}
	return p.Stop(ctx)
}

// StopAll drains every pipe in parallel.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	pipes := r.pipes
	r.pipes = make(map[string]*Pipe)
	r.mu.Unlock()

	var g errgroup.Group
	var mu sync.Mutex
	var errs []error
	for _, p := range pipes {
		g.Go(func() error {
			if err := p.Stop(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("pipe %s: %w", p.Name(), err))
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return errors.Join(errs...)
}
