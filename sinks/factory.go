package sinks

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tarungka/pipes/internal/idempotency"
	"github.com/tarungka/pipes/internal/partitioner"
)

const (
	TypeKafka          = "kafka"
	TypeNats           = "nats"
	TypeWorkflow       = "workflow"
	TypeFile           = "file"
	TypeMemoryAppend   = "memory_append"
	TypeMemoryEnqueue  = "memory_enqueue"
	TypeMemoryWorkflow = "memory_workflow"
)

// Creator builds a target from its config. guard is the host's idempotency
// guard and is only used by invoke targets.
type Creator func(cfg Config, guard idempotency.Guard) (Target, error)

type Factory struct {
	mu       sync.RWMutex
	creators map[string]Creator
}

// NewFactory returns a factory with the built in sink types registered.
func NewFactory() *Factory {
	f := &Factory{creators: make(map[string]Creator)}
	f.Register(TypeKafka, func(cfg Config, _ idempotency.Guard) (Target, error) {
		rule, err := partitioner.ParseKeyRule(cfg.PartitionKey)
		if err != nil {
			return Target{}, err
		}
		sink, err := NewKafkaAppender(cfg.Kafka)
		if err != nil {
			return Target{}, err
		}
		return AppendTarget(cfg.Name, sink, rule), nil
	})
	f.Register(TypeNats, func(cfg Config, _ idempotency.Guard) (Target, error) {
		sink, err := NewNatsEnqueuer(cfg.Nats)
		if err != nil {
			return Target{}, err
		}
		return EnqueueTarget(cfg.Name, sink), nil
	})
	f.Register(TypeWorkflow, func(cfg Config, guard idempotency.Guard) (Target, error) {
		sink, err := NewHTTPWorkflow(cfg.Workflow)
		if err != nil {
			return Target{}, err
		}
		return InvokeTarget(cfg.Name, sink, guard, cfg.IdempotencyKey)
	})
	f.Register(TypeFile, func(cfg Config, _ idempotency.Guard) (Target, error) {
		rule, err := partitioner.ParseKeyRule(cfg.PartitionKey)
		if err != nil {
			return Target{}, err
		}
		sink, err := NewFileAppender(cfg.File)
		if err != nil {
			return Target{}, err
		}
		return AppendTarget(cfg.Name, sink, rule), nil
	})
	f.Register(TypeMemoryAppend, func(cfg Config, _ idempotency.Guard) (Target, error) {
		rule, err := partitioner.ParseKeyRule(cfg.PartitionKey)
		if err != nil {
			return Target{}, err
		}
		return AppendTarget(cfg.Name, NewMemoryAppender(cfg.Memory.Partitions), rule), nil
	})
	f.Register(TypeMemoryEnqueue, func(cfg Config, _ idempotency.Guard) (Target, error) {
		return EnqueueTarget(cfg.Name, NewMemoryQueue()), nil
	})
	f.Register(TypeMemoryWorkflow, func(cfg Config, guard idempotency.Guard) (Target, error) {
		return InvokeTarget(cfg.Name, NewMemoryWorkflow(), guard, cfg.IdempotencyKey)
	})
	return f
}

func (f *Factory) Register(sinkType string, creator Creator) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creators[sinkType] = creator
}

// Create builds the target described by cfg.
func (f *Factory) Create(cfg Config, guard idempotency.Guard) (Target, error) {
	f.mu.RLock()
	creator, ok := f.creators[cfg.Type]
	f.mu.RUnlock()
	if !ok {
		return Target{}, fmt.Errorf("unknown sink type: %q (known: %s)", cfg.Type, strings.Join(f.Types(), ", "))
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Type
	}
	return creator(cfg, guard)
}

func (f *Factory) Types() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.creators))
	for t := range f.creators {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
