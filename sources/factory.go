package sources

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

const (
	TypeKafka        = "kafka"
	TypeNats         = "nats"
	TypeMemoryStream = "memory_stream"
	TypeMemoryQueue  = "memory_queue"
)

// Creator builds a source from its config.
type Creator func(cfg Config) (Source, error)

// Factory maps source types to creators. Hosts build their own factory;
// there is no package level registry.
type Factory struct {
	mu       sync.RWMutex
	creators map[string]Creator
}

// NewFactory returns a factory with the built in source types registered.
func NewFactory() *Factory {
	f := &Factory{creators: make(map[string]Creator)}
	f.Register(TypeKafka, func(cfg Config) (Source, error) {
		pos, err := ParseStartingPosition(cfg.StartingPosition)
		if err != nil {
			return nil, err
		}
		return NewKafkaStream(cfg.Kafka, pos)
	})
	f.Register(TypeNats, func(cfg Config) (Source, error) {
		return NewNatsQueue(cfg.Nats)
	})
	f.Register(TypeMemoryStream, func(cfg Config) (Source, error) {
		pos, err := ParseStartingPosition(cfg.StartingPosition)
		if err != nil {
			return nil, err
		}
		return NewMemoryStream(cfg.Memory.Name, pos, cfg.Memory.Partitions...), nil
	})
	f.Register(TypeMemoryQueue, func(cfg Config) (Source, error) {
		return NewMemoryQueue(cfg.Memory.Name, cfg.Memory.VisibilityTimeout), nil
	})
	return f
}

// Register adds or replaces the creator of a source type.
func (f *Factory) Register(sourceType string, creator Creator) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creators[sourceType] = creator
}

func (f *Factory) Create(cfg Config) (Source, error) {
	f.mu.RLock()
	creator, ok := f.creators[cfg.Type]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown source type: %q (known: %s)", cfg.Type, strings.Join(f.Types(), ", "))
	}
	return creator(cfg)
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
