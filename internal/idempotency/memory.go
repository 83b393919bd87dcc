package idempotency

import (
	"context"
	"sync"
	"time"
)

type memoryClaim struct {
	at      time.Time
	started bool
}

type MemoryGuard struct {
	mu      sync.Mutex
	ttl     time.Duration
	pending time.Duration
	now     func() time.Time
	claims  map[string]memoryClaim
}

// NewMemoryGuard keeps confirmed starts for ttl. A ttl <= 0 keeps them
// forever. Pending claims lapse after DefaultPendingTTL.
func NewMemoryGuard(ttl time.Duration) *MemoryGuard {
	return &MemoryGuard{ttl: ttl, pending: DefaultPendingTTL, now: time.Now, claims: make(map[string]memoryClaim)}
}

// WithPendingTTL changes how long an unconfirmed claim is honoured.
func (g *MemoryGuard) WithPendingTTL(d time.Duration) *MemoryGuard {
	if d > 0 {
		g.pending = d
	}
	return g
}

func (g *MemoryGuard) Claim(_ context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if c, ok := g.claims[key]; ok {
		age := now.Sub(c.at)
		switch {
		case c.started && (g.ttl <= 0 || age < g.ttl):
			return false, nil
		case !c.started && age < g.pending:
			return false, ErrInFlight
		}
	}
	g.claims[key] = memoryClaim{at: now}
	return true, nil
}

func (g *MemoryGuard) Confirm(_ context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	g.mu.Lock()
	g.claims[key] = memoryClaim{at: g.now(), started: true}
	g.mu.Unlock()
	return nil
}

func (g *MemoryGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	delete(g.claims, key)
	g.mu.Unlock()
	return nil
}

func (g *MemoryGuard) Close() error { return nil }
