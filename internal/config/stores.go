package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/tarungka/pipes/internal/checkpoint"
	"github.com/tarungka/pipes/internal/deadletter"
	"github.com/tarungka/pipes/internal/idempotency"
)

// Stores are the host wide stores every pipe shares.
type Stores struct {
	Checkpoints checkpoint.Store
	DeadLetters deadletter.Store
	Guard       idempotency.Guard
}

// OpenStores opens the configured stores. Anything already opened is
// closed again when a later one fails.
func (c Config) OpenStores(ctx context.Context) (*Stores, error) {
	s := &Stores{}
	var err error
	if s.Checkpoints, err = c.openCheckpoints(); err != nil {
		return nil, fmt.Errorf("checkpoint store: %w", err)
	}
	if s.DeadLetters, err = c.openDeadLetters(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("dead-letter store: %w", err)
	}
	if s.Guard, err = c.openGuard(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("idempotency guard: %w", err)
	}
	return s, nil
}

func (c Config) openCheckpoints() (checkpoint.Store, error) {
	if c.Checkpoint.Type == "badger" {
		s, err := checkpoint.OpenBadger(c.Checkpoint.Badger)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return checkpoint.NewMemoryStore(), nil
}

func (c Config) openDeadLetters(ctx context.Context) (deadletter.Store, error) {
	switch c.DeadLetter.Type {
	case "bolt":
		s, err := deadletter.OpenBolt(c.DeadLetter.Bolt)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "mongo":
		s, err := deadletter.OpenMongo(ctx, c.DeadLetter.Mongo)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return deadletter.NewMemoryStore(), nil
}

func (c Config) openGuard(ctx context.Context) (idempotency.Guard, error) {
	switch c.Idempotency.Type {
	case "etcd":
		ec := c.Idempotency.Etcd
		if ec.TTL <= 0 {
			ec.TTL = c.Idempotency.TTL
		}
		if ec.PendingTTL <= 0 {
			ec.PendingTTL = c.Idempotency.PendingTTL
		}
		g, err := idempotency.NewEtcdGuard(ec)
		if err != nil {
			return nil, err
		}
		return g, nil
	case "postgres":
		pc := c.Idempotency.Postgres
		if pc.TTL <= 0 {
			pc.TTL = c.Idempotency.TTL
		}
		if pc.PendingTTL <= 0 {
			pc.PendingTTL = c.Idempotency.PendingTTL
		}
		g, err := idempotency.NewPostgresGuard(ctx, pc)
		if err != nil {
			return nil, err
		}
		return g, nil
	}
	return idempotency.NewMemoryGuard(c.Idempotency.TTL).WithPendingTTL(c.Idempotency.PendingTTL), nil
}

func (s *Stores) Close() error {
	var errs []error
	if s.Guard != nil {
		errs = append(errs, s.Guard.Close())
	}
	if s.DeadLetters != nil {
		errs = append(errs, s.DeadLetters.Close())
	}
	if s.Checkpoints != nil {
		errs = append(errs, s.Checkpoints.Close())
	}
	return errors.Join(errs...)
}
