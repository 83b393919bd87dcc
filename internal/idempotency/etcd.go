package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/tarungka/pipes/internal/logger"
	clientv3 "go.etcd.io/etcd/client/v3"
)

type EtcdConfig struct {
	Endpoints   []string      `koanf:"endpoints" json:"endpoints"`
	Prefix      string        `koanf:"prefix" json:"prefix"`
	TTL         time.Duration `koanf:"ttl" json:"ttl"`
	PendingTTL  time.Duration `koanf:"pending_ttl" json:"pending_ttl"`
	DialTimeout time.Duration `koanf:"dial_timeout" json:"dial_timeout"`
}

// EtcdGuard stores claims as leased keys so several hosts running the same
// pipe share one view of started executions. A pending claim lives on a
// short lease; Confirm moves the key to a lease of TTL.
type EtcdGuard struct {
	client  *clientv3.Client
	prefix  string
	ttl     time.Duration
	pending time.Duration
	logger  zerolog.Logger
}

func NewEtcdGuard(c EtcdConfig) (*EtcdGuard, error) {
	if len(c.Endpoints) == 0 {
		return nil, fmt.Errorf("etcd idempotency guard: no endpoints")
	}
	if c.Prefix == "" {
		c.Prefix = "/pipes/idempotency/"
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.PendingTTL <= 0 {
		c.PendingTTL = DefaultPendingTTL
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   c.Endpoints,
		DialTimeout: c.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("etcd idempotency guard: %w", err)
	}
	return &EtcdGuard{
		client:  client,
		prefix:  c.Prefix,
		ttl:     c.TTL,
		pending: c.PendingTTL,
		logger:  logger.GetLogger("idempotency").With().Str("guard", "etcd").Logger(),
	}, nil
}

func leaseSeconds(d time.Duration) int64 {
	s := int64(d / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

func (g *EtcdGuard) Claim(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	lease, err := g.client.Grant(ctx, leaseSeconds(g.pending))
	if err != nil {
		return false, fmt.Errorf("grant lease: %w", err)
	}
	k := g.prefix + key
	resp, err := g.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(k), "=", 0)).
		Then(clientv3.OpPut(k, statePending, clientv3.WithLease(lease.ID))).
		Else(clientv3.OpGet(k)).
		Commit()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	if resp.Succeeded {
		return true, nil
	}

	if _, err := g.client.Revoke(ctx, lease.ID); err != nil {
		g.logger.Debug().Err(err).Msg("failed to revoke unused lease")
	}
	if kvs := resp.Responses[0].GetResponseRange().GetKvs(); len(kvs) > 0 && string(kvs[0].Value) == stateStarted {
		return false, nil
	}
	return false, ErrInFlight
}

func (g *EtcdGuard) Confirm(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	lease, err := g.client.Grant(ctx, leaseSeconds(g.ttl))
	if err != nil {
		return fmt.Errorf("grant lease: %w", err)
	}
	if _, err := g.client.Put(ctx, g.prefix+key, stateStarted, clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("confirm %s: %w", key, err)
	}
	return nil
}

func (g *EtcdGuard) Release(ctx context.Context, key string) error {
	_, err := g.client.Delete(ctx, g.prefix+key)
	return err
}

func (g *EtcdGuard) Close() error {
	return g.client.Close()
}
