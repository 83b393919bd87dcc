package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/tarungka/pipes/internal/logger"
)

// NatsEnqueuer publishes to a JetStream subject. The record identity is the
// message id, so the stream's duplicate window drops redeliveries.
type NatsEnqueuer struct {
	subject string
	nc      *nats.Conn
	js      nats.JetStreamContext
	logger  zerolog.Logger
}

func NewNatsEnqueuer(cfg NatsConfig) (*NatsEnqueuer, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Subject == "" {
		return nil, fmt.Errorf("nats sink: subject is required")
	}
	l := logger.GetLogger("sink").With().Str("type", TypeNats).Str("subject", cfg.Subject).Logger()

	nc, err := nats.Connect(cfg.URL,
		nats.Timeout(10*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(3*time.Second),
	)
	if err != nil {
		l.Err(err).Msg("failed to connect to nats")
		return nil, err
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats sink: jetstream context: %w", err)
	}
	return &NatsEnqueuer{subject: cfg.Subject, nc: nc, js: js, logger: l}, nil
}

func (n *NatsEnqueuer) Enqueue(ctx context.Context, dedupID string, msg Message) error {
	m := nats.NewMsg(n.subject)
	m.Data = msg.Value
	for k, v := range msg.Headers {
		m.Header.Set(k, v)
	}
	ack, err := n.js.PublishMsg(m, nats.MsgId(dedupID), nats.Context(ctx))
	if err != nil {
		switch {
		case errors.Is(err, nats.ErrConnectionClosed):
			return Unavailable(err)
		case errors.Is(err, nats.ErrMaxPayload):
			return Reject(err)
		}
		return err
	}
	if ack.Duplicate {
		n.logger.Debug().Str("msg_id", dedupID).Msg("message was a duplicate")
	}
	return nil
}

func (n *NatsEnqueuer) Close() error {
	if err := n.nc.Drain(); err != nil {
		n.nc.Close()
	}
	return nil
}
