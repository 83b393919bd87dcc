package sources

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/tarungka/pipes/internal/logger"
	"github.com/tarungka/pipes/internal/models"
)

// NatsQueue consumes a JetStream durable pull consumer. Messages that are
// not acked within the visibility timeout are redelivered by the server.
// Offsets are stream sequence numbers.
type NatsQueue struct {
	cfg    NatsConfig
	logger zerolog.Logger

	nc  *nats.Conn
	sub *nats.Subscription

	mu       sync.Mutex
	closed   bool
	inFlight map[int64]*nats.Msg
}

func NewNatsQueue(cfg NatsConfig) (*NatsQueue, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Subject == "" || cfg.Durable == "" {
		return nil, fmt.Errorf("nats source: subject and durable are required")
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = DefaultVisibilityTimeout
	}
	if cfg.PollWait <= 0 {
		cfg.PollWait = DefaultPollWait
	}
	l := logger.GetLogger("source").With().Str("type", TypeNats).Str("subject", cfg.Subject).Logger()

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
		return nil, fmt.Errorf("nats source: jetstream context: %w", err)
	}

	opts := []nats.SubOpt{nats.AckWait(cfg.VisibilityTimeout), nats.ManualAck()}
	if cfg.Stream != "" {
		opts = append(opts, nats.BindStream(cfg.Stream))
	}
	sub, err := js.PullSubscribe(cfg.Subject, cfg.Durable, opts...)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats source: pull subscribe %s: %w", cfg.Subject, err)
	}
	l.Debug().Str("durable", cfg.Durable).Dur("visibility_timeout", cfg.VisibilityTimeout).Msg("subscribed")

	return &NatsQueue{
		cfg:      cfg,
		logger:   l,
		nc:       nc,
		sub:      sub,
		inFlight: make(map[int64]*nats.Msg),
	}, nil
}

func (q *NatsQueue) Name() string {
	if q.cfg.Stream != "" {
		return q.cfg.Stream
	}
	return q.cfg.Subject
}

func (q *NatsQueue) Kind() Kind { return KindQueue }

func (q *NatsQueue) Partitions(context.Context) ([]string, error) {
	return []string{QueuePartition}, nil
}

// Open is a no-op, the durable consumer remembers its own position.
func (q *NatsQueue) Open(_ context.Context, partition string, _ Cursor) error {
	if partition != QueuePartition {
		return fmt.Errorf("%w: %s", ErrUnknownPartition, partition)
	}
	return nil
}

func (q *NatsQueue) Pull(ctx context.Context, partition string, max int) (models.Batch, error) {
	if partition != QueuePartition {
		return models.Batch{}, fmt.Errorf("%w: %s", ErrUnknownPartition, partition)
	}
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return models.Batch{}, ErrClosed
	}
	if max <= 0 {
		max = 1
	}

	pollCtx, cancel := context.WithTimeout(ctx, q.cfg.PollWait)
	defer cancel()
	msgs, err := q.sub.Fetch(max, nats.Context(pollCtx))
	if err != nil && len(msgs) == 0 {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.Batch{}, ctxErr
		}
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return newBatch(q, partition, nil), nil
		}
		if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
			return models.Batch{}, ErrClosed
		}
		return models.Batch{}, transient("fetch", err)
	}

	records := make([]models.Record, 0, len(msgs))
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, m := range msgs {
		md, err := m.Metadata()
		if err != nil {
			q.logger.Warn().Err(err).Msg("dropping message without jetstream metadata")
			_ = m.Term()
			continue
		}
		seq := int64(md.Sequence.Stream)
		attrs := map[string]string{
			"subject":   m.Subject,
			"delivered": strconv.FormatUint(md.NumDelivered, 10),
		}
		for k := range m.Header {
			attrs["header."+k] = m.Header.Get(k)
		}
		r, err := models.New(m.Data, models.Meta{
			Source:     q.Name(),
			Partition:  partition,
			Offset:     seq,
			Arrival:    md.Timestamp,
			Attributes: attrs,
		})
		if err != nil {
			return models.Batch{}, err
		}
		q.inFlight[seq] = m
		records = append(records, r)
	}
	return newBatch(q, partition, records), nil
}

// Ack acknowledges every delivered message with a sequence up to
// checkpoint. Messages that fail to ack are redelivered by the server.
func (q *NatsQueue) Ack(ctx context.Context, partition string, checkpoint int64) error {
	if partition != QueuePartition {
		return fmt.Errorf("%w: %s", ErrUnknownPartition, partition)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	var errs error
	for seq, m := range q.inFlight {
		if seq > checkpoint {
			continue
		}
		if err := m.Ack(nats.Context(ctx)); err != nil {
			errs = errors.Join(errs, fmt.Errorf("ack %d: %w", seq, err))
		}
		delete(q.inFlight, seq)
	}
	if errs != nil {
		q.logger.Warn().Err(errs).Msg("some messages could not be acked and will be redelivered")
	}
	return nil
}

func (q *NatsQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	if err := q.sub.Unsubscribe(); err != nil {
		q.logger.Debug().Err(err).Msg("unsubscribe failed")
	}
	q.nc.Close()
	return nil
}
