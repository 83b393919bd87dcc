package sources

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tarungka/pipes/internal/logger"
	"github.com/tarungka/pipes/internal/models"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
)

// KafkaStream reads a topic partition by partition. Offsets are tracked by
// the checkpoint store, not by consumer groups, so every partition gets its
// own direct consumer.
type KafkaStream struct {
	cfg      KafkaConfig
	position StartingPosition
	logger   zerolog.Logger

	meta *kgo.Client

	mu        sync.Mutex
	closed    bool
	consumers map[string]*kgo.Client
}

func NewKafkaStream(cfg KafkaConfig, position StartingPosition) (*KafkaStream, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka source: brokers and topic are required")
	}
	if cfg.PollWait <= 0 {
		cfg.PollWait = DefaultPollWait
	}
	l := logger.GetLogger("source").With().Str("type", TypeKafka).Str("topic", cfg.Topic).Logger()
	l.Debug().Strs("brokers", cfg.Brokers).Str("starting_position", string(position)).Send()

	meta, err := kgo.NewClient(kgo.SeedBrokers(cfg.Brokers...))
	if err != nil {
		l.Err(err).Msg("Error when creating a kafka client!")
		return nil, err
	}
	return &KafkaStream{
		cfg:       cfg,
		position:  position,
		logger:    l,
		meta:      meta,
		consumers: make(map[string]*kgo.Client),
	}, nil
}

func (k *KafkaStream) Name() string { return k.cfg.Topic }
func (k *KafkaStream) Kind() Kind   { return KindStream }

// Partitions asks the cluster for the partitions of the topic.
func (k *KafkaStream) Partitions(ctx context.Context) ([]string, error) {
	req := kmsg.NewPtrMetadataRequest()
	topic := kmsg.NewMetadataRequestTopic()
	topic.Topic = kmsg.StringPtr(k.cfg.Topic)
	req.Topics = append(req.Topics, topic)

	resp, err := req.RequestWith(ctx, k.meta)
	if err != nil {
		return nil, transient("metadata", err)
	}
	var ids []int32
	for _, t := range resp.Topics {
		if err := kerr.ErrorForCode(t.ErrorCode); err != nil {
			var ke *kerr.Error
			if errors.As(err, &ke) && ke.Retriable {
				return nil, transient("metadata", err)
			}
			return nil, fmt.Errorf("kafka topic %s: %w", k.cfg.Topic, err)
		}
		for _, p := range t.Partitions {
			ids = append(ids, p.Partition)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, strconv.FormatInt(int64(id), 10))
	}
	return out, nil
}

func (k *KafkaStream) Open(_ context.Context, partition string, from Cursor) error {
	id, err := strconv.ParseInt(partition, 10, 32)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownPartition, partition)
	}

	offset := kgo.NewOffset().AtEnd()
	if from.Valid {
		offset = kgo.NewOffset().At(from.Offset + 1)
	} else if k.position == Earliest {
		offset = kgo.NewOffset().AtStart()
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return ErrClosed
	}
	if old, ok := k.consumers[partition]; ok {
		old.Close()
	}
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(k.cfg.Brokers...),
		kgo.ConsumePartitions(map[string]map[int32]kgo.Offset{
			k.cfg.Topic: {int32(id): offset},
		}),
	)
	if err != nil {
		k.logger.Err(err).Str("partition", partition).Msg("Error when creating a kafka consumer!")
		return err
	}
	k.consumers[partition] = cl
	k.logger.Debug().Str("partition", partition).Bool("resume", from.Valid).Int64("offset", from.Offset).Msg("opened partition")
	return nil
}

func (k *KafkaStream) consumer(partition string) (*kgo.Client, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil, ErrClosed
	}
	cl, ok := k.consumers[partition]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotOpen, partition)
	}
	return cl, nil
}

func (k *KafkaStream) Pull(ctx context.Context, partition string, max int) (models.Batch, error) {
	cl, err := k.consumer(partition)
	if err != nil {
		return models.Batch{}, err
	}

	pollCtx, cancel := context.WithTimeout(ctx, k.cfg.PollWait)
	defer cancel()
	fetches := cl.PollRecords(pollCtx, max)
	if fetches.IsClientClosed() {
		return models.Batch{}, ErrClosed
	}

	var fetchErr error
	fetches.EachError(func(t string, p int32, err error) {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return
		}
		k.logger.Err(err).Msgf("fetch err topic %s partition %d", t, p)
		fetchErr = errors.Join(fetchErr, err)
	})
	if fetchErr != nil {
		return models.Batch{}, transient("fetch", fetchErr)
	}
	if err := ctx.Err(); err != nil {
		return models.Batch{}, err
	}

	records := make([]models.Record, 0, fetches.NumRecords())
	var buildErr error
	fetches.EachRecord(func(rec *kgo.Record) {
		if buildErr != nil {
			return
		}
		attrs := map[string]string{}
		if rec.Key != nil {
			attrs["key"] = string(rec.Key)
		}
		for _, h := range rec.Headers {
			attrs["header."+h.Key] = string(h.Value)
		}
		r, err := models.New(rec.Value, models.Meta{
			Source:     rec.Topic,
			Partition:  partition,
			Offset:     rec.Offset,
			Arrival:    rec.Timestamp,
			Attributes: attrs,
		})
		if err != nil {
			buildErr = err
			return
		}
		records = append(records, r)
	})
	if buildErr != nil {
		return models.Batch{}, buildErr
	}
	return newBatch(k, partition, records), nil
}

// Ack is a no-op: the next Open resumes from the checkpoint store.
func (k *KafkaStream) Ack(_ context.Context, partition string, checkpoint int64) error {
	k.logger.Trace().Str("partition", partition).Int64("checkpoint", checkpoint).Msg("ack")
	return nil
}

func (k *KafkaStream) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	k.closed = true
	k.logger.Trace().Msg("Disconnecting kafka source")
	for p, cl := range k.consumers {
		cl.Close()
		delete(k.consumers, p)
	}
	k.meta.Close()
	return nil
}
