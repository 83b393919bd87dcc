package sinks

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/tarungka/pipes/internal/logger"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaAppender produces to one topic. Records with the same key land on
// the same partition in the order they were produced.
type KafkaAppender struct {
	topic  string
	client *kgo.Client
	logger zerolog.Logger
}

func NewKafkaAppender(cfg KafkaConfig) (*KafkaAppender, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka sink: brokers and topic are required")
	}
	l := logger.GetLogger("sink").With().Str("type", TypeKafka).Str("topic", cfg.Topic).Logger()
	l.Trace().Msg("Connecting to kafka cluster as a sink...")

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RecordPartitioner(kgo.StickyKeyPartitioner(nil)),
	}
	if cfg.AllowAutoTopicCreation {
		opts = append(opts, kgo.AllowAutoTopicCreation())
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		l.Err(err).Msg("Error when creating a kafka producer!")
		return nil, err
	}
	return &KafkaAppender{topic: cfg.Topic, client: client, logger: l}, nil
}

func (k *KafkaAppender) Append(ctx context.Context, msgs []Message) []error {
	records := make([]*kgo.Record, len(msgs))
	for i, m := range msgs {
		rec := &kgo.Record{Key: []byte(m.Key), Value: m.Value}
		for hk, hv := range m.Headers {
			rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: hk, Value: []byte(hv)})
		}
		records[i] = rec
	}

	results := k.client.ProduceSync(ctx, records...)
	errs := make([]error, len(msgs))
	for i, res := range results {
		if i >= len(errs) {
			break
		}
		if res.Err != nil {
			errs[i] = classifyKafka(res.Err)
			k.logger.Debug().Err(res.Err).Str("key", string(res.Record.Key)).Msg("record had a produce error")
			continue
		}
		k.logger.Trace().Int32("partition", res.Record.Partition).Int64("offset", res.Record.Offset).Msg("Successfully produced message")
	}
	return errs
}

func classifyKafka(err error) error {
	switch {
	case errors.Is(err, kgo.ErrClientClosed),
		errors.Is(err, kerr.TopicAuthorizationFailed),
		errors.Is(err, kerr.ClusterAuthorizationFailed),
		errors.Is(err, kerr.SaslAuthenticationFailed):
		return Unavailable(err)
	case errors.Is(err, kerr.MessageTooLarge),
		errors.Is(err, kerr.RecordListTooLarge),
		errors.Is(err, kerr.InvalidRecord):
		return Reject(err)
	}
	return err
}

func (k *KafkaAppender) Close() error {
	k.logger.Info().Msg("Disconnecting kafka sink")
	k.client.Close()
	return nil
}
