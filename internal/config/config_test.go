package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/knadh/koanf/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarungka/pipes/internal/checkpoint"
	"github.com/tarungka/pipes/internal/deadletter"
	"github.com/tarungka/pipes/internal/enrich"
	"github.com/tarungka/pipes/internal/idempotency"
	"github.com/tarungka/pipes/internal/pipeline"
)

const sampleYAML = `
admin:
  port: "9090"
checkpoint:
  type: badger
  badger:
    in_memory: true
pipes:
  - name: customers
    source:
      type: kafka
      starting_position: TRIM_HORIZON
      kafka:
        brokers: ["localhost:9092"]
        topic: customer-events
    filter:
      - body:
          customerType: [B2B, B2C]
    enrichment:
      endpoint: https://crm.example.com/customers/*
      method: GET
      path_parameter_values: ["$.body.id"]
      mode: merge
      timeout: 2s
      connection:
        api_key_header: x-api-key
        api_key: secret
    target:
      type: kafka
      partition_key: "1"
      max_dispatch_per_sec: 50
      kafka:
        brokers: ["localhost:9092"]
        topic: customers-b2x
    retry:
      max_attempts: 5
      initial_backoff: 200ms
    per_record_checkpoint: true
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoadYAML(t *testing.T) {
	ko := koanf.New(".")
	require.NoError(t, LoadFiles(ko, []string{writeFile(t, "pipes.yaml", sampleYAML)}))
	cfg, err := Unmarshal(ko)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Admin.Port)
	assert.Equal(t, DefaultShutdownTimeout, cfg.ShutdownTimeout)
	assert.Equal(t, "badger", cfg.Checkpoint.Type)
	assert.True(t, cfg.Checkpoint.Badger.InMemory)
	assert.Equal(t, "memory", cfg.DeadLetter.Type)
	assert.Equal(t, idempotency.DefaultTTL, cfg.Idempotency.TTL)
	assert.Equal(t, idempotency.DefaultPendingTTL, cfg.Idempotency.PendingTTL)

	require.Len(t, cfg.Pipes, 1)
	p := cfg.Pipes[0]
	assert.Equal(t, "customers", p.Name)
	assert.Equal(t, "TRIM_HORIZON", p.Source.StartingPosition)
	assert.Equal(t, []string{"localhost:9092"}, p.Source.Kafka.Brokers)
	require.NotNil(t, p.Enrichment)
	assert.Equal(t, enrich.ModeMerge, p.Enrichment.Mode)
	assert.Equal(t, 2*time.Second, p.Enrichment.Timeout)
	assert.Equal(t, "secret", p.Enrichment.Connection.APIKey)
	assert.Equal(t, "1", p.Target.PartitionKey)
	assert.Equal(t, 50.0, p.Target.MaxPerSecond)
	assert.Equal(t, 5, p.Retry.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, p.Retry.InitialBackoff)
	assert.True(t, p.PerRecordCheckpoint)

	rules, err := p.WithDefaults().Validate()
	require.NoError(t, err)
	assert.Len(t, rules.Rules, 1)
}

func TestLayering(t *testing.T) {
	base := writeFile(t, "base.json", `{"admin":{"port":"8000"},"log_level":"debug"}`)
	override := writeFile(t, "override.yml", "admin:\n  port: \"8001\"\n")
	t.Setenv("PIPES_ADMIN__STOP_TIMEOUT", "5s")
	t.Setenv("PIPES_DEADLETTER__TYPE", "bolt")

	ko := koanf.New(".")
	require.NoError(t, LoadFiles(ko, []string{base, override}))
	require.NoError(t, LoadEnv(ko))
	cfg, err := Unmarshal(ko)
	require.NoError(t, err)

	assert.Equal(t, "8001", cfg.Admin.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.Admin.StopTimeout)
	assert.Equal(t, "bolt", cfg.DeadLetter.Type)
}

func TestLoadErrors(t *testing.T) {
	ko := koanf.New(".")
	assert.ErrorIs(t, LoadFiles(ko, []string{"pipes.toml"}), ErrUnsupportedFormat)
	assert.Error(t, LoadFiles(ko, []string{filepath.Join(t.TempDir(), "missing.yaml")}))

	ko = koanf.New(".")
	require.NoError(t, LoadFiles(ko, []string{writeFile(t, "bad.yaml", `
checkpoint:
  type: redis
pipes:
  - name: a
  - name: a
`)}))
	_, err := Unmarshal(ko)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown checkpoint store "redis"`)
	assert.Contains(t, err.Error(), `pipe "a" is defined twice`)
}

func TestOpenStores(t *testing.T) {
	ctx := context.Background()

	mem, err := Config{}.WithDefaults().OpenStores(ctx)
	require.NoError(t, err)
	assert.IsType(t, &checkpoint.MemoryStore{}, mem.Checkpoints)
	assert.IsType(t, &deadletter.MemoryStore{}, mem.DeadLetters)
	assert.IsType(t, &idempotency.MemoryGuard{}, mem.Guard)
	require.NoError(t, mem.Close())

	cfg := Config{
		Checkpoint: CheckpointConfig{Type: "badger", Badger: checkpoint.BadgerConfig{InMemory: true}},
		DeadLetter: DeadLetterConfig{Type: "bolt", Bolt: deadletter.BoltConfig{Path: filepath.Join(t.TempDir(), "dlq.db"), Compression: "zstd"}},
	}.WithDefaults()
	durable, err := cfg.OpenStores(ctx)
	require.NoError(t, err)
	assert.IsType(t, &checkpoint.BadgerStore{}, durable.Checkpoints)
	assert.IsType(t, &deadletter.BoltStore{}, durable.DeadLetters)
	require.NoError(t, durable.Close())

	_, err = Config{Idempotency: IdempotencyConfig{Type: "etcd"}}.WithDefaults().OpenStores(ctx)
	assert.ErrorContains(t, err, "idempotency guard")
}

func TestExampleConfig(t *testing.T) {
	ko := koanf.New(".")
	require.NoError(t, LoadFiles(ko, []string{"../../config.example.yaml"}))
	cfg, err := Unmarshal(ko)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, time.Minute, cfg.Idempotency.PendingTTL)

	var tickets *pipeline.PipeConfig
	for i := range cfg.Pipes {
		if cfg.Pipes[i].Name == "tickets" {
			tickets = &cfg.Pipes[i]
		}
	}
	require.NotNil(t, tickets)
	require.NotNil(t, tickets.Enrichment)
	assert.Equal(t, "https://jsonplaceholder.typicode.com/todos/*", tickets.Enrichment.Endpoint)
	assert.Equal(t, "GET", tickets.Enrichment.Method)
	assert.Equal(t, []string{"$.body.id"}, tickets.Enrichment.PathParameterValues)
	assert.Equal(t, "x-api-key", tickets.Enrichment.Connection.APIKeyHeader)
	assert.Equal(t, "$.body.ticketId", tickets.Target.IdempotencyKey)
	assert.True(t, tickets.PerRecordCheckpoint)
}
