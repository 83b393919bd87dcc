package sinks

import "time"

// Config selects and configures the target of a pipe.
type Config struct {
	Type string `koanf:"type" json:"type"`
	Name string `koanf:"name" json:"name"`
	// PartitionKey is a constant or a "$." field reference, append targets only.
	PartitionKey string `koanf:"partition_key" json:"partition_key"`
	// IdempotencyKey is a "$." field reference, invoke targets only. The
	// record identity is used when it is empty.
	IdempotencyKey string  `koanf:"idempotency_key" json:"idempotency_key"`
	MaxPerSecond   float64 `koanf:"max_dispatch_per_sec" json:"max_dispatch_per_sec"`

	Kafka    KafkaConfig    `koanf:"kafka" json:"kafka"`
	Nats     NatsConfig     `koanf:"nats" json:"nats"`
	Workflow WorkflowConfig `koanf:"workflow" json:"workflow"`
	File     FileConfig     `koanf:"file" json:"file"`
	Memory   MemoryConfig   `koanf:"memory" json:"memory"`
}

type KafkaConfig struct {
	Brokers                []string `koanf:"brokers" json:"brokers"`
	Topic                  string   `koanf:"topic" json:"topic"`
	AllowAutoTopicCreation bool     `koanf:"allow_auto_topic_creation" json:"allow_auto_topic_creation"`
}

type NatsConfig struct {
	URL     string `koanf:"url" json:"url"`
	Subject string `koanf:"subject" json:"subject"`
}

type WorkflowConfig struct {
	Endpoint     string        `koanf:"endpoint" json:"endpoint"`
	StateMachine string        `koanf:"state_machine" json:"state_machine"`
	Timeout      time.Duration `koanf:"timeout" json:"timeout"`
	APIKeyHeader string        `koanf:"api_key_header" json:"api_key_header"`
	APIKey       string        `koanf:"api_key" json:"-"`
}

type MemoryConfig struct {
	Partitions int `koanf:"partitions" json:"partitions"`
}
