package sources

import (
	"time"
)

const (
	DefaultPollWait          = time.Second
	DefaultVisibilityTimeout = 30 * time.Second
)

// Config selects and configures the source of a pipe.
type Config struct {
	Type             string       `koanf:"type" json:"type"`
	StartingPosition string       `koanf:"starting_position" json:"starting_position"`
	Kafka            KafkaConfig  `koanf:"kafka" json:"kafka"`
	Nats             NatsConfig   `koanf:"nats" json:"nats"`
	Memory           MemoryConfig `koanf:"memory" json:"memory"`
}

type KafkaConfig struct {
	Brokers  []string      `koanf:"brokers" json:"brokers"`
	Topic    string        `koanf:"topic" json:"topic"`
	PollWait time.Duration `koanf:"poll_wait" json:"poll_wait"`
}

type NatsConfig struct {
	URL               string        `koanf:"url" json:"url"`
	Stream            string        `koanf:"stream" json:"stream"`
	Subject           string        `koanf:"subject" json:"subject"`
	Durable           string        `koanf:"durable" json:"durable"`
	VisibilityTimeout time.Duration `koanf:"visibility_timeout" json:"visibility_timeout"`
	PollWait          time.Duration `koanf:"poll_wait" json:"poll_wait"`
}

type MemoryConfig struct {
	Name              string        `koanf:"name" json:"name"`
	Partitions        []string      `koanf:"partitions" json:"partitions"`
	VisibilityTimeout time.Duration `koanf:"visibility_timeout" json:"visibility_timeout"`
}
