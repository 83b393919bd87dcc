package pipeline

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/tarungka/pipes/internal/enrich"
	"github.com/tarungka/pipes/internal/filter"
	"github.com/tarungka/pipes/internal/retry"
	"github.com/tarungka/pipes/sinks"
	"github.com/tarungka/pipes/sources"
)

const (
	DefaultBatchSize       = 10
	DefaultPollInterval    = time.Second
	DefaultDispatchTimeout = 30 * time.Second
)

// EnrichmentFailurePolicy decides what happens to records whose enrichment
// failed after all retries.
type EnrichmentFailurePolicy string

const (
	DeadLetterOnFailure EnrichmentFailurePolicy = "dead_letter"
	FailOnFailure       EnrichmentFailurePolicy = "fail"
)

var pipeName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// PipeConfig is read once at activation. Changing it means stopping and
// activating the pipe again.
type PipeConfig struct {
	Name   string         `koanf:"name" json:"name"`
	Source sources.Config `koanf:"source" json:"source"`
	// Filter holds event patterns such as {"body": {"customerType": ["B2B"]}}.
	// A record passes when it matches any of them.
	Filter     []map[string]any `koanf:"filter" json:"filter,omitempty"`
	Enrichment *enrich.Config   `koanf:"enrichment" json:"enrichment,omitempty"`
	Target     sinks.Config     `koanf:"target" json:"target"`

	Retry               retry.Policy            `koanf:"retry" json:"retry"`
	OnEnrichmentFailure EnrichmentFailurePolicy `koanf:"on_enrichment_failure" json:"on_enrichment_failure"`
	PerRecordCheckpoint bool                    `koanf:"per_record_checkpoint" json:"per_record_checkpoint"`
	BatchSize           int                     `koanf:"batch_size" json:"batch_size"`
	PollInterval        time.Duration           `koanf:"poll_interval" json:"poll_interval"`
	DispatchTimeout     time.Duration           `koanf:"dispatch_timeout" json:"dispatch_timeout"`
}

func (c PipeConfig) WithDefaults() PipeConfig {
	c.Retry = c.Retry.WithDefaults()
	if c.OnEnrichmentFailure == "" {
		c.OnEnrichmentFailure = DeadLetterOnFailure
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = DefaultDispatchTimeout
	}
	if c.Target.Name == "" {
		c.Target.Name = c.Name
	}
	return c
}

// Validate checks what can be checked without connecting anywhere and
// compiles the filter. Every failure is a *ConfigurationError.
func (c PipeConfig) Validate() (filter.RuleSet, error) {
	var errs []error
	if !pipeName.MatchString(c.Name) {
		errs = append(errs, fmt.Errorf("invalid pipe name %q", c.Name))
	}
	if c.Source.Type == "" {
		errs = append(errs, errors.New("source.type is required"))
	}
	if _, err := sources.ParseStartingPosition(c.Source.StartingPosition); err != nil {
		errs = append(errs, err)
	}
	if c.Target.Type == "" {
		errs = append(errs, errors.New("target.type is required"))
	}
	switch c.OnEnrichmentFailure {
	case "", DeadLetterOnFailure, FailOnFailure:
	default:
		errs = append(errs, fmt.Errorf("unknown on_enrichment_failure %q", c.OnEnrichmentFailure))
	}
	if c.Enrichment != nil {
		if err := c.Enrichment.WithDefaults().Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	rules, err := filter.Compile(c.Filter)
	if err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return filter.RuleSet{}, &ConfigurationError{Pipe: c.Name, Err: errors.Join(errs...)}
	}
	return rules, nil
}
