package enrich

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultTimeout     = 10 * time.Second
	DefaultMergeKey    = "enrichment"
	DefaultConcurrency = 4
)

// Mode decides what happens to the record body with the endpoint response.
type Mode string

const (
	ModeReplace Mode = "replace"
	ModeMerge   Mode = "merge"
)

var (
	ErrNoEndpoint   = errors.New("enrichment endpoint is empty")
	ErrWildcards    = errors.New("enrichment endpoint wildcards do not match path parameters")
	ErrUnknownMode  = errors.New("unknown enrichment mode")
	ErrBadMethod    = errors.New("unsupported enrichment http method")
	ErrMissingField = errors.New("enrichment parameter field not found")
)

// Connection holds the credentials sent with every call.
type Connection struct {
	APIKeyHeader string `koanf:"api_key_header" json:"api_key_header"`
	APIKey       string `koanf:"api_key" json:"-"`
}

// Config describes one API destination. Every "*" in Endpoint is replaced,
// in order, by the value of the matching PathParameterValues entry. Values
// of path, query and header parameters starting with "$." are field
// references into the record, anything else is sent as is.
type Config struct {
	Endpoint              string            `koanf:"endpoint" json:"endpoint"`
	Method                string            `koanf:"method" json:"method"`
	PathParameterValues   []string          `koanf:"path_parameter_values" json:"path_parameter_values"`
	QueryStringParameters map[string]string `koanf:"query_string_parameters" json:"query_string_parameters"`
	HeaderParameters      map[string]string `koanf:"header_parameters" json:"header_parameters"`
	Connection            Connection        `koanf:"connection" json:"connection"`
	Timeout               time.Duration     `koanf:"timeout" json:"timeout"`
	Mode                  Mode              `koanf:"mode" json:"mode"`
	MergeKey              string            `koanf:"merge_key" json:"merge_key"`
	// Concurrency bounds the calls in flight for one batch.
	Concurrency int `koanf:"concurrency" json:"concurrency"`
}

func (c Config) WithDefaults() Config {
	if c.Method == "" {
		c.Method = http.MethodPost
	}
	c.Method = strings.ToUpper(c.Method)
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Mode == "" {
		c.Mode = ModeReplace
	}
	if c.Mode == ModeMerge && c.MergeKey == "" {
		c.MergeKey = DefaultMergeKey
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	return c
}

// Validate checks a config that already went through WithDefaults.
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return ErrNoEndpoint
	}
	u, err := url.Parse(strings.ReplaceAll(c.Endpoint, "*", "x"))
	if err != nil {
		return fmt.Errorf("enrichment endpoint %q: %w", c.Endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("enrichment endpoint %q: scheme must be http or https", c.Endpoint)
	}
	if n := strings.Count(c.Endpoint, "*"); n != len(c.PathParameterValues) {
		return fmt.Errorf("%w: %d wildcards, %d values", ErrWildcards, n, len(c.PathParameterValues))
	}
	switch c.Method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodHead:
	default:
		return fmt.Errorf("%w: %s", ErrBadMethod, c.Method)
	}
	switch c.Mode {
	case ModeReplace, ModeMerge:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMode, c.Mode)
	}
	return nil
}
