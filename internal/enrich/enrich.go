// Package enrich calls an external HTTP endpoint for every record and
// replaces or augments the record body with the response.
package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tarungka/pipes/internal/fieldpath"
	"github.com/tarungka/pipes/internal/logger"
	"github.com/tarungka/pipes/internal/models"
)

const maxResponseBytes = 8 << 20

// Enricher turns a record into its enriched form.
type Enricher interface {
	Enrich(ctx context.Context, r models.Record) (models.Record, error)
}

// value is a parameter that is either literal or read from the record.
type value struct {
	literal string
	path    fieldpath.Path
	isPath  bool
}

func parseValue(s string) (value, error) {
	if !strings.HasPrefix(s, "$.") {
		return value{literal: s}, nil
	}
	p, err := fieldpath.Parse(s)
	if err != nil {
		return value{}, err
	}
	return value{path: p, isPath: true}, nil
}

func (v value) resolve(r models.Record) (string, error) {
	if !v.isPath {
		return v.literal, nil
	}
	raw, ok := v.path.Lookup(r.View())
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingField, v.path)
	}
	s, ok := fieldpath.Stringify(raw)
	if !ok {
		b, err := json.Marshal(raw)
		if err != nil {
			return "", err
		}
		s = string(b)
	}
	return s, nil
}

// Client is the HTTP API destination enricher.
type Client struct {
	cfg        Config
	endpoint   []string // endpoint split on "*"
	pathValues []value
	query      map[string]value
	headers    map[string]value
	httpClient *http.Client
	logger     zerolog.Logger
}

type Option func(*Client)

// WithHTTPClient sets a custom HTTP client. The per call timeout still
// comes from the config.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New validates cfg and builds a client.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		cfg:        cfg,
		endpoint:   strings.Split(cfg.Endpoint, "*"),
		query:      make(map[string]value, len(cfg.QueryStringParameters)),
		headers:    make(map[string]value, len(cfg.HeaderParameters)),
		httpClient: &http.Client{},
		logger:     logger.GetLogger("enrich"),
	}
	for _, s := range cfg.PathParameterValues {
		v, err := parseValue(s)
		if err != nil {
			return nil, fmt.Errorf("path parameter %q: %w", s, err)
		}
		c.pathValues = append(c.pathValues, v)
	}
	for k, s := range cfg.QueryStringParameters {
		v, err := parseValue(s)
		if err != nil {
			return nil, fmt.Errorf("query parameter %s: %w", k, err)
		}
		c.query[k] = v
	}
	for k, s := range cfg.HeaderParameters {
		v, err := parseValue(s)
		if err != nil {
			return nil, fmt.Errorf("header parameter %s: %w", k, err)
		}
		c.headers[k] = v
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Config() Config { return c.cfg }

// Enrich calls the endpoint once for r. Failures are *Error.
func (c *Client) Enrich(ctx context.Context, r models.Record) (models.Record, error) {
	req, err := c.buildRequest(ctx, r)
	if err != nil {
		return models.Record{}, &Error{Reason: ReasonInput, Record: r.Identity(), Err: err}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	req = req.WithContext(callCtx)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.Record{}, c.transportError(r, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return models.Record{}, c.transportError(r, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Debug().Str("record", r.Identity()).Int("status", resp.StatusCode).Msg("enrichment endpoint returned an error status")
		return models.Record{}, &Error{Reason: ReasonStatus, Record: r.Identity(), StatusCode: resp.StatusCode}
	}

	out, err := c.apply(r, body)
	if err != nil {
		return models.Record{}, &Error{Reason: ReasonMalformed, Record: r.Identity(), StatusCode: resp.StatusCode, Err: err}
	}
	return out, nil
}

func (c *Client) transportError(r models.Record, err error) *Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{Reason: ReasonTimeout, Record: r.Identity(), Err: err}
	}
	return &Error{Reason: ReasonTransport, Record: r.Identity(), Err: err}
}

func (c *Client) buildRequest(ctx context.Context, r models.Record) (*http.Request, error) {
	var sb strings.Builder
	sb.WriteString(c.endpoint[0])
	for i, v := range c.pathValues {
		s, err := v.resolve(r)
		if err != nil {
			return nil, err
		}
		sb.WriteString(url.PathEscape(s))
		sb.WriteString(c.endpoint[i+1])
	}
	target := sb.String()

	if len(c.query) > 0 {
		u, err := url.Parse(target)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		for k, v := range c.query {
			s, err := v.resolve(r)
			if err != nil {
				return nil, err
			}
			q.Set(k, s)
		}
		u.RawQuery = q.Encode()
		target = u.String()
	}

	var body io.Reader
	if c.cfg.Method != http.MethodGet && c.cfg.Method != http.MethodHead {
		body = bytes.NewReader(r.Body())
	}
	req, err := http.NewRequestWithContext(ctx, c.cfg.Method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		s, err := v.resolve(r)
		if err != nil {
			return nil, err
		}
		req.Header.Set(k, s)
	}
	if c.cfg.Connection.APIKeyHeader != "" {
		req.Header.Set(c.cfg.Connection.APIKeyHeader, c.cfg.Connection.APIKey)
	}
	return req, nil
}

// apply builds the enriched record from the response body.
func (c *Client) apply(r models.Record, resp []byte) (models.Record, error) {
	var doc any
	if err := json.Unmarshal(resp, &doc); err != nil {
		return models.Record{}, fmt.Errorf("response is not json: %w", err)
	}
	if c.cfg.Mode == ModeReplace {
		return r.WithBody(resp), nil
	}

	orig, ok := r.Document().(map[string]any)
	if !ok {
		return models.Record{}, fmt.Errorf("cannot merge into a non object body")
	}
	merged := make(map[string]any, len(orig)+1)
	for k, v := range orig {
		merged[k] = v
	}
	merged[c.cfg.MergeKey] = doc
	b, err := json.Marshal(merged)
	if err != nil {
		return models.Record{}, err
	}
	return r.WithBody(b), nil
}
