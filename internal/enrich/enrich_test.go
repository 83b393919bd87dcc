package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarungka/pipes/internal/models"
)

func record(t *testing.T, body string) models.Record {
	t.Helper()
	r, err := models.New([]byte(body), models.Meta{Source: "orders", Partition: "0", Offset: 3})
	require.NoError(t, err)
	return r
}

func TestEnrichReplace(t *testing.T) {
	var gotPath, gotQuery, gotKey, gotTenant, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("customer")
		gotKey = r.Header.Get("x-api-key")
		gotTenant = r.Header.Get("X-Tenant")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Write([]byte(`{"id":"o-1","status":"shipped"}`))
	}))
	defer srv.Close()

	c, err := New(Config{
		Endpoint:              srv.URL + "/orders/*/status",
		PathParameterValues:   []string{"$.body.id"},
		QueryStringParameters: map[string]string{"customer": "$.body.customerType"},
		HeaderParameters:      map[string]string{"X-Tenant": "acme"},
		Connection:            Connection{APIKeyHeader: "x-api-key", APIKey: "secret"},
	})
	require.NoError(t, err)

	in := record(t, `{"id":"o-1","customerType":"B2B"}`)
	out, err := c.Enrich(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, "/orders/o-1/status", gotPath)
	assert.Equal(t, "B2B", gotQuery)
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "acme", gotTenant)
	assert.JSONEq(t, `{"id":"o-1","customerType":"B2B"}`, gotBody)

	assert.JSONEq(t, `{"id":"o-1","status":"shipped"}`, string(out.Body()))
	assert.Equal(t, in.Identity(), out.Identity())
	assert.JSONEq(t, `{"id":"o-1","customerType":"B2B"}`, string(in.Body()), "input record is untouched")
}

func TestEnrichMerge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Write([]byte(`{"tier":"gold"}`))
	}))
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL + "/customers/*", Method: "get", PathParameterValues: []string{"$.body.customer"}, Mode: ModeMerge})
	require.NoError(t, err)

	out, err := c.Enrich(context.Background(), record(t, `{"customer":7}`))
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(out.Body(), &doc))
	assert.Equal(t, float64(7), doc["customer"])
	assert.Equal(t, map[string]any{"tier": "gold"}, doc[DefaultMergeKey])
}

func TestEnrichErrors(t *testing.T) {
	tests := []struct {
		name      string
		handler   http.HandlerFunc
		reason    Reason
		retryable bool
	}{
		{
			name:      "server error",
			handler:   func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) },
			reason:    ReasonStatus,
			retryable: true,
		},
		{
			name:      "client error",
			handler:   func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) },
			reason:    ReasonStatus,
			retryable: false,
		},
		{
			name:      "malformed",
			handler:   func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("<html>")) },
			reason:    ReasonMalformed,
			retryable: false,
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
			reason:    ReasonTimeout,
			retryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c, err := New(Config{Endpoint: srv.URL, Timeout: 50 * time.Millisecond})
			require.NoError(t, err)

			in := record(t, `{"id":1}`)
			_, err = c.Enrich(context.Background(), in)
			var ee *Error
			require.True(t, errors.As(err, &ee), "got %v", err)
			assert.Equal(t, tt.reason, ee.Reason)
			assert.Equal(t, tt.retryable, ee.Retryable())
			assert.Equal(t, in.Identity(), ee.Record)
		})
	}
}

func TestEnrichMissingPathField(t *testing.T) {
	c, err := New(Config{Endpoint: "http://localhost/orders/*", PathParameterValues: []string{"$.body.id"}})
	require.NoError(t, err)

	_, err = c.Enrich(context.Background(), record(t, `{"other":1}`))
	var ee *Error
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, ReasonInput, ee.Reason)
	assert.ErrorIs(t, err, ErrMissingField)
	assert.False(t, ee.Retryable())
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"no endpoint", Config{}, ErrNoEndpoint},
		{"wildcards", Config{Endpoint: "http://x/*/*", PathParameterValues: []string{"$.body.a"}}, ErrWildcards},
		{"mode", Config{Endpoint: "http://x", Mode: "append"}, ErrUnknownMode},
		{"method", Config{Endpoint: "http://x", Method: "TRACE"}, ErrBadMethod},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := New(Config{Endpoint: "ftp://x"})
	assert.Error(t, err)

	c, err := New(Config{Endpoint: "http://x"})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, c.Config().Method)
	assert.Equal(t, DefaultTimeout, c.Config().Timeout)
	assert.Equal(t, ModeReplace, c.Config().Mode)
}
