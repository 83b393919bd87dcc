package sinks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPWorkflowStartExecution(t *testing.T) {
	var got startExecutionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "approvals:orders/0/1", r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "k", r.Header.Get("x-api-key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"executionId":"arn:exec:1"}`))
	}))
	defer srv.Close()

	wf, err := NewHTTPWorkflow(WorkflowConfig{Endpoint: srv.URL, StateMachine: "approval-flow", APIKeyHeader: "x-api-key", APIKey: "k"})
	require.NoError(t, err)
	id, err := wf.StartExecution(context.Background(), "approvals:orders/0/1", []byte(`{"orderId":"o-1"}`))
	require.NoError(t, err)
	assert.Equal(t, "arn:exec:1", id)
	assert.Equal(t, "approval-flow", got.StateMachine)
	assert.JSONEq(t, `{"orderId":"o-1"}`, got.Input)
}

func TestHTTPWorkflowStatusClasses(t *testing.T) {
	tests := []struct {
		status int
		class  Class
		exists bool
	}{
		{http.StatusConflict, Transient, true},
		{http.StatusBadRequest, Rejected, false},
		{http.StatusNotFound, Fatal, false},
		{http.StatusForbidden, Fatal, false},
		{http.StatusServiceUnavailable, Transient, false},
		{http.StatusTooManyRequests, Transient, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			wf, err := NewHTTPWorkflow(WorkflowConfig{Endpoint: srv.URL, StateMachine: "sm"})
			require.NoError(t, err)
			_, err = wf.StartExecution(context.Background(), "n", []byte(`{}`))
			require.Error(t, err)
			if tt.exists {
				assert.ErrorIs(t, err, ErrExecutionExists)
				return
			}
			assert.Equal(t, tt.class, Classify(err))
		})
	}
}

func TestHTTPWorkflowConfig(t *testing.T) {
	_, err := NewHTTPWorkflow(WorkflowConfig{Endpoint: "http://x"})
	assert.Error(t, err)
}

func TestFactory(t *testing.T) {
	f := NewFactory()
	assert.Contains(t, f.Types(), TypeKafka)

	target, err := f.Create(Config{Type: TypeMemoryAppend, PartitionKey: "1", Memory: MemoryConfig{Partitions: 2}}, nil)
	require.NoError(t, err)
	assert.Equal(t, Append, target.Capability)
	assert.Equal(t, TypeMemoryAppend, target.Name)
	assert.Equal(t, "1", target.KeyRule().String())

	_, err = f.Create(Config{Type: TypeMemoryAppend}, nil)
	assert.Error(t, err, "append needs a partition key")

	_, err = f.Create(Config{Type: "sqs"}, nil)
	assert.ErrorContains(t, err, TypeMemoryWorkflow, "the error lists the known types")

	_, err = f.Create(Config{Type: TypeKafka, PartitionKey: "1"}, nil)
	assert.Error(t, err)
}

func TestFileAppender(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "orders.jsonl")
	f, err := NewFileAppender(FileConfig{Path: path})
	require.NoError(t, err)

	errs := f.Append(context.Background(), []Message{
		{Key: "1", Value: []byte(`{"n":1}`)},
		{Key: "1", Value: []byte("plain")},
	})
	assert.Equal(t, []error{nil, nil}, errs)
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"key":"1","value":{"n":1}}`, lines[0])
	assert.JSONEq(t, `{"key":"1","text":"plain"}`, lines[1])

	errs = f.Append(context.Background(), []Message{{Key: "1"}})
	assert.ErrorIs(t, errs[0], ErrClosed)
}
