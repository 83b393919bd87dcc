package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/tarungka/pipes/internal/logger"
)

// HTTPWorkflow starts state machine executions through an HTTP API:
//
//	POST <endpoint>
//	{"stateMachine": "...", "name": "<idempotency key>", "input": "<record body>"}
//
// A 409 response means an execution with that name exists already.
type HTTPWorkflow struct {
	cfg        WorkflowConfig
	httpClient *http.Client
	logger     zerolog.Logger
}

type startExecutionRequest struct {
	StateMachine string `json:"stateMachine"`
	Name         string `json:"name"`
	Input        string `json:"input"`
}

type startExecutionResponse struct {
	ExecutionID string `json:"executionId"`
}

func NewHTTPWorkflow(cfg WorkflowConfig) (*HTTPWorkflow, error) {
	if cfg.Endpoint == "" || cfg.StateMachine == "" {
		return nil, fmt.Errorf("workflow sink: endpoint and state_machine are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &HTTPWorkflow{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.GetLogger("sink").With().Str("type", TypeWorkflow).Str("state_machine", cfg.StateMachine).Logger(),
	}, nil
}

func (w *HTTPWorkflow) StartExecution(ctx context.Context, name string, input []byte) (string, error) {
	payload, err := json.Marshal(startExecutionRequest{
		StateMachine: w.cfg.StateMachine,
		Name:         name,
		Input:        string(input),
	})
	if err != nil {
		return "", Reject(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", Unavailable(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Idempotency-Key", name)
	if w.cfg.APIKeyHeader != "" {
		req.Header.Set(w.cfg.APIKeyHeader, w.cfg.APIKey)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusConflict:
		return "", ErrExecutionExists
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusNotFound:
		return "", Unavailable(fmt.Errorf("workflow api returned %d", resp.StatusCode))
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("workflow api returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return "", Reject(fmt.Errorf("workflow api returned %d: %s", resp.StatusCode, bytes.TrimSpace(body)))
	}

	var out startExecutionResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &out); err != nil {
			w.logger.Debug().Err(err).Msg("unreadable start execution response")
		}
	}
	if out.ExecutionID == "" {
		out.ExecutionID = name
	}
	return out.ExecutionID, nil
}

func (w *HTTPWorkflow) Close() error {
	w.httpClient.CloseIdleConnections()
	return nil
}
