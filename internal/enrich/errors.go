package enrich

import (
	"fmt"
	"net/http"
)

// Reason classifies an enrichment failure.
type Reason string

const (
	ReasonTimeout   Reason = "timeout"
	ReasonTransport Reason = "transport"
	ReasonStatus    Reason = "status"
	// ReasonMalformed covers responses that are not the JSON the mode needs.
	ReasonMalformed Reason = "malformed_response"
	// ReasonInput means the record itself could not be turned into a request.
	ReasonInput Reason = "input"
)

// Error is returned for every failed enrichment. Record is the identity of
// the record the call was made for.
type Error struct {
	Reason     Reason
	Record     string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Reason == ReasonStatus {
		return fmt.Sprintf("enrichment of %s failed: %s: %d %s", e.Record, e.Reason, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("enrichment of %s failed: %s: %v", e.Record, e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether calling again may succeed.
func (e *Error) Retryable() bool {
	switch e.Reason {
	case ReasonTimeout, ReasonTransport:
		return true
	case ReasonStatus:
		return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout
	}
	return false
}
