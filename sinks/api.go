// Package sinks delivers records to log streams, queues and workflow
// engines.
package sinks

import (
	"context"
	"errors"
	"fmt"
)

// Capability is the delivery contract of a target.
type Capability string

const (
	// Append targets are partitioned logs. Records sharing a partition key
	// keep their relative order.
	Append Capability = "append"
	// Enqueue targets are at-least-once queues without ordering.
	Enqueue Capability = "enqueue"
	// Invoke targets start one workflow execution per record.
	Invoke Capability = "invoke"
)

var (
	ErrClosed          = errors.New("sink is closed")
	ErrExecutionExists = errors.New("workflow execution already exists")
)

// Message is what a record becomes on the wire.
type Message struct {
	Key     string
	Value   []byte
	Headers map[string]string
}

// AppendSink writes messages to a log. The returned slice has one entry
// per message, in order; nil means the message was written.
type AppendSink interface {
	Append(ctx context.Context, msgs []Message) []error
	Close() error
}

// EnqueueSink sends one message. dedupID lets the queue drop redeliveries
// of the same record.
type EnqueueSink interface {
	Enqueue(ctx context.Context, dedupID string, msg Message) error
	Close() error
}

// InvokeSink starts a workflow execution named name. Starting a name that
// already exists returns ErrExecutionExists.
type InvokeSink interface {
	StartExecution(ctx context.Context, name string, input []byte) (string, error)
	Close() error
}

// Class tells the coordinator what to do with a failed record.
type Class int

const (
	// Transient failures are retried with backoff.
	Transient Class = iota
	// Rejected records will never be accepted and go to the dead-letter
	// store without further retries.
	Rejected
	// Fatal failures mean the sink cannot be used at all; the pipe fails.
	Fatal
)

func (c Class) String() string {
	switch c {
	case Rejected:
		return "rejected"
	case Fatal:
		return "fatal"
	}
	return "transient"
}

type classified struct {
	class Class
	err   error
}

func (c *classified) Error() string { return c.err.Error() }
func (c *classified) Unwrap() error { return c.err }

// Reject marks err as a record level rejection.
func Reject(err error) error {
	if err == nil {
		return nil
	}
	return &classified{class: Rejected, err: err}
}

// Unavailable marks err as a sink level fatal error.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	return &classified{class: Fatal, err: err}
}

// Classify returns the class of err. Unmarked errors are transient.
func Classify(err error) Class {
	var c *classified
	if errors.As(err, &c) {
		return c.class
	}
	if errors.Is(err, ErrClosed) {
		return Fatal
	}
	return Transient
}

// DispatchError describes why a single record was not delivered.
type DispatchError struct {
	Target     string
	Capability Capability
	Record     string
	Class      Class
	Err        error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch of %s to %s target %s failed (%s): %v", e.Record, e.Capability, e.Target, e.Class, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

func (e *DispatchError) Retryable() bool { return e.Class == Transient }
