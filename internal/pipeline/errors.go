package pipeline

import (
	"errors"
	"fmt"
)

var (
	ErrPipeExists   = errors.New("pipe already exists")
	ErrPipeNotFound = errors.New("pipe not found")
	ErrPipeStopped  = errors.New("pipe stopped before it started")
)

// ConfigurationError means a pipe definition cannot be activated. The
// pipe never starts.
type ConfigurationError struct {
	Pipe string
	Err  error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("pipe %s: invalid configuration: %v", e.Pipe, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// FatalError moved a pipe to FAILED. It needs an operator.
type FatalError struct {
	Pipe      string
	Partition string
	Stage     Stage
	Err       error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("pipe %s partition %s failed while %s: %v", e.Pipe, e.Partition, e.Stage, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }
