package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/tarungka/pipes/internal/partitioner"
)

// MemoryAppender is an in process partitioned log.
type MemoryAppender struct {
	mu         sync.Mutex
	closed     bool
	p          *partitioner.Partitioner
	partitions [][]Message
	// Fail, when set, is asked for every message; a non nil error fails it.
	Fail func(m Message) error
}

func NewMemoryAppender(partitions int) *MemoryAppender {
	p := partitioner.New(partitions)
	return &MemoryAppender{p: p, partitions: make([][]Message, p.Partitions())}
}

func (a *MemoryAppender) Append(_ context.Context, msgs []Message) []error {
	a.mu.Lock()
	defer a.mu.Unlock()
	errs := make([]error, len(msgs))
	for i, m := range msgs {
		if a.closed {
			errs[i] = ErrClosed
			continue
		}
		if a.Fail != nil {
			if err := a.Fail(m); err != nil {
				errs[i] = err
				continue
			}
		}
		idx := a.p.Partition(m.Key)
		a.partitions[idx] = append(a.partitions[idx], m)
	}
	return errs
}

// Partition returns the messages written to partition i.
func (a *MemoryAppender) Partition(i int) []Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Message(nil), a.partitions[i]...)
}

// Messages returns every message, partition by partition.
func (a *MemoryAppender) Messages() []Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Message
	for _, p := range a.partitions {
		out = append(out, p...)
	}
	return out
}

func (a *MemoryAppender) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	return nil
}

// MemoryQueue is an in process enqueue sink that drops duplicate ids.
type MemoryQueue struct {
	mu     sync.Mutex
	closed bool
	seen   map[string]struct{}
	msgs   []Message
	Fail   func(dedupID string, m Message) error
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{seen: make(map[string]struct{})}
}

func (q *MemoryQueue) Enqueue(_ context.Context, dedupID string, m Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if q.Fail != nil {
		if err := q.Fail(dedupID, m); err != nil {
			return err
		}
	}
	if _, ok := q.seen[dedupID]; ok {
		return nil
	}
	q.seen[dedupID] = struct{}{}
	q.msgs = append(q.msgs, m)
	return nil
}

func (q *MemoryQueue) Messages() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Message(nil), q.msgs...)
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return nil
}

// Execution is a workflow run started on a MemoryWorkflow.
type Execution struct {
	ID    string
	Name  string
	Input []byte
}

// MemoryWorkflow is an in process workflow engine. Names are unique.
type MemoryWorkflow struct {
	mu         sync.Mutex
	closed     bool
	executions []Execution
	names      map[string]struct{}
	Fail       func(name string) error
}

func NewMemoryWorkflow() *MemoryWorkflow {
	return &MemoryWorkflow{names: make(map[string]struct{})}
}

func (w *MemoryWorkflow) StartExecution(_ context.Context, name string, input []byte) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return "", ErrClosed
	}
	if w.Fail != nil {
		if err := w.Fail(name); err != nil {
			return "", err
		}
	}
	if _, ok := w.names[name]; ok {
		return "", ErrExecutionExists
	}
	w.names[name] = struct{}{}
	id := fmt.Sprintf("exec-%d", len(w.executions)+1)
	w.executions = append(w.executions, Execution{ID: id, Name: name, Input: append([]byte(nil), input...)})
	return id, nil
}

func (w *MemoryWorkflow) Executions() []Execution {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Execution(nil), w.executions...)
}

func (w *MemoryWorkflow) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}
