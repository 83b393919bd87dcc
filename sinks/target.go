package sinks

import (
	"errors"

	"github.com/tarungka/pipes/internal/fieldpath"
	"github.com/tarungka/pipes/internal/idempotency"
	"github.com/tarungka/pipes/internal/models"
	"github.com/tarungka/pipes/internal/partitioner"
)

// Target is one configured sink. Exactly one of the sink fields is set,
// matching Capability.
type Target struct {
	Name       string
	Capability Capability

	appender AppendSink
	keyRule  partitioner.KeyRule

	enqueuer EnqueueSink

	invoker   InvokeSink
	guard     idempotency.Guard
	idemPath  fieldpath.Path
	idemField bool
}

func AppendTarget(name string, sink AppendSink, key partitioner.KeyRule) Target {
	return Target{Name: name, Capability: Append, appender: sink, keyRule: key}
}

func EnqueueTarget(name string, sink EnqueueSink) Target {
	return Target{Name: name, Capability: Enqueue, enqueuer: sink}
}

// InvokeTarget starts executions on sink. The idempotency key of a record
// is read from idempotencyKey when it is a field path, otherwise the record
// identity is used.
func InvokeTarget(name string, sink InvokeSink, guard idempotency.Guard, idempotencyKey string) (Target, error) {
	t := Target{Name: name, Capability: Invoke, invoker: sink, guard: guard}
	if idempotencyKey != "" {
		p, err := fieldpath.Parse(idempotencyKey)
		if err != nil {
			return Target{}, err
		}
		t.idemPath = p
		t.idemField = true
	}
	return t, nil
}

// KeyRule is the partition key rule of an append target.
func (t Target) KeyRule() partitioner.KeyRule { return t.keyRule }

// IdempotencyKey derives the execution name for r.
func (t Target) IdempotencyKey(r models.Record) (string, error) {
	if !t.idemField {
		return t.Name + ":" + r.Identity(), nil
	}
	v, ok := t.idemPath.Lookup(r.View())
	if !ok {
		return "", errors.New("idempotency key field " + t.idemPath.String() + " not found")
	}
	s, ok := fieldpath.Stringify(v)
	if !ok || s == "" {
		return "", errors.New("idempotency key field " + t.idemPath.String() + " is not a scalar")
	}
	return t.Name + ":" + s, nil
}

func (t Target) validate() error {
	switch t.Capability {
	case Append:
		if t.appender == nil {
			return errors.New("append target without sink")
		}
		if t.keyRule.String() == "" {
			return partitioner.ErrNoKeyRule
		}
	case Enqueue:
		if t.enqueuer == nil {
			return errors.New("enqueue target without sink")
		}
	case Invoke:
		if t.invoker == nil {
			return errors.New("invoke target without sink")
		}
		if t.guard == nil {
			return errors.New("invoke target without idempotency guard")
		}
	default:
		return errors.New("unknown target capability " + string(t.Capability))
	}
	return nil
}

// Close closes the underlying sink.
func (t Target) Close() error {
	switch t.Capability {
	case Append:
		return t.appender.Close()
	case Enqueue:
		return t.enqueuer.Close()
	case Invoke:
		return t.invoker.Close()
	}
	return nil
}
