package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	uuid "github.com/google/uuid"
	"github.com/tarungka/pipes/internal/logger"
)

// Record is a single unit of data read from a source partition. A Record
// is immutable once built; stages that change the payload derive a new
// Record with WithBody.
type Record struct {
	ID        uuid.UUID // a UUID v7 to identify the record inside this process
	body      []byte
	doc       any // decoded body, nil when the body is not JSON
	source    string
	partition string
	offset    int64
	arrival   time.Time
	attrs     map[string]string
	view      map[string]any
}

// Meta carries the source side identity of a record.
type Meta struct {
	Source     string
	Partition  string
	Offset     int64
	Arrival    time.Time
	Attributes map[string]string
}

// New builds a record from a raw payload. Payloads that are not valid JSON
// are kept as opaque bytes; filter rules on body fields never match them.
func New(body []byte, meta Meta) (Record, error) {
	rID, err := uuid.NewV7()
	if err != nil {
		logger.AdHocLogger.Err(err).Msg("error when creating a new record")
		return Record{}, err
	}
	arrival := meta.Arrival
	if arrival.IsZero() {
		arrival = time.Now()
	}
	r := Record{
		ID:        rID,
		body:      append([]byte(nil), body...),
		source:    meta.Source,
		partition: meta.Partition,
		offset:    meta.Offset,
		arrival:   arrival,
		attrs:     copyAttrs(meta.Attributes),
	}
	r.doc = decode(r.body)
	r.view = r.buildView()
	return r, nil
}

// MustNew is New for tests and fixtures.
func MustNew(body []byte, meta Meta) Record {
	r, err := New(body, meta)
	if err != nil {
		panic(err)
	}
	return r
}

func decode(body []byte) any {
	if len(body) == 0 {
		return nil
	}
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil
	}
	return doc
}

func copyAttrs(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (r Record) buildView() map[string]any {
	return map[string]any{
		"body": r.doc,
		"metadata": map[string]any{
			"source":    r.source,
			"partition": r.partition,
			"offset":    float64(r.offset),
			"arrival":   r.arrival.UTC().Format(time.RFC3339Nano),
		},
	}
}

// Body returns a copy of the raw payload.
func (r Record) Body() []byte { return append([]byte(nil), r.body...) }

// Document is the decoded JSON body. Callers must treat it as read-only.
func (r Record) Document() any { return r.doc }

// View is the structure filter rules and field paths are evaluated
// against: {"body": <decoded payload>, "metadata": {...}}. Read-only.
func (r Record) View() map[string]any { return r.view }

func (r Record) IsJSON() bool { return r.doc != nil }

func (r Record) Source() string       { return r.source }
func (r Record) Partition() string    { return r.partition }
func (r Record) Offset() int64        { return r.offset }
func (r Record) Arrival() time.Time   { return r.arrival }

// Attribute returns a source specific attribute such as the kafka key.
func (r Record) Attribute(name string) (string, bool) {
	v, ok := r.attrs[name]
	return v, ok
}

// Identity is stable across redeliveries of the same source position,
// unlike ID which is minted per read.
func (r Record) Identity() string {
	return r.source + "/" + r.partition + "/" + strconv.FormatInt(r.offset, 10)
}

// WithBody derives a record with a new payload and the same identity.
func (r Record) WithBody(body []byte) Record {
	out := r
	out.body = append([]byte(nil), body...)
	out.doc = decode(out.body)
	out.attrs = copyAttrs(r.attrs)
	out.view = out.buildView()
	return out
}

func (r Record) String() string {
	return fmt.Sprintf("Record{%s id=%s bytes=%d}", r.Identity(), r.ID, len(r.body))
}
