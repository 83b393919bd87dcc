package sources

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tarungka/pipes/internal/models"
)

// pullGauge records how many pulls run at once per partition.
type pullGauge struct {
	mu      sync.Mutex
	current map[string]int
	peak    map[string]int
	total   map[string]int
}

func newPullGauge() *pullGauge {
	return &pullGauge{current: map[string]int{}, peak: map[string]int{}, total: map[string]int{}}
}

func (g *pullGauge) enter(p string) {
	g.mu.Lock()
	g.current[p]++
	g.total[p]++
	if g.current[p] > g.peak[p] {
		g.peak[p] = g.current[p]
	}
	g.mu.Unlock()
}

func (g *pullGauge) leave(p string) {
	g.mu.Lock()
	g.current[p]--
	g.mu.Unlock()
}

func (g *pullGauge) Peak(p string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peak[p]
}

func (g *pullGauge) Total(p string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.total[p]
}

// MemoryStream is an in process partitioned log.
type MemoryStream struct {
	*pullGauge
	name     string
	position StartingPosition
	// PullDelay is slept inside every Pull, it makes overlapping pulls
	// observable in tests.
	PullDelay time.Duration

	mu      sync.Mutex
	closed  bool
	logs    map[string][][]byte
	cursors map[string]int64
	acked   map[string]int64
}

func NewMemoryStream(name string, position StartingPosition, partitions ...string) *MemoryStream {
	if name == "" {
		name = "memory"
	}
	if len(partitions) == 0 {
		partitions = []string{"0"}
	}
	s := &MemoryStream{
		pullGauge: newPullGauge(),
		name:      name,
		position:  position,
		logs:      make(map[string][][]byte, len(partitions)),
		cursors:   make(map[string]int64),
		acked:     make(map[string]int64),
	}
	for _, p := range partitions {
		s.logs[p] = nil
	}
	return s
}

func (s *MemoryStream) Name() string { return s.name }
func (s *MemoryStream) Kind() Kind   { return KindStream }

// Append adds payloads to a partition and returns the offset of the last.
func (s *MemoryStream) Append(partition string, bodies ...[]byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log, ok := s.logs[partition]
	if !ok {
		return -1, fmt.Errorf("%w: %s", ErrUnknownPartition, partition)
	}
	for _, b := range bodies {
		log = append(log, append([]byte(nil), b...))
	}
	s.logs[partition] = log
	return int64(len(log)) - 1, nil
}

// Acked returns the last checkpoint acked for a partition, or -1.
func (s *MemoryStream) Acked(partition string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.acked[partition]; ok {
		return v
	}
	return -1
}

func (s *MemoryStream) Partitions(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.logs))
	for p := range s.logs {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStream) Open(_ context.Context, partition string, from Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	log, ok := s.logs[partition]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPartition, partition)
	}
	switch {
	case from.Valid:
		s.cursors[partition] = from.Offset + 1
	case s.position == Earliest:
		s.cursors[partition] = 0
	default:
		s.cursors[partition] = int64(len(log))
	}
	return nil
}

func (s *MemoryStream) Pull(ctx context.Context, partition string, max int) (models.Batch, error) {
	s.enter(partition)
	defer s.leave(partition)
	if s.PullDelay > 0 {
		select {
		case <-time.After(s.PullDelay):
		case <-ctx.Done():
			return models.Batch{}, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return models.Batch{}, ErrClosed
	}
	cur, ok := s.cursors[partition]
	if !ok {
		return models.Batch{}, fmt.Errorf("%w: %s", ErrNotOpen, partition)
	}
	log := s.logs[partition]
	end := int64(len(log))
	if max > 0 && cur+int64(max) < end {
		end = cur + int64(max)
	}
	var records []models.Record
	for off := cur; off < end; off++ {
		r, err := models.New(log[off], models.Meta{Source: s.name, Partition: partition, Offset: off})
		if err != nil {
			return models.Batch{}, err
		}
		records = append(records, r)
	}
	if end > cur {
		s.cursors[partition] = end
	}
	return newBatch(s, partition, records), nil
}

func (s *MemoryStream) Ack(_ context.Context, partition string, checkpoint int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.acked[partition]; !ok || checkpoint > prev {
		s.acked[partition] = checkpoint
	}
	return nil
}

func (s *MemoryStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

type queued struct {
	seq       int64
	body      []byte
	delivered int
	visibleAt time.Time
	inFlight  bool
}

// MemoryQueue is an in process queue with visibility timeout redelivery.
type MemoryQueue struct {
	*pullGauge
	name       string
	visibility time.Duration
	now        func() time.Time

	mu     sync.Mutex
	closed bool
	next   int64
	msgs   []*queued
}

func NewMemoryQueue(name string, visibility time.Duration) *MemoryQueue {
	if name == "" {
		name = "memory"
	}
	if visibility <= 0 {
		visibility = DefaultVisibilityTimeout
	}
	return &MemoryQueue{pullGauge: newPullGauge(), name: name, visibility: visibility, now: time.Now}
}

func (q *MemoryQueue) Name() string { return q.name }
func (q *MemoryQueue) Kind() Kind   { return KindQueue }

// Send enqueues payloads and returns the sequence of the last one.
func (q *MemoryQueue) Send(bodies ...[]byte) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	var seq int64
	for _, b := range bodies {
		q.next++
		seq = q.next
		q.msgs = append(q.msgs, &queued{seq: seq, body: append([]byte(nil), b...)})
	}
	return seq
}

// Pending counts messages that were not acked yet.
func (q *MemoryQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs)
}

func (q *MemoryQueue) Partitions(context.Context) ([]string, error) {
	return []string{QueuePartition}, nil
}

func (q *MemoryQueue) Open(_ context.Context, partition string, _ Cursor) error {
	if partition != QueuePartition {
		return fmt.Errorf("%w: %s", ErrUnknownPartition, partition)
	}
	return nil
}

func (q *MemoryQueue) Pull(_ context.Context, partition string, max int) (models.Batch, error) {
	if partition != QueuePartition {
		return models.Batch{}, fmt.Errorf("%w: %s", ErrUnknownPartition, partition)
	}
	q.enter(partition)
	defer q.leave(partition)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return models.Batch{}, ErrClosed
	}
	now := q.now()
	var records []models.Record
	for _, m := range q.msgs {
		if max > 0 && len(records) == max {
			break
		}
		if m.inFlight && now.Before(m.visibleAt) {
			continue
		}
		m.inFlight = true
		m.delivered++
		m.visibleAt = now.Add(q.visibility)
		r, err := models.New(m.body, models.Meta{
			Source:     q.name,
			Partition:  partition,
			Offset:     m.seq,
			Arrival:    now,
			Attributes: map[string]string{"delivered": fmt.Sprint(m.delivered)},
		})
		if err != nil {
			return models.Batch{}, err
		}
		records = append(records, r)
	}
	return newBatch(q, partition, records), nil
}

// Ack deletes every delivered message with a sequence up to checkpoint.
func (q *MemoryQueue) Ack(_ context.Context, partition string, checkpoint int64) error {
	if partition != QueuePartition {
		return fmt.Errorf("%w: %s", ErrUnknownPartition, partition)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.msgs[:0]
	for _, m := range q.msgs {
		if m.inFlight && m.seq <= checkpoint {
			continue
		}
		kept = append(kept, m)
	}
	q.msgs = kept
	return nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return nil
}
