package sources

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStartingPosition(t *testing.T) {
	tests := map[string]StartingPosition{
		"":             Latest,
		"LATEST":       Latest,
		"latest":       Latest,
		"TRIM_HORIZON": Earliest,
		"earliest":     Earliest,
	}
	for in, want := range tests {
		got, err := ParseStartingPosition(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseStartingPosition("AT_TIMESTAMP")
	assert.Error(t, err)
}

func TestMemoryStreamStartingPosition(t *testing.T) {
	ctx := context.Background()
	for _, tt := range []struct {
		position StartingPosition
		from     Cursor
		want     []int64
	}{
		{Earliest, Cursor{}, []int64{0, 1, 2}},
		{Latest, Cursor{}, nil},
		{Latest, Resume(0), []int64{1, 2}},
		{Earliest, Resume(2), nil},
	} {
		s := NewMemoryStream("orders", tt.position, "0")
		_, err := s.Append("0", []byte(`{"n":0}`), []byte(`{"n":1}`), []byte(`{"n":2}`))
		require.NoError(t, err)
		require.NoError(t, s.Open(ctx, "0", tt.from))

		b, err := s.Pull(ctx, "0", 10)
		require.NoError(t, err)
		assert.True(t, b.Ordered)
		var got []int64
		for _, r := range b.Records {
			got = append(got, r.Offset())
		}
		assert.Equal(t, tt.want, got, "%s %+v", tt.position, tt.from)
	}
}

func TestMemoryStreamPullRespectsMax(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStream("orders", Earliest, "0", "1")
	_, _ = s.Append("0", []byte("a"), []byte("b"), []byte("c"))
	require.NoError(t, s.Open(ctx, "0", Cursor{}))

	b, err := s.Pull(ctx, "0", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, "orders", b.Source)
	assert.Equal(t, "0", b.Partition)

	b, err = s.Pull(ctx, "0", 2)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Len())
	assert.Equal(t, int64(2), b.LastOffset())

	_, err = s.Pull(ctx, "1", 2)
	assert.ErrorIs(t, err, ErrNotOpen)

	_, err = s.Append("7", []byte("x"))
	assert.ErrorIs(t, err, ErrUnknownPartition)

	parts, err := s.Partitions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1"}, parts)

	require.NoError(t, s.Ack(ctx, "0", 2))
	require.NoError(t, s.Ack(ctx, "0", 1))
	assert.Equal(t, int64(2), s.Acked("0"))
	assert.Equal(t, 2, s.Total("0"))
	assert.Equal(t, 1, s.Peak("0"))
}

func TestMemoryQueueVisibilityTimeout(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue("tickets", time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }

	q.Send([]byte(`{"id":1}`), []byte(`{"id":2}`))

	b, err := q.Pull(ctx, QueuePartition, 10)
	require.NoError(t, err)
	require.Equal(t, 2, b.Len())
	assert.False(t, b.Ordered)

	b, err = q.Pull(ctx, QueuePartition, 10)
	require.NoError(t, err)
	assert.True(t, b.Empty(), "in flight messages are invisible")

	// only the first one is resolved
	require.NoError(t, q.Ack(ctx, QueuePartition, 1))
	assert.Equal(t, 1, q.Pending())

	now = now.Add(2 * time.Minute)
	b, err = q.Pull(ctx, QueuePartition, 10)
	require.NoError(t, err)
	require.Equal(t, 1, b.Len())
	assert.Equal(t, int64(2), b.Records[0].Offset())
	delivered, _ := b.Records[0].Attribute("delivered")
	assert.Equal(t, "2", delivered)

	require.NoError(t, q.Ack(ctx, QueuePartition, b.LastOffset()))
	assert.Equal(t, 0, q.Pending())

	_, err = q.Pull(ctx, "0", 1)
	assert.ErrorIs(t, err, ErrUnknownPartition)
}

func TestMemoryClosed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStream("x", Earliest)
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Open(ctx, "0", Cursor{}), ErrClosed)

	q := NewMemoryQueue("x", 0)
	require.NoError(t, q.Close())
	_, err := q.Pull(ctx, QueuePartition, 1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestTransientError(t *testing.T) {
	base := errors.New("broker not available")
	err := transient("fetch", base)
	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsTransient(base))
	assert.Nil(t, transient("fetch", nil))
}

func TestFactory(t *testing.T) {
	f := NewFactory()
	assert.Equal(t, []string{TypeKafka, TypeMemoryQueue, TypeMemoryStream, TypeNats}, f.Types())

	src, err := f.Create(Config{Type: TypeMemoryStream, StartingPosition: "TRIM_HORIZON", Memory: MemoryConfig{Name: "orders", Partitions: []string{"a", "b"}}})
	require.NoError(t, err)
	assert.Equal(t, KindStream, src.Kind())
	parts, _ := src.Partitions(context.Background())
	assert.Equal(t, []string{"a", "b"}, parts)

	src, err = f.Create(Config{Type: TypeMemoryQueue})
	require.NoError(t, err)
	assert.Equal(t, KindQueue, src.Kind())

	_, err = f.Create(Config{Type: "sqs"})
	assert.ErrorContains(t, err, "known: kafka")

	_, err = f.Create(Config{Type: TypeKafka})
	assert.Error(t, err, "brokers and topic are required")

	_, err = f.Create(Config{Type: TypeMemoryStream, StartingPosition: "AT_TIMESTAMP"})
	assert.Error(t, err)

	shared := NewMemoryQueue("shared", 0)
	f.Register("shared", func(Config) (Source, error) { return shared, nil })
	got, err := f.Create(Config{Type: "shared"})
	require.NoError(t, err)
	assert.Same(t, shared, got)
}
