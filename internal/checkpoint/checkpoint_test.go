package checkpoint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()

	bs, err := OpenBadger(BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { bs.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"badger": bs,
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := s.Load(ctx, "clicks", "0")
			require.NoError(t, err)
			assert.False(t, ok, "no checkpoint before first commit")

			require.NoError(t, s.Commit(ctx, Checkpoint{Pipe: "clicks", Partition: "0", Offset: 10}))
			require.NoError(t, s.Commit(ctx, Checkpoint{Pipe: "clicks", Partition: "0", Offset: 10}), "equal offset is a no-op")
			require.NoError(t, s.Commit(ctx, Checkpoint{Pipe: "clicks", Partition: "0", Offset: 15}))

			err = s.Commit(ctx, Checkpoint{Pipe: "clicks", Partition: "0", Offset: 3})
			assert.ErrorIs(t, err, ErrRegression)

			cp, ok, err := s.Load(ctx, "clicks", "0")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, int64(15), cp.Offset)
			assert.False(t, cp.UpdatedAt.IsZero())
		})
	}
}

func TestStoreListIsolatesPipes(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Commit(ctx, Checkpoint{Pipe: "a", Partition: "1", Offset: 5}))
			require.NoError(t, s.Commit(ctx, Checkpoint{Pipe: "a", Partition: "0", Offset: 2}))
			require.NoError(t, s.Commit(ctx, Checkpoint{Pipe: "ab", Partition: "0", Offset: 9}))

			cps, err := s.List(ctx, "a")
			require.NoError(t, err)
			require.Len(t, cps, 2)
			assert.Equal(t, "0", cps[0].Partition)
			assert.Equal(t, int64(2), cps[0].Offset)
			assert.Equal(t, "1", cps[1].Partition)
		})
	}
}

func TestBadgerStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := OpenBadger(BadgerConfig{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx, Checkpoint{Pipe: "tickets", Partition: "queue", Offset: 77}))
	require.NoError(t, s.Close())

	_, _, err = s.Load(ctx, "tickets", "queue")
	assert.ErrorIs(t, err, ErrStoreOpen)

	s, err = OpenBadger(BadgerConfig{Dir: dir})
	require.NoError(t, err)
	defer s.Close()
	cp, ok, err := s.Load(ctx, "tickets", "queue")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(77), cp.Offset)
}
