package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestDoSucceedsAfterTransientErrors(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, nil)

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsAtMaxAttempts(t *testing.T) {
	calls := 0
	var failures []uint
	boom := errors.New("boom")
	err := fastPolicy(4).Do(context.Background(), func(context.Context) error {
		calls++
		return boom
	}, func(n uint, err error) { failures = append(failures, n) })

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 4, calls)
	assert.GreaterOrEqual(t, len(failures), 3)
}

func TestDoStopsOnPermanent(t *testing.T) {
	calls := 0
	root := errors.New("bad request")
	err := fastPolicy(5).Do(context.Background(), func(context.Context) error {
		calls++
		return fmt.Errorf("call: %w", Permanent(root))
	}, nil)

	assert.Equal(t, 1, calls)
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, root)
}

func TestDoHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Policy{MaxAttempts: 10, InitialBackoff: time.Second, MaxBackoff: time.Second}.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	}, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestWithDefaultsAndBackoff(t *testing.T) {
	p := Policy{}.WithDefaults()
	assert.Equal(t, DefaultMaxAttempts, p.MaxAttempts)
	assert.Equal(t, DefaultInitialBackoff, p.InitialBackoff)

	p = Policy{InitialBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 300*time.Millisecond, p.Backoff(3))
}

func TestPermanentNil(t *testing.T) {
	assert.Nil(t, Permanent(nil))
	assert.False(t, IsPermanent(errors.New("x")))
}

func TestDoWaitsBetweenAttempts(t *testing.T) {
	p := Policy{MaxAttempts: 3, InitialBackoff: 20 * time.Millisecond, MaxBackoff: 20 * time.Millisecond}
	start := time.Now()
	err := p.Do(context.Background(), func(context.Context) error {
		return errors.New("transient")
	}, nil)
	require.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}
