package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docseed/internal/bundle"
)

// instant records requested delays without sleeping.
type instant struct {
	delays []time.Duration
}

func (s *instant) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func testPolicy(s *instant) Policy {
	p := Default()
	p.Sleep = s.sleep
	p.Jitter = func() float64 { return 0.5 }
	return p
}

func TestDo_SucceedsAfterTwoTransientFailures(t *testing.T) {
	s := &instant{}
	calls := 0

	err := testPolicy(s).Do(context.Background(), "blob put", func(context.Context) error {
		calls++
		if calls <= 2 {
			return bundle.NewTransient("blob put", errors.New("connection reset"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 500 * time.Millisecond}, s.delays)
}

func TestDo_AlwaysTransientStopsAtThreeAttempts(t *testing.T) {
	s := &instant{}
	calls := 0

	err := testPolicy(s).Do(context.Background(), "blob put", func(context.Context) error {
		calls++
		return bundle.NewTransient("blob put", errors.New("timeout"))
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, bundle.IsTransient(err))
	assert.Contains(t, err.Error(), "gave up after 3 attempts")
	assert.Len(t, s.delays, 2, "no sleep after the final attempt")
}

func TestDo_NonTransientIsNotRetried(t *testing.T) {
	s := &instant{}
	calls := 0
	fatal := bundle.NewFatal("blob put", errors.New("permission denied"))

	err := testPolicy(s).Do(context.Background(), "blob put", func(context.Context) error {
		calls++
		return fatal
	})

	assert.Equal(t, 1, calls)
	assert.Same(t, fatal, err)
	assert.Empty(t, s.delays)

	calls = 0
	plain := errors.New("plain")
	err = testPolicy(s).Do(context.Background(), "op", func(context.Context) error {
		calls++
		return plain
	})
	assert.Equal(t, 1, calls)
	assert.Same(t, plain, err)
}

func TestDo_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Default()
	p.Sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	calls := 0
	err := p.Do(ctx, "find active", func(context.Context) error {
		calls++
		return bundle.NewTransient("find active", errors.New("busy"))
	})

	assert.Equal(t, 1, calls)
	assert.True(t, bundle.IsTransient(err))
}

func TestDo_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Default().Do(ctx, "find active", func(context.Context) error {
		t.Fatal("fn must not run")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_OnRetryHook(t *testing.T) {
	s := &instant{}
	p := testPolicy(s)
	var ops []string
	p.OnRetry = func(op string, attempt int, delay time.Duration, err error) {
		ops = append(ops, op)
	}

	_ = p.Do(context.Background(), "config put", func(context.Context) error {
		return bundle.NewTransient("config put", errors.New("busy"))
	})
	assert.Equal(t, []string{"config put", "config put"}, ops)
}

func TestCeiling(t *testing.T) {
	p := Default()
	assert.Equal(t, 500*time.Millisecond, p.Ceiling(1))
	assert.Equal(t, time.Second, p.Ceiling(2))
	assert.Equal(t, 2*time.Second, p.Ceiling(3))
	assert.Equal(t, 8*time.Second, p.Ceiling(5))
	assert.Equal(t, 10*time.Second, p.Ceiling(6))
	assert.Equal(t, 10*time.Second, p.Ceiling(40))
}

func TestBackoff_FullJitterRange(t *testing.T) {
	p := Default()
	for i := 0; i < 200; i++ {
		d := p.backoff(2)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, time.Second)
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, Default().Validate())

	bad := []Policy{
		{MaxAttempts: 0, BaseDelay: time.Second, MaxDelay: time.Second, Multiplier: 2},
		{MaxAttempts: 3, BaseDelay: -time.Second, MaxDelay: time.Second, Multiplier: 2},
		{MaxAttempts: 3, BaseDelay: 2 * time.Second, MaxDelay: time.Second, Multiplier: 2},
		{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Second, Multiplier: 0.5},
	}
	for _, p := range bad {
		assert.Error(t, p.Validate(), "%+v", p)
	}
}
