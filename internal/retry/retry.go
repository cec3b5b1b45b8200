// Package retry wraps storage operations with bounded exponential backoff.
//
// Only errors classified as STORAGE_TRANSIENT (connection loss, timeouts,
// busy databases) are retried. Everything else is returned on the first
// attempt. Backoff uses full jitter: before attempt n+1 the policy sleeps a
// uniformly random duration in [0, min(MaxDelay, BaseDelay*Multiplier^(n-1))],
// which spreads out concurrent writers that failed together.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/roach88/docseed/internal/bundle"
)

// Default policy values.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxDelay    = 10 * time.Second
	DefaultMultiplier  = 2.0
)

// Policy configures retries. Policy values are immutable and safe for
// concurrent use; each Do call keeps its own attempt state.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the backoff ceiling before the second attempt.
	BaseDelay time.Duration

	// MaxDelay caps the backoff ceiling.
	MaxDelay time.Duration

	// Multiplier grows the ceiling after each attempt.
	Multiplier float64

	// Sleep waits for d or until ctx is done. Nil means a timer-based wait.
	Sleep func(ctx context.Context, d time.Duration) error

	// Jitter returns a value in [0, 1). Nil means math/rand/v2.
	Jitter func() float64

	// OnRetry is called before each backoff sleep. Optional.
	OnRetry func(op string, attempt int, delay time.Duration, err error)
}

// Default returns the standard policy: 3 attempts, 500ms base, x2, 10s cap.
func Default() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Multiplier:  DefaultMultiplier,
	}
}

// Validate checks the policy is usable.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry: max attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.BaseDelay < 0 || p.MaxDelay < 0 {
		return fmt.Errorf("retry: delays must not be negative")
	}
	if p.MaxDelay < p.BaseDelay {
		return fmt.Errorf("retry: max delay %s is below base delay %s", p.MaxDelay, p.BaseDelay)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("retry: multiplier must be >= 1, got %g", p.Multiplier)
	}
	return nil
}

// Ceiling returns the backoff ceiling applied after the given failed
// attempt (1-based).
func (p Policy) Ceiling(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	raw := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if raw > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(raw)
}

// Do runs fn until it succeeds, fails with a non-transient error, ctx is
// done, or MaxAttempts is reached. On exhaustion it returns a
// STORAGE_TRANSIENT error wrapping the last failure.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return last
			}
			return bundle.NewTransient(op, err)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !bundle.IsTransient(err) {
			return err
		}
		last = err

		if attempt == attempts {
			break
		}

		delay := p.backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(op, attempt, delay, err)
		}
		if err := p.sleep(ctx, delay); err != nil {
			return last
		}
	}

	return &bundle.Error{
		Code:    bundle.CodeTransient,
		Op:      op,
		Message: fmt.Sprintf("gave up after %d attempts", attempts),
		Err:     last,
	}
}

func (p Policy) backoff(attempt int) time.Duration {
	ceiling := p.Ceiling(attempt)
	if ceiling <= 0 {
		return 0
	}
	jitter := rand.Float64
	if p.Jitter != nil {
		jitter = p.Jitter
	}
	return time.Duration(jitter() * float64(ceiling))
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
