package retry

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"

	"server/internal/infra"
)

const (
	// DefaultMaxAttempts is the default number of executions per unit of work.
	DefaultMaxAttempts = 3
	// DefaultBaseDelay is the wait after the first failed attempt; each
	// subsequent wait doubles (3s, 6s, 12s, ...).
	DefaultBaseDelay = 3 * time.Second
)

// Options configures a Controller.
type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Sleep       func(context.Context, time.Duration)
	Logger      *infra.Logger
}

// Controller wraps a single flaky unit of work with bounded retries and
// exponential backoff. Exhausting all attempts is a normal, expected outcome,
// not an error: the caller decides what a missing artifact means.
type Controller struct {
	maxAttempts int
	baseDelay   time.Duration
	sleep       func(context.Context, time.Duration)
	logger      *infra.Logger
}

// New constructs a Controller, filling in defaults for zero-valued options.
func New(opts Options) *Controller {
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	delay := opts.BaseDelay
	if delay <= 0 {
		delay = DefaultBaseDelay
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}

	return &Controller{maxAttempts: attempts, baseDelay: delay, sleep: sleep, logger: logger}
}

// Do executes fn until it reports success or attempts are exhausted. fn must
// absorb its own faults and report success via its return value; it is never
// allowed to panic the pipeline. The last attempt is not followed by a wait.
// Do reports whether any attempt succeeded.
func (c *Controller) Do(ctx context.Context, label string, fn func(context.Context) bool) bool {
	delay := c.baseDelay
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return false
		}
		if fn(ctx) {
			if attempt > 1 {
				c.logger.Info().
					Str("op", label).
					Int("attempt", attempt).
					Int("max_attempts", c.maxAttempts).
					Msg("retry: succeeded after retrying")
			}
			return true
		}
		if attempt == c.maxAttempts {
			break
		}
		c.logger.Warn().
			Str("op", label).
			Int("attempt", attempt).
			Dur("wait", delay).
			Msg("retry: attempt failed, backing off")
		c.sleep(ctx, delay)
		delay *= 2
	}

	c.logger.Error().
		Str("op", label).
		Int("max_attempts", c.maxAttempts).
		Msg("retry: all attempts exhausted")
	return false
}

// sleepContext waits for d or until ctx is done, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
