package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrExhausted is returned when the condition was not reached within the attempt ceiling.
var ErrExhausted = errors.New("poll attempts exhausted")

var errNotDone = errors.New("condition not reached")

// Config is a fixed-interval, fixed-attempt polling policy.
type Config struct {
	Attempts int
	Interval time.Duration
}

// CheckFunc reports whether the awaited condition holds. A non-nil error aborts polling.
type CheckFunc func(ctx context.Context) (done bool, err error)

// Until waits Interval and then calls check, at most Attempts times, stopping as soon
// as check reports done. The caller is expected to have evaluated the initial state
// already, so the first call happens after one interval.
func Until(ctx context.Context, cfg Config, check CheckFunc) error {
	if cfg.Attempts <= 0 {
		return fmt.Errorf("%w after 0 attempts", ErrExhausted)
	}
	if err := sleep(ctx, cfg.Interval); err != nil {
		return err
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := ctx.Err(); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		done, err := check(ctx)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if !done {
			return struct{}{}, errNotDone
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(cfg.Interval)),
		backoff.WithMaxTries(uint(cfg.Attempts)),
		backoff.WithMaxElapsedTime(cfg.Interval*time.Duration(cfg.Attempts)+time.Minute),
	)

	var permanent *backoff.PermanentError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errNotDone):
		return fmt.Errorf("%w after %d attempts", ErrExhausted, cfg.Attempts)
	case errors.As(err, &permanent):
		return permanent.Err
	default:
		return err
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
