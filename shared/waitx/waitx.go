package waitx

import (
	"context"
	"fmt"
	"time"
)

const (
	DefaultTimeout  = 5 * time.Second
	DefaultInterval = 50 * time.Millisecond
)

// TimeoutError reports that a projection did not become visible within the
// wait window.
type TimeoutError struct {
	AggregateID string
	Timeout     time.Duration
}

func (e *TimeoutError) Error() string {
	if e.AggregateID == "" {
		return fmt.Sprintf("projection not visible after %s", e.Timeout)
	}
	return fmt.Sprintf("projection for aggregate %s not visible after %s", e.AggregateID, e.Timeout)
}

type Options struct {
	Timeout  time.Duration
	Interval time.Duration

	// AggregateID is included in the timeout error when set.
	AggregateID string
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	return o
}

// Await polls query at a fixed interval until it reports done, the timeout
// elapses, or ctx is cancelled. Projections are eventually consistent with
// the event log; this is the one sanctioned way to wait for a write to
// become visible. The timeout is mandatory: Await never converts eventual
// consistency into an unbounded wait.
func Await[T any](ctx context.Context, opts Options, query func(context.Context) (T, bool, error)) (T, error) {
	opts = opts.withDefaults()

	var zero T
	deadline := time.Now().Add(opts.Timeout)
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for {
		v, done, err := query(ctx)
		if err != nil {
			return zero, err
		}
		if done {
			return v, nil
		}
		if time.Now().After(deadline) {
			return zero, &TimeoutError{AggregateID: opts.AggregateID, Timeout: opts.Timeout}
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-ticker.C:
		}
	}
}
