package waitx

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestAwaitReturnsOnceVisible(t *testing.T) {
	calls := 0
	got, err := Await(context.Background(), Options{Timeout: time.Second, Interval: time.Millisecond}, func(context.Context) (string, bool, error) {
		calls++
		if calls < 3 {
			return "", false, nil
		}
		return "ready", true, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ready" || calls != 3 {
		t.Fatalf("got %q after %d calls", got, calls)
	}
}

func TestAwaitTimeoutNamesAggregate(t *testing.T) {
	_, err := Await(context.Background(), Options{Timeout: 20 * time.Millisecond, Interval: 5 * time.Millisecond, AggregateID: "req-42"}, func(context.Context) (int, bool, error) {
		return 0, false, nil
	})
	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if !strings.Contains(timeoutErr.Error(), "req-42") {
		t.Fatalf("timeout error should name the aggregate: %v", timeoutErr)
	}
}

func TestAwaitPropagatesQueryError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Await(context.Background(), Options{Timeout: time.Second, Interval: time.Millisecond}, func(context.Context) (int, bool, error) {
		return 0, false, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected query error, got %v", err)
	}
}

func TestAwaitHonoursContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Await(ctx, Options{Timeout: time.Second, Interval: time.Millisecond}, func(context.Context) (int, bool, error) {
		return 0, false, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
