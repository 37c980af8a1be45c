package chain

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRetryEventuallySucceeds(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	retry := Retry{MaxRetries: 3, Backoff: time.Millisecond, Logger: zap.New(core)}

	calls := 0
	err := retry.Do(context.Background(), "balanceOf", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("temporary")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls mismatch: %d", calls)
	}
	if logs.Len() != 2 {
		t.Fatalf("expected 2 retry logs, got %d", logs.Len())
	}
	fields := logs.All()[1].ContextMap()
	if fields["op"] != "balanceOf" || fields["attempt"] != int64(2) {
		t.Fatalf("unexpected log fields: %v", fields)
	}
}

func TestRetryGivesUp(t *testing.T) {
	calls := 0
	want := errors.New("permanent")
	err := Retry{MaxRetries: 2, Backoff: time.Millisecond}.Do(context.Background(), "chainID", func(context.Context) error {
		calls++
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected last error, got %v", err)
	}
	if !strings.Contains(err.Error(), "chainID failed after 3 attempts") {
		t.Fatalf("unexpected error text: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls mismatch: %d", calls)
	}
}

func TestRetryCapsBackoff(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	retry := Retry{MaxRetries: 3, Backoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, Logger: zap.New(core)}

	_ = retry.Do(context.Background(), "nonce", func(context.Context) error {
		return errors.New("fail")
	})
	var delays []time.Duration
	for _, entry := range logs.All() {
		delays = append(delays, entry.ContextMap()["delay"].(time.Duration))
	}
	want := []time.Duration{time.Millisecond, 2 * time.Millisecond, 2 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("delays mismatch: %v", delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("delay %d: got %v want %v", i, delays[i], want[i])
		}
	}
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry{MaxRetries: 5, Backoff: time.Hour}.Do(ctx, "gasPrice", func(context.Context) error {
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}
