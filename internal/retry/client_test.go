package retry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"

	"github.com/ashwinkp/condorbot/internal/broker"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(log)
}

func fastConfig() Config {
	return Config{MaxAttempts: 3, BaseBackoff: time.Millisecond}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastConfig(), testLogger(), "quote",
		func(context.Context) (float64, error) {
			calls++
			return 42.5, nil
		})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if got != 42.5 {
		t.Errorf("result = %v, expected 42.5", got)
	}
	if calls != 1 {
		t.Errorf("calls = %d, expected 1", calls)
	}
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastConfig(), testLogger(), "quote",
		func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", &broker.APIError{Status: 429, Message: "rate limit exceeded"}
			}
			return "ok", nil
		})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if got != "ok" {
		t.Errorf("result = %q, expected ok", got)
	}
	if calls != 3 {
		t.Errorf("calls = %d, expected 3", calls)
	}
}

func TestDoLogsThrottlingDistinctly(t *testing.T) {
	logger, hook := logrustest.NewNullLogger()
	calls := 0
	_, err := Do(context.Background(), fastConfig(), logrus.NewEntry(logger), "quote",
		func(context.Context) (int, error) {
			calls++
			if calls == 1 {
				return 0, &broker.APIError{Status: 429, Message: "request throttled"}
			}
			return 7, nil
		})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	found := false
	for _, entry := range hook.AllEntries() {
		if strings.Contains(entry.Message, "rate limited") {
			found = true
		}
	}
	if !found {
		t.Error("expected a rate-limited retry log entry")
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	permanent := &broker.APIError{Status: 400, Message: "invalid strike"}
	_, err := Do(context.Background(), fastConfig(), testLogger(), "order",
		func(context.Context) (int, error) {
			calls++
			return 0, permanent
		})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, expected 1 (no retry on permanent errors)", calls)
	}
	if !errors.Is(err, permanent) {
		t.Errorf("expected wrapped permanent error, got %v", err)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	transient := &broker.APIError{Status: 503, Message: "unavailable"}
	_, err := Do(context.Background(), fastConfig(), testLogger(), "positions",
		func(context.Context) (int, error) {
			calls++
			return 0, transient
		})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("calls = %d, expected 3", calls)
	}
	if !errors.Is(err, transient) {
		t.Errorf("expected wrapped transient error, got %v", err)
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := Do(ctx, fastConfig(), testLogger(), "quote",
		func(context.Context) (int, error) {
			calls++
			return 0, nil
		})
	if err == nil {
		t.Fatal("expected error for canceled context")
	}
	if calls != 0 {
		t.Errorf("calls = %d, expected 0", calls)
	}
}

func TestDoCancelsDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 3, BaseBackoff: time.Hour}

	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, cfg, testLogger(), "quote",
			func(context.Context) (int, error) {
				return 0, &broker.APIError{Status: 429, Message: "throttled"}
			})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected cancellation error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do() did not return after cancellation during backoff")
	}
}
