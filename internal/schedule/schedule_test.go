package schedule

import (
	"context"
	"testing"
)

func TestNew_ValidatesExpression(t *testing.T) {
	if _, err := New("*/15 * * * *", func(context.Context) {}); err != nil {
		t.Errorf("valid expression rejected: %v", err)
	}
	if _, err := New("not a cron", func(context.Context) {}); err == nil {
		t.Error("invalid expression accepted")
	}
	if _, err := New("@hourly", func(context.Context) {}); err != nil {
		t.Errorf("descriptor rejected: %v", err)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	s, err := New("@hourly", func(context.Context) {})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}
}
