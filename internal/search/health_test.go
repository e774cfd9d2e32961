package search

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestExponentialBlockDuration(t *testing.T) {
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{1, 2 * time.Minute},
		{3, 2 * time.Minute},
		{4, 4 * time.Minute},
		{5, 8 * time.Minute},
		{6, 15 * time.Minute},
		{10, 15 * time.Minute},
	}
	for _, tt := range tests {
		if got := exponentialBlockDuration(tt.failures); got != tt.want {
			t.Errorf("exponentialBlockDuration(%d) = %v, want %v", tt.failures, got, tt.want)
		}
	}
}

func TestHealthTrackerBlocksAfterThreshold(t *testing.T) {
	tracker := newHealthTracker()
	baseTime := time.Now()
	testErr := fmt.Errorf("connection timeout")

	for i := 0; i < providerFailureThreshold; i++ {
		tracker.recordResult("os", "test", testErr, 100*time.Millisecond, baseTime)
	}
	blocked, until, lastErr := tracker.isBlocked("os", baseTime)
	if !blocked || lastErr != "connection timeout" {
		t.Fatalf("expected provider to be blocked, got blocked=%v err=%q", blocked, lastErr)
	}
	if got := until.Sub(baseTime); got != providerBlockBase {
		t.Fatalf("first block: expected %v, got %v", providerBlockBase, got)
	}

	afterBlock := until.Add(time.Second)
	if blocked, _, _ := tracker.isBlocked("os", afterBlock); blocked {
		t.Fatal("provider should be unblocked after block expires")
	}

	tracker.recordResult("os", "test", testErr, 100*time.Millisecond, afterBlock)
	_, until, _ = tracker.isBlocked("os", afterBlock)
	if got := until.Sub(afterBlock); got != 4*time.Minute {
		t.Fatalf("second block: expected 4m, got %v", got)
	}

	tracker.recordResult("os", "test", nil, 50*time.Millisecond, afterBlock.Add(time.Second))
	if blocked, _, _ := tracker.isBlocked("os", afterBlock.Add(2*time.Second)); blocked {
		t.Fatal("provider should be unblocked after success")
	}
}

func TestHealthTrackerIgnoresCallerCancellation(t *testing.T) {
	tracker := newHealthTracker()
	now := time.Now()
	for i := 0; i < providerFailureThreshold+1; i++ {
		tracker.recordResult("os", "test", context.Canceled, time.Millisecond, now)
	}
	if blocked, _, _ := tracker.isBlocked("os", now); blocked {
		t.Fatal("cancelled searches must not trip the breaker")
	}
	if state := tracker.state["os"]; state.totalFailures != 0 || state.totalRequests != int64(providerFailureThreshold+1) {
		t.Fatalf("unexpected counters: %+v", state)
	}
}

func TestProviderDiagnostics(t *testing.T) {
	service := newTestService(time.Second, &fakeProvider{name: "os"}, &fakeProvider{name: "sub"})
	now := time.Now()
	service.health.recordResult("os", "Dune", fmt.Errorf("i/o timeout"), 2*time.Second, now)
	service.health.recordDeadlineMiss("os")

	items := service.ProviderDiagnostics()
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	os := items[0]
	if os.Name != "os" || os.Label != "OS" || os.ConsecutiveFailures != 1 || !os.LastTimeout {
		t.Fatalf("unexpected diagnostics: %+v", os)
	}
	if os.LastQuery != "Dune" || os.LastLatencyMS != 2000 || os.DeadlineMisses != 1 || os.TimeoutCount != 1 {
		t.Fatalf("unexpected counters: %+v", os)
	}
	if os.LastFailureAt == nil || os.LastSuccessAt != nil || os.BlockedUntil != nil {
		t.Fatalf("unexpected timestamps: %+v", os)
	}
	if items[1].Name != "sub" || items[1].TotalRequests != 0 {
		t.Fatalf("untouched provider should be zero: %+v", items[1])
	}
}
