package limits

import (
	"context"
	"testing"
	"time"
)

func TestResolveTierUnknownDefaultsToFree(t *testing.T) {
	if got := ResolveTier("nonexistent"); got.Name != "free" {
		t.Errorf("ResolveTier(nonexistent) = %q, want free", got.Name)
	}
	if got := ResolveTier("PRO"); got.Name != "pro" {
		t.Errorf("ResolveTier(PRO) = %q, want pro (case-insensitive)", got.Name)
	}
}

func TestClampRetry(t *testing.T) {
	ten := 10
	enforced, clamped := ClampRetry(&ten, Free)
	if enforced != Free.MaxRetryAttempts {
		t.Errorf("enforced = %d, want %d", enforced, Free.MaxRetryAttempts)
	}
	if !clamped {
		t.Error("expected clamped=true when requested exceeds tier ceiling")
	}

	enforced, clamped = ClampRetry(nil, Pro)
	if enforced != defaultRetryAttempts {
		t.Errorf("nil request should default to %d, got %d", defaultRetryAttempts, enforced)
	}
	if clamped {
		t.Error("default-within-ceiling should not be reported as clamped")
	}
}

func TestParseDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"15m", 15 * time.Minute, true},
		{"100ms", 100 * time.Millisecond, true},
		{"2d", 48 * time.Hour, true},
		{"garbage", 0, false},
	}
	for _, c := range cases {
		got, ok := ParseDuration(c.in)
		if ok != c.ok || (ok && got != c.want) {
			t.Errorf("ParseDuration(%q) = (%v, %v), want (%v, %v)", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestClampTimeoutUnparsableDefaultsThenClamps(t *testing.T) {
	// Pro's step ceiling is above the 5m default; Free's 2m is not.
	enforced, clamped := ClampTimeout("not-a-duration", StepLevel, Pro)
	if enforced != defaultStepTimeout {
		t.Errorf("expected default step timeout, got %v", enforced)
	}
	if clamped {
		t.Error("default within tier ceiling should not be clamped")
	}

	enforced, clamped = ClampTimeout("1h", StepLevel, Free)
	if enforced != Free.MaxStepTimeout {
		t.Errorf("expected clamp to tier ceiling %v, got %v", Free.MaxStepTimeout, enforced)
	}
	if !clamped {
		t.Error("expected clamped=true when requested exceeds ceiling")
	}
}

func TestClampSandbox(t *testing.T) {
	enforced, clamped := ClampSandbox(SandboxNone, Free)
	if enforced != Free.MinSandboxLevel {
		t.Errorf("expected substitution to tier floor %v, got %v", Free.MinSandboxLevel, enforced)
	}
	if !clamped {
		t.Error("expected clamped=true")
	}

	enforced, clamped = ClampSandbox(SandboxStrict, Enterprise)
	if enforced != SandboxStrict || clamped {
		t.Errorf("requesting above the floor should pass through unclamped, got (%v, %v)", enforced, clamped)
	}
}

func TestClampExecutionMode(t *testing.T) {
	enforced, clamped := ClampExecutionMode("parallel", Free)
	if enforced != Free.AllowedExecutionModes[0] || !clamped {
		t.Errorf("expected fallback to first allowed mode, got (%v, %v)", enforced, clamped)
	}
}

func TestClampPriority(t *testing.T) {
	enforced, clamped := ClampPriority("high", Free)
	if enforced != "normal" || !clamped {
		t.Errorf("expected high downgraded to normal on Free, got (%v, %v)", enforced, clamped)
	}
	enforced, clamped = ClampPriority("high", Pro)
	if enforced != "high" || clamped {
		t.Errorf("Pro allows high priority, got (%v, %v)", enforced, clamped)
	}
}

func TestConcurrencyGateBlocksBeyondCeiling(t *testing.T) {
	tier := TierLimits{MaxConcurrency: 1}
	gate := NewConcurrencyGate(tier)

	ctx := context.Background()
	if err := gate.Acquire(ctx); err != nil {
		t.Fatalf("first acquire should not block: %v", err)
	}

	ctx2, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := gate.Acquire(ctx2); err == nil {
		t.Error("expected second acquire to time out while the slot is held")
	}

	gate.Release()
	if err := gate.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire after release should succeed: %v", err)
	}
}
