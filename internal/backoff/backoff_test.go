package backoff

import (
	"context"
	"testing"
	"time"
)

func TestPolicy_DelayGrowth(t *testing.T) {
	policy := Policy{
		Initial: 100 * time.Millisecond,
		Max:     30 * time.Second,
		Factor:  2,
		Jitter:  0,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
	}

	for _, tt := range tests {
		if got := policy.delayWithRand(tt.attempt, 0); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestPolicy_DelayCappedAtMax(t *testing.T) {
	policy := Policy{
		Initial: 1 * time.Second,
		Max:     5 * time.Second,
		Factor:  10,
		Jitter:  0,
	}

	if got := policy.delayWithRand(3, 0); got != 5*time.Second {
		t.Errorf("Delay(3) = %v, want capped %v", got, 5*time.Second)
	}
}

func TestPolicy_DelayJitterAddsWithinBound(t *testing.T) {
	policy := Policy{
		Initial: 100 * time.Millisecond,
		Max:     30 * time.Second,
		Factor:  2,
		Jitter:  0.5,
	}

	base := policy.delayWithRand(1, 0)
	jittered := policy.delayWithRand(1, 0.999)

	if jittered < base {
		t.Errorf("jittered delay %v below base %v", jittered, base)
	}
	if limit := base + base/2; jittered > limit {
		t.Errorf("jittered delay %v above jitter limit %v", jittered, limit)
	}
}

func TestPolicy_DelayAttemptFloor(t *testing.T) {
	policy := Default()
	if got, want := policy.delayWithRand(0, 0), policy.delayWithRand(1, 0); got != want {
		t.Errorf("Delay(0) = %v, want same as Delay(1) = %v", got, want)
	}
}

func TestSleepContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := SleepContext(ctx, 10*time.Second)
	if err != context.Canceled {
		t.Errorf("SleepContext() error = %v, want %v", err, context.Canceled)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("SleepContext returned after %v, expected immediate return", elapsed)
	}
}

func TestSleepContext_ZeroDuration(t *testing.T) {
	if err := SleepContext(context.Background(), 0); err != nil {
		t.Errorf("SleepContext(0) error = %v, want nil", err)
	}
}

func TestPolicy_Sleep(t *testing.T) {
	policy := Policy{Initial: time.Millisecond, Max: time.Millisecond, Factor: 1, Jitter: 0}
	if err := policy.Sleep(context.Background(), 1); err != nil {
		t.Errorf("Sleep() error = %v, want nil", err)
	}
}
