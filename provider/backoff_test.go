package provider

import (
	"math/rand"
	"testing"
	"time"
)

func TestBackoff_MonotoneWithoutJitter(t *testing.T) {
	cfg := BackoffConfig{Base: 2 * time.Second, Max: 30 * time.Second}

	var prev time.Duration
	for attempt := 0; attempt < 10; attempt++ {
		d := cfg.Delay(attempt, nil)
		if d < prev {
			t.Fatalf("delay decreased at attempt %d: %v < %v", attempt, d, prev)
		}
		if d > cfg.Max {
			t.Fatalf("delay %v exceeds max %v at attempt %d", d, cfg.Max, attempt)
		}
		prev = d
	}
}

func TestBackoff_ExponentialThenCapped(t *testing.T) {
	cfg := BackoffConfig{Base: 2 * time.Second, Max: 30 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 2 * time.Second},
		{1, 4 * time.Second},
		{2, 8 * time.Second},
		{3, 16 * time.Second},
		{4, 30 * time.Second}, // 32s capped
		{10, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := cfg.Delay(tt.attempt, nil); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoff_JitterBounded(t *testing.T) {
	cfg := BackoffConfig{Base: time.Second, Max: 30 * time.Second, JitterFactor: 0.25}
	rnd := rand.New(rand.NewSource(7)).Float64

	for attempt := 0; attempt < 6; attempt++ {
		base := cfg.Delay(attempt, nil)
		d := cfg.Delay(attempt, rnd)
		lo := time.Duration(float64(base) * 0.75)
		hi := time.Duration(float64(base) * 1.25)
		if d < lo || d > hi {
			t.Errorf("Delay(%d) = %v outside jitter band [%v, %v]", attempt, d, lo, hi)
		}
	}
}

func TestBackoff_DeterministicWithFixedSeed(t *testing.T) {
	cfg := BackoffConfig{Base: 2 * time.Second, Max: 30 * time.Second, JitterFactor: 0.25}

	sequence := func() []time.Duration {
		rnd := rand.New(rand.NewSource(42)).Float64
		out := make([]time.Duration, 8)
		for i := range out {
			out[i] = cfg.Delay(i, rnd)
		}
		return out
	}

	a, b := sequence(), sequence()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("delay sequence diverged at %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestBackoff_NoOverflowOnHugeAttempt(t *testing.T) {
	cfg := BackoffConfig{Base: time.Second, Max: time.Minute}
	if got := cfg.Delay(500, nil); got != time.Minute {
		t.Errorf("Delay(500) = %v, want %v", got, time.Minute)
	}
}
