package infra

import (
	"testing"
	"time"
)

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Max: time.Second}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{-1, 100 * time.Millisecond},
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{50, time.Second},
	}
	for _, tt := range tests {
		if got := b.Delay(tt.attempt); got != tt.expected {
			t.Errorf("Delay(%d) = %s, want %s", tt.attempt, got, tt.expected)
		}
	}
}

func TestBackoff_Jitter(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 10 * time.Second, Jitter: 500 * time.Millisecond}

	for i := 0; i < 100; i++ {
		d := b.Delay(2)
		if d < 4*time.Second || d >= 4*time.Second+500*time.Millisecond {
			t.Fatalf("Delay(2) = %s outside [4s, 4.5s)", d)
		}
	}

	b.rnd = func(n int64) int64 { return n - 1 }
	if got := b.Delay(0); got != time.Second+500*time.Millisecond-1 {
		t.Errorf("unexpected jittered delay %s", got)
	}
}
