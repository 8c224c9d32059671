package supervisor

import (
	"testing"
	"time"
)

// =============================================================================
// Table-Driven Tests: DefaultBackoffConfig
// =============================================================================

func TestDefaultBackoffConfig(t *testing.T) {
	cfg := DefaultBackoffConfig()

	if cfg.Initial != 250*time.Millisecond {
		t.Errorf("Initial = %v, want 250ms", cfg.Initial)
	}
	if cfg.Max != 2*time.Second {
		t.Errorf("Max = %v, want 2s", cfg.Max)
	}
	if cfg.Multiplier != 2 {
		t.Errorf("Multiplier = %v, want 2", cfg.Multiplier)
	}
	if cfg.JitterPct != 0.2 {
		t.Errorf("JitterPct = %v, want 0.2", cfg.JitterPct)
	}
}

// =============================================================================
// Table-Driven Tests: Backoff.Calculate (no jitter)
// =============================================================================

func TestBackoff_Calculate_NoJitter(t *testing.T) {
	tests := []struct {
		name     string
		attempts int
		mult     float64
		want     time.Duration
	}{
		{"attempt 0", 0, 2.0, 100 * time.Millisecond},
		{"attempt 1", 1, 2.0, 200 * time.Millisecond},
		{"attempt 3", 3, 2.0, 800 * time.Millisecond},
		{"capped", 10, 2.0, time.Second},
		{"flat", 5, 1.0, 100 * time.Millisecond},
		{"multiplier below 1 clamps", 3, 0.5, 100 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBackoff(0, BackoffConfig{
				Initial:    100 * time.Millisecond,
				Max:        time.Second,
				Multiplier: tt.mult,
			})
			for i := 0; i < tt.attempts; i++ {
				b.Next()
			}
			if got := b.Calculate(); got != tt.want {
				t.Errorf("Calculate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBackoff_NextAndReset(t *testing.T) {
	b := NewBackoff(0, BackoffConfig{Initial: 10 * time.Millisecond, Max: time.Second, Multiplier: 2})

	if d := b.Next(); d != 10*time.Millisecond {
		t.Errorf("first Next() = %v", d)
	}
	if d := b.Next(); d != 20*time.Millisecond {
		t.Errorf("second Next() = %v", d)
	}
	if b.Attempts() != 2 {
		t.Errorf("Attempts() = %d, want 2", b.Attempts())
	}

	b.Reset()
	if b.Attempts() != 0 || b.Calculate() != 10*time.Millisecond {
		t.Error("Reset did not restart the sequence")
	}
}

// =============================================================================
// Tests: Jitter Behavior
// =============================================================================

func TestBackoff_Jitter(t *testing.T) {
	cfg := BackoffConfig{
		Initial:    time.Second,
		Max:        10 * time.Second,
		Multiplier: 1.0,
		JitterPct:  0.4, // ±20%
	}

	b := NewBackoff(12345, cfg)
	for i := 0; i < 20; i++ {
		d := b.Calculate()
		if d < 800*time.Millisecond || d > 1200*time.Millisecond {
			t.Errorf("sample %d = %v, want between 800ms and 1200ms", i, d)
		}
	}
}

func TestBackoff_DeterministicJitter(t *testing.T) {
	cfg := BackoffConfig{Initial: time.Second, Max: 10 * time.Second, Multiplier: 1.0, JitterPct: 0.4}

	b1 := NewBackoff(42, cfg)
	b2 := NewBackoff(42, cfg)
	for i := 0; i < 10; i++ {
		if d1, d2 := b1.Calculate(), b2.Calculate(); d1 != d2 {
			t.Errorf("iteration %d: %v != %v (same seed should be deterministic)", i, d1, d2)
		}
	}
}

func TestBackoff_ZeroInitial(t *testing.T) {
	b := NewBackoff(0, BackoffConfig{Max: time.Second, Multiplier: 2})
	if d := b.Calculate(); d != 0 {
		t.Errorf("Calculate() with zero initial = %v, want 0", d)
	}
}
