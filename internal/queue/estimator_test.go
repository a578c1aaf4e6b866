package queue

import (
	"testing"
	"time"
)

func TestEstimator_SeedAndEMA(t *testing.T) {
	e := NewEstimator(100 * time.Second)
	if e.Estimate(3) != 300*time.Second {
		t.Fatalf("unexpected seeded estimate: %s", e.Estimate(3))
	}

	t0 := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	e.ObserveRelease(t0)
	if e.Average() != 100*time.Second {
		t.Fatalf("first release must not move the average")
	}
	e.ObserveRelease(t0.Add(50 * time.Second))
	// 0.2*50 + 0.8*100 = 90
	if e.Average() != 90*time.Second {
		t.Fatalf("expected 90s, got %s", e.Average())
	}

	e.ObserveRelease(t0.Add(3 * time.Hour))
	if e.Average() != 90*time.Second {
		t.Fatalf("idle gaps must be ignored, got %s", e.Average())
	}
}

func TestEstimator_Defaults(t *testing.T) {
	e := NewEstimator(0)
	if e.Average() != DefaultSeedInterval {
		t.Fatalf("expected default seed, got %s", e.Average())
	}
	if e.Estimate(0) != 0 {
		t.Fatalf("position 0 has no wait")
	}
}
