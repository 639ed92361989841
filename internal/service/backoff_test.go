package service

import (
	"testing"
	"time"
)

func TestBackoffDelayGrowth(t *testing.T) {
	base := time.Minute
	cap := 30 * time.Minute

	expected := []time.Duration{
		time.Minute,      // attempt 0
		2 * time.Minute,  // attempt 1
		4 * time.Minute,  // attempt 2
		8 * time.Minute,  // attempt 3
		16 * time.Minute, // attempt 4
		30 * time.Minute, // attempt 5, capped
		30 * time.Minute, // stays capped
	}

	for attempts, want := range expected {
		// Jitter shaves off at most a quarter of the delay.
		for i := 0; i < 20; i++ {
			got := backoffDelay(base, cap, attempts)
			if got > want {
				t.Fatalf("attempts=%d: delay %v exceeds %v", attempts, got, want)
			}
			if got < want-want/4 {
				t.Fatalf("attempts=%d: delay %v below jitter floor %v", attempts, got, want-want/4)
			}
		}
	}
}

func TestBackoffDelayDefaults(t *testing.T) {
	if got := backoffDelay(0, 0, 0); got <= 0 || got > time.Minute {
		t.Fatalf("zero base should fall back to one minute, got %v", got)
	}

	// A cap below the base is raised to the base.
	if got := backoffDelay(time.Minute, time.Second, 3); got > time.Minute {
		t.Fatalf("expected delay capped at base, got %v", got)
	}
}
