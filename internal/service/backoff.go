package service

import (
	"math/rand"
	"time"
)

// backoffDelay computes the retry delay after a transient publish failure:
// exponential in the number of attempts so far, capped, with up to 25%
// downward jitter so posts that failed together do not come due together.
func backoffDelay(base, cap time.Duration, attempts int) time.Duration {
	if base <= 0 {
		base = time.Minute
	}
	if cap < base {
		cap = base
	}

	delay := base
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= cap {
			delay = cap
			break
		}
	}

	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay - jitter
}
