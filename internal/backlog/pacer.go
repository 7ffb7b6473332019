package backlog

import (
	"context"
	"math/rand"
	"time"
)

// Pacer waits between two consecutive article fetches.
type Pacer interface {
	Pause(ctx context.Context) (time.Duration, error)
}

// RandomPacer sleeps a uniformly distributed duration in [Min, Max].
type RandomPacer struct {
	Min time.Duration
	Max time.Duration
}

// Pause blocks for the chosen duration or until ctx is done.
func (p RandomPacer) Pause(ctx context.Context) (time.Duration, error) {
	d := p.Min
	if span := p.Max - p.Min; span > 0 {
		d += time.Duration(rand.Int63n(int64(span) + 1))
	}
	if d <= 0 {
		return 0, ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-timer.C:
		return d, nil
	}
}
