package serverapi

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// BackoffPolicy implements the poll-with-backoff rule of SPEC_FULL.md §4.E:
// normal operation polls at BaseInterval; on failure the interval doubles
// each attempt up to RetryCount attempts, clamped so it never exceeds
// Ceiling; any success resets to BaseInterval.
type BackoffPolicy struct {
	BaseInterval time.Duration
	Ceiling      time.Duration
	RetryCount   int
}

// NextInterval returns the interval to wait before the next poll, given how
// many consecutive failures have occurred so far.
func (p BackoffPolicy) NextInterval(consecutiveFailures int) time.Duration {
	if consecutiveFailures <= 0 {
		return p.BaseInterval
	}

	n := consecutiveFailures
	if n > p.RetryCount {
		n = p.RetryCount
	}

	interval := p.BaseInterval
	for i := 0; i < n; i++ {
		interval *= 2
		if interval >= p.Ceiling {
			interval = p.Ceiling
			break
		}
	}
	if interval > p.Ceiling {
		interval = p.Ceiling
	}
	return interval
}

// Poller repeatedly invokes a poll function on the schedule described by a
// BackoffPolicy until its context is cancelled. The daemon runs one
// instance, for the deployment poll (SPEC_FULL.md §2 component G / §4.E);
// there is no inventory poller.
type Poller struct {
	Policy BackoffPolicy
	Logger zerolog.Logger

	failures int
}

// Run blocks, calling poll on the backoff schedule, until ctx is cancelled.
// poll returning nil resets the backoff; a non-nil error advances it.
func (p *Poller) Run(ctx context.Context, poll func(ctx context.Context) error) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			err := poll(ctx)
			if err != nil {
				p.failures++
				p.Logger.Warn().Err(err).Int("consecutive_failures", p.failures).Msg("poll failed")
			} else {
				p.failures = 0
			}
			timer.Reset(p.Policy.NextInterval(p.failures))
		}
	}
}
