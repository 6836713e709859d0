package proctor

import (
	"sort"
	"time"
)

// DefaultThresholds are the advisory time marks surfaced to the
// student, plus the zero mark that forces submission.
var DefaultThresholds = []time.Duration{
	10 * time.Minute,
	5 * time.Minute,
	time.Minute,
	0,
}

// RemainingAt computes the time left on an attempt from its fixed
// wall-clock anchor. It is a pure function of its inputs: polling
// frequency, missed ticks, or host suspension cannot skew it. Elapsed
// time is floored to whole seconds and the result never goes below
// zero.
func RemainingAt(startedAt time.Time, duration time.Duration, now time.Time) time.Duration {
	elapsed := now.Sub(startedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	elapsed = elapsed.Truncate(time.Second)
	remaining := duration - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// Countdown derives remaining time from a fixed start anchor and
// reports each configured threshold crossing exactly once. It holds no
// timer of its own; the owner polls Advance with the current time.
type Countdown struct {
	startedAt  time.Time
	duration   time.Duration
	thresholds []time.Duration
	fired      map[time.Duration]bool
	prev       time.Duration
}

// NewCountdown builds a countdown anchored at startedAt. Thresholds
// longer than the exam itself can never fire and are dropped up front.
func NewCountdown(startedAt time.Time, duration time.Duration, thresholds []time.Duration) *Countdown {
	ts := make([]time.Duration, 0, len(thresholds))
	for _, t := range thresholds {
		if t < duration {
			ts = append(ts, t)
		}
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i] > ts[j] })

	return &Countdown{
		startedAt:  startedAt,
		duration:   duration,
		thresholds: ts,
		fired:      make(map[time.Duration]bool, len(ts)),
		prev:       duration,
	}
}

// StartedAt returns the wall-clock anchor.
func (c *Countdown) StartedAt() time.Time { return c.startedAt }

// Remaining returns the time left at now.
func (c *Countdown) Remaining(now time.Time) time.Duration {
	return RemainingAt(c.startedAt, c.duration, now)
}

// Advance moves the countdown to now. It returns every threshold newly
// crossed since the previous call (remaining <= threshold while the
// previous remaining was above it — edge detection, not equality, so a
// coarse poll that jumps over a mark still reports it) and whether the
// countdown has expired. Expiry is reported on every call at or past
// zero; the caller's finalize guard makes the signal idempotent.
func (c *Countdown) Advance(now time.Time) (crossed []time.Duration, expired bool) {
	remaining := c.Remaining(now)

	for _, t := range c.thresholds {
		if c.fired[t] {
			continue
		}
		if remaining <= t && c.prev > t {
			c.fired[t] = true
			crossed = append(crossed, t)
		}
	}

	if remaining < c.prev {
		c.prev = remaining
	}
	return crossed, remaining == 0
}
