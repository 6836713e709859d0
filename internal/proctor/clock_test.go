package proctor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRemainingAt(t *testing.T) {
	start := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	duration := 10 * time.Minute

	tests := []struct {
		name string
		now  time.Time
		want time.Duration
	}{
		{"at start", start, 10 * time.Minute},
		{"mid exam", start.Add(4 * time.Minute), 6 * time.Minute},
		{"sub-second elapsed floors", start.Add(90*time.Second + 400*time.Millisecond), duration - 90*time.Second},
		{"exactly expired", start.Add(10 * time.Minute), 0},
		{"past expiry clamps to zero", start.Add(3 * time.Hour), 0},
		{"clock before anchor clamps elapsed", start.Add(-time.Minute), 10 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, RemainingAt(start, duration, tt.now))
		})
	}
}

// Remaining must be a pure function of (start, duration, now): the
// same instant always yields the same value no matter how many polls
// were skipped in between.
func TestRemainingAtDeterministic(t *testing.T) {
	start := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	at := start.Add(7*time.Minute + 13*time.Second)

	first := RemainingAt(start, 30*time.Minute, at)
	for i := 0; i < 100; i++ {
		require.Equal(t, first, RemainingAt(start, 30*time.Minute, at))
	}
}

func TestCountdownThresholdsFireOnce(t *testing.T) {
	start := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	c := NewCountdown(start, 15*time.Minute, DefaultThresholds)

	crossed, expired := c.Advance(start.Add(time.Second))
	require.Empty(t, crossed)
	require.False(t, expired)

	// 10-minute mark.
	crossed, expired = c.Advance(start.Add(5 * time.Minute))
	require.Equal(t, []time.Duration{10 * time.Minute}, crossed)
	require.False(t, expired)

	// Polling again in the same region must not re-fire.
	crossed, _ = c.Advance(start.Add(5*time.Minute + time.Second))
	require.Empty(t, crossed)

	crossed, _ = c.Advance(start.Add(10 * time.Minute))
	require.Equal(t, []time.Duration{5 * time.Minute}, crossed)
}

// A coarse poll that jumps over several marks at once (a suspended
// tab resuming) still reports each exactly once.
func TestCountdownCoarsePollSkipsNoThreshold(t *testing.T) {
	start := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	c := NewCountdown(start, 15*time.Minute, DefaultThresholds)

	crossed, expired := c.Advance(start.Add(14*time.Minute + 30*time.Second))
	require.Equal(t, []time.Duration{10 * time.Minute, 5 * time.Minute, time.Minute}, crossed)
	require.False(t, expired)

	crossed, expired = c.Advance(start.Add(16 * time.Minute))
	require.Equal(t, []time.Duration{0}, crossed)
	require.True(t, expired)

	// Expired stays true on later polls, but zero never re-fires.
	crossed, expired = c.Advance(start.Add(17 * time.Minute))
	require.Empty(t, crossed)
	require.True(t, expired)
}

func TestCountdownDropsUnreachableThresholds(t *testing.T) {
	start := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	// A 5-minute exam can never cross the 10-minute mark.
	c := NewCountdown(start, 5*time.Minute, DefaultThresholds)

	crossed, _ := c.Advance(start.Add(4*time.Minute + 30*time.Second))
	require.Equal(t, []time.Duration{time.Minute}, crossed)
}
