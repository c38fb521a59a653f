package status

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livetrack/internal/transit"
)

var base = time.Date(2024, 5, 14, 8, 30, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := base.Add(d)
	return &t
}

func TestTiming(t *testing.T) {
	tests := []struct {
		name      string
		predicted *time.Time
		kind      Kind
		delta     int
	}{
		{"same instant", at(0), OnTime, 0},
		{"five late", at(5 * time.Minute), Late, 5},
		{"three early", at(-3 * time.Minute), Early, -3},
		{"under a minute late", at(59 * time.Second), OnTime, 0},
		{"seconds early floors", at(-30 * time.Second), Early, -1},
		{"ninety seconds late", at(90 * time.Second), Late, 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Timing(base, tc.predicted)
			assert.Equal(t, tc.kind, got.Kind)
			require.NotNil(t, got.DeltaMinutes)
			assert.Equal(t, tc.delta, *got.DeltaMinutes)
		})
	}
}

func TestTimingUntracked(t *testing.T) {
	got := Timing(base, nil)
	assert.Equal(t, Untracked, got.Kind)
	assert.Nil(t, got.DeltaMinutes)

	var zero time.Time
	got = Timing(base, &zero)
	assert.Equal(t, Untracked, got.Kind)
}

func TestIsLiveTrackable(t *testing.T) {
	now := base
	tests := []struct {
		name string
		seq  int
		due  time.Duration
		want bool
	}{
		{"origin far ahead", 1, 10 * time.Minute, false},
		{"origin just over window", 1, 2*time.Minute + time.Second, false},
		{"origin exactly at window", 1, 2 * time.Minute, true},
		{"origin due now", 1, 0, true},
		{"origin overdue", 1, -4 * time.Minute, true},
		{"later stop far ahead", 2, 30 * time.Minute, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			stop := transit.Stop{StopSequence: tc.seq, ScheduledTime: now.Add(tc.due)}
			assert.Equal(t, tc.want, IsLiveTrackable(stop, now))
		})
	}
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "Tracking Unavailable", Label(Timing(base, nil)))
	assert.Equal(t, "On Time", Label(Timing(base, at(0))))
	assert.Equal(t, "1 min late", Label(Timing(base, at(time.Minute))))
	assert.Equal(t, "4 mins late", Label(Timing(base, at(4*time.Minute))))
	assert.Equal(t, "1 min early", Label(Timing(base, at(-time.Minute))))
	assert.Equal(t, "2 mins early", Label(Timing(base, at(-2*time.Minute))))
}

func TestForStop(t *testing.T) {
	s := transit.Stop{StopSequence: 3, ScheduledTime: base, PredictedTime: at(2 * time.Minute)}
	got := ForStop(s)
	assert.Equal(t, Late, got.Kind)
	assert.Equal(t, 2, *got.DeltaMinutes)
}
