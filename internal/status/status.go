// Package status derives timing information for presentation. Everything here
// is a pure function of its inputs.
package status

import (
	"fmt"
	"math"
	"time"

	"livetrack/internal/transit"
)

type Kind string

const (
	Untracked Kind = "untracked"
	OnTime    Kind = "on-time"
	Early     Kind = "early"
	Late      Kind = "late"
)

// preDispatchWindow is how far ahead of its scheduled departure a vehicle at
// the first stop of its route is still shown as live.
const preDispatchWindow = 2 * time.Minute

type TimingStatus struct {
	Kind         Kind `json:"kind"`
	DeltaMinutes *int `json:"deltaMinutes"`
}

// Timing compares a predicted time against the schedule. The delta is floored
// to whole minutes, so 30s early already counts as one minute early.
func Timing(scheduled time.Time, predicted *time.Time) TimingStatus {
	if predicted == nil || predicted.IsZero() {
		return TimingStatus{Kind: Untracked}
	}

	delta := int(math.Floor(predicted.Sub(scheduled).Minutes()))
	kind := OnTime
	switch {
	case delta > 0:
		kind = Late
	case delta < 0:
		kind = Early
	}
	return TimingStatus{Kind: kind, DeltaMinutes: &delta}
}

// ForStop is Timing applied to a journey stop.
func ForStop(s transit.Stop) TimingStatus {
	return Timing(s.ScheduledTime, s.PredictedTime)
}

// IsLiveTrackable reports whether a stop's prediction should be presented as
// real time. A vehicle that has not left its origin yet (next stop is sequence
// 1) and is due more than two minutes from now only shows its schedule.
func IsLiveTrackable(s transit.Stop, now time.Time) bool {
	if s.StopSequence == 1 && s.ScheduledTime.Sub(now) > preDispatchWindow {
		return false
	}
	return true
}

// Label renders a status the way the arrivals screens word it.
func Label(ts TimingStatus) string {
	if ts.Kind == Untracked || ts.DeltaMinutes == nil {
		return "Tracking Unavailable"
	}
	d := *ts.DeltaMinutes
	if d == 0 {
		return "On Time"
	}

	abs := d
	if abs < 0 {
		abs = -abs
	}
	unit := "min"
	if abs > 1 {
		unit = "mins"
	}
	if d > 0 {
		return fmt.Sprintf("%d %s late", abs, unit)
	}
	return fmt.Sprintf("%d %s early", abs, unit)
}
