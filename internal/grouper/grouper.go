package grouper

import (
	"sort"
	"time"

	"livetrack/internal/transit"
)

// Report counts the records Group could not place as-is.
type Report struct {
	Records           int // input size
	MissingJourneyID  int // dropped: no grouping key
	Invalid           int // dropped: stop sequence below 1 or no scheduled time
	DuplicateReplaced int // (journey, stop sequence) seen again; later record kept
}

// Anomalies is the number of records that did not survive into the snapshot.
func (r Report) Anomalies() int { return r.MissingJourneyID + r.Invalid + r.DuplicateReplaced }

type journeyAcc struct {
	journey transit.Journey
	stops   map[int]transit.Stop
}

// Group builds a snapshot from one poll's records. The result depends only on
// the input order of records and on now.
func Group(records []transit.ArrivalRecord, now time.Time) (transit.Snapshot, Report) {
	rep := Report{Records: len(records)}

	byID := make(map[string]*journeyAcc)
	var order []string
	for _, r := range records {
		if r.JourneyID == "" {
			rep.MissingJourneyID++
			continue
		}
		if r.StopSequence < 1 || r.ScheduledTime.IsZero() {
			rep.Invalid++
			continue
		}
		acc, ok := byID[r.JourneyID]
		if !ok {
			acc = &journeyAcc{
				journey: transit.Journey{
					JourneyID:       r.JourneyID,
					VehicleID:       r.VehicleID,
					LineID:          r.LineID,
					Direction:       r.Direction,
					DestinationName: r.DestinationName,
					Towards:         r.Towards,
					ObservedAt:      r.ObservedAt,
				},
				stops: make(map[int]transit.Stop),
			}
			byID[r.JourneyID] = acc
			order = append(order, r.JourneyID)
		}
		if _, dup := acc.stops[r.StopSequence]; dup {
			rep.DuplicateReplaced++
		}
		acc.stops[r.StopSequence] = transit.Stop{
			StopSequence:  r.StopSequence,
			StopName:      r.StopName,
			ScheduledTime: r.ScheduledTime,
			PredictedTime: r.PredictedTime,
		}
	}

	snap := transit.EmptySnapshot(now)
	for _, id := range order {
		acc := byID[id]
		j := acc.journey
		j.Arrivals = make([]transit.Stop, 0, len(acc.stops))
		for _, s := range acc.stops {
			j.Arrivals = append(j.Arrivals, s)
		}
		sort.Slice(j.Arrivals, func(a, b int) bool {
			return j.Arrivals[a].StopSequence < j.Arrivals[b].StopSequence
		})

		idx := 1
		if j.Direction == transit.Inbound {
			idx = 0
		}
		snap.Buckets[idx].Journeys = append(snap.Buckets[idx].Journeys, j)
	}

	for i := range snap.Buckets {
		orderJourneys(snap.Buckets[i].Journeys)
	}
	return snap, rep
}

// orderJourneys sorts by next stop sequence descending, then by the next
// stop's scheduled time, then by journey ID so the order is total.
func orderJourneys(js []transit.Journey) {
	sort.Slice(js, func(a, b int) bool {
		na, nb := js[a].Next(), js[b].Next()
		if na.StopSequence != nb.StopSequence {
			return na.StopSequence > nb.StopSequence
		}
		if !na.ScheduledTime.Equal(nb.ScheduledTime) {
			return na.ScheduledTime.Before(nb.ScheduledTime)
		}
		return js[a].JourneyID < js[b].JourneyID
	})
}

// Departure is one row of a stop board: a journey's next arrival.
type Departure struct {
	JourneyID       string            `json:"id"`
	LineID          string            `json:"lineId"`
	VehicleID       string            `json:"vehicleId"`
	Direction       transit.Direction `json:"direction"`
	DestinationName string            `json:"destinationName"`
	Towards         string            `json:"towards"`
	Stop            transit.Stop      `json:"stop"`
}

// Departures flattens a snapshot into a stop board ordered by expected time,
// using the scheduled time for untracked vehicles.
func Departures(s transit.Snapshot) []Departure {
	out := make([]Departure, 0, s.JourneyCount())
	for _, b := range s.Buckets {
		for _, j := range b.Journeys {
			out = append(out, Departure{
				JourneyID:       j.JourneyID,
				LineID:          j.LineID,
				VehicleID:       j.VehicleID,
				Direction:       j.Direction,
				DestinationName: j.DestinationName,
				Towards:         j.Towards,
				Stop:            j.Next(),
			})
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		ta, tb := expected(out[a].Stop), expected(out[b].Stop)
		if !ta.Equal(tb) {
			return ta.Before(tb)
		}
		return out[a].JourneyID < out[b].JourneyID
	})
	return out
}

func expected(s transit.Stop) time.Time {
	if s.PredictedTime != nil && !s.PredictedTime.IsZero() {
		return *s.PredictedTime
	}
	return s.ScheduledTime
}
