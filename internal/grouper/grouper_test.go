package grouper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livetrack/internal/transit"
)

var t0 = time.Date(2024, 5, 14, 8, 30, 0, 0, time.UTC)

func ptr(t time.Time) *time.Time { return &t }

func rec(journey string, dir transit.Direction, seq int, scheduled time.Time) transit.ArrivalRecord {
	return transit.ArrivalRecord{
		JourneyID:     journey,
		VehicleID:     "v-" + journey,
		Direction:     dir,
		StopSequence:  seq,
		StopName:      "stop",
		ScheduledTime: scheduled,
		PredictedTime: ptr(scheduled),
	}
}

func ids(b transit.DirectionBucket) []string {
	out := make([]string, 0, len(b.Journeys))
	for _, j := range b.Journeys {
		out = append(out, j.JourneyID)
	}
	return out
}

func seqs(j transit.Journey) []int {
	out := make([]int, 0, len(j.Arrivals))
	for _, s := range j.Arrivals {
		out = append(out, s.StopSequence)
	}
	return out
}

func TestGroupOrdersStopsWithinJourney(t *testing.T) {
	records := []transit.ArrivalRecord{
		{JourneyID: "A", Direction: transit.Inbound, StopSequence: 3, ScheduledTime: t0, PredictedTime: ptr(t0)},
		{JourneyID: "A", Direction: transit.Inbound, StopSequence: 1, ScheduledTime: t0.Add(5 * time.Minute)},
	}

	snap, rep := Group(records, t0)

	require.Len(t, snap.Inbound().Journeys, 1)
	assert.Empty(t, snap.Outbound().Journeys)
	j := snap.Inbound().Journeys[0]
	assert.Equal(t, "A", j.JourneyID)
	assert.Equal(t, []int{1, 3}, seqs(j))
	assert.Nil(t, j.Arrivals[0].PredictedTime)
	assert.Zero(t, rep.Anomalies())
}

func TestGroupBucketOrdering(t *testing.T) {
	records := []transit.ArrivalRecord{
		rec("early-short", transit.Inbound, 2, t0),
		rec("late-long", transit.Inbound, 7, t0.Add(20*time.Minute)),
		rec("early-long", transit.Inbound, 7, t0.Add(5*time.Minute)),
		rec("tie-b", transit.Inbound, 4, t0),
		rec("tie-a", transit.Inbound, 4, t0),
		rec("out", "outbound", 1, t0),
	}

	snap, _ := Group(records, t0)

	assert.Equal(t, []string{"early-long", "late-long", "tie-a", "tie-b", "early-short"}, ids(snap.Inbound()))
	assert.Equal(t, []string{"out"}, ids(snap.Outbound()))
}

func TestGroupUnknownDirectionIsOutbound(t *testing.T) {
	snap, _ := Group([]transit.ArrivalRecord{rec("x", "", 1, t0)}, t0)
	assert.Equal(t, []string{"x"}, ids(snap.Outbound()))
}

func TestGroupDropsMissingJourneyID(t *testing.T) {
	records := []transit.ArrivalRecord{
		rec("A", transit.Inbound, 1, t0),
		rec("", transit.Inbound, 2, t0),
		rec("B", transit.Outbound, 1, t0),
		rec("", transit.Outbound, 5, t0),
	}

	snap, rep := Group(records, t0)

	assert.Equal(t, 2, rep.MissingJourneyID)
	assert.Equal(t, 4, rep.Records)
	assert.Equal(t, rep.Records-rep.MissingJourneyID, snap.ArrivalCount())
}

func TestGroupDropsInvalidRecords(t *testing.T) {
	records := []transit.ArrivalRecord{
		rec("A", transit.Inbound, 1, t0),
		rec("A", transit.Inbound, 0, t0),
		rec("B", transit.Inbound, -2, t0),
		rec("C", transit.Outbound, 3, time.Time{}),
		rec("C", transit.Outbound, 4, t0),
	}

	snap, rep := Group(records, t0)

	assert.Equal(t, 3, rep.Invalid)
	assert.Equal(t, 3, rep.Anomalies())
	assert.Equal(t, []string{"A"}, ids(snap.Inbound()))
	require.Equal(t, []string{"C"}, ids(snap.Outbound()))
	assert.Equal(t, []int{4}, seqs(snap.Outbound().Journeys[0]))
	assert.Equal(t, rep.Records-rep.Invalid, snap.ArrivalCount())
}

func TestGroupDuplicateLastWriteWins(t *testing.T) {
	first := rec("A", transit.Inbound, 2, t0)
	first.StopName = "first"
	second := rec("A", transit.Inbound, 2, t0.Add(time.Minute))
	second.StopName = "second"

	snap, rep := Group([]transit.ArrivalRecord{first, rec("A", transit.Inbound, 1, t0), second}, t0)

	require.Len(t, snap.Inbound().Journeys, 1)
	j := snap.Inbound().Journeys[0]
	assert.Equal(t, []int{1, 2}, seqs(j))
	assert.Equal(t, "second", j.Arrivals[1].StopName)
	assert.Equal(t, 1, rep.DuplicateReplaced)
}

func TestGroupSingleJourney(t *testing.T) {
	records := []transit.ArrivalRecord{
		rec("solo", transit.Outbound, 3, t0),
		rec("solo", transit.Outbound, 1, t0),
		rec("solo", transit.Outbound, 2, t0),
	}

	snap, _ := Group(records, t0)

	assert.Empty(t, snap.Inbound().Journeys)
	require.Len(t, snap.Outbound().Journeys, 1)
	assert.Equal(t, []int{1, 2, 3}, seqs(snap.Outbound().Journeys[0]))
}

func TestGroupEmpty(t *testing.T) {
	snap, rep := Group(nil, t0)

	assert.NotNil(t, snap.Inbound().Journeys)
	assert.NotNil(t, snap.Outbound().Journeys)
	assert.Zero(t, snap.JourneyCount())
	assert.Equal(t, t0, snap.CapturedAt)
	assert.Zero(t, rep.Records)
}

func TestGroupIsIdempotent(t *testing.T) {
	records := []transit.ArrivalRecord{
		rec("C", transit.Inbound, 4, t0),
		rec("A", transit.Inbound, 4, t0),
		rec("B", transit.Outbound, 2, t0.Add(time.Minute)),
		rec("A", transit.Inbound, 6, t0),
		rec("D", transit.Outbound, 2, t0),
	}

	first, _ := Group(records, t0)
	second, _ := Group(records, t0.Add(time.Hour))

	assert.Equal(t, first.Buckets, second.Buckets)
}

func TestGroupArrivalsStrictlyAscending(t *testing.T) {
	records := []transit.ArrivalRecord{
		rec("A", transit.Inbound, 9, t0),
		rec("A", transit.Inbound, 2, t0),
		rec("A", transit.Inbound, 5, t0),
		rec("A", transit.Inbound, 2, t0),
		rec("A", transit.Inbound, 7, t0),
	}

	snap, _ := Group(records, t0)

	arr := snap.Inbound().Journeys[0].Arrivals
	for i := 1; i < len(arr); i++ {
		assert.Less(t, arr[i-1].StopSequence, arr[i].StopSequence)
	}
}

func TestDepartures(t *testing.T) {
	untracked := rec("untracked", transit.Inbound, 1, t0.Add(3*time.Minute))
	untracked.PredictedTime = nil
	late := rec("late", transit.Outbound, 1, t0)
	late.PredictedTime = ptr(t0.Add(10 * time.Minute))

	snap, _ := Group([]transit.ArrivalRecord{
		late,
		untracked,
		rec("soon", transit.Inbound, 1, t0.Add(time.Minute)),
	}, t0)

	board := Departures(snap)

	require.Len(t, board, 3)
	assert.Equal(t, "soon", board[0].JourneyID)
	assert.Equal(t, "untracked", board[1].JourneyID)
	assert.Equal(t, "late", board[2].JourneyID)
}
