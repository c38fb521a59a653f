package transit

import (
	"fmt"
	"net/url"
	"time"
)

type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// ArrivalRecord is one stop prediction for one vehicle run, as delivered by the feed.
type ArrivalRecord struct {
	JourneyID       string
	LineID          string
	LineName        string
	OperatorID      string
	VehicleID       string
	Direction       Direction
	DestinationName string
	Towards         string
	StopSequence    int // 1 = next stop of the remaining route
	StopName        string
	ScheduledTime   time.Time
	PredictedTime   *time.Time // nil when the vehicle is not tracked
	TimeToStation   int        // seconds, as reported upstream
	ObservedAt      time.Time
}

type Stop struct {
	StopSequence  int        `json:"stopSequence"`
	StopName      string     `json:"stopName"`
	ScheduledTime time.Time  `json:"scheduled"`
	PredictedTime *time.Time `json:"predicted,omitempty"`
}

type Journey struct {
	JourneyID       string    `json:"id"`
	VehicleID       string    `json:"vehicleId"`
	LineID          string    `json:"lineId"`
	Direction       Direction `json:"direction"`
	DestinationName string    `json:"destinationName"`
	Towards         string    `json:"towards"`
	ObservedAt      time.Time `json:"observedAt"`
	Arrivals        []Stop    `json:"arrivals"` // ascending by StopSequence, never empty
}

// Next returns the soonest stop of the journey.
func (j Journey) Next() Stop { return j.Arrivals[0] }

// Last returns the final stop of the remaining route.
func (j Journey) Last() Stop { return j.Arrivals[len(j.Arrivals)-1] }

type BucketLabel string

const (
	LabelInbound  BucketLabel = "Inbound"
	LabelOutbound BucketLabel = "Outbound"
)

type DirectionBucket struct {
	Label    BucketLabel `json:"label"`
	Journeys []Journey   `json:"journeys"`
}

// Snapshot is the immutable result of one poll. Buckets[0] is Inbound and
// Buckets[1] is Outbound. Holders must treat every slice in it as read-only.
type Snapshot struct {
	Buckets    [2]DirectionBucket `json:"buckets"`
	CapturedAt time.Time          `json:"capturedAt"`
}

// EmptySnapshot returns a snapshot with both buckets present and no journeys.
func EmptySnapshot(capturedAt time.Time) Snapshot {
	return Snapshot{
		Buckets: [2]DirectionBucket{
			{Label: LabelInbound, Journeys: []Journey{}},
			{Label: LabelOutbound, Journeys: []Journey{}},
		},
		CapturedAt: capturedAt,
	}
}

func (s Snapshot) Inbound() DirectionBucket  { return s.Buckets[0] }
func (s Snapshot) Outbound() DirectionBucket { return s.Buckets[1] }

// JourneyCount is the number of journeys across both buckets.
func (s Snapshot) JourneyCount() int {
	return len(s.Buckets[0].Journeys) + len(s.Buckets[1].Journeys)
}

// ArrivalCount is the number of stop arrivals across both buckets.
func (s Snapshot) ArrivalCount() int {
	n := 0
	for _, b := range s.Buckets {
		for _, j := range b.Journeys {
			n += len(j.Arrivals)
		}
	}
	return n
}

// Find looks a journey up by ID in either bucket.
func (s Snapshot) Find(journeyID string) (Journey, bool) {
	for _, b := range s.Buckets {
		for _, j := range b.Journeys {
			if j.JourneyID == journeyID {
				return j, true
			}
		}
	}
	return Journey{}, false
}

type TargetKind string

const (
	TargetLine TargetKind = "line"
	TargetStop TargetKind = "stop"
)

// Target is the route or stop a view is tracking.
type Target struct {
	Kind TargetKind `json:"kind"`
	ID   string     `json:"id"`
}

func ParseTarget(kind, id string) (Target, error) {
	if id == "" {
		return Target{}, fmt.Errorf("empty target id")
	}
	switch TargetKind(kind) {
	case TargetLine, TargetStop:
		return Target{Kind: TargetKind(kind), ID: id}, nil
	default:
		return Target{}, fmt.Errorf("unknown target kind %q", kind)
	}
}

// Endpoint is the arrivals path for the target on a TfWM-style API.
func (t Target) Endpoint() string {
	if t.Kind == TargetStop {
		return "StopPoint/" + url.PathEscape(t.ID) + "/Arrivals"
	}
	return "Line/" + url.PathEscape(t.ID) + "/Arrivals"
}

func (t Target) String() string { return string(t.Kind) + ":" + t.ID }
