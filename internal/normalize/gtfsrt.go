package normalize

import (
	"sort"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"livetrack/internal/transit"
)

// GTFSRT decodes a GTFS-Realtime TripUpdates feed. Each trip becomes one
// journey; stop sequence numbers are re-ranked so the first remaining stop of
// the trip is 1, matching the arrivals API.
type GTFSRT struct{}

func (GTFSRT) Normalize(raw []byte, target transit.Target) ([]transit.ArrivalRecord, error) {
	if len(raw) == 0 {
		return nil, &Error{Format: "gtfsrt", Reason: "empty body"}
	}
	feed := &gtfs.FeedMessage{}
	if err := proto.Unmarshal(raw, feed); err != nil {
		return nil, &Error{Format: "gtfsrt", Reason: "decode feed", Err: err}
	}
	if feed.Header == nil {
		return nil, &Error{Format: "gtfsrt", Reason: "missing feed header"}
	}

	headerTS := time.Unix(int64(feed.GetHeader().GetTimestamp()), 0).UTC()
	out := []transit.ArrivalRecord{}
	for _, entity := range feed.Entity {
		tu := entity.GetTripUpdate()
		if tu == nil || tu.Trip == nil {
			continue
		}
		trip := tu.GetTrip()
		if target.Kind == transit.TargetLine && trip.GetRouteId() != target.ID {
			continue
		}

		observed := headerTS
		if tu.Timestamp != nil {
			observed = time.Unix(int64(tu.GetTimestamp()), 0).UTC()
		}
		direction := transit.Outbound
		if trip.GetDirectionId() == 1 {
			direction = transit.Inbound
		}

		updates := make([]*gtfs.TripUpdate_StopTimeUpdate, 0, len(tu.StopTimeUpdate))
		for _, stu := range tu.StopTimeUpdate {
			if stu.GetScheduleRelationship() == gtfs.TripUpdate_StopTimeUpdate_SKIPPED {
				continue
			}
			if eventOf(stu) == nil {
				continue
			}
			updates = append(updates, stu)
		}
		sort.SliceStable(updates, func(i, j int) bool {
			return updates[i].GetStopSequence() < updates[j].GetStopSequence()
		})

		if len(updates) == 0 {
			continue
		}
		destination := updates[len(updates)-1].GetStopId()

		for rank, stu := range updates {
			if target.Kind == transit.TargetStop && stu.GetStopId() != target.ID {
				continue
			}
			ev := eventOf(stu)
			predicted := time.Unix(ev.GetTime(), 0).UTC()
			scheduled := predicted.Add(-time.Duration(ev.GetDelay()) * time.Second)

			rec := transit.ArrivalRecord{
				JourneyID:       trip.GetTripId(),
				LineID:          trip.GetRouteId(),
				LineName:        trip.GetRouteId(),
				VehicleID:       tu.GetVehicle().GetId(),
				Direction:       direction,
				DestinationName: destination,
				StopSequence:    rank + 1,
				StopName:        stu.GetStopId(),
				ScheduledTime:   scheduled,
				ObservedAt:      observed,
			}
			if stu.GetScheduleRelationship() != gtfs.TripUpdate_StopTimeUpdate_NO_DATA {
				rec.PredictedTime = &predicted
			}
			out = append(out, rec)
		}
	}
	return out, nil
}

// eventOf prefers the arrival event and falls back to departure. Events
// without an absolute time are ignored; there is no static schedule to anchor
// a bare delay to.
func eventOf(stu *gtfs.TripUpdate_StopTimeUpdate) *gtfs.TripUpdate_StopTimeEvent {
	if a := stu.GetArrival(); a != nil && a.Time != nil {
		return a
	}
	if d := stu.GetDeparture(); d != nil && d.Time != nil {
		return d
	}
	return nil
}
