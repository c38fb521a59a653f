package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"livetrack/internal/grouper"
	"livetrack/internal/poll"
	"livetrack/internal/status"
	"livetrack/internal/transit"
)

type statusView struct {
	Kind         status.Kind `json:"kind"`
	DeltaMinutes *int        `json:"deltaMinutes"`
	Label        string      `json:"label"`
}

func newStatusView(ts status.TimingStatus) statusView {
	return statusView{Kind: ts.Kind, DeltaMinutes: ts.DeltaMinutes, Label: status.Label(ts)}
}

type stopView struct {
	transit.Stop
	Live   bool       `json:"live"`
	Status statusView `json:"status"`
}

func newStopView(st transit.Stop, now time.Time) stopView {
	return stopView{Stop: st, Live: status.IsLiveTrackable(st, now), Status: newStatusView(status.ForStop(st))}
}

type journeyView struct {
	JourneyID            string            `json:"id"`
	VehicleID            string            `json:"vehicleId"`
	LineID               string            `json:"lineId"`
	Direction            transit.Direction `json:"direction"`
	DestinationName      string            `json:"destinationName"`
	Towards              string            `json:"towards"`
	Next                 stopView          `json:"next"`
	Live                 bool              `json:"live"`
	Status               statusView        `json:"status"`
	ScheduledDeparture   *time.Time        `json:"scheduledDeparture,omitempty"` // only before the vehicle leaves its origin
	DestinationScheduled time.Time         `json:"destinationScheduled"`
	RemainingStops       int               `json:"remainingStops"`
}

func newJourneyView(j transit.Journey, now time.Time) journeyView {
	next := newStopView(j.Next(), now)
	v := journeyView{
		JourneyID:            j.JourneyID,
		VehicleID:            j.VehicleID,
		LineID:               j.LineID,
		Direction:            j.Direction,
		DestinationName:      j.DestinationName,
		Towards:              j.Towards,
		Next:                 next,
		Live:                 next.Live,
		Status:               next.Status,
		DestinationScheduled: j.Last().ScheduledTime,
		RemainingStops:       len(j.Arrivals),
	}
	if !next.Live {
		dep := j.Next().ScheduledTime
		v.ScheduledDeparture = &dep
	}
	return v
}

type bucketView struct {
	Label    transit.BucketLabel `json:"label"`
	Empty    bool                `json:"empty"`
	Message  string              `json:"message,omitempty"`
	Journeys []journeyView       `json:"journeys"`
}

type liveResponse struct {
	Target            *transit.Target `json:"target,omitempty"`
	Label             string          `json:"label,omitempty"`
	Session           string          `json:"session,omitempty"`
	State             string          `json:"state"`
	Network           string          `json:"network"`
	LastUpdate        *time.Time      `json:"lastUpdate,omitempty"`
	LastUpdateDisplay string          `json:"lastUpdateDisplay,omitempty"`
	CapturedAt        time.Time       `json:"capturedAt"`
	Buckets           []bucketView    `json:"buckets"`
}

// view returns the current tracker fields for the read model.
func (s *Server) view() (target *transit.Target, label, session string, state poll.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, "", "", poll.Idle
	}
	t := s.current.Target()
	return &t, s.label, s.current.Session(), s.current.State()
}

func (s *Server) live(w http.ResponseWriter, r *http.Request) {
	snap, last := s.store.Read()
	now := s.now()
	target, label, session, state := s.view()

	resp := liveResponse{
		Target:     target,
		Label:      label,
		Session:    session,
		State:      state.String(),
		Network:    s.network(),
		CapturedAt: snap.CapturedAt,
		Buckets:    make([]bucketView, 0, len(snap.Buckets)),
	}
	if !last.IsZero() {
		resp.LastUpdate = &last
		resp.LastUpdateDisplay = "Updated: " + last.In(s.loc).Format("15:04")
	}
	for _, b := range snap.Buckets {
		bv := bucketView{Label: b.Label, Journeys: make([]journeyView, 0, len(b.Journeys))}
		for _, j := range b.Journeys {
			bv.Journeys = append(bv.Journeys, newJourneyView(j, now))
		}
		if len(bv.Journeys) == 0 {
			bv.Empty = true
			bv.Message = "No Upcoming " + string(b.Label) + " Journeys"
		}
		resp.Buckets = append(resp.Buckets, bv)
	}
	writeJSON(w, http.StatusOK, resp)
}

type journeyDetail struct {
	journeyView
	Stops []stopView `json:"stops"`
}

func (s *Server) journey(w http.ResponseWriter, r *http.Request) {
	snap, _ := s.store.Read()
	j, ok := snap.Find(chi.URLParam(r, "journeyId"))
	if !ok {
		writeError(w, http.StatusNotFound, "journey complete")
		return
	}
	now := s.now()
	d := journeyDetail{journeyView: newJourneyView(j, now), Stops: make([]stopView, 0, len(j.Arrivals))}
	for _, st := range j.Arrivals {
		d.Stops = append(d.Stops, newStopView(st, now))
	}
	writeJSON(w, http.StatusOK, d)
}

type departureView struct {
	grouper.Departure
	Live   bool       `json:"live"`
	Status statusView `json:"status"`
}

func (s *Server) departures(w http.ResponseWriter, r *http.Request) {
	snap, _ := s.store.Read()
	now := s.now()
	deps := grouper.Departures(snap)
	out := make([]departureView, 0, len(deps))
	for _, d := range deps {
		out = append(out, departureView{
			Departure: d,
			Live:      status.IsLiveTrackable(d.Stop, now),
			Status:    newStatusView(status.ForStop(d.Stop)),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"departures": out,
		"count":      len(out),
		"capturedAt": snap.CapturedAt,
	})
}

// timing exposes the status calculation. An unparsable predicted time is
// treated as absent.
func (s *Server) timing(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scheduled, err := time.Parse(time.RFC3339, q.Get("scheduled"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "scheduled must be an RFC 3339 time")
		return
	}
	var predicted *time.Time
	if p, err := time.Parse(time.RFC3339, q.Get("predicted")); err == nil {
		predicted = &p
	}
	writeJSON(w, http.StatusOK, newStatusView(status.Timing(scheduled, predicted)))
}
