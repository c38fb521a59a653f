package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"livetrack/internal/transit"
)

// Error means the response could not be recognised as a predictions document.
// An empty prediction list is not an Error.
type Error struct {
	Format string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("normalize %s: %s: %v", e.Format, e.Reason, e.Err)
	}
	return fmt.Sprintf("normalize %s: %s", e.Format, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Normalizer turns a raw feed response into arrival records for a target.
type Normalizer interface {
	Normalize(raw []byte, target transit.Target) ([]transit.ArrivalRecord, error)
}

// containerKeys are the top-level objects the API wraps predictions in:
// Line/{id}/Arrivals uses the first, StopPoint/{id}/Arrivals the second.
var containerKeys = []string{"ArrayOfPrediction", "Predictions"}

// TfWM decodes the JSON rendering of the TfWM arrivals endpoints. That
// rendering is converted from XML, so a single prediction arrives as an object
// instead of a one-element array and numbers may arrive as strings.
type TfWM struct{}

type tfwmPrediction struct {
	ID               flexString   `json:"Id"`
	LineID           flexString   `json:"LineId"`
	LineName         flexString   `json:"LineName"`
	Operator         tfwmOperator `json:"Operator"`
	VehicleID        flexString   `json:"VehicleId"`
	Direction        string       `json:"Direction"`
	DestinationName  string       `json:"DestinationName"`
	Towards          string       `json:"Towards"`
	StopSequence     flexInt      `json:"StopSequence"`
	StationName      string       `json:"StationName"`
	ScheduledArrival string       `json:"ScheduledArrival"`
	ExpectedArrival  string       `json:"ExpectedArrival"`
	TimeToStation    flexInt      `json:"TimeToStation"`
	Timestamp        string       `json:"Timestamp"`
}

type tfwmOperator struct {
	ID flexString `json:"Id"`
}

func (TfWM) Normalize(raw []byte, _ transit.Target) ([]transit.ArrivalRecord, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &Error{Format: "tfwm", Reason: "decode document", Err: err}
	}

	var container json.RawMessage
	found := false
	for _, key := range containerKeys {
		if c, ok := doc[key]; ok {
			container, found = c, true
			break
		}
	}
	if !found {
		return nil, &Error{Format: "tfwm", Reason: "no prediction container"}
	}
	if isEmptyJSON(container) {
		return []transit.ArrivalRecord{}, nil
	}

	var inner struct {
		Prediction json.RawMessage `json:"Prediction"`
	}
	if err := json.Unmarshal(container, &inner); err != nil {
		return nil, &Error{Format: "tfwm", Reason: "decode container", Err: err}
	}
	preds, err := decodeOneOrMany(inner.Prediction)
	if err != nil {
		return nil, &Error{Format: "tfwm", Reason: "decode predictions", Err: err}
	}

	out := make([]transit.ArrivalRecord, 0, len(preds))
	for _, p := range preds {
		scheduled, _ := parseTime(p.ScheduledArrival)
		observed, _ := parseTime(p.Timestamp)
		rec := transit.ArrivalRecord{
			JourneyID:       string(p.ID),
			LineID:          string(p.LineID),
			LineName:        strings.ToUpper(string(p.LineName)),
			OperatorID:      string(p.Operator.ID),
			VehicleID:       string(p.VehicleID),
			Direction:       transit.Direction(strings.ToLower(strings.TrimSpace(p.Direction))),
			DestinationName: p.DestinationName,
			Towards:         p.Towards,
			StopSequence:    int(p.StopSequence),
			StopName:        p.StationName,
			ScheduledTime:   scheduled,
			TimeToStation:   int(p.TimeToStation),
			ObservedAt:      observed,
		}
		if predicted, ok := parseTime(p.ExpectedArrival); ok {
			rec.PredictedTime = &predicted
		}
		out = append(out, rec)
	}
	return out, nil
}

func decodeOneOrMany(raw json.RawMessage) ([]tfwmPrediction, error) {
	if isEmptyJSON(raw) {
		return nil, nil
	}
	if raw[0] == '[' {
		var many []tfwmPrediction
		if err := json.Unmarshal(raw, &many); err != nil {
			return nil, err
		}
		return many, nil
	}
	var one tfwmPrediction
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, err
	}
	return []tfwmPrediction{one}, nil
}

func isEmptyJSON(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null")) || bytes.Equal(t, []byte("{}")) ||
		bytes.Equal(t, []byte("[]")) || bytes.Equal(t, []byte(`""`))
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// parseTime accepts the timestamp renderings seen on the feed. Zone-less
// values are read as UTC.
func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(string(b))
	return nil
}

// flexInt accepts a JSON number or a numeric string; anything else reads as 0,
// which downstream treats as absent.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		fl, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			*f = 0
			return nil
		}
		n = int(fl)
	}
	*f = flexInt(n)
	return nil
}
