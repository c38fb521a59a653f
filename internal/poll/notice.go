package poll

import (
	"log"
	"time"

	"livetrack/internal/transit"
)

// MsgFetchFailed is shown to the user when a poll fails or tracking starts
// while offline.
const MsgFetchFailed = "Error fetching data, check your network connection."

// Notice is a one-shot, user-visible message.
type Notice struct {
	Session string         `json:"session"`
	Target  transit.Target `json:"target"`
	Message string         `json:"message"`
	At      time.Time      `json:"at"`
}

type Notifier interface {
	Notify(n Notice)
}

// LogNotifier writes notices to the standard logger.
type LogNotifier struct{}

func (LogNotifier) Notify(n Notice) {
	log.Printf("notice: session=%s target=%s %s", n.Session, n.Target, n.Message)
}

// Notifiers fans a notice out to each non-nil member in order.
type Notifiers []Notifier

func (ns Notifiers) Notify(n Notice) {
	for _, x := range ns {
		if x != nil {
			x.Notify(n)
		}
	}
}
