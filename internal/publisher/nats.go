package publisher

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"livetrack/internal/poll"
	"livetrack/internal/transit"
)

type NATSPublisher struct {
	nc          *nats.Conn
	publish     func(subject string, data []byte) error
	prefix      string
	logSubjects bool
	metrics     PublisherMetrics
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

func NewNATSPublisher(url, prefix string, logSubjects bool, m PublisherMetrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("livetrack"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	p := newPublisher(nc.Publish, prefix, logSubjects, m)
	p.nc = nc
	return p, nil
}

func newPublisher(publish func(string, []byte) error, prefix string, logSubjects bool, m PublisherMetrics) *NATSPublisher {
	return &NATSPublisher{
		publish:     publish,
		prefix:      subjectToken(prefix),
		logSubjects: logSubjects,
		metrics:     m,
	}
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

// SnapshotMessage is the payload published for every applied poll result.
type SnapshotMessage struct {
	Session     string            `json:"session"`
	Target      transit.Target    `json:"target"`
	CapturedAt  time.Time         `json:"capturedAt"`
	PublishedAt time.Time         `json:"publishedAt"`
	Inbound     []transit.Journey `json:"inbound"`
	Outbound    []transit.Journey `json:"outbound"`
}

func (p *NATSPublisher) SnapshotSubject(target transit.Target) string {
	return fmt.Sprintf("%s.snapshot.%s.%s", p.prefix, subjectToken(string(target.Kind)), subjectToken(target.ID))
}

func (p *NATSPublisher) NoticeSubject() string { return p.prefix + ".notice" }

// PublishSnapshot implements poll.Publisher.
func (p *NATSPublisher) PublishSnapshot(session string, target transit.Target, snap transit.Snapshot) error {
	return p.send(p.SnapshotSubject(target), SnapshotMessage{
		Session:     session,
		Target:      target,
		CapturedAt:  snap.CapturedAt,
		PublishedAt: time.Now(),
		Inbound:     snap.Inbound().Journeys,
		Outbound:    snap.Outbound().Journeys,
	})
}

// Notify implements poll.Notifier. Failures are logged only.
func (p *NATSPublisher) Notify(n poll.Notice) {
	if err := p.send(p.NoticeSubject(), n); err != nil {
		log.Printf("nats notice publish error: %v", err)
	}
}

func (p *NATSPublisher) send(subject string, msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if p.logSubjects {
		log.Printf("nats publish subject=%s bytes=%d", subject, len(b))
	}
	start := time.Now()
	err = p.publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
