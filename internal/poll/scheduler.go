// Package poll runs the live-tracking poll loop for one view.
package poll

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"livetrack/internal/grouper"
	"livetrack/internal/normalize"
	"livetrack/internal/transit"
)

const DefaultInterval = 2 * time.Minute

var (
	ErrStopped        = errors.New("poll: scheduler stopped")
	ErrAlreadyStarted = errors.New("poll: scheduler already started")
)

type State int

const (
	Idle State = iota
	Polling
	Fetching
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Polling:
		return "polling"
	case Fetching:
		return "fetching"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// Outcome classifies one poll attempt.
type Outcome int

const (
	OutcomeUpdated Outcome = iota
	OutcomeEmpty
	OutcomeTransportError
	OutcomeNormalizeError
	OutcomeDiscarded // result arrived after a disconnect or stop
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUpdated:
		return "updated"
	case OutcomeEmpty:
		return "empty"
	case OutcomeTransportError:
		return "transport_error"
	case OutcomeNormalizeError:
		return "normalize_error"
	case OutcomeDiscarded:
		return "discarded"
	}
	return "unknown"
}

// Result is what a poll attempt produced. Snapshot and Report are meaningful
// only for OutcomeUpdated and OutcomeEmpty; Err only for the error outcomes.
type Result struct {
	Outcome  Outcome
	Snapshot transit.Snapshot
	Report   grouper.Report
	Err      error
	Fetch    time.Duration
}

type Fetcher interface {
	Fetch(ctx context.Context, endpoint string, params map[string]string) ([]byte, error)
}

// Store receives the scheduler's results.
type Store interface {
	Replace(snap transit.Snapshot)
	Clear()
}

// Gate is the connectivity signal the scheduler follows.
type Gate interface {
	Connected() bool
	Subscribe(fn func(connected bool)) (unsubscribe func())
}

type Publisher interface {
	PublishSnapshot(session string, target transit.Target, snap transit.Snapshot) error
}

type Metrics interface {
	ObservePoll(res Result)
	TickSkipped()
	SetState(s State)
}

type Option func(*Scheduler)

func WithClock(c Clock) Option { return func(s *Scheduler) { s.clock = c } }

func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithEndpoint overrides how a target maps to a request path.
func WithEndpoint(fn func(transit.Target) string) Option {
	return func(s *Scheduler) { s.endpoint = fn }
}

// WithParams adds query parameters to every request.
func WithParams(p map[string]string) Option { return func(s *Scheduler) { s.params = p } }

func WithNotifier(n Notifier) Option   { return func(s *Scheduler) { s.notifier = n } }
func WithPublisher(p Publisher) Option { return func(s *Scheduler) { s.pub = p } }
func WithMetrics(m Metrics) Option     { return func(s *Scheduler) { s.metrics = m } }

// Scheduler polls one target while its view is active and the network is up.
// At most one request is in flight. Stop is terminal.
type Scheduler struct {
	fetcher  Fetcher
	norm     normalize.Normalizer
	store    Store
	gate     Gate
	clock    Clock
	interval time.Duration
	endpoint func(transit.Target) string
	params   map[string]string
	notifier Notifier
	pub      Publisher
	metrics  Metrics
	session  string

	mu          sync.Mutex
	state       State
	started     bool
	target      transit.Target
	epoch       uint64 // bumped on every disconnect and on Stop
	timer       Timer
	cancelFetch context.CancelFunc
	inFlight    bool // an attempt goroutine has not returned yet
	resume      bool // reconnected while a cancelled attempt was still running
	unsubscribe func()
	wg          sync.WaitGroup
}

func New(fetcher Fetcher, norm normalize.Normalizer, st Store, gate Gate, opts ...Option) *Scheduler {
	s := &Scheduler{
		fetcher:  fetcher,
		norm:     norm,
		store:    st,
		gate:     gate,
		clock:    RealClock(),
		interval: DefaultInterval,
		endpoint: transit.Target.Endpoint,
		notifier: LogNotifier{},
		session:  uuid.NewString(),
		state:    Idle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) Session() string         { return s.session }
func (s *Scheduler) Interval() time.Duration { return s.interval }

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) Target() transit.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// Start activates the view for target. If the network is up the first poll
// begins immediately; otherwise the scheduler stays Idle until it is.
func (s *Scheduler) Start(target transit.Target) error {
	s.mu.Lock()
	if s.state == Stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.target = target
	s.unsubscribe = s.gate.Subscribe(s.onNetwork)
	online := s.gate.Connected()
	if online {
		s.beginLocked()
	}
	s.mu.Unlock()

	log.Printf("poll: session=%s start target=%s online=%t every=%s", s.session, target, online, s.interval)
	if !online {
		s.notify(MsgFetchFailed)
	}
	return nil
}

// Stop tears the view down: the timer is cancelled, any pending result is
// dropped and the store is cleared. It waits for the in-flight request to
// return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state == Stopped {
		s.mu.Unlock()
		return
	}
	s.cancelLocked()
	s.setStateLocked(Stopped)
	s.store.Clear()
	unsub := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	s.wg.Wait()
	log.Printf("poll: session=%s stopped", s.session)
}

func (s *Scheduler) onNetwork(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.state == Stopped {
		return
	}
	if !connected {
		s.resume = false
		if s.state == Idle {
			return
		}
		s.cancelLocked()
		s.setStateLocked(Idle)
		log.Printf("poll: session=%s offline, idle", s.session)
		return
	}
	if s.state != Idle {
		return
	}
	if s.inFlight {
		log.Printf("poll: session=%s online, resuming once the cancelled request returns", s.session)
		s.resume = true
		return
	}
	log.Printf("poll: session=%s online, resuming", s.session)
	s.beginLocked()
}

func (s *Scheduler) tick(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return
	}
	switch s.state {
	case Polling:
		s.beginLocked()
	case Fetching:
		if s.metrics != nil {
			s.metrics.TickSkipped()
		}
		log.Printf("poll: session=%s tick skipped, request still in flight", s.session)
		s.armLocked()
	}
}

// beginLocked starts a poll attempt and restarts the interval from now.
func (s *Scheduler) beginLocked() {
	s.setStateLocked(Fetching)
	s.armLocked()
	s.inFlight = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFetch = cancel
	epoch, target := s.epoch, s.target
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.finish(epoch, target, s.attempt(ctx, target))
	}()
}

func (s *Scheduler) armLocked() {
	if s.timer != nil {
		s.timer.Stop()
	}
	epoch := s.epoch
	s.timer = s.clock.AfterFunc(s.interval, func() { s.tick(epoch) })
}

// cancelLocked invalidates the current timer and in-flight request.
func (s *Scheduler) cancelLocked() {
	s.epoch++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancelFetch != nil {
		s.cancelFetch()
		s.cancelFetch = nil
	}
}

func (s *Scheduler) setStateLocked(st State) {
	s.state = st
	if s.metrics != nil {
		s.metrics.SetState(st)
	}
}

func (s *Scheduler) attempt(ctx context.Context, target transit.Target) Result {
	start := s.clock.Now()
	raw, err := s.fetcher.Fetch(ctx, s.endpoint(target), s.params)
	res := Result{Fetch: s.clock.Now().Sub(start)}
	if err != nil {
		res.Outcome, res.Err = OutcomeTransportError, err
		return res
	}
	records, err := s.norm.Normalize(raw, target)
	if err != nil {
		res.Outcome, res.Err = OutcomeNormalizeError, err
		return res
	}
	res.Snapshot, res.Report = grouper.Group(records, s.clock.Now())
	res.Outcome = OutcomeUpdated
	if res.Snapshot.JourneyCount() == 0 {
		res.Outcome = OutcomeEmpty
	}
	return res
}

// finish applies res if the attempt that produced it is still current.
func (s *Scheduler) finish(epoch uint64, target transit.Target, res Result) {
	s.mu.Lock()
	s.inFlight = false
	if epoch != s.epoch || s.state != Fetching {
		if s.resume && s.state == Idle {
			s.resume = false
			s.beginLocked()
		}
		s.mu.Unlock()
		log.Printf("poll: session=%s discarded late %s result", s.session, res.Outcome)
		res.Outcome = OutcomeDiscarded
		if s.metrics != nil {
			s.metrics.ObservePoll(res)
		}
		return
	}
	s.cancelFetch = nil
	s.setStateLocked(Polling)
	var published transit.Snapshot
	switch res.Outcome {
	case OutcomeUpdated, OutcomeEmpty:
		s.store.Replace(res.Snapshot)
		published = res.Snapshot
	default:
		s.store.Clear()
		published = transit.EmptySnapshot(s.clock.Now())
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ObservePoll(res)
	}
	switch res.Outcome {
	case OutcomeTransportError, OutcomeNormalizeError:
		log.Printf("poll: session=%s %s: %v", s.session, res.Outcome, res.Err)
		s.notify(MsgFetchFailed)
	default:
		if n := res.Report.Anomalies(); n > 0 {
			log.Printf("poll: session=%s dropped %d records without journey id, %d invalid, replaced %d duplicates", s.session, res.Report.MissingJourneyID, res.Report.Invalid, res.Report.DuplicateReplaced)
		}
	}
	if s.pub != nil {
		if err := s.pub.PublishSnapshot(s.session, target, published); err != nil {
			log.Printf("poll: session=%s publish error: %v", s.session, err)
		}
	}
}

func (s *Scheduler) notify(msg string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(Notice{Session: s.session, Target: s.Target(), Message: msg, At: s.clock.Now()})
}
