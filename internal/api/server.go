// Package api serves the tracking lifecycle and the live read model over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"livetrack/internal/db"
	"livetrack/internal/poll"
	"livetrack/internal/transit"
)

// Tracker is one view's poll loop; *poll.Scheduler in production.
type Tracker interface {
	Start(target transit.Target) error
	Stop()
	State() poll.State
	Session() string
	Target() transit.Target
}

// Reader is the read side of the live state store.
type Reader interface {
	Read() (transit.Snapshot, time.Time)
}

type Connectivity interface {
	Connected() bool
	Known() bool
}

type Catalog interface {
	LookupLine(ctx context.Context, id string) (db.Line, error)
	LookupStop(ctx context.Context, id string) (db.Stop, error)
	Ping(ctx context.Context) error
}

type Option func(*Server)

// WithCatalog makes mount requests validate targets against static GTFS data.
func WithCatalog(c Catalog) Option { return func(s *Server) { s.catalog = c } }

// WithLocation sets the zone used for display times.
func WithLocation(loc *time.Location) Option {
	return func(s *Server) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option { return func(s *Server) { s.now = now } }

// Server owns the currently tracked view. Mounting a new target tears the
// previous scheduler down first.
type Server struct {
	newTracker func() Tracker
	store      Reader
	gate       Connectivity
	catalog    Catalog
	loc        *time.Location
	now        func() time.Time

	mu      sync.Mutex
	current Tracker
	label   string
}

func New(newTracker func() Tracker, store Reader, gate Connectivity, opts ...Option) *Server {
	s := &Server{
		newTracker: newTracker,
		store:      store,
		gate:       gate,
		loc:        time.Local,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Routes(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/health", s.health)
	r.Route("/api", func(r chi.Router) {
		r.Put("/track/{kind}/{id}", s.mount)
		r.Delete("/track", s.unmount)
		r.Get("/live", s.live)
		r.Get("/live/journeys/{journeyId}", s.journey)
		r.Get("/live/departures", s.departures)
		r.Get("/status", s.timing)
	})
	return r
}

// Shutdown tears down the current view, if any.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.Stop()
		s.current = nil
		s.label = ""
	}
}

type mountResponse struct {
	Target  transit.Target `json:"target"`
	Label   string         `json:"label,omitempty"`
	Session string         `json:"session"`
	State   string         `json:"state"`
}

func (s *Server) mount(w http.ResponseWriter, r *http.Request) {
	target, err := transit.ParseTarget(chi.URLParam(r, "kind"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	label, err := s.lookup(r.Context(), target)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown "+string(target.Kind))
		return
	}
	if err != nil {
		log.Printf("api: catalog lookup %s: %v", target, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.Stop()
		s.current = nil
		s.label = ""
	}
	t := s.newTracker()
	if err := t.Start(target); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.current = t
	s.label = label
	log.Printf("api: tracking %s session=%s", target, t.Session())

	writeJSON(w, http.StatusOK, mountResponse{
		Target:  target,
		Label:   label,
		Session: t.Session(),
		State:   t.State().String(),
	})
}

// lookup returns a display label for target, or "" without a catalog.
func (s *Server) lookup(ctx context.Context, target transit.Target) (string, error) {
	if s.catalog == nil {
		return "", nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if target.Kind == transit.TargetStop {
		st, err := s.catalog.LookupStop(ctx, target.ID)
		return st.Name, err
	}
	l, err := s.catalog.LookupLine(ctx, target.ID)
	if l.ShortName != "" {
		return l.ShortName, err
	}
	return l.LongName, err
}

func (s *Server) unmount(w http.ResponseWriter, r *http.Request) {
	s.Shutdown()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"network":   s.network(),
		"catalog":   "disabled",
		"timestamp": s.now().UTC(),
	}
	code := http.StatusOK
	if s.catalog != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.catalog.Ping(ctx); err != nil {
			resp["status"] = "error"
			resp["catalog"] = "disconnected"
			resp["error"] = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			resp["catalog"] = "connected"
		}
	}
	writeJSON(w, code, resp)
}

func (s *Server) network() string {
	switch {
	case !s.gate.Known():
		return "unknown"
	case s.gate.Connected():
		return "connected"
	}
	return "disconnected"
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorResponse{Error: msg})
}
