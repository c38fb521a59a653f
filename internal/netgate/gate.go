// Package netgate tracks whether the transit API is reachable and tells
// subscribers when that changes.
package netgate

import (
	"log"
	"sync"
)

// Gate is a passive connectivity signal. Until the first report arrives the
// state is unknown and reads as disconnected.
type Gate struct {
	notifyMu  sync.Mutex // serialises Set so transitions are delivered in order
	mu        sync.Mutex
	connected bool
	known     bool
	nextID    int
	observers map[int]func(bool)
}

func New() *Gate {
	return &Gate{observers: make(map[int]func(bool))}
}

// Connected reports the current state; false while unknown.
func (g *Gate) Connected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected
}

// Known reports whether any signal has been received yet.
func (g *Gate) Known() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.known
}

// Set records a connectivity report. Observers run only when the value differs
// from the current one; the first false report is not a transition.
// Observers are called synchronously, outside the state lock but in the order
// the reports were made; an observer must not call Set.
func (g *Gate) Set(connected bool) {
	g.notifyMu.Lock()
	defer g.notifyMu.Unlock()

	g.mu.Lock()
	g.known = true
	if g.connected == connected {
		g.mu.Unlock()
		return
	}
	g.connected = connected
	obs := make([]func(bool), 0, len(g.observers))
	for id := 0; id < g.nextID; id++ {
		if fn, ok := g.observers[id]; ok {
			obs = append(obs, fn)
		}
	}
	g.mu.Unlock()

	log.Printf("netgate: connected=%t", connected)
	for _, fn := range obs {
		fn(connected)
	}
}

// Subscribe registers fn for future transitions. It is not called with the
// current state. The returned func removes the subscription.
func (g *Gate) Subscribe(fn func(connected bool)) (unsubscribe func()) {
	g.mu.Lock()
	id := g.nextID
	g.nextID++
	g.observers[id] = fn
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.observers, id)
			g.mu.Unlock()
		})
	}
}
