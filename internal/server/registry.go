package server

import (
	"context"
	"sync"

	"github.com/agentplexus/voicerelay/relay"
)

// registry tracks live relays. Every relay is known by its connection id;
// once the stream starts it is also reachable by call SID. A media stream
// holds a reservation from before the upgrade until its relay is gone.
type registry struct {
	mu     sync.Mutex
	byID   map[string]*relay.Relay
	bySID  map[string]*relay.Relay
	wg     sync.WaitGroup
	closed bool
}

func newRegistry() *registry {
	return &registry{
		byID:  make(map[string]*relay.Relay),
		bySID: make(map[string]*relay.Relay),
	}
}

// reserve admits a new media stream. It fails once Wait has started.
func (g *registry) reserve() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.wg.Add(1)
	return true
}

// release ends a reservation taken by reserve.
func (g *registry) release() {
	g.wg.Done()
}

func (g *registry) add(id string, r *relay.Relay) {
	g.mu.Lock()
	g.byID[id] = r
	g.mu.Unlock()
}

func (g *registry) bind(callSID string, r *relay.Relay) {
	if callSID == "" {
		return
	}
	g.mu.Lock()
	g.bySID[callSID] = r
	g.mu.Unlock()
}

func (g *registry) remove(id, callSID string) {
	g.mu.Lock()
	delete(g.byID, id)
	if callSID != "" {
		delete(g.bySID, callSID)
	}
	g.mu.Unlock()
}

func (g *registry) lookup(callSID string) (*relay.Relay, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.bySID[callSID]
	return r, ok
}

// Len returns the number of live relays.
func (g *registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.byID)
}

// Wait refuses new reservations, stops every live relay, and waits for
// them to finish or ctx to end.
func (g *registry) Wait(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	for _, r := range g.byID {
		r.Stop(relay.ReasonCanceled)
	}
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
