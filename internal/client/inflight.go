package client

import "sync"

// inflightGuard tracks markets with a bet submission in progress so a
// double-click or retry loop cannot fire two overlapping submissions for the
// same market. It is safe for concurrent use.
type inflightGuard struct {
	mu     sync.Mutex
	active map[uint64]struct{}
}

func newInflightGuard() *inflightGuard {
	return &inflightGuard{active: make(map[uint64]struct{})}
}

// begin marks a market as having a submission in flight. It returns false if
// one is already in flight.
func (g *inflightGuard) begin(marketID uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.active[marketID]; ok {
		return false
	}
	g.active[marketID] = struct{}{}
	return true
}

// end clears the in-flight mark for a market. Safe to call when no submission
// is in flight.
func (g *inflightGuard) end(marketID uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, marketID)
}
