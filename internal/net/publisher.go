package net

import (
	"sync"

	"matchline/internal/common"
	"matchline/internal/protocol"
	"matchline/internal/session"
)

// MarketPublisher fans out completed trades to every connected session
// except the one whose order triggered the match. Its registry is
// reachable from every session goroutine at once, so it is protected by a
// mutex (as is the order book, which those goroutines also share).
type MarketPublisher struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
}

// NewPublisher constructs an empty publisher. One is built per server and
// passed explicitly to every session at accept time — dependency
// injection in place of spec.md's process-wide singleton, per spec.md §9's
// own preferred alternative.
func NewPublisher() *MarketPublisher {
	return &MarketPublisher{sessions: make(map[string]*session.Session)}
}

// Register adds a session to the broadcast registry. Called once by a
// session at startup.
func (p *MarketPublisher) Register(s *session.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[s.Address()] = s
}

// BroadcastTrade sends the redacted market line to every registered
// session that is still live and is not the originator. Go has no weak
// reference primitive, so liveness is tracked with an atomic flag on each
// session (session.Session.IsLive) checked here, and dead entries are
// purged from the map the moment they are observed — the same
// purge-opportunistically contract spec.md §5 asks for, without giving the
// publisher ownership of a session's lifetime.
func (p *MarketPublisher) BroadcastTrade(trade common.Trade, originator *session.Session) {
	line := protocol.FormatMarketTrade(trade)

	p.mu.Lock()
	defer p.mu.Unlock()

	for address, s := range p.sessions {
		if s == originator {
			continue
		}
		if !s.IsLive() {
			delete(p.sessions, address)
			continue
		}
		s.SendMessage(line)
	}
}

// Unregister removes a session's entry immediately, used by the server on
// disconnect so a dead session never lingers until the next broadcast.
func (p *MarketPublisher) Unregister(address string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, address)
}

// SessionCount returns the number of sessions currently registered. The
// server's "client disconnected" log line takes its active-client count
// from the server's own registry, not from this method.
func (p *MarketPublisher) SessionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}
