// Package session implements the per-connection line protocol dispatch:
// reading commands, invoking the order book, formatting responses, and
// serialising writes back to the client. One Session exists per accepted
// TCP connection.
package session

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"matchline/internal/common"
	"matchline/internal/engine"
	"matchline/internal/protocol"
)

// postDCLinger is the short delay between acknowledging a DC command and
// closing the socket, giving the write queue time to flush the
// acknowledgement to the client before the connection drops.
const postDCLinger = 100 * time.Millisecond

// Publisher is the market-data fan-out a session registers with at start
// and reports trades to after every match. Defined here (rather than
// depending on the net package) so session has no import back to its
// owner — the server hands a Publisher in at construction instead of
// Session reaching out to a global.
type Publisher interface {
	Register(s *Session)
	BroadcastTrade(trade common.Trade, originator *Session)
}

// Session owns one accepted connection's socket, read loop, and write
// queue, and drives the shared OrderBook on the originating request's
// behalf.
type Session struct {
	conn    net.Conn
	id      string // correlation id for logging only; order ids are the book's own integer sequence
	address string
	book    *engine.OrderBook
	pub     Publisher

	onDisconnect func(address string)

	writeMu      sync.Mutex
	writeQueue   []string
	writerActive bool

	registered         atomic.Bool
	disconnectHandled  atomic.Bool
	live               atomic.Bool
	closeOnceScheduled atomic.Bool
}

// New constructs a session for an accepted connection. The caller is
// responsible for calling Start.
func New(conn net.Conn, correlationID string, book *engine.OrderBook, pub Publisher, onDisconnect func(address string)) *Session {
	s := &Session{
		conn:         conn,
		id:           correlationID,
		address:      conn.RemoteAddr().String(),
		book:         book,
		pub:          pub,
		onDisconnect: onDisconnect,
	}
	s.live.Store(true)
	return s
}

// Address returns the client address string this session is keyed by in
// the server's and publisher's registries.
func (s *Session) Address() string {
	return s.address
}

// IsLive reports whether the session is still eligible to receive
// broadcasts. This is the non-owning, liveness-checkable handle spec.md
// asks a market publisher to hold in place of a weak reference.
func (s *Session) IsLive() bool {
	return s.live.Load()
}

// Start registers the session with the publisher, sends the welcome
// banner, and blocks reading commands until the connection ends.
// Start is meant to run on its own goroutine (or worker-pool task); it
// returns once the session has fully disconnected.
func (s *Session) Start() {
	s.pub.Register(s)
	s.registered.Store(true)

	s.SendMessage(protocol.FormatWelcome())

	scanner := bufio.NewScanner(s.conn)
	for scanner.Scan() {
		line := scanner.Text()
		if s.disconnectHandled.Load() {
			return
		}
		s.dispatch(line)
	}

	s.handleDisconnect()
}

// dispatch parses one input line and drives the book/response cycle for
// it, exactly mirroring spec.md's data-flow: parse -> book call -> private
// response -> market broadcast.
func (s *Session) dispatch(line string) {
	cmd, err := protocol.Parse(line)
	if err != nil {
		s.SendMessage(protocol.FormatInvalid())
		return
	}

	switch cmd.Kind {
	case protocol.KindBuy:
		s.placeOrder(common.Buy, cmd.Price, cmd.Quantity)
	case protocol.KindSell:
		s.placeOrder(common.Sell, cmd.Price, cmd.Quantity)
	case protocol.KindCancel:
		s.cancelOrder(cmd.OrderID)
	case protocol.KindDisconnect:
		s.disconnect()
	}
}

func (s *Session) placeOrder(side common.Side, price float64, quantity uint64) {
	orderID, err := s.book.AddOrder(side, price, quantity)
	if err != nil {
		// Parse already validated range; this would only fire on an
		// internal invariant break, which has no client-facing taxonomy
		// entry. Log and report as invalid rather than crash the session.
		log.Error().Err(err).Str("sessionID", s.id).Msg("unexpected order rejection")
		s.SendMessage(protocol.FormatInvalid())
		return
	}

	s.book.MatchOrders()
	trades := s.book.RecentTrades()

	var response strings.Builder
	response.WriteString(protocol.FormatConfirmation(orderID))
	for _, trade := range trades {
		response.WriteString(protocol.FormatTrade(trade))
	}
	s.SendMessage(response.String())

	for _, trade := range trades {
		s.pub.BroadcastTrade(trade, s)
	}
}

func (s *Session) cancelOrder(orderID uint64) {
	if s.book.CancelOrder(orderID) {
		s.SendMessage(protocol.FormatCancelled(orderID))
		return
	}
	s.SendMessage(protocol.FormatNotFound(orderID))
}

func (s *Session) disconnect() {
	s.SendMessage(protocol.FormatDisconnecting())
	if s.closeOnceScheduled.CompareAndSwap(false, true) {
		time.AfterFunc(postDCLinger, s.handleDisconnect)
	}
}

// SendMessage enqueues a response fragment and ensures exactly one writer
// goroutine is draining the queue, guaranteeing per-session FIFO delivery
// even when a response and a concurrent market-data broadcast race to be
// written.
func (s *Session) SendMessage(msg string) {
	s.writeMu.Lock()
	s.writeQueue = append(s.writeQueue, msg)
	if s.writerActive {
		s.writeMu.Unlock()
		return
	}
	s.writerActive = true
	s.writeMu.Unlock()

	go s.drainWrites()
}

func (s *Session) drainWrites() {
	for {
		s.writeMu.Lock()
		if len(s.writeQueue) == 0 {
			s.writerActive = false
			s.writeMu.Unlock()
			return
		}
		msg := s.writeQueue[0]
		s.writeQueue = s.writeQueue[1:]
		s.writeMu.Unlock()

		if _, err := s.conn.Write([]byte(msg)); err != nil {
			log.Error().Err(err).Str("sessionID", s.id).Msg("write failed")
			s.handleDisconnect()
			return
		}
	}
}

// handleDisconnect tears the session down exactly once, however it was
// reached (read error, write error, explicit DC, or server shutdown).
func (s *Session) handleDisconnect() {
	if !s.disconnectHandled.CompareAndSwap(false, true) {
		return
	}
	s.live.Store(false)

	if err := s.conn.Close(); err != nil {
		log.Error().Err(err).Str("sessionID", s.id).Msg("error closing connection")
	}

	if s.onDisconnect != nil {
		s.onDisconnect(s.address)
	}
}

// Close is exposed for server-initiated shutdown: it drives the same
// idempotent teardown path a client-triggered disconnect would.
func (s *Session) Close() {
	s.handleDisconnect()
}
