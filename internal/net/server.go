// Package net owns the listening endpoint, the shared order book, the
// live session registry, and the market-data fan-out: everything spec.md
// §4.3 and §4.4 assign to the "EngineServer" and "MarketPublisher".
package net

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"matchline/internal/engine"
	"matchline/internal/session"
)

// DefaultPort is the wire-mandated default listening port (spec.md §6).
const DefaultPort = 12345

const defaultNWorkers = 64

// ErrImproperConversion is returned when a worker-pool task is not the
// net.Conn the pool expects — it should never happen in practice, since
// only Server enqueues tasks onto its own pool.
var ErrImproperConversion = errors.New("net: improper task conversion")

// Server accepts connections, owns the single shared OrderBook, and
// coordinates graceful shutdown across every live session.
type Server struct {
	address string
	port    int

	book      *engine.OrderBook
	publisher *MarketPublisher
	pool      *WorkerPool

	sessionsMu sync.Mutex
	sessions   map[string]*session.Session

	shuttingDown atomic.Bool
	cancel       context.CancelFunc
	listener     net.Listener
}

// New constructs a server bound to address:port, wrapping the given book.
// Per spec.md §6, port is a constructor argument, not a configuration
// file.
func New(address string, port int, book *engine.OrderBook) *Server {
	return &Server{
		address:   address,
		port:      port,
		book:      book,
		publisher: NewPublisher(),
		pool:      NewWorkerPool(defaultNWorkers),
		sessions:  make(map[string]*session.Session),
	}
}

// Run starts the accept loop, the operator console, and the worker pool,
// and blocks until ctx is cancelled, shutdown is requested, or the
// listener fails. It returns the listener bind error, if any.
func (s *Server) Run(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	t, ctx := tomb.WithContext(ctx)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		log.Error().Err(err).Msg("unable to start listener")
		return err
	}
	s.listener = listener

	fmt.Println("=== HFT Matching Engine Server ===")
	fmt.Printf("Server started on port %d\n", s.port)
	fmt.Println("Press Ctrl+C or type 'shutdown' to gracefully stop the server")
	fmt.Println("====================================")

	t.Go(func() error {
		s.pool.Setup(t, s.handleConnection)
		return nil
	})
	t.Go(func() error {
		s.operatorConsole()
		return nil
	})
	t.Go(func() error {
		<-ctx.Done()
		s.Shutdown()
		return nil
	})

	log.Info().Int("port", s.port).Msg("server running")

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.shuttingDown.Load() {
				return nil
			}
			log.Error().Err(err).Msg("error accepting client")
			continue
		}
		if s.shuttingDown.Load() {
			_ = conn.Close()
			continue
		}
		s.pool.AddTask(conn)
	}
}

// handleConnection is the worker-pool task body: it builds a Session for
// the accepted connection, registers it, and blocks for the connection's
// entire lifetime.
func (s *Server) handleConnection(_ *tomb.Tomb, task any) error {
	conn, ok := task.(net.Conn)
	if !ok {
		return ErrImproperConversion
	}

	correlationID := uuid.New().String()
	sess := session.New(conn, correlationID, s.book, s.publisher, s.handleDisconnect)

	s.sessionsMu.Lock()
	s.sessions[sess.Address()] = sess
	s.sessionsMu.Unlock()

	log.Info().
		Str("address", sess.Address()).
		Str("sessionID", correlationID).
		Msg("new client added")

	sess.Start()
	return nil
}

// handleDisconnect removes a session from the registry exactly once per
// session; Go map deletes are already idempotent, but the caller
// (session.Session.handleDisconnect) guards against being invoked twice in
// the first place.
func (s *Server) handleDisconnect(address string) {
	s.sessionsMu.Lock()
	delete(s.sessions, address)
	remaining := len(s.sessions)
	s.sessionsMu.Unlock()

	s.publisher.Unregister(address)

	log.Info().
		Str("address", address).
		Int("totalActiveClients", remaining).
		Msg("client disconnected")
}

// operatorConsole reads operator commands from standard input per
// spec.md §6: the literal string "shutdown" triggers graceful shutdown;
// any other non-empty input is logged as unknown.
func (s *Server) operatorConsole() {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "shutdown" {
			s.Shutdown()
			return
		}
		log.Info().Str("command", line).Msg("unknown operator command")
	}
}

// Shutdown sets the shutdown flag, closes every live session, drops the
// session registry, and cancels the server's context so the accept loop
// and listener unwind. It is safe to call more than once or concurrently;
// only the first call has any effect.
func (s *Server) Shutdown() {
	if !s.shuttingDown.CompareAndSwap(false, true) {
		return
	}
	log.Info().Msg("server shutting down")

	s.sessionsMu.Lock()
	sessions := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessions = make(map[string]*session.Session)
	s.sessionsMu.Unlock()

	for _, sess := range sessions {
		sess.Close()
	}

	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			log.Error().Err(err).Msg("error closing listener")
		}
	}

	if s.cancel != nil {
		s.cancel()
	}
}

// SessionCount returns the number of currently live sessions, mirroring
// MarketPublisher.SessionCount (the two registries track the same set).
func (s *Server) SessionCount() int {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	return len(s.sessions)
}
