package session

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchline/internal/common"
	"matchline/internal/engine"
)

// fakePublisher records registrations and broadcasts without any real
// fan-out, for session-level unit tests that don't need a full server.
type fakePublisher struct {
	registered []*Session
	broadcasts []common.Trade
}

func (p *fakePublisher) Register(s *Session) {
	p.registered = append(p.registered, s)
}

func (p *fakePublisher) BroadcastTrade(trade common.Trade, _ *Session) {
	p.broadcasts = append(p.broadcasts, trade)
}

func newTestSession(t *testing.T, book *engine.OrderBook, pub Publisher) (*Session, net.Conn) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	sess := New(serverConn, "test-correlation-id", book, pub, func(string) {})
	return sess, clientConn
}

func TestSession_RegistersAndSendsWelcome(t *testing.T) {
	book := engine.New()
	pub := &fakePublisher{}
	sess, client := newTestSession(t, book, pub)
	defer client.Close()

	go sess.Start()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(client)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "Welcome")

	assert.Len(t, pub.registered, 1)
	assert.Same(t, sess, pub.registered[0])
}

func TestSession_ConfirmAndBroadcastOnCross(t *testing.T) {
	book := engine.New()
	pub := &fakePublisher{}

	// Pre-seed a resting sell so the session's BUY crosses immediately.
	_, err := book.AddOrder(common.Sell, 100, 5)
	require.NoError(t, err)

	sess, client := newTestSession(t, book, pub)
	defer client.Close()

	go sess.Start()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(client)
	_, err = reader.ReadString('\n') // welcome line 1
	require.NoError(t, err)
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line == "\n" {
			break
		}
	}

	_, err = client.Write([]byte("BUY 100 5\n"))
	require.NoError(t, err)

	var response string
	for i := 0; i < 2; i++ {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			response += line
			if line == "\n" {
				break
			}
		}
	}
	assert.Contains(t, response, "CONFIRMED OrderID:")
	assert.Contains(t, response, "TRADE BuyID:")

	require.Len(t, pub.broadcasts, 1)
	assert.Equal(t, 100.0, pub.broadcasts[0].Price)
	assert.Equal(t, uint64(5), pub.broadcasts[0].Quantity)
}

func TestSession_DisconnectIsIdempotent(t *testing.T) {
	book := engine.New()
	pub := &fakePublisher{}
	sess, client := newTestSession(t, book, pub)
	defer client.Close()

	sess.pub.Register(sess)
	sess.handleDisconnect()
	sess.handleDisconnect()

	assert.False(t, sess.IsLive())
}
