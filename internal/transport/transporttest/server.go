// Package transporttest provides an in-memory realtime server for tests. Replies
// scripted with OnEvent are delivered before the client's write returns, which
// reproduces a server answering faster than any listener could be attached late.
package transporttest

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/gigline/internal/protocol"
	"github.com/matheus3301/gigline/internal/transport"
)

var (
	ErrDialRefused = errors.New("connection refused")
	errClosed      = errors.New("use of closed connection")
)

// ReplyFunc computes the server's answer to an envelope the client wrote.
type ReplyFunc func(env protocol.Envelope) []protocol.Envelope

// Server records everything the client writes and answers with scripted replies.
type Server struct {
	mu        sync.Mutex
	conn      *Conn
	received  []protocol.Envelope
	replies   map[protocol.Kind]ReplyFunc
	dials     int
	failDials int
	failAll   bool
	headers   []http.Header
}

// NewServer creates an empty server.
func NewServer() *Server {
	return &Server{replies: make(map[protocol.Kind]ReplyFunc)}
}

// Dialer returns a transport.Dialer connected to this server.
func (s *Server) Dialer() transport.Dialer {
	return dialer{s}
}

// OnEvent scripts the replies for a client event.
func (s *Server) OnEvent(kind protocol.Kind, fn ReplyFunc) {
	s.mu.Lock()
	s.replies[kind] = fn
	s.mu.Unlock()
}

// FailDials makes the next n dials fail.
func (s *Server) FailDials(n int) {
	s.mu.Lock()
	s.failDials = n
	s.mu.Unlock()
}

// RefuseAll makes every dial fail while set.
func (s *Server) RefuseAll(refuse bool) {
	s.mu.Lock()
	s.failAll = refuse
	s.mu.Unlock()
}

// Dials returns how many dials were attempted.
func (s *Server) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// Headers returns the request headers of every dial attempt.
func (s *Server) Headers() []http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]http.Header(nil), s.headers...)
}

// Connected reports whether a client connection is open.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil && !s.conn.isClosed()
}

// Push delivers an envelope to the connected client.
func (s *Server) Push(env protocol.Envelope) error {
	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()
	if c == nil {
		return errClosed
	}
	return c.deliver(env)
}

// PushEvent wraps payload and pushes it.
func PushEvent[T any](s *Server, ev protocol.Event[T], payload T, targetID string) error {
	env, err := ev.Wrap(payload, targetID)
	if err != nil {
		return err
	}
	return s.Push(env)
}

// Drop severs the current connection as a network failure would.
func (s *Server) Drop() {
	s.mu.Lock()
	c := s.conn
	s.conn = nil
	s.mu.Unlock()
	if c != nil {
		_ = c.Close()
	}
}

// Received returns every envelope the client wrote, optionally filtered by kind.
func (s *Server) Received(kinds ...protocol.Kind) []protocol.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(kinds) == 0 {
		return append([]protocol.Envelope(nil), s.received...)
	}
	var out []protocol.Envelope
	for _, env := range s.received {
		for _, k := range kinds {
			if env.Event == k {
				out = append(out, env)
			}
		}
	}
	return out
}

// WaitFor polls until the client has written at least n envelopes of kind.
func (s *Server) WaitFor(tb testing.TB, kind protocol.Kind, n int) []protocol.Envelope {
	tb.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		got := s.Received(kind)
		if len(got) >= n {
			return got
		}
		if time.Now().After(deadline) {
			tb.Fatalf("timeout waiting for %d %s envelopes, got %d", n, kind, len(got))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (s *Server) handle(c *Conn, env protocol.Envelope) {
	s.mu.Lock()
	s.received = append(s.received, env)
	fn := s.replies[env.Event]
	s.mu.Unlock()

	if fn == nil {
		return
	}
	for _, reply := range fn(env) {
		_ = c.deliver(reply)
	}
}

type dialer struct{ s *Server }

func (d dialer) DialContext(ctx context.Context, _ string, header http.Header) (transport.Conn, *http.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	s := d.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dials++
	s.headers = append(s.headers, header.Clone())
	if s.failAll || s.failDials > 0 {
		if s.failDials > 0 {
			s.failDials--
		}
		return nil, nil, ErrDialRefused
	}
	c := &Conn{
		server: s,
		in:     make(chan []byte, 256),
		closed: make(chan struct{}),
	}
	s.conn = c
	return c, nil, nil
}

// Conn is the client side of an in-memory connection.
type Conn struct {
	server    *Server
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Conn) deliver(env protocol.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return err
	}
	if c.isClosed() {
		return errClosed
	}
	select {
	case c.in <- data:
		return nil
	case <-c.closed:
		return errClosed
	}
}

func (c *Conn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.in:
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseAbnormalClosure}
	}
}

func (c *Conn) WriteMessage(messageType int, data []byte) error {
	if c.isClosed() {
		return errClosed
	}
	if messageType != websocket.TextMessage {
		return nil
	}
	env, err := protocol.Parse(data)
	if err != nil {
		return err
	}
	c.server.handle(c, env)
	return nil
}

func (c *Conn) WriteControl(int, []byte, time.Time) error {
	if c.isClosed() {
		return errClosed
	}
	return nil
}

func (c *Conn) SetReadLimit(int64)                        {}
func (c *Conn) SetReadDeadline(time.Time) error           { return nil }
func (c *Conn) SetWriteDeadline(time.Time) error          { return nil }
func (c *Conn) SetPongHandler(func(appData string) error) {}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}
