// Package transport owns the single realtime socket: connection lifecycle,
// reconnection with linear backoff, event fan-out and request/response waits.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/gigline/internal/bus"
	"github.com/matheus3301/gigline/internal/protocol"
	"github.com/matheus3301/gigline/internal/status"
	"go.uber.org/zap"
)

// EventGaveUp is published when the reconnect loop exhausts its attempts.
const EventGaveUp = "transport.gave_up"

// GaveUp is the payload of EventGaveUp.
type GaveUp struct {
	Attempts int
	LastErr  error
}

const (
	maxMessageSize = 1 << 20
	handlerQueue   = 1024
)

// Options configures a Transport. Zero values fall back to defaults.
type Options struct {
	URL    string
	Tokens TokenSource
	Dialer Dialer

	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int
	RequestTimeout       time.Duration

	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
	SendBuffer int
}

func (o *Options) setDefaults() {
	if o.Dialer == nil {
		o.Dialer = NewGorillaDialer()
	}
	if o.ReconnectBaseDelay <= 0 {
		o.ReconnectBaseDelay = time.Second
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 5
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = (o.PongWait * 9) / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
}

// Transport multiplexes every realtime event over one websocket. Construct one per
// process and hand it to the components that need it.
type Transport struct {
	opts    Options
	logger  *zap.Logger
	machine *status.Machine
	bus     *bus.Bus

	connMu          sync.Mutex
	conn            *connection
	epoch           uint64
	dialing         bool
	attempts        int
	gaveUp          bool
	reconnectCancel context.CancelFunc
	changed         chan struct{}

	handlersMu sync.RWMutex
	handlers   map[protocol.Kind][]wrappedHandler

	waitersMu sync.Mutex
	waiters   map[protocol.Kind][]*Waiter

	// lastDispatch is closed when the newest connection's dispatch loop exits.
	lastDispatch chan struct{}
}

type connection struct {
	ws         Conn
	send       chan []byte
	events     chan protocol.Envelope
	dispatched chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
	closeOnce  sync.Once
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.ws.Close()
	})
}

// New creates a disconnected transport. machine may be nil.
func New(opts Options, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *Transport {
	opts.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if machine == nil {
		machine = status.NewMachine(b)
	}
	return &Transport{
		opts:     opts,
		logger:   logger.Named("transport"),
		machine:  machine,
		bus:      b,
		changed:  make(chan struct{}),
		handlers: make(map[protocol.Kind][]wrappedHandler),
		waiters:  make(map[protocol.Kind][]*Waiter),
	}
}

// State returns the current connection state.
func (t *Transport) State() status.State {
	return t.machine.Current()
}

// IsConnected reports whether a socket is currently open.
func (t *Transport) IsConnected() bool {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	return t.conn != nil
}

// GaveUp reports whether the last reconnect loop ran out of attempts.
func (t *Transport) GaveUp() bool {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	return t.gaveUp
}

// notifyLocked wakes WaitForConnection callers. connMu must be held.
func (t *Transport) notifyLocked() {
	close(t.changed)
	t.changed = make(chan struct{})
}

// Connect opens the socket. It is a no-op while connected or while a dial or
// reconnect loop is in flight. Dial failures are logged and handed to the
// reconnect loop instead of being returned; only ctx cancellation is returned.
func (t *Transport) Connect(ctx context.Context) error {
	t.connMu.Lock()
	if t.conn != nil || t.dialing || t.reconnectCancel != nil {
		t.connMu.Unlock()
		t.logger.Debug("connect ignored, already connected or connecting")
		return nil
	}
	t.dialing = true
	t.attempts = 0
	t.gaveUp = false
	epoch := t.epoch
	t.connMu.Unlock()

	_ = t.machine.Transition(status.Connecting)
	err := t.dial(ctx, epoch)

	t.connMu.Lock()
	if t.epoch == epoch {
		t.dialing = false
	}
	t.connMu.Unlock()

	switch {
	case err == nil, errors.Is(err, errSuperseded):
		return nil
	case ctx.Err() != nil:
		_ = t.machine.Transition(status.Disconnected)
		return ctx.Err()
	default:
		t.logger.Warn("connect failed", zap.Error(err))
		t.startReconnect(epoch)
		return nil
	}
}

// WaitForConnection blocks until the socket is open, the reconnect loop gives up,
// or ctx is done.
func (t *Transport) WaitForConnection(ctx context.Context) error {
	for {
		t.connMu.Lock()
		switch {
		case t.conn != nil:
			t.connMu.Unlock()
			return nil
		case t.gaveUp:
			t.connMu.Unlock()
			return ErrGaveUp
		case !t.dialing && t.reconnectCancel == nil:
			t.connMu.Unlock()
			return ErrNotConnected
		}
		ch := t.changed
		t.connMu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Disconnect closes the socket, stops any pending reconnect and fails waiting requests.
func (t *Transport) Disconnect() {
	t.connMu.Lock()
	t.epoch++
	c := t.conn
	t.conn = nil
	cancel := t.reconnectCancel
	t.reconnectCancel = nil
	t.dialing = false
	t.attempts = 0
	t.notifyLocked()
	t.connMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(t.opts.WriteWait))
		c.close()
		t.logger.Info("disconnected")
	}
	t.failWaiters(ErrClosed)
	if t.machine.Current() != status.Disconnected {
		_ = t.machine.Transition(status.Disconnected)
	}
}

func (t *Transport) dial(ctx context.Context, epoch uint64) error {
	header := http.Header{}
	if t.opts.Tokens != nil {
		token, err := t.opts.Tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("resolve token: %w", err)
		}
		if token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}

	ws, _, err := t.opts.Dialer.DialContext(ctx, t.opts.URL, header)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	t.connMu.Lock()
	if t.epoch != epoch {
		t.connMu.Unlock()
		_ = ws.Close()
		return errSuperseded
	}
	cctx, cancel := context.WithCancel(context.Background())
	c := &connection{
		ws:         ws,
		send:       make(chan []byte, t.opts.SendBuffer),
		events:     make(chan protocol.Envelope, handlerQueue),
		dispatched: make(chan struct{}),
		ctx:        cctx,
		cancel:     cancel,
	}
	prev := t.lastDispatch
	t.lastDispatch = c.dispatched
	t.conn = c
	t.attempts = 0
	t.gaveUp = false
	if t.reconnectCancel != nil {
		t.reconnectCancel()
		t.reconnectCancel = nil
	}
	t.notifyLocked()
	t.connMu.Unlock()

	_ = t.machine.Transition(status.Connected)
	t.logger.Info("connected", zap.String("url", t.opts.URL))

	go t.writePump(c)
	go t.readPump(c)
	go t.dispatchLoop(c, prev)
	return nil
}

// connectionLost handles a socket failure observed by either pump.
func (t *Transport) connectionLost(c *connection, cause error) {
	t.connMu.Lock()
	if t.conn != c {
		// Already replaced or closed on purpose.
		t.connMu.Unlock()
		return
	}
	t.conn = nil
	epoch := t.epoch
	t.connMu.Unlock()

	c.close()
	t.failWaiters(ErrConnectionLost)
	t.logger.Warn("connection lost", zap.Error(cause))
	_ = t.machine.Transition(status.Disconnected)
	t.startReconnect(epoch)
}

func (t *Transport) startReconnect(epoch uint64) {
	t.connMu.Lock()
	if t.epoch != epoch || t.reconnectCancel != nil || t.conn != nil {
		t.connMu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.reconnectCancel = cancel
	t.connMu.Unlock()

	if t.machine.Current() == status.Disconnected {
		_ = t.machine.Transition(status.Connecting)
	}
	go t.reconnectLoop(ctx, epoch)
}

// reconnectLoop retries with a delay of attempt × base, up to the configured cap.
func (t *Transport) reconnectLoop(ctx context.Context, epoch uint64) {
	var lastErr error
	for {
		t.connMu.Lock()
		if t.epoch != epoch {
			t.connMu.Unlock()
			return
		}
		t.attempts++
		attempt := t.attempts
		t.connMu.Unlock()

		if attempt > t.opts.MaxReconnectAttempts {
			t.giveUp(epoch, lastErr)
			return
		}

		delay := time.Duration(attempt) * t.opts.ReconnectBaseDelay
		t.logger.Info("reconnecting", zap.Int("attempt", attempt), zap.Duration("delay", delay))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		err := t.dial(ctx, epoch)
		if err == nil || errors.Is(err, errSuperseded) || ctx.Err() != nil {
			return
		}
		lastErr = err
		t.logger.Error("reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
	}
}

func (t *Transport) giveUp(epoch uint64, lastErr error) {
	t.connMu.Lock()
	if t.epoch != epoch {
		t.connMu.Unlock()
		return
	}
	if t.reconnectCancel != nil {
		t.reconnectCancel()
		t.reconnectCancel = nil
	}
	t.gaveUp = true
	t.notifyLocked()
	t.connMu.Unlock()

	t.logger.Error("giving up reconnecting", zap.Int("attempts", t.opts.MaxReconnectAttempts), zap.Error(lastErr))
	if t.machine.Current() != status.Disconnected {
		_ = t.machine.Transition(status.Disconnected)
	}
	t.bus.Emit(EventGaveUp, GaveUp{Attempts: t.opts.MaxReconnectAttempts, LastErr: lastErr})
}
