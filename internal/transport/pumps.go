package transport

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/gigline/internal/protocol"
	"go.uber.org/zap"
)

// readPump moves frames from the socket to waiters and the handler queue.
func (t *Transport) readPump(c *connection) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(t.opts.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(t.opts.PongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			t.connectionLost(c, err)
			return
		}
		// Any traffic proves the peer is alive.
		_ = c.ws.SetReadDeadline(time.Now().Add(t.opts.PongWait))

		env, err := protocol.Parse(data)
		if err != nil {
			t.logger.Warn("dropping undecodable frame", zap.Error(err))
			continue
		}
		if dir, ok := protocol.Lookup(env.Event); !ok || dir != protocol.Inbound {
			t.logger.Warn("dropping unexpected event", zap.String("event", string(env.Event)))
			continue
		}
		t.resolve(env)
		select {
		case c.events <- env:
		default:
			t.logger.Warn("handler queue is full, pausing reads", zap.String("event", string(env.Event)))
			select {
			case c.events <- env:
			case <-c.ctx.Done():
				return
			}
		}
	}
}

// writePump serializes writes and keeps the connection alive with pings.
func (t *Transport) writePump(c *connection) {
	ticker := time.NewTicker(t.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(t.opts.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				t.connectionLost(c, err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(t.opts.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				t.connectionLost(c, err)
				return
			}
		}
	}
}

// dispatchLoop runs handlers one event at a time for the life of c. It starts
// only after the previous connection's loop has drained, so handlers never run
// concurrently across a reconnect.
func (t *Transport) dispatchLoop(c *connection, prev <-chan struct{}) {
	defer close(c.dispatched)
	if prev != nil {
		<-prev
	}
	for {
		select {
		case env := <-c.events:
			t.dispatch(env)
		case <-c.ctx.Done():
			for {
				select {
				case env := <-c.events:
					t.dispatch(env)
				default:
					return
				}
			}
		}
	}
}

// Emit sends a fire-and-forget event. While disconnected the event is dropped with
// a warning and ErrNotConnected is returned; delivery is never guaranteed.
func (t *Transport) Emit(env protocol.Envelope) error {
	dir, ok := protocol.Lookup(env.Event)
	if !ok {
		return ErrUnknownEvent
	}
	if dir != protocol.Outbound {
		return ErrWrongDirection
	}
	data, err := env.Marshal()
	if err != nil {
		return err
	}

	t.connMu.Lock()
	c := t.conn
	t.connMu.Unlock()
	if c == nil || c.ctx.Err() != nil {
		t.logger.Warn("emit while not connected, dropping", zap.String("event", string(env.Event)))
		return ErrNotConnected
	}

	select {
	case c.send <- data:
		return nil
	default:
		t.logger.Warn("send queue full, dropping", zap.String("event", string(env.Event)))
		return ErrSendQueueFull
	}
}

// Emitter is anything that can send envelopes.
type Emitter interface {
	Emit(env protocol.Envelope) error
}

// Send wraps payload in ev's envelope and emits it.
func Send[T any](e Emitter, ev protocol.Event[T], payload T, targetID string) error {
	env, err := ev.Wrap(payload, targetID)
	if err != nil {
		return err
	}
	return e.Emit(env)
}
