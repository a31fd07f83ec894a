package transport

import (
	"sync/atomic"

	"github.com/matheus3301/gigline/internal/protocol"
	"go.uber.org/zap"
)

// Handler receives inbound envelopes of the kind it was registered for.
// A returned error is logged.
type Handler func(env protocol.Envelope) error

// HandlerID identifies a registered handler for Off.
type HandlerID uint64

var nextHandlerID atomic.Uint64

type wrappedHandler struct {
	id HandlerID
	fn Handler
}

// Listener registers and removes handlers.
type Listener interface {
	On(kind protocol.Kind, h Handler) HandlerID
	Off(id HandlerID) bool
}

// On registers h for kind. Handlers run sequentially on the dispatch goroutine,
// in registration order.
func (t *Transport) On(kind protocol.Kind, h Handler) HandlerID {
	id := HandlerID(nextHandlerID.Add(1))
	t.handlersMu.Lock()
	t.handlers[kind] = append(t.handlers[kind], wrappedHandler{id: id, fn: h})
	t.handlersMu.Unlock()
	return id
}

// Off removes a handler. Reports whether it was registered.
func (t *Transport) Off(id HandlerID) bool {
	t.handlersMu.Lock()
	defer t.handlersMu.Unlock()
	for kind, list := range t.handlers {
		for i, h := range list {
			if h.id != id {
				continue
			}
			next := make([]wrappedHandler, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			if len(next) == 0 {
				delete(t.handlers, kind)
			} else {
				t.handlers[kind] = next
			}
			return true
		}
	}
	return false
}

func (t *Transport) dispatch(env protocol.Envelope) {
	t.handlersMu.RLock()
	list := t.handlers[env.Event]
	t.handlersMu.RUnlock()

	for _, h := range list {
		if err := h.fn(env); err != nil {
			t.logger.Warn("event handler failed", zap.String("event", string(env.Event)), zap.Error(err))
		}
	}
}

// Typed adapts a payload-typed function to a Handler.
func Typed[T any](ev protocol.Event[T], fn func(payload T, env protocol.Envelope) error) Handler {
	return func(env protocol.Envelope) error {
		payload, err := ev.Unwrap(env)
		if err != nil {
			return err
		}
		return fn(payload, env)
	}
}

// Listen registers a payload-typed handler for ev.
func Listen[T any](l Listener, ev protocol.Event[T], fn func(payload T, env protocol.Envelope) error) HandlerID {
	return l.On(ev.Kind(), Typed(ev, fn))
}
