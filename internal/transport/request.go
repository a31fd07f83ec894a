package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/gigline/internal/protocol"
)

type result struct {
	env protocol.Envelope
	err error
}

// Waiter is a pending one-shot listener created by Expect.
type Waiter struct {
	t        *Transport
	kind     protocol.Kind
	targetID string
	ch       chan result
	once     sync.Once
}

// Expect registers a one-shot listener for the next kind envelope whose targetId
// equals targetID. Only a waiter with an empty targetID accepts any envelope of
// kind. Register the waiter before emitting the request so a fast reply cannot
// be missed.
func (t *Transport) Expect(kind protocol.Kind, targetID string) *Waiter {
	w := &Waiter{t: t, kind: kind, targetID: targetID, ch: make(chan result, 1)}
	t.waitersMu.Lock()
	t.waiters[kind] = append(t.waiters[kind], w)
	t.waitersMu.Unlock()
	return w
}

// Wait blocks until the matching envelope arrives, the request timeout elapses,
// the connection drops, or ctx is done.
func (w *Waiter) Wait(ctx context.Context) (protocol.Envelope, error) {
	timer := time.NewTimer(w.t.opts.RequestTimeout)
	defer timer.Stop()

	select {
	case res := <-w.ch:
		return res.env, res.err
	case <-timer.C:
		w.Cancel()
		return protocol.Envelope{}, fmt.Errorf("%w: waiting for %s", ErrRequestTimeout, w.kind)
	case <-ctx.Done():
		w.Cancel()
		return protocol.Envelope{}, ctx.Err()
	}
}

// Cancel unregisters the waiter if it has not fired yet.
func (w *Waiter) Cancel() {
	w.once.Do(func() {
		w.t.waitersMu.Lock()
		defer w.t.waitersMu.Unlock()
		list := w.t.waiters[w.kind]
		for i, other := range list {
			if other == w {
				w.t.waiters[w.kind] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(w.t.waiters[w.kind]) == 0 {
			delete(w.t.waiters, w.kind)
		}
	})
}

func (w *Waiter) matches(env protocol.Envelope) bool {
	return w.targetID == "" || w.targetID == env.TargetID
}

// resolve hands env to the oldest matching waiter, if any.
func (t *Transport) resolve(env protocol.Envelope) bool {
	t.waitersMu.Lock()
	list := t.waiters[env.Event]
	var found *Waiter
	for i, w := range list {
		if w.matches(env) {
			found = w
			t.waiters[env.Event] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(t.waiters[env.Event]) == 0 {
		delete(t.waiters, env.Event)
	}
	t.waitersMu.Unlock()

	if found == nil {
		return false
	}
	found.once.Do(func() {})
	found.ch <- result{env: env}
	return true
}

func (t *Transport) failWaiters(err error) {
	t.waitersMu.Lock()
	pending := t.waiters
	t.waiters = make(map[protocol.Kind][]*Waiter)
	t.waitersMu.Unlock()

	for _, list := range pending {
		for _, w := range list {
			w.once.Do(func() {})
			w.ch <- result{err: err}
		}
	}
}

// Once waits for a single kind envelope correlated by targetID.
func (t *Transport) Once(ctx context.Context, kind protocol.Kind, targetID string) (protocol.Envelope, error) {
	return t.Expect(kind, targetID).Wait(ctx)
}

// Request emits req and waits for the respKind envelope carrying the same targetId.
// The listener is attached before the request leaves.
func (t *Transport) Request(ctx context.Context, req protocol.Envelope, respKind protocol.Kind) (protocol.Envelope, error) {
	w := t.Expect(respKind, req.TargetID)
	if err := t.Emit(req); err != nil {
		w.Cancel()
		return protocol.Envelope{}, err
	}
	return w.Wait(ctx)
}

// Requester is anything that can perform a correlated request.
type Requester interface {
	Request(ctx context.Context, req protocol.Envelope, respKind protocol.Kind) (protocol.Envelope, error)
}

// Call performs a typed request/response exchange.
func Call[Req, Resp any](ctx context.Context, r Requester, req protocol.Event[Req], payload Req, targetID string, resp protocol.Event[Resp]) (Resp, error) {
	var zero Resp
	env, err := req.Wrap(payload, targetID)
	if err != nil {
		return zero, err
	}
	reply, err := r.Request(ctx, env, resp.Kind())
	if err != nil {
		return zero, err
	}
	return resp.Unwrap(reply)
}
