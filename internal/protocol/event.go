package protocol

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Direction says which side of the socket originates an event.
type Direction int

const (
	Outbound Direction = iota + 1 // client -> server
	Inbound                       // server -> client
)

func (d Direction) String() string {
	switch d {
	case Outbound:
		return "outbound"
	case Inbound:
		return "inbound"
	default:
		return "unknown"
	}
}

var (
	registryMu sync.RWMutex
	registry   = map[Kind]Direction{}
)

// Event binds an event name to its payload type, so building and reading envelopes
// is checked by the compiler instead of by string comparison at runtime.
type Event[T any] struct {
	kind Kind
	dir  Direction
}

func define[T any](kind Kind, dir Direction) Event[T] {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[kind]; dup {
		panic(fmt.Sprintf("protocol: event %q defined twice", kind))
	}
	registry[kind] = dir
	return Event[T]{kind: kind, dir: dir}
}

// Kind returns the wire name.
func (e Event[T]) Kind() Kind { return e.kind }

// Direction returns who sends this event.
func (e Event[T]) Direction() Direction { return e.dir }

// Wrap builds an envelope carrying payload. targetID may be empty.
func (e Event[T]) Wrap(payload T, targetID string) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", e.kind, err)
	}
	return Envelope{Event: e.kind, Payload: raw, TargetID: targetID}, nil
}

// Unwrap decodes the payload of env, which must carry this event.
func (e Event[T]) Unwrap(env Envelope) (T, error) {
	var payload T
	if env.Event != e.kind {
		return payload, fmt.Errorf("%w: got %q, want %q", ErrKindMismatch, env.Event, e.kind)
	}
	if len(env.Payload) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return payload, fmt.Errorf("decode %s payload: %w", e.kind, err)
	}
	return payload, nil
}

// Lookup reports the direction of a registered event name.
func Lookup(kind Kind) (Direction, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	dir, ok := registry[kind]
	return dir, ok
}

// Known reports whether kind is part of the protocol.
func Known(kind Kind) bool {
	_, ok := Lookup(kind)
	return ok
}
