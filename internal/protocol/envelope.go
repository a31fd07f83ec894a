// Package protocol defines the envelope exchanged over the realtime socket and the
// closed set of events that may travel inside it.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind is the wire name of an event.
type Kind string

// Envelope wraps every message on the socket. TargetID correlates a response to the
// subject of the request that caused it (for example the user whose status was asked).
type Envelope struct {
	Event    Kind            `json:"event"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	TargetID string          `json:"targetId,omitempty"`
}

var (
	ErrMissingEvent = errors.New("envelope has no event name")
	ErrKindMismatch = errors.New("envelope event does not match")
)

// Marshal encodes the envelope for the wire.
func (e Envelope) Marshal() ([]byte, error) {
	if e.Event == "" {
		return nil, ErrMissingEvent
	}
	return json.Marshal(e)
}

// Parse decodes a wire frame into an envelope. The event name is not checked against
// the registry here; callers decide what to do with unknown events.
func Parse(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, ErrMissingEvent
	}
	return env, nil
}
