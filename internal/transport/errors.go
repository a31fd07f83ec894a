package transport

import "errors"

var (
	ErrNotConnected   = errors.New("transport is not connected")
	ErrConnectionLost = errors.New("connection lost")
	ErrClosed         = errors.New("transport disconnected")
	ErrGaveUp         = errors.New("gave up reconnecting")
	ErrRequestTimeout = errors.New("request timed out")
	ErrUnknownEvent   = errors.New("unknown event")
	ErrWrongDirection = errors.New("event cannot be sent by the client")
	ErrSendQueueFull  = errors.New("send queue is full")

	errSuperseded = errors.New("dial superseded by disconnect")
)
