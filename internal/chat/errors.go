package chat

import (
	"errors"
	"fmt"
)

var (
	ErrNoActiveChat = errors.New("no active chat")
	ErrEmptyMessage = errors.New("message is empty")
	ErrNotMedia     = errors.New("message type is not a media type")
	ErrNoUploader   = errors.New("media uploads are not configured")
	ErrNotPending   = errors.New("no pending message with that id")
	ErrMediaRetry   = errors.New("media messages must be sent again")

	errNoHistory = errors.New("no history source configured")
)

// SendError reports a send that did not reach the server or that the server
// rejected with message_error. The optimistic copy stays in the timeline.
type SendError struct {
	ChatID string
	TempID string
	Code   string
	Err    error
}

func (e *SendError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("send to %s failed (%s): %v", e.ChatID, e.Code, e.Err)
	}
	return fmt.Sprintf("send to %s failed: %v", e.ChatID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// HistoryFetchError reports a failed page read. The timeline and the has-more flag
// are left as they were so the same page can be retried.
type HistoryFetchError struct {
	ChatID string
	Page   int
	Err    error
}

func (e *HistoryFetchError) Error() string {
	return fmt.Sprintf("fetch page %d of %s: %v", e.Page, e.ChatID, e.Err)
}

func (e *HistoryFetchError) Unwrap() error { return e.Err }
