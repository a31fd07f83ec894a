package protocol

import "time"

// PresenceState is a user's availability. Servers may send values outside the
// predefined ones; they are kept as-is.
type PresenceState string

const (
	Online  PresenceState = "online"
	Offline PresenceState = "offline"
	Away    PresenceState = "away"
)

// AppState is the foreground/background state of the client application.
type AppState string

const (
	AppActive     AppState = "active"
	AppBackground AppState = "background"
	AppInactive   AppState = "inactive"
)

// OutgoingMessage is the body of send_message.
type OutgoingMessage struct {
	ChatID  string      `json:"chatId"`
	Type    MessageType `json:"type"`
	Content Content     `json:"content"`
	ReplyTo string      `json:"replyTo,omitempty"`
	TempID  string      `json:"tempId,omitempty"`
}

// ChatRef names a single chat.
type ChatRef struct {
	ChatID string `json:"chatId"`
}

// ChatList names several chats.
type ChatList struct {
	ChatIDs []string `json:"chatIds"`
}

// Receipt acknowledges delivery or reading of messages. UserID is filled by the
// server on broadcasts and left empty by the client.
type Receipt struct {
	ChatID     string   `json:"chatId"`
	MessageIDs []string `json:"messageIds"`
	UserID     string   `json:"userId,omitempty"`
}

// SendFailure is the body of message_error.
type SendFailure struct {
	ChatID string `json:"chatId,omitempty"`
	TempID string `json:"tempId,omitempty"`
	Code   string `json:"code,omitempty"`
	Error  string `json:"error"`
}

// TypingNotice is the body of user_typing.
type TypingNotice struct {
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// UserList names several users.
type UserList struct {
	UserIDs []string `json:"userIds"`
}

// StatusQuery asks for one user's status.
type StatusQuery struct {
	UserID string `json:"userId"`
}

// StatusReport is one user's presence as reported by the server.
type StatusReport struct {
	UserID   string        `json:"userId"`
	Status   PresenceState `json:"status"`
	LastSeen time.Time     `json:"lastSeen"`
}

// BatchStatusReport answers GET_BATCH_STATUS.
type BatchStatusReport struct {
	Statuses []StatusReport `json:"statuses"`
}

// StatusUpdate sets the client's own status.
type StatusUpdate struct {
	Status PresenceState `json:"status"`
}

// HeartbeatPing signals application-level liveness. Timestamp is in Unix milliseconds.
type HeartbeatPing struct {
	Timestamp int64 `json:"timestamp"`
}

// ActivityReport is sent on foreground/background transitions.
type ActivityReport struct {
	State     AppState `json:"state"`
	Timestamp int64    `json:"timestamp"`
}
