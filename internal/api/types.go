package api

import (
	"encoding/json"
	"time"

	"github.com/matheus3301/gigline/internal/protocol"
	"github.com/matheus3301/gigline/internal/timeline"
)

type StatusRequest struct{}

type StatusResponse struct {
	Profile      string    `json:"profile"`
	State        string    `json:"state"`
	StateSince   time.Time `json:"stateSince"`
	GaveUp       bool      `json:"gaveUp"`
	UptimeMs     int64     `json:"uptimeMs"`
	ActiveChat   string    `json:"activeChat,omitempty"`
	Watched      []string  `json:"watched,omitempty"`
	ChatCount    int       `json:"chatCount"`
	MessageCount int       `json:"messageCount"`
}

type ConnectRequest struct{}

type ConnectResponse struct {
	State string `json:"state"`
}

type SendTextRequest struct {
	ChatID  string `json:"chatId"`
	Text    string `json:"text"`
	ReplyTo string `json:"replyTo,omitempty"`
}

type SendTextResponse struct {
	// Message is the optimistic copy shown until the server confirms it.
	Message protocol.Message `json:"message"`
}

type ListChatsRequest struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

type ChatSummary struct {
	ChatID             string    `json:"chatId"`
	LastMessageAt      time.Time `json:"lastMessageAt"`
	LastMessagePreview string    `json:"lastMessagePreview"`
	MessageCount       int       `json:"messageCount"`
}

type ListChatsResponse struct {
	Chats []ChatSummary `json:"chats"`
}

type ListMessagesRequest struct {
	ChatID string `json:"chatId"`
	Page   int    `json:"page,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type ListMessagesResponse struct {
	Sections []timeline.Section `json:"sections"`
	HasMore  bool               `json:"hasMore"`
}

type PresenceRequest struct {
	UserIDs []string `json:"userIds"`
}

type PresenceRecord struct {
	UserID    string    `json:"userId"`
	Status    string    `json:"status"`
	LastSeen  time.Time `json:"lastSeen"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type PresenceResponse struct {
	Records []PresenceRecord `json:"records"`
	// Cached is set when the answer came from the local cache because the
	// realtime connection was unavailable.
	Cached bool `json:"cached,omitempty"`
}

type WatchRequest struct {
	// Prefixes filters bus events; empty means chat, presence and transport.
	Prefixes []string `json:"prefixes,omitempty"`
}

type Event struct {
	Kind    string          `json:"kind"`
	Time    time.Time       `json:"time"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}
