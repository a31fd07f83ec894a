package protocol

import (
	"slices"
	"time"
)

// MessageType identifies what a message's content describes.
type MessageType string

const (
	TypeText   MessageType = "text"
	TypeImage  MessageType = "image"
	TypeVideo  MessageType = "video"
	TypeAudio  MessageType = "audio"
	TypeFile   MessageType = "file"
	TypeSystem MessageType = "system"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypeVideo, TypeAudio, TypeFile, TypeSystem:
		return true
	}
	return false
}

// IsMedia reports whether the content of t is an uploaded file.
func (t MessageType) IsMedia() bool {
	switch t {
	case TypeImage, TypeVideo, TypeAudio, TypeFile:
		return true
	}
	return false
}

// Content is the type-specific payload of a message. Text messages use Text;
// media messages describe the uploaded file.
type Content struct {
	Text      string  `json:"text,omitempty"`
	URL       string  `json:"url,omitempty"`
	Thumbnail string  `json:"thumbnail,omitempty"`
	Size      int64   `json:"size,omitempty"`
	FileName  string  `json:"fileName,omitempty"`
	MimeType  string  `json:"mimeType,omitempty"`
	Duration  float64 `json:"duration,omitempty"`
	Caption   string  `json:"caption,omitempty"`
}

// DeliveryStatus tracks who has received and read a message.
type DeliveryStatus struct {
	Sent      bool     `json:"sent"`
	Delivered []string `json:"delivered"`
	Read      []string `json:"read"`
}

// MarkDelivered adds userID to the delivered set. Reports whether it changed.
func (s *DeliveryStatus) MarkDelivered(userID string) bool {
	if userID == "" || slices.Contains(s.Delivered, userID) {
		return false
	}
	s.Delivered = append(s.Delivered, userID)
	return true
}

// MarkRead adds userID to the read set; reading implies delivery.
func (s *DeliveryStatus) MarkRead(userID string) bool {
	changed := s.MarkDelivered(userID)
	if userID == "" || slices.Contains(s.Read, userID) {
		return changed
	}
	s.Read = append(s.Read, userID)
	return true
}

// DeliveredTo reports whether userID has received the message.
func (s DeliveryStatus) DeliveredTo(userID string) bool {
	return slices.Contains(s.Delivered, userID)
}

// ReadBy reports whether userID has read the message.
func (s DeliveryStatus) ReadBy(userID string) bool {
	return slices.Contains(s.Read, userID)
}

// Message is a chat message. Optimistic messages exist only on the client between
// submission and the server's confirmation; they carry a temporary ID.
type Message struct {
	ID         string         `json:"_id"`
	ChatID     string         `json:"chatId"`
	SenderID   string         `json:"senderId"`
	Type       MessageType    `json:"type"`
	Content    Content        `json:"content"`
	CreatedAt  time.Time      `json:"createdAt"`
	Status     DeliveryStatus `json:"status"`
	ReplyTo    string         `json:"replyTo,omitempty"`
	TempID     string         `json:"tempId,omitempty"`
	Optimistic bool           `json:"-"`
}

// Clone returns a copy that shares no slices with m.
func (m Message) Clone() Message {
	m.Status.Delivered = slices.Clone(m.Status.Delivered)
	m.Status.Read = slices.Clone(m.Status.Read)
	return m
}

// Preview is a one-line summary used for chat lists and logs.
func (m Message) Preview() string {
	switch {
	case m.Type == TypeText || m.Type == TypeSystem:
		return m.Content.Text
	case m.Content.Caption != "":
		return "[" + string(m.Type) + "] " + m.Content.Caption
	default:
		return "[" + string(m.Type) + "]"
	}
}
