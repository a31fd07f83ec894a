package chat

import (
	"github.com/matheus3301/gigline/internal/protocol"
)

// RetrySend emits send_message again for a pending text message of the active
// chat, keeping its temp id so the eventual confirmation replaces it.
func (m *Manager) RetrySend(tempID string) error {
	m.mu.Lock()
	if m.active == nil {
		m.mu.Unlock()
		return ErrNoActiveChat
	}
	var (
		found protocol.Message
		ok    bool
	)
	for _, msg := range m.messages {
		if msg.Optimistic && msg.TempID == tempID {
			found, ok = msg, true
			break
		}
	}
	m.mu.Unlock()

	if !ok {
		return ErrNotPending
	}
	if found.Type.IsMedia() {
		return ErrMediaRetry
	}
	return m.emitSend(protocol.OutgoingMessage{
		ChatID:  found.ChatID,
		Type:    found.Type,
		Content: found.Content,
		ReplyTo: found.ReplyTo,
		TempID:  found.TempID,
	})
}
