package chat

import (
	"context"
	"io"
	"strings"

	"github.com/matheus3301/gigline/internal/protocol"
	"github.com/matheus3301/gigline/internal/timeline"
	"go.uber.org/zap"
)

// Media is a file to upload and send.
type Media struct {
	Name     string
	MimeType string
	Size     int64
	Body     io.Reader
}

// ProgressFunc receives upload progress in bytes. total is 0 when unknown.
type ProgressFunc func(sent, total int64)

// Uploader stores a media file and describes where it ended up.
type Uploader interface {
	Upload(ctx context.Context, chatID string, file Media, progress ProgressFunc) (protocol.Content, error)
}

// MediaOptions are the optional parts of a media send.
type MediaOptions struct {
	Caption    string
	ReplyTo    string
	OnProgress ProgressFunc
}

// SendTextMessage shows text in the active chat immediately as an optimistic
// message and emits send_message. replyTo may be empty.
func (m *Manager) SendTextMessage(text, replyTo string) (protocol.Message, error) {
	if strings.TrimSpace(text) == "" {
		return protocol.Message{}, ErrEmptyMessage
	}
	out := protocol.OutgoingMessage{
		Type:    protocol.TypeText,
		Content: protocol.Content{Text: text},
		ReplyTo: replyTo,
	}
	opt, err := m.appendOptimistic(&out)
	if err != nil {
		return protocol.Message{}, err
	}
	return opt, m.emitSend(out)
}

// SendMediaMessage shows a placeholder for file right away, uploads it while
// streaming progress to opts.OnProgress, then emits send_message with the uploaded
// content. A failed upload leaves the placeholder in place.
func (m *Manager) SendMediaMessage(ctx context.Context, typ protocol.MessageType, file Media, opts MediaOptions) (protocol.Message, error) {
	if !typ.IsMedia() {
		return protocol.Message{}, ErrNotMedia
	}
	if m.uploader == nil {
		return protocol.Message{}, ErrNoUploader
	}
	out := protocol.OutgoingMessage{
		Type: typ,
		Content: protocol.Content{
			FileName: file.Name,
			MimeType: file.MimeType,
			Size:     file.Size,
			Caption:  opts.Caption,
		},
		ReplyTo: opts.ReplyTo,
	}
	opt, err := m.appendOptimistic(&out)
	if err != nil {
		return protocol.Message{}, err
	}

	content, err := m.uploader.Upload(ctx, out.ChatID, file, opts.OnProgress)
	if err != nil {
		return opt, m.failSend(&SendError{ChatID: out.ChatID, TempID: out.TempID, Code: "upload_failed", Err: err})
	}
	if content.Caption == "" {
		content.Caption = opts.Caption
	}
	out.Content = content
	return opt, m.emitSend(out)
}

// appendOptimistic fills in the active chat and a temp id and adds the local copy
// to the timeline.
func (m *Manager) appendOptimistic(out *protocol.OutgoingMessage) (protocol.Message, error) {
	m.mu.Lock()
	if m.active == nil {
		m.mu.Unlock()
		return protocol.Message{}, ErrNoActiveChat
	}
	out.ChatID = m.active.ChatID
	out.TempID = timeline.NewTempID()
	opt := timeline.NewOptimistic(*out, m.opts.SelfID, m.opts.Now())
	m.setMessagesLocked(timeline.AppendOptimistic(m.messages, opt))
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.bus.Emit(EventTimelineChanged, snap)
	return opt, nil
}

func (m *Manager) emitSend(out protocol.OutgoingMessage) error {
	if err := emitEvent(m, protocol.SendMessage, out); err != nil {
		return m.failSend(&SendError{ChatID: out.ChatID, TempID: out.TempID, Err: err})
	}
	m.logger.Debug("message sent", zap.String("chat_id", out.ChatID), zap.String("temp_id", out.TempID))
	return nil
}

func (m *Manager) failSend(err *SendError) error {
	m.logger.Warn("send failed",
		zap.String("chat_id", err.ChatID),
		zap.String("temp_id", err.TempID),
		zap.String("code", err.Code),
		zap.Error(err.Err))
	m.bus.Emit(EventSendFailed, err)
	if m.opts.OnSendError != nil {
		m.opts.OnSendError(err)
	}
	return err
}

// StartTyping tells the active chat the user is typing.
func (m *Manager) StartTyping() error {
	return m.typing(true)
}

// StopTyping tells the active chat the user stopped typing.
func (m *Manager) StopTyping() error {
	return m.typing(false)
}

func (m *Manager) typing(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return ErrNoActiveChat
	}
	ref := protocol.ChatRef{ChatID: m.active.ChatID}
	if on {
		return emitEvent(m, protocol.TypingStart, ref)
	}
	return emitEvent(m, protocol.TypingStop, ref)
}

// MarkRead acknowledges every unread message from others in the active chat and
// returns how many were acknowledged.
func (m *Manager) MarkRead() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return 0, ErrNoActiveChat
	}
	ids := timeline.Unread(m.messages, m.opts.SelfID)
	if len(ids) == 0 {
		return 0, nil
	}
	if err := emitEvent(m, protocol.MarkRead, protocol.Receipt{ChatID: m.active.ChatID, MessageIDs: ids}); err != nil {
		return 0, err
	}
	return len(ids), nil
}
