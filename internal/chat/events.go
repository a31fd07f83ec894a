package chat

import (
	"errors"

	"github.com/matheus3301/gigline/internal/protocol"
	"github.com/matheus3301/gigline/internal/timeline"
	"go.uber.org/zap"
)

func (m *Manager) onNewMessage(msg protocol.Message, _ protocol.Envelope) error {
	msg.Optimistic = false
	m.bus.Emit(EventMessageReceived, msg)

	m.mu.Lock()
	if m.active == nil || m.active.ChatID != msg.ChatID {
		m.mu.Unlock()
		return nil
	}
	merged, inserted := timeline.Reconcile(m.messages, msg)
	m.setMessagesLocked(merged)
	if inserted && m.opts.SelfID != "" && msg.SenderID != m.opts.SelfID {
		emitEvent(m, protocol.MarkDelivered, protocol.Receipt{ChatID: msg.ChatID, MessageIDs: []string{msg.ID}})
	}
	snap := m.snapshotLocked()
	m.mu.Unlock()

	if !inserted {
		m.logger.Debug("duplicate message ignored", zap.String("msg_id", msg.ID))
	}
	m.bus.Emit(EventTimelineChanged, snap)
	return nil
}

func (m *Manager) onMessageError(f protocol.SendFailure, _ protocol.Envelope) error {
	msg := f.Error
	if msg == "" {
		msg = "rejected by server"
	}
	m.failSend(&SendError{ChatID: f.ChatID, TempID: f.TempID, Code: f.Code, Err: errors.New(msg)})
	return nil
}

func (m *Manager) onReceipt(read bool) func(protocol.Receipt, protocol.Envelope) error {
	return func(r protocol.Receipt, _ protocol.Envelope) error {
		m.bus.Emit(EventReceipt, ReceiptUpdate{Receipt: r, Read: read})

		m.mu.Lock()
		if m.active == nil || m.active.ChatID != r.ChatID {
			m.mu.Unlock()
			return nil
		}
		updated, changed := timeline.ApplyReceipt(m.messages, r, read)
		if !changed {
			m.mu.Unlock()
			return nil
		}
		m.setMessagesLocked(updated)
		snap := m.snapshotLocked()
		m.mu.Unlock()

		m.bus.Emit(EventTimelineChanged, snap)
		return nil
	}
}
