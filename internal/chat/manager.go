// Package chat manages the single active chat: joining and leaving rooms, sending
// messages optimistically, reconciling server confirmations and paging history.
package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/matheus3301/gigline/internal/bus"
	"github.com/matheus3301/gigline/internal/protocol"
	"github.com/matheus3301/gigline/internal/status"
	"github.com/matheus3301/gigline/internal/timeline"
	"github.com/matheus3301/gigline/internal/transport"
	"go.uber.org/zap"
)

// Bus events published by the manager.
const (
	EventJoined          = "chat.joined"           // Session
	EventLeft            = "chat.left"             // Session
	EventTimelineChanged = "chat.timeline_changed" // Snapshot
	EventMessageReceived = "chat.message_received" // protocol.Message, any chat
	EventHistoryLoaded   = "chat.history_loaded"   // HistoryLoaded
	EventReceipt         = "chat.receipt"          // ReceiptUpdate, any chat
	EventSendFailed      = "chat.send_failed"      // *SendError
)

// Transport is the part of the realtime transport the manager uses.
type Transport interface {
	transport.Emitter
	transport.Listener
}

// Session is the active chat.
type Session struct {
	ChatID   string
	JoinedAt time.Time
}

// Snapshot is the rendered state of the active chat.
type Snapshot struct {
	ChatID   string
	Messages []protocol.Message
	Sections []timeline.Section
	HasMore  bool
}

// HistoryLoaded is the payload of EventHistoryLoaded.
type HistoryLoaded struct {
	ChatID   string
	Page     int
	Messages []protocol.Message
	HasMore  bool
}

// ReceiptUpdate is the payload of EventReceipt.
type ReceiptUpdate struct {
	Receipt protocol.Receipt
	Read    bool
}

// Options configures a Manager.
type Options struct {
	// SelfID is the signed-in user; their own messages are not acknowledged.
	SelfID   string
	PageSize int
	Now      func() time.Time
	// OnSendError is called for every failed send, in addition to EventSendFailed.
	OnSendError func(*SendError)
}

// Manager owns the active chat session and its timeline. All room joins and
// leaves must go through it.
type Manager struct {
	tr       Transport
	history  HistorySource
	uploader Uploader
	bus      *bus.Bus
	logger   *zap.Logger
	opts     Options

	mu       sync.Mutex
	active   *Session
	gen      uint64
	messages []protocol.Message
	sections []timeline.Section
	page     int
	hasMore  bool

	handlerIDs []transport.HandlerID
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewManager creates a manager. uploader may be nil when media sends are not needed.
func NewManager(tr Transport, history HistorySource, uploader Uploader, b *bus.Bus, logger *zap.Logger, opts Options) *Manager {
	if opts.PageSize <= 0 {
		opts.PageSize = 20
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		tr:       tr,
		history:  history,
		uploader: uploader,
		bus:      b,
		logger:   logger.Named("chat"),
		opts:     opts,
	}
}

// Start registers the inbound handlers and begins watching the connection state
// so the active chat is rejoined after a reconnect.
func (m *Manager) Start(ctx context.Context) {
	m.handlerIDs = []transport.HandlerID{
		transport.Listen(m.tr, protocol.NewMessage, m.onNewMessage),
		transport.Listen(m.tr, protocol.MessageError, m.onMessageError),
		transport.Listen(m.tr, protocol.MessagesDelivered, m.onReceipt(false)),
		transport.Listen(m.tr, protocol.MessagesRead, m.onReceipt(true)),
	}
	if m.bus == nil {
		return
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	ch, unsub := m.bus.Subscribe(status.EventStateChanged, 16)
	go func() {
		defer close(m.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				if sc, ok := evt.Payload.(status.StatusChange); ok && sc.To == status.Connected {
					m.rejoin()
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop leaves the active chat and removes the handlers.
func (m *Manager) Stop() {
	m.LeaveCurrentChat()
	for _, id := range m.handlerIDs {
		m.tr.Off(id)
	}
	m.handlerIDs = nil
	if m.cancel != nil {
		m.cancel()
		<-m.done
		m.cancel = nil
	}
}

// ActiveChat returns the active session, if any.
func (m *Manager) ActiveChat() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return Session{}, false
	}
	return *m.active, true
}

// JoinChat makes chatID the active chat and loads its first history page. Joining
// the chat that is already active does nothing. Any other active chat is left
// first. The returned error is a *HistoryFetchError when only the history load
// failed; the chat stays joined in that case.
func (m *Manager) JoinChat(ctx context.Context, chatID string) error {
	if chatID == "" {
		return errors.New("chat id is required")
	}

	m.mu.Lock()
	if m.active != nil && m.active.ChatID == chatID {
		m.mu.Unlock()
		return nil
	}
	prev := m.leaveLocked()
	session := Session{ChatID: chatID, JoinedAt: m.opts.Now()}
	m.active = &session
	m.gen++
	m.page = 0
	m.hasMore = true
	m.setMessagesLocked(nil)
	emitEvent(m, protocol.JoinChats, protocol.ChatList{ChatIDs: []string{chatID}})
	snap := m.snapshotLocked()
	m.mu.Unlock()

	if prev != nil {
		m.bus.Emit(EventLeft, *prev)
	}
	m.logger.Info("joined chat", zap.String("chat_id", chatID))
	m.bus.Emit(EventJoined, session)
	m.bus.Emit(EventTimelineChanged, snap)

	if m.history == nil {
		return nil
	}
	return m.LoadMoreMessages(ctx, 1)
}

// LeaveCurrentChat leaves the active chat, if any, and clears the timeline.
func (m *Manager) LeaveCurrentChat() {
	m.mu.Lock()
	prev := m.leaveLocked()
	snap := m.snapshotLocked()
	m.mu.Unlock()

	if prev == nil {
		return
	}
	m.logger.Info("left chat", zap.String("chat_id", prev.ChatID))
	m.bus.Emit(EventLeft, *prev)
	m.bus.Emit(EventTimelineChanged, snap)
}

// leaveLocked emits leave_chat for the active chat and clears it. m.mu must be held.
func (m *Manager) leaveLocked() *Session {
	prev := m.active
	if prev == nil {
		return nil
	}
	emitEvent(m, protocol.LeaveChat, protocol.ChatRef{ChatID: prev.ChatID})
	m.active = nil
	m.gen++
	m.page = 0
	m.hasMore = false
	m.setMessagesLocked(nil)
	return prev
}

func (m *Manager) rejoin() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return
	}
	m.logger.Info("rejoining chat after reconnect", zap.String("chat_id", m.active.ChatID))
	emitEvent(m, protocol.JoinChats, protocol.ChatList{ChatIDs: []string{m.active.ChatID}})
}

// Messages returns the active chat's messages, newest first.
func (m *Manager) Messages() []protocol.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]protocol.Message(nil), m.messages...)
}

// GroupedMessages returns the active chat's messages bucketed by day.
func (m *Manager) GroupedMessages() []timeline.Section {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]timeline.Section(nil), m.sections...)
}

// HasMoreMessages reports whether older history may still be fetched.
func (m *Manager) HasMoreMessages() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasMore
}

// Snapshot returns the full rendered state of the active chat.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	s := Snapshot{
		Messages: append([]protocol.Message(nil), m.messages...),
		Sections: append([]timeline.Section(nil), m.sections...),
		HasMore:  m.hasMore,
	}
	if m.active != nil {
		s.ChatID = m.active.ChatID
	}
	return s
}

// setMessagesLocked replaces the timeline and regroups it from scratch.
func (m *Manager) setMessagesLocked(msgs []protocol.Message) {
	m.messages = msgs
	m.sections = timeline.Group(msgs, m.opts.Now())
}

// emitEvent sends a fire-and-forget event. Delivery is not guaranteed; failures are
// logged by the transport and dropped here.
func emitEvent[T any](m *Manager, ev protocol.Event[T], payload T) error {
	err := transport.Send(m.tr, ev, payload, "")
	if err != nil && !errors.Is(err, transport.ErrNotConnected) {
		m.logger.Warn("emit failed", zap.String("event", string(ev.Kind())), zap.Error(err))
	}
	return err
}
