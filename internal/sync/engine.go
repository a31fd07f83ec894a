package sync

import (
	"context"
	"fmt"

	"github.com/matheus3301/gigline/internal/bus"
	"github.com/matheus3301/gigline/internal/chat"
	"github.com/matheus3301/gigline/internal/presence"
	"github.com/matheus3301/gigline/internal/protocol"
	"github.com/matheus3301/gigline/internal/store"
	"go.uber.org/zap"
)

// EventStored is published after the cache absorbed an event. Payload: Stored.
const EventStored = "cache.stored"

// Stored reports what one ingestion wrote.
type Stored struct {
	Source   string
	ChatID   string
	Messages int
	Receipts int
	Presence int
}

// Engine mirrors chat and presence activity into the local cache.
// It subscribes to "chat." and "presence." events on the bus.
type Engine struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates a new cache engine.
func NewEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:     db,
		bus:    b,
		logger: logger,
	}
}

// Start subscribes to the bus. Events published before Start are not seen.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	ch, unsub := e.bus.SubscribeAll(256, "chat.", "presence.")

	go func() {
		defer close(e.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine and waits for the in-flight event.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
}

func (e *Engine) handleEvent(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case chat.EventMessageReceived:
		msg, ok := evt.Payload.(protocol.Message)
		if !ok {
			return
		}
		if err := e.IngestMessage(ctx, msg); err != nil {
			e.logger.Error("failed to cache message", zap.Error(err), zap.String("msg_id", msg.ID))
		}
	case chat.EventHistoryLoaded:
		h, ok := evt.Payload.(chat.HistoryLoaded)
		if !ok {
			return
		}
		if err := e.IngestHistoryPage(ctx, h); err != nil {
			e.logger.Error("failed to cache history page", zap.Error(err),
				zap.String("chat_id", h.ChatID), zap.Int("page", h.Page))
		}
	case chat.EventReceipt:
		u, ok := evt.Payload.(chat.ReceiptUpdate)
		if !ok {
			return
		}
		if err := e.IngestReceipt(ctx, u); err != nil {
			e.logger.Error("failed to cache receipt", zap.Error(err), zap.String("chat_id", u.Receipt.ChatID))
		}
	case presence.EventStatusChanged:
		r, ok := evt.Payload.(presence.Record)
		if !ok {
			return
		}
		if err := e.IngestPresence(ctx, r); err != nil {
			e.logger.Error("failed to cache presence", zap.Error(err), zap.String("user_id", r.UserID))
		}
	}
}

// IngestMessage stores one confirmed message (idempotent).
func (e *Engine) IngestMessage(ctx context.Context, msg protocol.Message) error {
	if msg.Optimistic {
		return nil
	}
	if err := e.db.UpsertMessage(ctx, msg); err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	e.bus.Emit(EventStored, Stored{Source: chat.EventMessageReceived, ChatID: msg.ChatID, Messages: 1})
	return nil
}

// IngestHistoryPage stores a fetched history page in one transaction.
func (e *Engine) IngestHistoryPage(ctx context.Context, h chat.HistoryLoaded) error {
	n, err := e.db.UpsertMessages(ctx, h.Messages)
	if err != nil {
		return fmt.Errorf("upsert history page: %w", err)
	}
	e.logger.Debug("history page cached",
		zap.String("chat_id", h.ChatID), zap.Int("page", h.Page), zap.Int("messages", n))
	e.bus.Emit(EventStored, Stored{Source: chat.EventHistoryLoaded, ChatID: h.ChatID, Messages: n})
	return nil
}

// IngestReceipt applies a delivery or read receipt to cached messages.
func (e *Engine) IngestReceipt(ctx context.Context, u chat.ReceiptUpdate) error {
	n, err := e.db.ApplyReceipt(ctx, u.Receipt, u.Read)
	if err != nil {
		return fmt.Errorf("apply receipt: %w", err)
	}
	e.bus.Emit(EventStored, Stored{Source: chat.EventReceipt, ChatID: u.Receipt.ChatID, Receipts: n})
	return nil
}

// IngestPresence records a user's status change.
func (e *Engine) IngestPresence(ctx context.Context, r presence.Record) error {
	err := e.db.UpsertPresence(ctx, store.Presence{
		UserID:    r.UserID,
		Status:    string(r.Status),
		LastSeen:  r.LastSeen,
		UpdatedAt: r.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("upsert presence: %w", err)
	}
	e.bus.Emit(EventStored, Stored{Source: presence.EventStatusChanged, Presence: 1})
	return nil
}
