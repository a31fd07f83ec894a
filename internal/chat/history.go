package chat

import (
	"context"

	"github.com/matheus3301/gigline/internal/protocol"
	"github.com/matheus3301/gigline/internal/timeline"
	"go.uber.org/zap"
)

// Page is one page of history. HasMore is nil when the source does not say.
type Page struct {
	Messages []protocol.Message
	HasMore  *bool
}

// HistorySource reads paginated message history. Pages are 1-indexed, newest first.
type HistorySource interface {
	FetchMessages(ctx context.Context, chatID string, page, limit int) (Page, error)
}

// hasMore derives the flag from the last page: a short page or an explicit
// "no more" ends pagination.
func hasMore(p Page, limit int) bool {
	if len(p.Messages) < limit {
		return false
	}
	return p.HasMore == nil || *p.HasMore
}

// LoadMoreMessages fetches page of the active chat's history and merges it into
// the timeline. page 0 means the page after the last one loaded. On failure the
// timeline and HasMoreMessages are left unchanged and a *HistoryFetchError is
// returned.
func (m *Manager) LoadMoreMessages(ctx context.Context, page int) error {
	m.mu.Lock()
	if m.active == nil {
		m.mu.Unlock()
		return ErrNoActiveChat
	}
	if page <= 0 {
		if !m.hasMore {
			m.mu.Unlock()
			return nil
		}
		page = m.page + 1
	}
	chatID := m.active.ChatID
	gen := m.gen
	limit := m.opts.PageSize
	m.mu.Unlock()

	if m.history == nil {
		return &HistoryFetchError{ChatID: chatID, Page: page, Err: errNoHistory}
	}
	p, err := m.history.FetchMessages(ctx, chatID, page, limit)
	if err != nil {
		m.logger.Warn("history fetch failed", zap.String("chat_id", chatID), zap.Int("page", page), zap.Error(err))
		return &HistoryFetchError{ChatID: chatID, Page: page, Err: err}
	}

	m.mu.Lock()
	if m.gen != gen {
		// The chat was left or switched while the page was in flight.
		m.mu.Unlock()
		return nil
	}
	merged, added := timeline.MergePage(m.messages, p.Messages)
	m.setMessagesLocked(merged)
	m.page = max(m.page, page)
	m.hasMore = hasMore(p, limit)
	more := m.hasMore
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.logger.Debug("history page loaded",
		zap.String("chat_id", chatID),
		zap.Int("page", page),
		zap.Int("fetched", len(p.Messages)),
		zap.Int("added", added),
		zap.Bool("has_more", more))
	m.bus.Emit(EventHistoryLoaded, HistoryLoaded{ChatID: chatID, Page: page, Messages: p.Messages, HasMore: more})
	m.bus.Emit(EventTimelineChanged, snap)
	return nil
}
