// Package timeline holds the pure state transitions of a chat's message list:
// optimistic inserts, reconciliation against server messages, history merges,
// receipts and day grouping. Every function returns a new slice and leaves its
// input untouched.
package timeline

import (
	"cmp"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/gigline/internal/protocol"
)

// TempIDPrefix marks identifiers generated locally for optimistic messages.
const TempIDPrefix = "temp-"

// NewTempID returns a fresh temporary message id.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

// NewOptimistic builds the local copy of a message the user just submitted.
func NewOptimistic(out protocol.OutgoingMessage, senderID string, now time.Time) protocol.Message {
	tempID := out.TempID
	if tempID == "" {
		tempID = NewTempID()
	}
	return protocol.Message{
		ID:         tempID,
		TempID:     tempID,
		ChatID:     out.ChatID,
		SenderID:   senderID,
		Type:       out.Type,
		Content:    out.Content,
		CreatedAt:  now,
		ReplyTo:    out.ReplyTo,
		Optimistic: true,
	}
}

// Sort orders messages newest first. Ties on CreatedAt are broken by ID so the
// order is deterministic.
func Sort(msgs []protocol.Message) {
	slices.SortStableFunc(msgs, func(a, b protocol.Message) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
}

// AppendOptimistic adds a locally created message.
func AppendOptimistic(msgs []protocol.Message, m protocol.Message) []protocol.Message {
	m.Optimistic = true
	out := append(slices.Clone(msgs), m)
	Sort(out)
	return out
}

// Reconcile applies a server-confirmed message. Every optimistic message of the same
// chat is dropped, whether or not it corresponds to incoming, and incoming is added
// unless a message with its id is already present. inserted reports the latter.
func Reconcile(msgs []protocol.Message, incoming protocol.Message) (out []protocol.Message, inserted bool) {
	incoming.Optimistic = false
	out = make([]protocol.Message, 0, len(msgs)+1)
	present := false
	for _, m := range msgs {
		if m.Optimistic && m.ChatID == incoming.ChatID {
			continue
		}
		if m.ID == incoming.ID {
			present = true
		}
		out = append(out, m)
	}
	if !present {
		out = append(out, incoming)
	}
	Sort(out)
	return out, !present
}

// MergePage merges a page of history into msgs, dropping ids already present.
// Messages already in msgs win since live events are at least as fresh as history.
func MergePage(msgs, page []protocol.Message) (out []protocol.Message, added int) {
	seen := make(map[string]struct{}, len(msgs)+len(page))
	out = make([]protocol.Message, 0, len(msgs)+len(page))
	for _, m := range msgs {
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	for _, m := range page {
		if _, dup := seen[m.ID]; dup || m.ID == "" {
			continue
		}
		seen[m.ID] = struct{}{}
		m.Optimistic = false
		out = append(out, m)
		added++
	}
	Sort(out)
	return out, added
}

// ApplyReceipt marks the receipt's messages as delivered to, or read by, its user.
// changed reports whether any message was updated.
func ApplyReceipt(msgs []protocol.Message, r protocol.Receipt, read bool) (out []protocol.Message, changed bool) {
	if r.UserID == "" || len(r.MessageIDs) == 0 {
		return msgs, false
	}
	out = slices.Clone(msgs)
	for i, m := range out {
		if m.ChatID != r.ChatID || !slices.Contains(r.MessageIDs, m.ID) {
			continue
		}
		m = m.Clone()
		var ok bool
		if read {
			ok = m.Status.MarkRead(r.UserID)
		} else {
			ok = m.Status.MarkDelivered(r.UserID)
		}
		if ok {
			out[i] = m
			changed = true
		}
	}
	if !changed {
		return msgs, false
	}
	return out, true
}

// Optimistic returns the messages still awaiting confirmation.
func Optimistic(msgs []protocol.Message) []protocol.Message {
	var out []protocol.Message
	for _, m := range msgs {
		if m.Optimistic {
			out = append(out, m)
		}
	}
	return out
}

// Unread returns ids of messages not sent by userID that userID has not read yet.
func Unread(msgs []protocol.Message, userID string) []string {
	var ids []string
	for _, m := range msgs {
		if m.Optimistic || m.SenderID == userID || m.Status.ReadBy(userID) {
			continue
		}
		ids = append(ids, m.ID)
	}
	return ids
}
