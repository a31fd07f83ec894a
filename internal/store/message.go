package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/matheus3301/gigline/internal/chat"
	"github.com/matheus3301/gigline/internal/protocol"
)

const messageColumns = `msg_id, chat_id, sender_id, message_type, content, reply_to, delivered_to, read_by, created_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// UpsertMessage inserts or updates a message (idempotent on chat_id + msg_id).
func (db *DB) UpsertMessage(ctx context.Context, m protocol.Message) error {
	return db.inTx(ctx, func(tx *sql.Tx) error {
		return upsertMessage(ctx, tx, m)
	})
}

// UpsertMessages stores a batch in one transaction. Returns how many were written.
func (db *DB) UpsertMessages(ctx context.Context, msgs []protocol.Message) (int, error) {
	n := 0
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		for _, m := range msgs {
			if m.ID == "" || m.Optimistic {
				continue
			}
			if err := upsertMessage(ctx, tx, m); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func upsertMessage(ctx context.Context, x execer, m protocol.Message) error {
	if m.ID == "" || m.Optimistic {
		return ErrNoMessageID
	}
	content, err := json.Marshal(m.Content)
	if err != nil {
		return fmt.Errorf("encode content: %w", err)
	}
	delivered, read, err := encodeStatus(m.Status)
	if err != nil {
		return err
	}
	created := toMillis(m.CreatedAt)
	now := time.Now().UnixMilli()

	_, err = x.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id, msg_id) DO UPDATE SET
			content = excluded.content,
			delivered_to = excluded.delivered_to,
			read_by = excluded.read_by,
			stored_at = excluded.stored_at`,
		m.ID, m.ChatID, m.SenderID, string(m.Type), string(content), m.ReplyTo, delivered, read, created, now)
	if err != nil {
		return err
	}

	_, err = x.ExecContext(ctx, `
		INSERT INTO chats (chat_id, last_message_at, last_message_preview, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			last_message_at = excluded.last_message_at,
			last_message_preview = excluded.last_message_preview,
			updated_at = excluded.updated_at
		WHERE excluded.last_message_at >= chats.last_message_at`,
		m.ChatID, created, m.Preview(), now)
	return err
}

// GetMessage returns one cached message, or nil when unknown.
func (db *DB) GetMessage(ctx context.Context, chatID, msgID string) (*protocol.Message, error) {
	row := db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE chat_id = ? AND msg_id = ?`, chatID, msgID)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns a page of a chat's messages, newest first. Pages start at 1.
func (db *DB) ListMessages(ctx context.Context, chatID string, page, limit int) ([]protocol.Message, error) {
	if limit <= 0 {
		limit = 20
	}
	if page < 1 {
		page = 1
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE chat_id = ?
		ORDER BY created_at DESC, msg_id DESC
		LIMIT ? OFFSET ?`, chatID, limit, (page-1)*limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []protocol.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// FetchMessages serves history from the cache, so a chat can be browsed
// without a history endpoint.
func (db *DB) FetchMessages(ctx context.Context, chatID string, page, limit int) (chat.Page, error) {
	msgs, err := db.ListMessages(ctx, chatID, page, limit)
	if err != nil {
		return chat.Page{}, err
	}
	more := len(msgs) == limit
	return chat.Page{Messages: msgs, HasMore: &more}, nil
}

// CountMessages returns how many messages are cached for a chat.
func (db *DB) CountMessages(ctx context.Context, chatID string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE chat_id = ?`, chatID).Scan(&n)
	return n, err
}

// ApplyReceipt marks the receipt's messages as delivered to (or read by) its
// user. Returns how many rows changed.
func (db *DB) ApplyReceipt(ctx context.Context, r protocol.Receipt, read bool) (int, error) {
	if r.UserID == "" {
		return 0, nil
	}
	changed := 0
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		for _, id := range r.MessageIDs {
			var deliveredRaw, readRaw string
			err := tx.QueryRowContext(ctx, `SELECT delivered_to, read_by FROM messages WHERE chat_id = ? AND msg_id = ?`, r.ChatID, id).
				Scan(&deliveredRaw, &readRaw)
			if err == sql.ErrNoRows {
				continue
			}
			if err != nil {
				return err
			}
			var st protocol.DeliveryStatus
			if err := decodeStatus(deliveredRaw, readRaw, &st); err != nil {
				return err
			}
			var ok bool
			if read {
				ok = st.MarkRead(r.UserID)
			} else {
				ok = st.MarkDelivered(r.UserID)
			}
			if !ok {
				continue
			}
			delivered, readBy, err := encodeStatus(st)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `UPDATE messages SET delivered_to = ?, read_by = ? WHERE chat_id = ? AND msg_id = ?`,
				delivered, readBy, r.ChatID, id); err != nil {
				return err
			}
			changed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (protocol.Message, error) {
	var (
		m                     protocol.Message
		typ, content          string
		deliveredRaw, readRaw string
		created               int64
	)
	if err := s.Scan(&m.ID, &m.ChatID, &m.SenderID, &typ, &content, &m.ReplyTo, &deliveredRaw, &readRaw, &created); err != nil {
		return m, err
	}
	m.Type = protocol.MessageType(typ)
	m.CreatedAt = fromMillis(created)
	if err := json.Unmarshal([]byte(content), &m.Content); err != nil {
		return m, fmt.Errorf("decode content of %s: %w", m.ID, err)
	}
	if err := decodeStatus(deliveredRaw, readRaw, &m.Status); err != nil {
		return m, err
	}
	m.Status.Sent = true
	return m, nil
}

func encodeStatus(st protocol.DeliveryStatus) (string, string, error) {
	delivered := st.Delivered
	if delivered == nil {
		delivered = []string{}
	}
	read := st.Read
	if read == nil {
		read = []string{}
	}
	d, err := json.Marshal(delivered)
	if err != nil {
		return "", "", err
	}
	r, err := json.Marshal(read)
	if err != nil {
		return "", "", err
	}
	return string(d), string(r), nil
}

func decodeStatus(deliveredRaw, readRaw string, st *protocol.DeliveryStatus) error {
	if err := json.Unmarshal([]byte(deliveredRaw), &st.Delivered); err != nil {
		return fmt.Errorf("decode delivered_to: %w", err)
	}
	if err := json.Unmarshal([]byte(readRaw), &st.Read); err != nil {
		return fmt.Errorf("decode read_by: %w", err)
	}
	return nil
}
