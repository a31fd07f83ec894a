package store

import "context"

// ListChats returns cached chats sorted by last message time, newest first.
func (db *DB) ListChats(ctx context.Context, limit, offset int) ([]Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT c.chat_id, c.last_message_at, c.last_message_preview,
			(SELECT COUNT(*) FROM messages m WHERE m.chat_id = c.chat_id)
		FROM chats c
		ORDER BY c.last_message_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		var (
			c    Chat
			last int64
		)
		if err := rows.Scan(&c.ChatID, &last, &c.LastMessagePreview, &c.MessageCount); err != nil {
			return nil, err
		}
		c.LastMessageAt = fromMillis(last)
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// Counts returns how many chats and messages are cached.
func (db *DB) Counts(ctx context.Context) (chats, messages int, err error) {
	err = db.QueryRowContext(ctx, `SELECT (SELECT COUNT(*) FROM chats), (SELECT COUNT(*) FROM messages)`).
		Scan(&chats, &messages)
	return chats, messages, err
}
