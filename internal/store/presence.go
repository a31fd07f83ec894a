package store

import (
	"context"
	"database/sql"
)

// UpsertPresence records a user's latest status. An older update never
// overwrites a newer one.
func (db *DB) UpsertPresence(ctx context.Context, p Presence) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO presence (user_id, status, last_seen, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			status = excluded.status,
			last_seen = excluded.last_seen,
			updated_at = excluded.updated_at
		WHERE excluded.updated_at >= presence.updated_at`,
		p.UserID, p.Status, toMillis(p.LastSeen), toMillis(p.UpdatedAt))
	return err
}

// GetPresence returns a user's cached status, or nil when unknown.
func (db *DB) GetPresence(ctx context.Context, userID string) (*Presence, error) {
	var (
		p                 Presence
		lastSeen, updated int64
	)
	err := db.QueryRowContext(ctx, `SELECT user_id, status, last_seen, updated_at FROM presence WHERE user_id = ?`, userID).
		Scan(&p.UserID, &p.Status, &lastSeen, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.LastSeen = fromMillis(lastSeen)
	p.UpdatedAt = fromMillis(updated)
	return &p, nil
}

// ListPresence returns every cached status ordered by user.
func (db *DB) ListPresence(ctx context.Context) ([]Presence, error) {
	rows, err := db.QueryContext(ctx, `SELECT user_id, status, last_seen, updated_at FROM presence ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Presence
	for rows.Next() {
		var (
			p                 Presence
			lastSeen, updated int64
		)
		if err := rows.Scan(&p.UserID, &p.Status, &lastSeen, &updated); err != nil {
			return nil, err
		}
		p.LastSeen = fromMillis(lastSeen)
		p.UpdatedAt = fromMillis(updated)
		out = append(out, p)
	}
	return out, rows.Err()
}
