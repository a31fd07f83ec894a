package store

import "time"

// Chat summarizes a cached chat.
type Chat struct {
	ChatID             string
	LastMessageAt      time.Time
	LastMessagePreview string
	MessageCount       int
}

// Presence is the last known status of a user.
type Presence struct {
	UserID    string
	Status    string
	LastSeen  time.Time
	UpdatedAt time.Time
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
