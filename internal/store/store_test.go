package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/gigline/internal/protocol"
)

var t0 = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	db, _, err := OpenAndMigrate(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func msg(chatID, id string, at time.Time, text string) protocol.Message {
	return protocol.Message{
		ID:        id,
		ChatID:    chatID,
		SenderID:  "u2",
		Type:      protocol.TypeText,
		Content:   protocol.Content{Text: text},
		CreatedAt: at,
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}

	version, dirty, err := db.SchemaVersion()
	if err != nil {
		t.Fatal(err)
	}
	if version != 1 || dirty {
		t.Errorf("SchemaVersion() = %d, %v", version, dirty)
	}
}

func TestSchemaVersionOnFreshDB(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "fresh.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	version, _, err := db.SchemaVersion()
	if err != nil {
		t.Fatal(err)
	}
	if version != 0 {
		t.Errorf("version = %d, want 0", version)
	}
}

func TestUpsertMessageRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	m := msg("c1", "m1", t0, "hello")
	m.ReplyTo = "m0"
	m.Status.Delivered = []string{"u3"}
	if err := db.UpsertMessage(ctx, m); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetMessage(ctx, "c1", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("message not found")
	}
	if got.Content.Text != "hello" || got.ReplyTo != "m0" || got.SenderID != "u2" {
		t.Errorf("got %+v", got)
	}
	if !got.CreatedAt.Equal(t0) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, t0)
	}
	if !got.Status.DeliveredTo("u3") {
		t.Errorf("delivered = %v", got.Status.Delivered)
	}

	m.Content.Text = "edited"
	if err := db.UpsertMessage(ctx, m); err != nil {
		t.Fatal(err)
	}
	n, _ := db.CountMessages(ctx, "c1")
	if n != 1 {
		t.Errorf("count = %d after re-upsert, want 1", n)
	}
	got, _ = db.GetMessage(ctx, "c1", "m1")
	if got.Content.Text != "edited" {
		t.Errorf("text = %q, want edited", got.Content.Text)
	}
}

func TestUpsertRejectsOptimistic(t *testing.T) {
	db := testDB(t)

	m := msg("c1", "temp-1", t0, "pending")
	m.Optimistic = true
	if err := db.UpsertMessage(context.Background(), m); !errors.Is(err, ErrNoMessageID) {
		t.Errorf("err = %v, want ErrNoMessageID", err)
	}
	if err := db.UpsertMessage(context.Background(), msg("c1", "", t0, "x")); !errors.Is(err, ErrNoMessageID) {
		t.Errorf("err = %v, want ErrNoMessageID", err)
	}
}

func TestUpsertMessagesSkipsOptimistic(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	pending := msg("c1", "temp-1", t0, "pending")
	pending.Optimistic = true
	batch := []protocol.Message{
		msg("c1", "m1", t0, "a"),
		pending,
		msg("c1", "m2", t0.Add(time.Minute), "b"),
	}
	n, err := db.UpsertMessages(ctx, batch)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("written = %d, want 2", n)
	}
}

func TestListMessagesPaginatesNewestFirst(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	var batch []protocol.Message
	for i := range 5 {
		batch = append(batch, msg("c1", fmt.Sprintf("m%d", i), t0.Add(time.Duration(i)*time.Minute), "x"))
	}
	batch = append(batch, msg("c2", "other", t0, "y"))
	if _, err := db.UpsertMessages(ctx, batch); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		page int
		want []string
	}{
		{1, []string{"m4", "m3"}},
		{2, []string{"m2", "m1"}},
		{3, []string{"m0"}},
		{4, nil},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("page %d", tt.page), func(t *testing.T) {
			got, err := db.ListMessages(ctx, "c1", tt.page, 2)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d messages, want %d", len(got), len(tt.want))
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("[%d] = %s, want %s", i, got[i].ID, id)
				}
			}
		})
	}
}

func TestFetchMessagesReportsHasMore(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for i := range 3 {
		if err := db.UpsertMessage(ctx, msg("c1", fmt.Sprintf("m%d", i), t0.Add(time.Duration(i)*time.Second), "x")); err != nil {
			t.Fatal(err)
		}
	}

	p, err := db.FetchMessages(ctx, "c1", 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if p.HasMore == nil || !*p.HasMore {
		t.Errorf("page 1 HasMore = %v, want true", p.HasMore)
	}
	p, err = db.FetchMessages(ctx, "c1", 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if p.HasMore == nil || *p.HasMore || len(p.Messages) != 1 {
		t.Errorf("page 2 = %d messages, HasMore %v", len(p.Messages), p.HasMore)
	}
}

func TestApplyReceipt(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for _, id := range []string{"m1", "m2"} {
		if err := db.UpsertMessage(ctx, msg("c1", id, t0, "x")); err != nil {
			t.Fatal(err)
		}
	}

	r := protocol.Receipt{ChatID: "c1", MessageIDs: []string{"m1", "m2", "missing"}, UserID: "u3"}
	n, err := db.ApplyReceipt(ctx, r, false)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("delivered changed = %d, want 2", n)
	}
	if n, _ := db.ApplyReceipt(ctx, r, false); n != 0 {
		t.Errorf("repeated receipt changed = %d, want 0", n)
	}

	r.MessageIDs = []string{"m1"}
	if n, _ := db.ApplyReceipt(ctx, r, true); n != 1 {
		t.Errorf("read changed = %d, want 1", n)
	}
	got, _ := db.GetMessage(ctx, "c1", "m1")
	if !got.Status.ReadBy("u3") || !got.Status.DeliveredTo("u3") {
		t.Errorf("status = %+v", got.Status)
	}

	if n, _ := db.ApplyReceipt(ctx, protocol.Receipt{ChatID: "c1", MessageIDs: []string{"m2"}}, true); n != 0 {
		t.Errorf("receipt without user changed = %d, want 0", n)
	}
}

func TestListChats(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	batch := []protocol.Message{
		msg("c1", "m1", t0, "old"),
		msg("c2", "m2", t0.Add(time.Hour), "newest"),
		msg("c1", "m3", t0.Add(time.Minute), "latest in c1"),
	}
	if _, err := db.UpsertMessages(ctx, batch); err != nil {
		t.Fatal(err)
	}
	// An older message arriving late must not replace the preview.
	if err := db.UpsertMessage(ctx, msg("c1", "m0", t0.Add(-time.Hour), "ancient")); err != nil {
		t.Fatal(err)
	}

	chats, err := db.ListChats(ctx, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 2 {
		t.Fatalf("got %d chats, want 2", len(chats))
	}
	if chats[0].ChatID != "c2" {
		t.Errorf("first chat = %s, want c2", chats[0].ChatID)
	}
	if chats[1].LastMessagePreview != "latest in c1" || chats[1].MessageCount != 3 {
		t.Errorf("c1 = %+v", chats[1])
	}
}

func TestPresence(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := db.UpsertPresence(ctx, Presence{UserID: "u1", Status: "online", UpdatedAt: t0}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertPresence(ctx, Presence{UserID: "u1", Status: "offline", LastSeen: t0.Add(-time.Minute), UpdatedAt: t0.Add(-time.Hour)}); err != nil {
		t.Fatal(err)
	}
	p, err := db.GetPresence(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if p == nil || p.Status != "online" {
		t.Fatalf("stale update applied: %+v", p)
	}

	if err := db.UpsertPresence(ctx, Presence{UserID: "u1", Status: "away", LastSeen: t0, UpdatedAt: t0.Add(time.Minute)}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertPresence(ctx, Presence{UserID: "u0", Status: "online", UpdatedAt: t0}); err != nil {
		t.Fatal(err)
	}

	all, err := db.ListPresence(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].UserID != "u0" {
		t.Fatalf("ListPresence() = %+v", all)
	}
	if all[1].Status != "away" || !all[1].LastSeen.Equal(t0) {
		t.Errorf("u1 = %+v", all[1])
	}

	missing, err := db.GetPresence(ctx, "nobody")
	if err != nil || missing != nil {
		t.Errorf("GetPresence(nobody) = %+v, %v", missing, err)
	}
}

func TestCounts(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	batch := []protocol.Message{msg("c1", "m1", t0, "a"), msg("c1", "m2", t0, "b"), msg("c2", "m3", t0, "c")}
	if _, err := db.UpsertMessages(ctx, batch); err != nil {
		t.Fatal(err)
	}
	chats, messages, err := db.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if chats != 2 || messages != 3 {
		t.Errorf("Counts() = %d, %d, want 2, 3", chats, messages)
	}
}
