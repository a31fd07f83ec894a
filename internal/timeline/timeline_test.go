package timeline

import (
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/gigline/internal/protocol"
)

var base = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

func msg(id, chat string, at time.Time) protocol.Message {
	return protocol.Message{ID: id, ChatID: chat, SenderID: "u2", Type: protocol.TypeText, CreatedAt: at}
}

func ids(msgs []protocol.Message) string {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = m.ID
	}
	return strings.Join(parts, ",")
}

func TestNewOptimistic(t *testing.T) {
	m := NewOptimistic(protocol.OutgoingMessage{ChatID: "c1", Type: protocol.TypeText, Content: protocol.Content{Text: "hi"}}, "me", base)
	if !m.Optimistic {
		t.Error("Optimistic = false")
	}
	if !strings.HasPrefix(m.ID, TempIDPrefix) || m.TempID != m.ID {
		t.Errorf("id = %q tempId = %q", m.ID, m.TempID)
	}
	if m.SenderID != "me" || m.ChatID != "c1" || !m.CreatedAt.Equal(base) {
		t.Errorf("unexpected message %+v", m)
	}

	kept := NewOptimistic(protocol.OutgoingMessage{ChatID: "c1", TempID: "temp-x"}, "me", base)
	if kept.ID != "temp-x" {
		t.Errorf("id = %q, want supplied temp id", kept.ID)
	}
}

func TestSendConfirmScenario(t *testing.T) {
	var msgs []protocol.Message
	opt := NewOptimistic(protocol.OutgoingMessage{ChatID: "c1", Type: protocol.TypeText, Content: protocol.Content{Text: "hi"}}, "me", base)
	msgs = AppendOptimistic(msgs, opt)
	if len(Optimistic(msgs)) != 1 {
		t.Fatalf("optimistic = %d, want 1", len(Optimistic(msgs)))
	}

	server := msg("m1", "c1", base.Add(time.Second))
	msgs, inserted := Reconcile(msgs, server)
	if !inserted {
		t.Error("inserted = false")
	}
	if len(msgs) != 1 || msgs[0].ID != "m1" || msgs[0].Optimistic {
		t.Errorf("messages = %+v, want only confirmed m1", msgs)
	}
}

func TestReconcileDropsAllOptimisticOfChat(t *testing.T) {
	msgs := []protocol.Message{
		{ID: "temp-a", ChatID: "c1", CreatedAt: base, Optimistic: true},
		{ID: "temp-b", ChatID: "c1", CreatedAt: base.Add(time.Second), Optimistic: true},
		{ID: "temp-c", ChatID: "c2", CreatedAt: base, Optimistic: true},
		msg("m0", "c1", base.Add(-time.Hour)),
	}
	out, _ := Reconcile(msgs, msg("m9", "c1", base.Add(-2*time.Hour)))

	if got := ids(out); got != "temp-c,m0,m9" {
		t.Errorf("ids = %s, want temp-c,m0,m9", got)
	}
	if len(msgs) != 4 {
		t.Error("input slice was modified")
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	m := msg("m1", "c1", base)
	var msgs []protocol.Message
	for i := range 3 {
		var inserted bool
		msgs, inserted = Reconcile(msgs, m)
		if inserted != (i == 0) {
			t.Errorf("delivery %d inserted = %v", i, inserted)
		}
	}
	if len(msgs) != 1 {
		t.Errorf("len = %d, want 1", len(msgs))
	}
}

func TestReconcileOutOfOrderLandsInPlace(t *testing.T) {
	msgs := []protocol.Message{msg("m3", "c1", base.Add(2*time.Hour)), msg("m1", "c1", base)}
	out, _ := Reconcile(msgs, msg("m2", "c1", base.Add(time.Hour)))
	if got := ids(out); got != "m3,m2,m1" {
		t.Errorf("ids = %s, want m3,m2,m1", got)
	}
}

func TestMergePage(t *testing.T) {
	existing := []protocol.Message{msg("m5", "c1", base.Add(5*time.Minute)), msg("m4", "c1", base.Add(4*time.Minute))}
	existing[0].Content.Text = "live"
	page := []protocol.Message{
		{ID: "m5", ChatID: "c1", CreatedAt: base.Add(5 * time.Minute), Content: protocol.Content{Text: "stale"}},
		msg("m2", "c1", base.Add(2*time.Minute)),
		msg("m3", "c1", base.Add(3*time.Minute)),
		{ChatID: "c1"},
	}
	out, added := MergePage(existing, page)

	if added != 2 {
		t.Errorf("added = %d, want 2", added)
	}
	if got := ids(out); got != "m5,m4,m3,m2" {
		t.Errorf("ids = %s, want m5,m4,m3,m2", got)
	}
	if out[0].Content.Text != "live" {
		t.Error("existing message should win over the page copy")
	}
}

func TestApplyReceipt(t *testing.T) {
	msgs := []protocol.Message{msg("m1", "c1", base), msg("m2", "c1", base.Add(time.Minute)), msg("m3", "c2", base)}

	out, changed := ApplyReceipt(msgs, protocol.Receipt{ChatID: "c1", MessageIDs: []string{"m1", "m3"}, UserID: "u9"}, true)
	if !changed {
		t.Fatal("changed = false")
	}
	for _, m := range out {
		want := m.ID == "m1"
		if m.Status.ReadBy("u9") != want || m.Status.DeliveredTo("u9") != want {
			t.Errorf("%s read=%v delivered=%v, want %v", m.ID, m.Status.ReadBy("u9"), m.Status.DeliveredTo("u9"), want)
		}
	}
	if msgs[0].Status.ReadBy("u9") || msgs[1].Status.ReadBy("u9") {
		t.Error("input slice was modified")
	}

	if _, changed := ApplyReceipt(out, protocol.Receipt{ChatID: "c1", MessageIDs: []string{"m1"}, UserID: "u9"}, false); changed {
		t.Error("repeated receipt should not change anything")
	}
	if _, changed := ApplyReceipt(out, protocol.Receipt{ChatID: "c1", MessageIDs: []string{"m1"}}, false); changed {
		t.Error("receipt without user should be ignored")
	}
}

func TestUnread(t *testing.T) {
	mine := msg("m1", "c1", base)
	mine.SenderID = "me"
	read := msg("m2", "c1", base)
	read.Status.MarkRead("me")
	opt := msg("temp-1", "c1", base)
	opt.Optimistic = true
	msgs := []protocol.Message{mine, read, opt, msg("m3", "c1", base)}

	got := Unread(msgs, "me")
	if len(got) != 1 || got[0] != "m3" {
		t.Errorf("Unread() = %v, want [m3]", got)
	}
}
