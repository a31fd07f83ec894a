package timeline

import (
	"testing"
	"time"

	"github.com/matheus3301/gigline/internal/protocol"
)

func TestDayLabel(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	tests := []struct {
		at   time.Time
		want string
	}{
		{now, "Today"},
		{time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), "Today"},
		{time.Date(2026, 3, 9, 23, 59, 0, 0, time.UTC), "Yesterday"},
		{time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC), "March 8, 2026"},
		{time.Date(2025, 12, 31, 12, 0, 0, 0, time.UTC), "December 31, 2025"},
	}
	for _, tt := range tests {
		if got := DayLabel(tt.at, now); got != tt.want {
			t.Errorf("DayLabel(%v) = %q, want %q", tt.at, got, tt.want)
		}
	}
}

func TestDayLabelUsesClockLocation(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, loc)
	// 02:00 UTC on the 10th is still the 9th at UTC-5.
	at := time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)
	if got := DayLabel(at, now); got != "Yesterday" {
		t.Errorf("DayLabel() = %q, want Yesterday", got)
	}
}

func TestGroup(t *testing.T) {
	now := time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)
	msgs := []protocol.Message{
		msg("a", "c1", time.Date(2026, 3, 8, 10, 0, 0, 0, time.UTC)),
		msg("b", "c1", time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)),
		msg("c", "c1", time.Date(2026, 3, 9, 22, 0, 0, 0, time.UTC)),
		msg("d", "c1", time.Date(2026, 3, 10, 17, 0, 0, 0, time.UTC)),
		msg("e", "c1", time.Date(2026, 3, 8, 11, 0, 0, 0, time.UTC)),
	}
	sections := Group(msgs, now)

	want := []struct {
		title string
		ids   string
	}{
		{"Today", "d,b"},
		{"Yesterday", "c"},
		{"March 8, 2026", "e,a"},
	}
	if len(sections) != len(want) {
		t.Fatalf("sections = %d, want %d", len(sections), len(want))
	}
	for i, w := range want {
		if sections[i].Title != w.title {
			t.Errorf("section %d title = %q, want %q", i, sections[i].Title, w.title)
		}
		if got := ids(sections[i].Messages); got != w.ids {
			t.Errorf("section %d ids = %s, want %s", i, got, w.ids)
		}
	}
	if got := ids(Flatten(sections)); got != "d,b,c,e,a" {
		t.Errorf("Flatten() = %s", got)
	}
}

func TestGroupOneSectionPerDay(t *testing.T) {
	now := time.Date(2026, 3, 30, 12, 0, 0, 0, time.UTC)
	var msgs []protocol.Message
	for day := 1; day <= 20; day++ {
		// Insert in a scrambled order.
		d := (day*7)%20 + 1
		msgs = append(msgs, msg(string(rune('a'+d)), "c1", time.Date(2026, 3, d, 12, 0, 0, 0, time.UTC)))
	}
	sections := Group(msgs, now)
	if len(sections) != 20 {
		t.Fatalf("sections = %d, want 20", len(sections))
	}
	for i := 1; i < len(sections); i++ {
		if !sections[i-1].Day.After(sections[i].Day) {
			t.Errorf("section %d (%s) is not after section %d (%s)", i-1, sections[i-1].Title, i, sections[i].Title)
		}
	}
}

func TestGroupEmpty(t *testing.T) {
	if got := Group(nil, time.Now()); got != nil {
		t.Errorf("Group(nil) = %v, want nil", got)
	}
}
