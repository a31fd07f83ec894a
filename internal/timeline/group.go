package timeline

import (
	"time"

	"github.com/matheus3301/gigline/internal/protocol"
)

// Section is one calendar day of messages, newest first.
type Section struct {
	Title    string             `json:"title"`
	Day      time.Time          `json:"day"`
	Messages []protocol.Message `json:"data"`
}

// Group buckets msgs by calendar day in now's location. Sections are ordered most
// recent day first and each section's messages newest first, whatever the order
// of msgs.
func Group(msgs []protocol.Message, now time.Time) []Section {
	if len(msgs) == 0 {
		return nil
	}
	sorted := make([]protocol.Message, len(msgs))
	copy(sorted, msgs)
	Sort(sorted)

	loc := now.Location()
	var sections []Section
	for _, m := range sorted {
		day := startOfDay(m.CreatedAt.In(loc))
		if n := len(sections); n > 0 && sections[n-1].Day.Equal(day) {
			sections[n-1].Messages = append(sections[n-1].Messages, m)
			continue
		}
		sections = append(sections, Section{
			Title:    DayLabel(day, now),
			Day:      day,
			Messages: []protocol.Message{m},
		})
	}
	return sections
}

// DayLabel names the day containing t relative to now: "Today", "Yesterday", or
// the full date.
func DayLabel(t, now time.Time) string {
	loc := now.Location()
	day := startOfDay(t.In(loc))
	today := startOfDay(now)
	switch {
	case day.Equal(today):
		return "Today"
	case day.Equal(today.AddDate(0, 0, -1)):
		return "Yesterday"
	default:
		return day.Format("January 2, 2006")
	}
}

// Flatten returns the messages of sections in display order.
func Flatten(sections []Section) []protocol.Message {
	var out []protocol.Message
	for _, s := range sections {
		out = append(out, s.Messages...)
	}
	return out
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
