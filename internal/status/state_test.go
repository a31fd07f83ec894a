package status

import (
	"testing"
	"time"

	"github.com/matheus3301/gigline/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Disconnected {
		t.Errorf("initial state = %s, want %s", m.Current(), Disconnected)
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		name string
		path []State
	}{
		{"connect", []State{Connecting, Connected}},
		{"connect failure", []State{Connecting, Disconnected}},
		{"drop and reconnect", []State{Connecting, Connected, Disconnected, Connecting, Connected}},
		{"explicit disconnect", []State{Connecting, Connected, Disconnected}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine(nil)
			for _, s := range tt.path {
				if err := m.Transition(s); err != nil {
					t.Fatalf("Transition(%s) error = %v", s, err)
				}
			}
			if got := m.Current(); got != tt.path[len(tt.path)-1] {
				t.Errorf("Current() = %s, want %s", got, tt.path[len(tt.path)-1])
			}
		})
	}
}

func TestInvalidTransitions(t *testing.T) {
	tests := []struct {
		name  string
		setup []State
		to    State
	}{
		{"disconnected to connected", nil, Connected},
		{"disconnected to disconnected", nil, Disconnected},
		{"connecting to connecting", []State{Connecting}, Connecting},
		{"connected to connecting", []State{Connecting, Connected}, Connecting},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine(nil)
			for _, s := range tt.setup {
				if err := m.Transition(s); err != nil {
					t.Fatal(err)
				}
			}
			before := m.Current()
			if err := m.Transition(tt.to); err == nil {
				t.Errorf("Transition(%s) from %s should fail", tt.to, before)
			}
			if m.Current() != before {
				t.Errorf("state changed to %s on invalid transition", m.Current())
			}
		})
	}
}

func TestTransitionPublishesEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("transport.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		if evt.Kind != EventStateChanged {
			t.Errorf("kind = %q, want %q", evt.Kind, EventStateChanged)
		}
		sc, ok := evt.Payload.(StatusChange)
		if !ok {
			t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
		}
		if sc.From != Disconnected || sc.To != Connecting {
			t.Errorf("change = %+v, want disconnected -> connecting", sc)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for state change event")
	}
}

func TestSinceAdvances(t *testing.T) {
	m := NewMachine(nil)
	first := m.Since()
	time.Sleep(5 * time.Millisecond)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}
	if !m.Since().After(first) {
		t.Error("Since() should advance on transition")
	}
}
