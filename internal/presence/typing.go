package presence

import (
	"sync"
	"time"

	"github.com/matheus3301/gigline/internal/debounce"
	"go.uber.org/zap"
)

// TypingSignaler emits the typing events of the active chat.
type TypingSignaler interface {
	StartTyping() error
	StopTyping() error
}

// Typing turns keystrokes into typing_start / typing_stop. The first keystroke
// signals start right away; typing_stop follows once the input has been idle.
type Typing struct {
	sig    TypingSignaler
	logger *zap.Logger

	mu     sync.Mutex
	typing bool
	idle   *debounce.Debouncer
}

// NewTyping creates a typing indicator that stops after idle without keystrokes.
func NewTyping(sig TypingSignaler, idle time.Duration, logger *zap.Logger) *Typing {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Typing{sig: sig, logger: logger}
	t.idle = debounce.New(idle, t.idleStop)
	return t
}

// Keystroke records input activity.
func (t *Typing) Keystroke() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.typing {
		if err := t.sig.StartTyping(); err != nil {
			return err
		}
		t.typing = true
	}
	t.idle.Trigger()
	return nil
}

// Stop ends typing now, e.g. when the message is sent.
func (t *Typing) Stop() error {
	t.idle.Cancel()
	return t.stop()
}

// IsTyping reports whether typing_start was sent without a matching stop.
func (t *Typing) IsTyping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.typing
}

// Close cancels the idle timer, sending typing_stop if typing.
func (t *Typing) Close() {
	if !t.idle.Flush() {
		_ = t.stop()
	}
}

func (t *Typing) idleStop() {
	if err := t.stop(); err != nil {
		t.logger.Debug("typing stop failed", zap.Error(err))
	}
}

func (t *Typing) stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.typing {
		return nil
	}
	t.typing = false
	return t.sig.StopTyping()
}
