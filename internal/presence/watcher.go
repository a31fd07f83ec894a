package presence

import (
	"context"
	"sync"
	"time"

	"github.com/matheus3301/gigline/internal/protocol"
	"go.uber.org/zap"
)

// ChatLeaver leaves the active chat when a watcher is closed.
type ChatLeaver interface {
	LeaveCurrentChat()
}

// WatchOptions are the optional parts of a watch.
type WatchOptions struct {
	// Chat is left on Close.
	Chat ChatLeaver
	// Typing enables the local typing indicator.
	Typing TypingSignaler
	// AppState delivers foreground/background transitions to report as activity.
	AppState <-chan protocol.AppState
}

// Watcher observes one user for as long as a screen is showing them. It holds a
// subscription, a heartbeat reference and optionally the local typing indicator;
// Close releases all of them.
type Watcher struct {
	c      *Controller
	userID string
	opts   WatchOptions
	typing *Typing

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// Watch subscribes to userID, fetches their current status in the background and
// keeps the heartbeat running until the watcher is closed.
func (c *Controller) Watch(ctx context.Context, userID string, opts WatchOptions) *Watcher {
	// While disconnected the subscription is sent on reconnect.
	if err := c.Subscribe(userID); err != nil {
		c.logger.Debug("subscribe deferred", zap.String("user_id", userID), zap.Error(err))
	}
	c.acquireHeartbeat()

	ctx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		c:      c,
		userID: userID,
		opts:   opts,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if opts.Typing != nil {
		w.typing = NewTyping(opts.Typing, c.opts.TypingIdle, c.logger)
	}
	go w.run(ctx)
	return w
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	if _, err := w.c.FetchStatus(ctx, w.userID); err != nil && ctx.Err() == nil {
		w.c.logger.Warn("initial status fetch failed", zap.String("user_id", w.userID), zap.Error(err))
	}
	if w.opts.AppState == nil {
		<-ctx.Done()
		return
	}
	for {
		select {
		case state, ok := <-w.opts.AppState:
			if !ok {
				<-ctx.Done()
				return
			}
			if _, err := w.c.ReportActivity(state); err != nil {
				w.c.logger.Debug("activity report failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// UserID returns the watched user.
func (w *Watcher) UserID() string { return w.userID }

// Status returns the watched user's last known status.
func (w *Watcher) Status() protocol.PresenceState {
	r, _ := w.c.Record(w.userID)
	return r.Status
}

// LastSeen returns when the watched user was last seen online.
func (w *Watcher) LastSeen() time.Time {
	r, _ := w.c.Record(w.userID)
	return r.LastSeen
}

// IsOnline reports whether the watched user is online.
func (w *Watcher) IsOnline() bool {
	return w.c.IsOnline(w.userID)
}

// IsTyping reports whether the local user is currently flagged as typing.
func (w *Watcher) IsTyping() bool {
	return w.typing != nil && w.typing.IsTyping()
}

// Keystroke feeds the local typing indicator. It is a no-op without one.
func (w *Watcher) Keystroke() error {
	if w.typing == nil {
		return nil
	}
	return w.typing.Keystroke()
}

// StopTyping ends the local typing indicator now.
func (w *Watcher) StopTyping() error {
	if w.typing == nil {
		return nil
	}
	return w.typing.Stop()
}

// UpdateStatus sets the signed-in user's own status.
func (w *Watcher) UpdateStatus(s protocol.PresenceState) error {
	return w.c.UpdateStatus(s)
}

// GetBatchStatus looks up several users at once.
func (w *Watcher) GetBatchStatus(ctx context.Context, userIDs []string) (map[string]Record, error) {
	return w.c.GetBatchStatus(ctx, userIDs)
}

// Close unsubscribes, releases the heartbeat, stops listening for app state,
// stops typing and leaves the chat. It is safe to call more than once.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		w.cancel()
		<-w.done
		if w.typing != nil {
			w.typing.Close()
		}
		if err := w.c.Unsubscribe(w.userID); err != nil {
			w.c.logger.Debug("unsubscribe failed", zap.String("user_id", w.userID), zap.Error(err))
		}
		w.c.releaseHeartbeat()
		if w.opts.Chat != nil {
			w.opts.Chat.LeaveCurrentChat()
		}
	})
}
