// Package presence tracks the online state of observed users, keeps the
// application heartbeat alive, reports foreground activity and debounces the
// local typing indicator.
package presence

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/gigline/internal/bus"
	"github.com/matheus3301/gigline/internal/protocol"
	"github.com/matheus3301/gigline/internal/status"
	"github.com/matheus3301/gigline/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrMismatchedReply is returned when a status answer names a different user
// than the one asked about.
var ErrMismatchedReply = errors.New("status reply for another user")

// Bus events published by the controller.
const (
	EventStatusChanged = "presence.status_changed" // Record
	EventTypingChanged = "presence.typing_changed" // protocol.TypingNotice
)

// Transport is the part of the realtime transport the controller uses.
type Transport interface {
	transport.Emitter
	transport.Listener
	transport.Requester
}

// Record is the last known presence of a user. It is a cache, not a source of truth.
type Record struct {
	UserID    string
	Status    protocol.PresenceState
	LastSeen  time.Time
	UpdatedAt time.Time
}

// IsOnline reports whether the user was last seen online.
func (r Record) IsOnline() bool {
	return r.Status == protocol.Online
}

// Options configures a Controller.
type Options struct {
	HeartbeatInterval   time.Duration
	ActivityMinInterval time.Duration
	TypingIdle          time.Duration
	Now                 func() time.Time
}

func (o *Options) setDefaults() {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 25 * time.Second
	}
	if o.ActivityMinInterval <= 0 {
		o.ActivityMinInterval = 2 * time.Second
	}
	if o.TypingIdle <= 0 {
		o.TypingIdle = 2 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

type typingKey struct {
	chatID string
	userID string
}

// Controller holds presence records for every observed user. One controller
// serves any number of watchers.
type Controller struct {
	tr     Transport
	bus    *bus.Bus
	logger *zap.Logger
	opts   Options

	mu            sync.Mutex
	records       map[string]Record
	typing        map[typingKey]bool
	subs          map[string]int
	heartbeatRefs int
	heartbeatStop chan struct{}
	activity      *rate.Limiter

	handlerIDs []transport.HandlerID
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewController creates a controller.
func NewController(tr Transport, b *bus.Bus, logger *zap.Logger, opts Options) *Controller {
	opts.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		tr:       tr,
		bus:      b,
		logger:   logger.Named("presence"),
		opts:     opts,
		records:  make(map[string]Record),
		typing:   make(map[typingKey]bool),
		subs:     make(map[string]int),
		activity: rate.NewLimiter(rate.Every(opts.ActivityMinInterval), 1),
	}
}

// Start registers the inbound handlers and resubscribes watched users whenever
// the transport reconnects.
func (c *Controller) Start(ctx context.Context) {
	c.handlerIDs = []transport.HandlerID{
		transport.Listen(c.tr, protocol.StatusChange, c.onStatus),
		transport.Listen(c.tr, protocol.StatusResponse, c.onStatus),
		transport.Listen(c.tr, protocol.BatchStatusResponse, c.onBatch),
		transport.Listen(c.tr, protocol.Subscribed, c.onSubscribed),
		transport.Listen(c.tr, protocol.UserTyping, c.onTyping),
	}
	if c.bus == nil {
		return
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	ch, unsub := c.bus.Subscribe(status.EventStateChanged, 16)
	go func() {
		defer close(c.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				if sc, ok := evt.Payload.(status.StatusChange); ok && sc.To == status.Connected {
					c.resubscribe()
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop removes the handlers and stops the heartbeat.
func (c *Controller) Stop() {
	for _, id := range c.handlerIDs {
		c.tr.Off(id)
	}
	c.handlerIDs = nil
	if c.cancel != nil {
		c.cancel()
		<-c.done
		c.cancel = nil
	}

	c.mu.Lock()
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
	c.heartbeatRefs = 0
	c.mu.Unlock()
}

// Record returns the cached presence of userID.
func (c *Controller) Record(userID string) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.records[userID]
	return r, ok
}

// IsOnline reports whether userID was last seen online.
func (c *Controller) IsOnline(userID string) bool {
	r, _ := c.Record(userID)
	return r.IsOnline()
}

// IsTyping reports whether userID is typing in chatID according to the server.
func (c *Controller) IsTyping(chatID, userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typing[typingKey{chatID, userID}]
}

// TypingUsers lists who is typing in chatID.
func (c *Controller) TypingUsers(chatID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var users []string
	for k, on := range c.typing {
		if on && k.chatID == chatID {
			users = append(users, k.userID)
		}
	}
	slices.Sort(users)
	return users
}

// Subscribe starts watching userIDs. Only ids that were not watched yet are sent
// to the server.
func (c *Controller) Subscribe(userIDs ...string) error {
	c.mu.Lock()
	var added []string
	for _, id := range userIDs {
		if id == "" {
			continue
		}
		c.subs[id]++
		if c.subs[id] == 1 {
			added = append(added, id)
		}
	}
	c.mu.Unlock()

	if len(added) == 0 {
		return nil
	}
	return send(c, protocol.Subscribe, protocol.UserList{UserIDs: added})
}

// Unsubscribe releases one watch on each of userIDs. Ids nobody watches any more
// are sent to the server.
func (c *Controller) Unsubscribe(userIDs ...string) error {
	c.mu.Lock()
	var removed []string
	for _, id := range userIDs {
		n, ok := c.subs[id]
		if !ok {
			continue
		}
		if n <= 1 {
			delete(c.subs, id)
			removed = append(removed, id)
			continue
		}
		c.subs[id] = n - 1
	}
	c.mu.Unlock()

	if len(removed) == 0 {
		return nil
	}
	return send(c, protocol.Unsubscribe, protocol.UserList{UserIDs: removed})
}

// Watched lists the ids with at least one active watch.
func (c *Controller) Watched() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (c *Controller) resubscribe() {
	ids := c.Watched()
	if len(ids) == 0 {
		return
	}
	c.logger.Info("resubscribing after reconnect", zap.Int("users", len(ids)))
	_ = send(c, protocol.Subscribe, protocol.UserList{UserIDs: ids})
}

// FetchStatus asks the server for userID's status and waits for the answer
// correlated by targetId.
func (c *Controller) FetchStatus(ctx context.Context, userID string) (Record, error) {
	report, err := transport.Call(ctx, c.tr, protocol.GetStatus, protocol.StatusQuery{UserID: userID}, userID, protocol.StatusResponse)
	if err != nil {
		return Record{}, err
	}
	if report.UserID == "" {
		report.UserID = userID
	}
	if report.UserID != userID {
		return Record{}, fmt.Errorf("%w: asked for %q, got %q", ErrMismatchedReply, userID, report.UserID)
	}
	return c.apply(report), nil
}

// GetBatchStatus asks for the status of several users at once. The response
// listener is attached before the request is emitted, and each call carries its
// own correlation id so concurrent lookups do not steal each other's answers.
func (c *Controller) GetBatchStatus(ctx context.Context, userIDs []string) (map[string]Record, error) {
	if len(userIDs) == 0 {
		return map[string]Record{}, nil
	}
	report, err := transport.Call(ctx, c.tr, protocol.GetBatchStatus, protocol.UserList{UserIDs: userIDs}, uuid.NewString(), protocol.BatchStatusResponse)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Record, len(report.Statuses))
	for _, s := range report.Statuses {
		if s.UserID == "" {
			continue
		}
		out[s.UserID] = c.apply(s)
	}
	return out, nil
}

// UpdateStatus sets the signed-in user's own status.
func (c *Controller) UpdateStatus(s protocol.PresenceState) error {
	if s == "" {
		return errors.New("status is required")
	}
	return send(c, protocol.UpdateStatus, protocol.StatusUpdate{Status: s})
}

// ReportActivity emits USER_ACTIVITY for an app state transition, at most once per
// ActivityMinInterval. sent is false when the report was rate limited.
func (c *Controller) ReportActivity(state protocol.AppState) (sent bool, err error) {
	now := c.opts.Now()
	if !c.activity.AllowN(now, 1) {
		c.logger.Debug("activity report rate limited", zap.String("state", string(state)))
		return false, nil
	}
	err = send(c, protocol.UserActivity, protocol.ActivityReport{State: state, Timestamp: now.UnixMilli()})
	return err == nil, err
}

// HeartbeatRunning reports whether the heartbeat loop is active.
func (c *Controller) HeartbeatRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.heartbeatStop != nil
}

func (c *Controller) acquireHeartbeat() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.heartbeatRefs++
	if c.heartbeatRefs == 1 {
		c.heartbeatStop = make(chan struct{})
		go c.heartbeatLoop(c.heartbeatStop)
	}
}

func (c *Controller) releaseHeartbeat() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.heartbeatRefs == 0 {
		return
	}
	c.heartbeatRefs--
	if c.heartbeatRefs == 0 && c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
}

func (c *Controller) heartbeatLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_ = send(c, protocol.Heartbeat, protocol.HeartbeatPing{Timestamp: c.opts.Now().UnixMilli()})
		}
	}
}

// apply stores a server report and publishes the change.
func (c *Controller) apply(report protocol.StatusReport) Record {
	c.mu.Lock()
	prev, existed := c.records[report.UserID]
	r := Record{
		UserID:    report.UserID,
		Status:    report.Status,
		LastSeen:  report.LastSeen,
		UpdatedAt: c.opts.Now(),
	}
	if r.LastSeen.IsZero() {
		switch {
		case r.IsOnline() && (!existed || prev.Status != r.Status):
			r.LastSeen = r.UpdatedAt
		default:
			// Repeated online reports keep the stamp taken when the user came online.
			r.LastSeen = prev.LastSeen
		}
	}
	c.records[report.UserID] = r
	c.mu.Unlock()

	if !existed || prev.Status != r.Status || !prev.LastSeen.Equal(r.LastSeen) {
		c.bus.Emit(EventStatusChanged, r)
	}
	return r
}

func (c *Controller) onStatus(report protocol.StatusReport, env protocol.Envelope) error {
	if report.UserID == "" {
		report.UserID = env.TargetID
	}
	if report.UserID == "" {
		return errors.New("status report without user")
	}
	c.apply(report)
	return nil
}

func (c *Controller) onBatch(report protocol.BatchStatusReport, _ protocol.Envelope) error {
	for _, s := range report.Statuses {
		if s.UserID != "" {
			c.apply(s)
		}
	}
	return nil
}

func (c *Controller) onSubscribed(list protocol.UserList, _ protocol.Envelope) error {
	c.logger.Debug("subscription confirmed", zap.Strings("user_ids", list.UserIDs))
	return nil
}

func (c *Controller) onTyping(n protocol.TypingNotice, _ protocol.Envelope) error {
	key := typingKey{n.ChatID, n.UserID}
	c.mu.Lock()
	changed := c.typing[key] != n.IsTyping
	if n.IsTyping {
		c.typing[key] = true
	} else {
		delete(c.typing, key)
	}
	c.mu.Unlock()

	if changed {
		c.bus.Emit(EventTypingChanged, n)
	}
	return nil
}

func send[T any](c *Controller, ev protocol.Event[T], payload T) error {
	return transport.Send(c.tr, ev, payload, "")
}
