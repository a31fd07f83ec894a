package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/gigline/internal/bus"
	"github.com/matheus3301/gigline/internal/chat"
	"github.com/matheus3301/gigline/internal/presence"
	"github.com/matheus3301/gigline/internal/status"
	"github.com/matheus3301/gigline/internal/store"
	"github.com/matheus3301/gigline/internal/timeline"
	"github.com/matheus3301/gigline/internal/transport"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// DefaultWatchPrefixes are streamed by WatchEvents when the request names none.
var DefaultWatchPrefixes = []string{"chat.", "presence.", "transport."}

// Connection is the part of the transport the agent service reports on.
type Connection interface {
	State() status.State
	GaveUp() bool
	Connect(ctx context.Context) error
}

// AgentService implements AgentServer on top of the running components.
type AgentService struct {
	profile   string
	pageSize  int
	startedAt time.Time
	now       func() time.Time

	conn     Connection
	machine  *status.Machine
	chats    *chat.Manager
	presence *presence.Controller
	db       *store.DB
	bus      *bus.Bus
	logger   *zap.Logger
}

// Deps groups what AgentService reads from.
type Deps struct {
	Profile  string
	PageSize int
	Now      func() time.Time

	Conn     Connection
	Machine  *status.Machine
	Chats    *chat.Manager
	Presence *presence.Controller
	DB       *store.DB
	Bus      *bus.Bus
	Logger   *zap.Logger
}

// NewAgentService creates the service.
func NewAgentService(d Deps) *AgentService {
	if d.PageSize <= 0 {
		d.PageSize = 20
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &AgentService{
		profile:   d.Profile,
		pageSize:  d.PageSize,
		startedAt: d.Now(),
		now:       d.Now,
		conn:      d.Conn,
		machine:   d.Machine,
		chats:     d.Chats,
		presence:  d.Presence,
		db:        d.DB,
		bus:       d.Bus,
		logger:    d.Logger,
	}
}

func (s *AgentService) GetStatus(ctx context.Context, _ *StatusRequest) (*StatusResponse, error) {
	resp := &StatusResponse{
		Profile:  s.profile,
		State:    string(s.conn.State()),
		GaveUp:   s.conn.GaveUp(),
		UptimeMs: s.now().Sub(s.startedAt).Milliseconds(),
	}
	if s.machine != nil {
		resp.StateSince = s.machine.Since()
	}
	if session, ok := s.chats.ActiveChat(); ok {
		resp.ActiveChat = session.ChatID
	}
	resp.Watched = s.presence.Watched()

	if s.db != nil {
		chats, msgs, err := s.db.Counts(ctx)
		if err != nil {
			s.logger.Warn("cache counts unavailable", zap.Error(err))
		}
		resp.ChatCount, resp.MessageCount = chats, msgs
	}
	return resp, nil
}

func (s *AgentService) Connect(ctx context.Context, _ *ConnectRequest) (*ConnectResponse, error) {
	if err := s.conn.Connect(ctx); err != nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "connect: %v", err)
	}
	return &ConnectResponse{State: string(s.conn.State())}, nil
}

// SendText joins the chat when it is not the active one, then sends. A history
// failure while joining does not block the send.
func (s *AgentService) SendText(ctx context.Context, req *SendTextRequest) (*SendTextResponse, error) {
	if req.ChatID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "chat id is required")
	}
	if session, ok := s.chats.ActiveChat(); !ok || session.ChatID != req.ChatID {
		if err := s.chats.JoinChat(ctx, req.ChatID); err != nil {
			var hf *chat.HistoryFetchError
			if !errors.As(err, &hf) {
				return nil, toStatus(err)
			}
			s.logger.Warn("history unavailable while joining", zap.String("chat_id", req.ChatID), zap.Error(err))
		}
	}

	msg, err := s.chats.SendTextMessage(req.Text, req.ReplyTo)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SendTextResponse{Message: msg}, nil
}

func (s *AgentService) ListChats(ctx context.Context, req *ListChatsRequest) (*ListChatsResponse, error) {
	chats, err := s.db.ListChats(ctx, req.Limit, req.Offset)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list chats: %v", err)
	}
	resp := &ListChatsResponse{Chats: make([]ChatSummary, 0, len(chats))}
	for _, c := range chats {
		resp.Chats = append(resp.Chats, ChatSummary{
			ChatID:             c.ChatID,
			LastMessageAt:      c.LastMessageAt,
			LastMessagePreview: c.LastMessagePreview,
			MessageCount:       c.MessageCount,
		})
	}
	return resp, nil
}

// ListMessages reads cached history and groups it by day.
func (s *AgentService) ListMessages(ctx context.Context, req *ListMessagesRequest) (*ListMessagesResponse, error) {
	if req.ChatID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "chat id is required")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = s.pageSize
	}
	page := req.Page
	if page <= 0 {
		page = 1
	}
	msgs, err := s.db.ListMessages(ctx, req.ChatID, page, limit)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list messages: %v", err)
	}
	return &ListMessagesResponse{
		Sections: timeline.Group(msgs, s.now()),
		HasMore:  len(msgs) == limit,
	}, nil
}

// GetPresence asks the server for the users' status. While the connection is
// down it answers from the cache instead.
func (s *AgentService) GetPresence(ctx context.Context, req *PresenceRequest) (*PresenceResponse, error) {
	if len(req.UserIDs) == 0 {
		return nil, grpcstatus.Error(codes.InvalidArgument, "at least one user id is required")
	}

	records, err := s.presence.GetBatchStatus(ctx, req.UserIDs)
	if errors.Is(err, transport.ErrNotConnected) && s.db != nil {
		return s.cachedPresence(ctx, req.UserIDs)
	}
	if err != nil {
		return nil, toStatus(err)
	}

	resp := &PresenceResponse{}
	for _, id := range req.UserIDs {
		r, ok := records[id]
		if !ok {
			continue
		}
		resp.Records = append(resp.Records, PresenceRecord{
			UserID:    r.UserID,
			Status:    string(r.Status),
			LastSeen:  r.LastSeen,
			UpdatedAt: r.UpdatedAt,
		})
	}
	return resp, nil
}

func (s *AgentService) cachedPresence(ctx context.Context, ids []string) (*PresenceResponse, error) {
	resp := &PresenceResponse{Cached: true}
	for _, id := range ids {
		p, err := s.db.GetPresence(ctx, id)
		if err != nil {
			return nil, grpcstatus.Errorf(codes.Internal, "read cached presence: %v", err)
		}
		if p == nil {
			continue
		}
		resp.Records = append(resp.Records, PresenceRecord{
			UserID:    p.UserID,
			Status:    p.Status,
			LastSeen:  p.LastSeen,
			UpdatedAt: p.UpdatedAt,
		})
	}
	return resp, nil
}

// WatchEvents streams bus events until the client goes away.
func (s *AgentService) WatchEvents(req *WatchRequest, stream EventStream) error {
	prefixes := req.Prefixes
	if len(prefixes) == 0 {
		prefixes = DefaultWatchPrefixes
	}

	ch, unsub := s.bus.SubscribeAll(64, prefixes...)
	defer unsub()

	ctx := stream.Context()
	for {
		select {
		case evt := <-ch:
			if err := stream.Send(encodeEvent(evt)); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func encodeEvent(evt bus.Event) *Event {
	out := &Event{Kind: evt.Kind, Time: evt.Timestamp}
	if err, ok := evt.Payload.(error); ok {
		out.Error = err.Error()
	}
	if evt.Payload != nil {
		raw, err := json.Marshal(evt.Payload)
		if err != nil {
			out.Error = fmt.Sprintf("encode payload: %v", err)
		} else {
			out.Payload = raw
		}
	}
	return out
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, chat.ErrNoActiveChat):
		return grpcstatus.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, transport.ErrNotConnected), errors.Is(err, transport.ErrConnectionLost):
		return grpcstatus.Error(codes.Unavailable, err.Error())
	case errors.Is(err, transport.ErrRequestTimeout), errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return grpcstatus.Error(codes.Canceled, err.Error())
	default:
		return grpcstatus.Error(codes.Internal, err.Error())
	}
}
