package api

import (
	"context"

	"github.com/matheus3301/golaco/internal/notify"
	"github.com/matheus3301/golaco/internal/realtime"
	"github.com/matheus3301/golaco/internal/status"
	"github.com/matheus3301/golaco/internal/typing"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Presence answers who is online.
type Presence interface {
	OnlineUsers() []string
	IsUserOnline(userID string) bool
	State() status.State
}

// TypingRegistry hands out per-conversation typing broadcasters.
type TypingRegistry interface {
	Open(conversationID string) (*typing.Broadcaster, error)
	Get(conversationID string) (*typing.Broadcaster, bool)
	Release(conversationID string) bool
}

// PresenceService implements golaco.v1.PresenceService.
type PresenceService struct {
	presence Presence
	typing   TypingRegistry
	routes   *notify.RouteTracker
}

// NewPresenceService creates the presence service.
func NewPresenceService(p Presence, t TypingRegistry, routes *notify.RouteTracker) *PresenceService {
	return &PresenceService{presence: p, typing: t, routes: routes}
}

// Register adds the service to s.
func (p *PresenceService) Register(s grpc.ServiceRegistrar) {
	s.RegisterService(serviceDesc(PresenceServiceName, map[string]Handler{
		"ListOnlineUsers":   p.ListOnlineUsers,
		"IsUserOnline":      p.IsUserOnline,
		"OpenConversation":  p.OpenConversation,
		"CloseConversation": p.CloseConversation,
		"StartTyping":       p.StartTyping,
		"StopTyping":        p.StopTyping,
		"ListTyping":        p.ListTyping,
		"SetRoute":          p.SetRoute,
	}, nil), p)
}

func (p *PresenceService) ListOnlineUsers(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	users := p.presence.OnlineUsers()
	ids := make([]any, len(users))
	for i, u := range users {
		ids[i] = u
	}
	return reply(map[string]any{
		"user_ids": ids,
		"state":    string(p.presence.State()),
	})
}

func (p *PresenceService) IsUserOnline(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := required(req, "user_id")
	if err != nil {
		return nil, err
	}
	return reply(map[string]any{"online": p.presence.IsUserOnline(id)})
}

// OpenConversation joins the conversation's typing channel. Calls are
// reference counted and must be paired with CloseConversation.
func (p *PresenceService) OpenConversation(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := required(req, "conversation_id")
	if err != nil {
		return nil, err
	}
	b, err := p.typing.Open(id)
	if err != nil {
		return nil, toStatus("open conversation", err)
	}
	return reply(map[string]any{"state": string(b.State())})
}

func (p *PresenceService) CloseConversation(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := required(req, "conversation_id")
	if err != nil {
		return nil, err
	}
	return reply(map[string]any{"closed": p.typing.Release(id)})
}

func (p *PresenceService) StartTyping(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return p.setTyping(ctx, req, true)
}

func (p *PresenceService) StopTyping(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return p.setTyping(ctx, req, false)
}

// setTyping is best effort: a send that did not reach the server is
// reported in the response, not as an RPC error.
func (p *PresenceService) setTyping(_ context.Context, req *structpb.Struct, on bool) (*structpb.Struct, error) {
	b, err := p.broadcaster(req)
	if err != nil {
		return nil, err
	}
	var res realtime.BestEffort
	if on {
		res = b.StartTyping()
	} else {
		res = b.StopTyping()
	}
	out := map[string]any{"sent": res.Sent}
	if res.Err != nil {
		out["error"] = res.Err.Error()
	}
	return reply(out)
}

func (p *PresenceService) ListTyping(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	b, err := p.broadcaster(req)
	if err != nil {
		return nil, err
	}
	users := b.TypingUsers()
	items := make([]any, len(users))
	for i, u := range users {
		items[i] = map[string]any{"user_id": u.UserID, "username": u.Username}
	}
	return reply(map[string]any{
		"users":      items,
		"any_typing": len(users) > 0,
	})
}

// SetRoute records the screen the user is looking at so notifications for
// that conversation are suppressed.
func (p *PresenceService) SetRoute(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p.routes.Set(str(req, "route"))
	return reply(map[string]any{"route": p.routes.Current()})
}

func (p *PresenceService) broadcaster(req *structpb.Struct) (*typing.Broadcaster, error) {
	id, err := required(req, "conversation_id")
	if err != nil {
		return nil, err
	}
	b, ok := p.typing.Get(id)
	if !ok {
		return nil, grpcstatus.Errorf(codes.FailedPrecondition, "conversation %s is not open", id)
	}
	return b, nil
}
