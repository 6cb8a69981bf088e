package api

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/golaco/internal/auth"
	"github.com/matheus3301/golaco/internal/bus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Network is the connectivity monitor as seen by the API.
type Network interface {
	IsOnline() bool
	Overridden() bool
	Override(online bool)
	ClearOverride()
}

// Connection reports the realtime socket state.
type Connection interface {
	Connected() bool
}

// SessionService implements golaco.v1.SessionService.
type SessionService struct {
	sessionName string
	startedAt   time.Time
	auth        *auth.Store
	network     Network
	conn        Connection
	bus         *bus.Bus
}

// NewSessionService creates the session service.
func NewSessionService(sessionName string, a *auth.Store, network Network, conn Connection, b *bus.Bus) *SessionService {
	return &SessionService{
		sessionName: sessionName,
		startedAt:   time.Now(),
		auth:        a,
		network:     network,
		conn:        conn,
		bus:         b,
	}
}

// Register adds the service to s.
func (s *SessionService) Register(r grpc.ServiceRegistrar) {
	r.RegisterService(serviceDesc(SessionServiceName,
		map[string]Handler{
			"GetStatus":  s.GetStatus,
			"SetSession": s.SetSession,
			"SetOnline":  s.SetOnline,
		},
		map[string]StreamHandler{
			"WatchEvents": s.WatchEvents,
		},
	), s)
}

func (s *SessionService) GetStatus(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	out := map[string]any{
		"session":            s.sessionName,
		"uptime_ms":          float64(time.Since(s.startedAt).Milliseconds()),
		"online":             s.network.IsOnline(),
		"online_overridden":  s.network.Overridden(),
		"realtime_connected": s.conn != nil && s.conn.Connected(),
		"authenticated":      false,
	}
	if s.bus != nil {
		out["events_dropped"] = float64(s.bus.Dropped())
	}
	if id, ok := s.auth.Current(); ok {
		out["authenticated"] = true
		out["user_id"] = id.UserID
		out["username"] = id.Username
		if !id.ExpiresAt.IsZero() {
			out["expires_at"] = id.ExpiresAt.UTC().Format(time.RFC3339)
		}
	}
	return reply(out)
}

// SetSession installs an access token. An empty token signs out.
func (s *SessionService) SetSession(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	token := str(req, "access_token")
	if token == "" {
		s.auth.Clear()
		return reply(map[string]any{"authenticated": false})
	}
	id, err := s.auth.Set(token)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "set session: %v", err)
	}
	return reply(map[string]any{
		"authenticated": true,
		"user_id":       id.UserID,
		"username":      id.Username,
	})
}

// SetOnline pins connectivity to online or offline. {"clear": true}
// returns control to the prober.
func (s *SessionService) SetOnline(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if reset, _ := boolean(req, "clear"); reset {
		s.network.ClearOverride()
	} else {
		online, ok := boolean(req, "online")
		if !ok {
			return nil, grpcstatus.Error(codes.InvalidArgument, "online or clear is required")
		}
		s.network.Override(online)
	}
	return reply(map[string]any{
		"online":            s.network.IsOnline(),
		"online_overridden": s.network.Overridden(),
	})
}

// WatchEvents streams bus events whose kind starts with the requested
// prefix until the caller goes away.
func (s *SessionService) WatchEvents(ctx context.Context, req *structpb.Struct, send func(*structpb.Struct) error) error {
	ch, unsub := s.bus.Subscribe(str(req, "prefix"), 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			env, err := s.envelope(evt)
			if err != nil {
				return err
			}
			if err := send(env); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *SessionService) envelope(evt bus.Event) (*structpb.Struct, error) {
	payload, err := toValue(evt.Payload)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode %s payload: %v", evt.Kind, err)
	}
	return reply(map[string]any{
		"event_id":            uuid.NewString(),
		"session":             s.sessionName,
		"kind":                evt.Kind,
		"occurred_at_unix_ms": float64(evt.Timestamp.UnixMilli()),
		"payload":             payload,
	})
}
