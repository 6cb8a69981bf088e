package api

import (
	"context"
	"time"

	"github.com/matheus3301/golaco/internal/outbox"
	"github.com/matheus3301/golaco/internal/store"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Outbox sends and drains messages.
type Outbox interface {
	Send(ctx context.Context, d outbox.Draft) (outbox.SendResult, error)
	SyncPendingMessages(ctx context.Context) outbox.Result
	State() outbox.State
}

// PendingLister reads the durable queue.
type PendingLister interface {
	ListPending() ([]store.PendingMessage, error)
}

// OutboxService implements golaco.v1.OutboxService.
type OutboxService struct {
	outbox  Outbox
	pending PendingLister
}

// NewOutboxService creates the outbox service.
func NewOutboxService(o Outbox, pending PendingLister) *OutboxService {
	return &OutboxService{outbox: o, pending: pending}
}

// Register adds the service to s.
func (o *OutboxService) Register(s grpc.ServiceRegistrar) {
	s.RegisterService(serviceDesc(OutboxServiceName, map[string]Handler{
		"SendMessage":   o.SendMessage,
		"ListPending":   o.ListPending,
		"SyncNow":       o.SyncNow,
		"GetSyncStatus": o.GetSyncStatus,
	}, nil), o)
}

// SendMessage sends or queues one message.
func (o *OutboxService) SendMessage(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	res, err := o.outbox.Send(ctx, outbox.Draft{
		TempID:           str(req, "temp_id"),
		ConversationID:   str(req, "conversation_id"),
		Content:          optStr(req, "content"),
		MediaURL:         optStr(req, "media_url"),
		MediaType:        optStr(req, "media_type"),
		ReplyToMessageID: optStr(req, "reply_to_message_id"),
	})
	if err != nil {
		return nil, toStatus("send message", err)
	}
	return reply(map[string]any{
		"temp_id": res.TempID,
		"sent":    res.Sent,
		"queued":  res.Queued,
	})
}

// ListPending returns the queue in send order.
func (o *OutboxService) ListPending(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	msgs, err := o.pending.ListPending()
	if err != nil {
		return nil, toStatus("list pending", err)
	}
	items := make([]any, 0, len(msgs))
	for _, m := range msgs {
		item := map[string]any{
			"seq":              float64(m.Seq),
			"temp_id":          m.TempID,
			"conversation_id":  m.ConversationID,
			"created_at_local": m.CreatedAtLocal.UTC().Format(time.RFC3339Nano),
		}
		putOpt(item, "content", m.Content)
		putOpt(item, "media_url", m.MediaURL)
		putOpt(item, "media_type", m.MediaType)
		putOpt(item, "reply_to_message_id", m.ReplyToMessageID)
		items = append(items, item)
	}
	return reply(map[string]any{"messages": items})
}

// SyncNow runs one drain and reports its outcome.
func (o *OutboxService) SyncNow(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	res := o.outbox.SyncPendingMessages(ctx)
	return reply(map[string]any{
		"skipped":           res.Skipped,
		"skip_reason":       res.SkipReason,
		"success_count":     float64(res.SuccessCount),
		"failure_remaining": float64(res.FailureRemaining),
	})
}

// GetSyncStatus returns the sync indicator.
func (o *OutboxService) GetSyncStatus(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	st := o.outbox.State()
	return reply(map[string]any{
		"online":        st.Online,
		"syncing":       st.Syncing,
		"pending_count": float64(st.PendingCount),
	})
}

func putOpt(m map[string]any, key string, v *string) {
	if v != nil {
		m[key] = *v
	}
}
