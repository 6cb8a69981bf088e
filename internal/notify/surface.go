package notify

import "github.com/matheus3301/golaco/internal/bus"

// NotificationType is the message type understood by notification surfaces.
const NotificationType = "SHOW_NOTIFICATION"

// Notification is handed to a Surface.
type Notification struct {
	Type           string `json:"type"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	URL            string `json:"url"`
	ConversationID string `json:"conversation_id"`
}

// Surface displays notifications. Show must not block.
type Surface interface {
	Show(n Notification)
}

// BusSurface publishes notifications as notification.show events for
// connected clients to render.
type BusSurface struct {
	bus *bus.Bus
}

// NewBusSurface creates a surface publishing on b.
func NewBusSurface(b *bus.Bus) *BusSurface {
	return &BusSurface{bus: b}
}

func (s *BusSurface) Show(n Notification) {
	s.bus.Emit(bus.KindNotificationShow, n)
}
