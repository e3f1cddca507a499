package dispatcher

import (
	"context"

	"github.com/feilong2k/codemaestro/internal/domain/event"
)

// Handler processes domain events
type Handler func(ctx context.Context, evt *event.Event) error

// HandlerInfo contains handler metadata for debugging
type HandlerInfo struct {
	Name      string
	EventType event.Type
	Handler   Handler
}

// AllEvents is the event type under which catch-all handlers are listed
const AllEvents event.Type = "*"
