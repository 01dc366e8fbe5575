package dispatcher

import (
	"context"

	"github.com/happy-code-egg/ruidao-sub002/internal/domain/event"
)

// Handler reacts to a committed workflow event
type Handler func(ctx context.Context, evt *event.Event) error

// HandlerInfo describes a registered handler
type HandlerInfo struct {
	Name      string
	EventType event.Type
	Handler   Handler
}
