// Package history exports unit lifecycle events to external systems
// for auditing and statistics. Delivery is best effort: a slow or
// broken sink must never stall a unit transition.
package history

import (
	"context"
	"log/slog"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart   EventType = "start"
	EventStop    EventType = "stop"
	EventRestart EventType = "restart"
)

// Event represents a unit lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Unit       string    `json:"unit"`
	Pid        int       `json:"pid"`
	Detail     string    `json:"detail,omitempty"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// SendTimeout bounds each sink delivery made by Broadcast.
const SendTimeout = 3 * time.Second

// Broadcast delivers e to every sink. Each delivery gets its own timeout
// and failures are logged rather than returned.
func Broadcast(ctx context.Context, sinks []Sink, e Event) {
	for _, s := range sinks {
		sctx, cancel := context.WithTimeout(ctx, SendTimeout)
		if err := s.Send(sctx, e); err != nil {
			slog.Warn("history sink send failed", "unit", e.Unit, "type", e.Type, "error", err)
		}
		cancel()
	}
}

// CloseAll closes every sink that supports closing. Errors are logged.
func CloseAll(sinks []Sink) {
	for _, s := range sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				slog.Warn("history sink close failed", "error", err)
			}
		}
	}
}
