package event

import (
	"context"

	"go.uber.org/zap"

	"github.com/shoozy/storefront/internal/outbox"
)

// LogDispatcher writes events to the application log. Used when no broker is
// configured, so the outbox still drains in development.
type LogDispatcher struct {
	lg *zap.Logger
}

var _ outbox.Dispatcher = (*LogDispatcher)(nil)

// NewLogDispatcher creates a dispatcher logging at info level.
func NewLogDispatcher(lg *zap.Logger) *LogDispatcher {
	return &LogDispatcher{lg: lg}
}

// Dispatch logs the event and reports success.
func (d *LogDispatcher) Dispatch(_ context.Context, ev outbox.Event) error {
	d.lg.Info("domain event",
		zap.String("kind", ev.Kind),
		zap.ByteString("payload", ev.Payload),
	)
	return nil
}
