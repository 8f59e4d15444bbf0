// Package outbox implements the transactional outbox pattern: domain events
// are staged in the same transaction that persists the state change they
// describe, and a relay delivers them only after that transaction is durable.
// Events of a rolled-back transaction roll back with it and are never seen.
package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
)

// Event is a staged domain event. Payload is the JSON encoding of the domain
// event struct.
type Event struct {
	ID        int64
	Kind      string
	Payload   []byte
	CreatedAt time.Time
}

// NewEvent marshals a domain event into a staged Event.
func NewEvent(kind string, payload any) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, errors.Wrapf(err, "marshal %s event", kind)
	}
	return Event{Kind: kind, Payload: body}, nil
}

// Staging stages events inside the caller's transaction.
type Staging interface {
	Enqueue(ctx context.Context, ev Event) error
}

// Store reads and acknowledges committed, undelivered events.
type Store interface {
	FetchUnsent(ctx context.Context, limit int) ([]Event, error)
	MarkSent(ctx context.Context, ids []int64) error
}

// Dispatcher delivers a committed event to an external channel. Delivery is
// at-least-once: the relay retries until MarkSent succeeds, so consumers must
// tolerate duplicates.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event) error
}
