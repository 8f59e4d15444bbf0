package postgres

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/shoozy/storefront/internal/outbox"
)

var (
	_ outbox.Staging = (*OutboxStore)(nil)
	_ outbox.Store   = (*OutboxStore)(nil)
)

// OutboxStore implements the outbox staging and relay sides on one table.
// Enqueue participates in the caller's transaction; FetchUnsent and MarkSent
// run on the relay's own connection.
type OutboxStore struct {
	db *DB
}

// NewOutboxStore returns an OutboxStore using the given handle.
func NewOutboxStore(db *DB) *OutboxStore {
	return &OutboxStore{db: db}
}

// Enqueue stages an event. Called inside the transaction that persists the
// state change the event describes.
func (s *OutboxStore) Enqueue(ctx context.Context, ev outbox.Event) error {
	_, err := s.db.conn(ctx).Exec(ctx,
		`INSERT INTO outbox_events (kind, payload) VALUES ($1, $2)`,
		ev.Kind, ev.Payload,
	)
	if err != nil {
		return errors.Wrapf(err, "enqueuing %s event", ev.Kind)
	}
	return nil
}

// FetchUnsent returns up to limit undelivered events, oldest first. The relay
// runs as a single instance per deployment; duplicate delivery on overlap is
// covered by the at-least-once contract.
func (s *OutboxStore) FetchUnsent(ctx context.Context, limit int) ([]outbox.Event, error) {
	rows, err := s.db.conn(ctx).Query(ctx,
		`SELECT id, kind, payload, created_at
		 FROM outbox_events
		 WHERE sent_at IS NULL
		 ORDER BY id
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "fetching unsent events")
	}
	defer rows.Close()

	var events []outbox.Event
	for rows.Next() {
		var ev outbox.Event
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scanning outbox event")
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// MarkSent acknowledges delivered events.
func (s *OutboxStore) MarkSent(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.conn(ctx).Exec(ctx,
		`UPDATE outbox_events SET sent_at = now() WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return errors.Wrap(err, "marking events sent")
	}
	return nil
}
