package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Relay polls the store for committed undelivered events and pushes them
// through the dispatcher. Delivery failures are retried on the next tick;
// they never affect the persisted state change the event describes.
type Relay struct {
	store      Store
	dispatcher Dispatcher
	interval   time.Duration
	batchSize  int
	lg         *zap.Logger
}

// NewRelay creates a relay polling at the given interval, delivering at most
// batchSize events per tick.
func NewRelay(store Store, dispatcher Dispatcher, interval time.Duration, batchSize int, lg *zap.Logger) *Relay {
	return &Relay{
		store:      store,
		dispatcher: dispatcher,
		interval:   interval,
		batchSize:  batchSize,
		lg:         lg,
	}
}

// Run polls until the context is cancelled. It always returns nil on
// shutdown so it can live in an errgroup without masking real failures.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.deliverBatch(ctx); err != nil && ctx.Err() == nil {
				r.lg.Warn("outbox delivery failed, will retry", zap.Error(err))
			}
		}
	}
}

// deliverBatch dispatches one batch and acknowledges the events that were
// delivered. A mid-batch failure acknowledges the delivered prefix only, so
// the remainder is retried.
func (r *Relay) deliverBatch(ctx context.Context) error {
	events, err := r.store.FetchUnsent(ctx, r.batchSize)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	sent := make([]int64, 0, len(events))
	var dispatchErr error
	for _, ev := range events {
		if err := r.dispatcher.Dispatch(ctx, ev); err != nil {
			dispatchErr = err
			break
		}
		sent = append(sent, ev.ID)
	}

	if len(sent) > 0 {
		if err := r.store.MarkSent(ctx, sent); err != nil {
			return err
		}
		r.lg.Debug("outbox events delivered", zap.Int("count", len(sent)))
	}
	return dispatchErr
}
