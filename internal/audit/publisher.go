// Package audit captures structured audit events at service boundaries.
package audit

import (
	"context"
	"time"

	"timbre/pkg/requestcontext"
)

// Publisher captures structured audit events. It is append-only and uses the
// storage layer for persistence so tests can swap sinks easily.
type Publisher struct {
	store Store
}

func NewPublisher(store Store) *Publisher {
	return &Publisher{store: store}
}

// Emit records an event, filling timestamp, actor and request id from the
// context when unset. A nil publisher is a no-op so services stay wireable
// without an audit trail.
func (p *Publisher) Emit(ctx context.Context, base Event) error {
	if p == nil {
		return nil
	}
	if base.Timestamp.IsZero() {
		base.Timestamp = time.Now()
	}
	if base.Actor == "" {
		base.Actor = requestcontext.ActorID(ctx)
	}
	if base.RequestID == "" {
		base.RequestID = requestcontext.RequestID(ctx)
	}
	return p.store.Append(ctx, base)
}

// List returns the trail for one entity.
func (p *Publisher) List(ctx context.Context, entityType, entityID string) ([]Event, error) {
	return p.store.ListByEntity(ctx, entityType, entityID)
}
