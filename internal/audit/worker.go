package audit

import (
	"context"
	"errors"
	"log/slog"
)

// ErrBufferFull reports an audit event dropped because the worker's inbox
// was full. Publishers log it; domain writes are never held up by the sink.
var ErrBufferFull = errors.New("audit buffer full, event dropped")

// Worker consumes audit events from a channel and persists them. It keeps
// background processing testable without wiring queue implementations yet.
type Worker struct {
	store  Store
	inbox  <-chan Event
	logger *slog.Logger
}

func NewWorker(store Store, inbox <-chan Event, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{store: store, inbox: inbox, logger: logger}
}

// Run drains the inbox until the context is cancelled. A failing store loses
// the one event but never stops the drain; stopping would fill the channel
// and stall every publisher behind it.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.store.Append(ctx, event); err != nil {
				w.logger.Error("audit append failed",
					"action", event.Action, "entity_id", event.EntityID, "error", err)
			}
		}
	}
}

// ChannelStore adapts a channel to the Store interface so publishers can
// hand events to a background worker instead of writing inline.
type ChannelStore struct {
	outbox chan<- Event
}

func NewChannelStore(outbox chan<- Event) *ChannelStore {
	return &ChannelStore{outbox: outbox}
}

// Append never blocks: when the outbox is full the event is dropped and
// ErrBufferFull returned for the publisher to log.
func (c *ChannelStore) Append(_ context.Context, event Event) error {
	select {
	case c.outbox <- event:
		return nil
	default:
		return ErrBufferFull
	}
}

// ListByEntity fails loudly; the channel is write-only and reads belong to
// the backing store.
func (c *ChannelStore) ListByEntity(context.Context, string, string) ([]Event, error) {
	return nil, errors.New("channel store does not support reads")
}
