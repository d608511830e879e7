package progress

import (
	"context"
	"fmt"

	"github.com/kaushikharsh99/Dropvault/internal/models"
	"github.com/kaushikharsh99/Dropvault/internal/pkg/logger"
)

// Store is what the broadcaster needs from the chunk store.
type Store interface {
	UpdateProgress(ctx context.Context, p models.Progress) error
	ListUnfinishedItems(ctx context.Context, ownerID string) ([]models.Item, error)
}

// Fanout carries progress to the other API instances.
type Fanout interface {
	Publish(ctx context.Context, p models.Progress) error
}

// Broadcaster persists progress tuples and pushes them to subscribed listeners.
type Broadcaster struct {
	store  Store
	hub    *Hub
	fanout Fanout
	log    logger.ILogger
}

// NewBroadcaster wires the broadcaster. fanout may be nil for a single instance.
func NewBroadcaster(store Store, hub *Hub, fanout Fanout, log logger.ILogger) *Broadcaster {
	return &Broadcaster{store: store, hub: hub, fanout: fanout, log: log}
}

// Report persists p and then publishes it. The push happens even if the
// write failed so connected clients stay current.
func (b *Broadcaster) Report(ctx context.Context, p models.Progress) error {
	err := b.store.UpdateProgress(ctx, p)
	b.Publish(p)
	if err != nil {
		return fmt.Errorf("persist progress for %s: %w", p.ItemID, err)
	}
	return nil
}

func (b *Broadcaster) Publish(p models.Progress) {
	b.hub.Deliver(p)
	if b.fanout == nil {
		return
	}
	if err := b.fanout.Publish(context.Background(), p); err != nil {
		b.log.Warn("progress", "fanout publish failed", map[string]interface{}{
			"item_id": p.ItemID, "error": err.Error(),
		})
	}
}

// Subscribe registers a listener for owner and returns the current state of
// every item still in flight, to be sent before live updates.
func (b *Broadcaster) Subscribe(ctx context.Context, owner string) (*Listener, []models.Progress, error) {
	l := b.hub.Subscribe(owner)

	items, err := b.store.ListUnfinishedItems(ctx, owner)
	if err != nil {
		b.hub.Unsubscribe(l)
		return nil, nil, fmt.Errorf("load in-flight items: %w", err)
	}

	replay := make([]models.Progress, 0, len(items))
	for _, it := range items {
		replay = append(replay, models.Progress{
			ItemID:  it.ID,
			OwnerID: it.OwnerID,
			Stage:   it.Stage,
			Percent: it.Percent,
			Message: it.Message,
			Status:  it.Status,
		})
	}
	return l, replay, nil
}

func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.hub.Unsubscribe(l)
}
