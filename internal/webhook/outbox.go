package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ghost-pay/ghost_pay/internal/ids"
)

// OutboxTx is the slice of a unit of work the outbox writes through. Emit must
// run inside the same unit of work as the state change it announces.
type OutboxTx interface {
	ActiveSubscriptionIDs(ctx context.Context, ownerID string) ([]string, error)
	InsertEvent(ctx context.Context, ev Event) error
	InsertDelivery(ctx context.Context, d Delivery) error
}

// Outbox records events and fans them out into pending deliveries.
type Outbox struct {
	now   func() time.Time
	newID func(prefix string) string
}

// NewOutbox returns an outbox using wall-clock time and random ids.
func NewOutbox() *Outbox {
	return &Outbox{
		now:   func() time.Time { return time.Now().UTC() },
		newID: ids.New,
	}
}

// Emit inserts the event and one pending delivery per active subscription of
// the owner. It returns the number of deliveries so the caller can kick the
// worker after commit.
func (o *Outbox) Emit(ctx context.Context, tx OutboxTx, ownerID string, payload Payload) (Event, int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, 0, fmt.Errorf("encode %s payload: %w", payload.EventType(), err)
	}
	ev := Event{
		ID:        o.newID(ids.Event),
		OwnerID:   ownerID,
		Type:      payload.EventType(),
		Payload:   data,
		CreatedAt: o.now(),
	}
	if err := tx.InsertEvent(ctx, ev); err != nil {
		return Event{}, 0, fmt.Errorf("insert event: %w", err)
	}

	subs, err := tx.ActiveSubscriptionIDs(ctx, ownerID)
	if err != nil {
		return Event{}, 0, fmt.Errorf("load subscriptions: %w", err)
	}
	for _, subID := range subs {
		d := Delivery{
			ID:             o.newID(ids.Delivery),
			SubscriptionID: subID,
			EventID:        ev.ID,
			Status:         DeliveryPending,
			CreatedAt:      ev.CreatedAt,
		}
		if err := tx.InsertDelivery(ctx, d); err != nil {
			return Event{}, 0, fmt.Errorf("insert delivery: %w", err)
		}
	}
	return ev, len(subs), nil
}
