package webhook

import (
	"context"
	"time"
)

// Pending is an eligible delivery joined with what the worker needs to send it.
type Pending struct {
	Delivery Delivery
	URL      string
	Secret   string
	Event    Event
}

// DeliveryStore is the worker's view of the outbox.
type DeliveryStore interface {
	// ListEligible returns up to limit deliveries in pending or failed state
	// with attempts below maxAttempts, oldest first.
	ListEligible(ctx context.Context, maxAttempts, limit int) ([]Pending, error)
	// Claim moves an eligible delivery to processing. It reports false when
	// another worker got there first.
	Claim(ctx context.Context, deliveryID string, maxAttempts int) (bool, error)
	MarkDelivered(ctx context.Context, deliveryID string, code int, at time.Time) error
	MarkFailed(ctx context.Context, deliveryID string, code int, reason string) error
}

// SubscriptionStore persists subscriptions and exposes the outbox history.
type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, sub Subscription) error
	Subscriptions(ctx context.Context, ownerID string) ([]Subscription, error)
	Subscription(ctx context.Context, ownerID, id string) (Subscription, bool, error)
	DisableSubscription(ctx context.Context, ownerID, id string) (bool, error)
	RecentEvents(ctx context.Context, ownerID string, limit int) ([]Event, error)
	RecentDeliveries(ctx context.Context, ownerID string, limit int) ([]Delivery, error)
}

// OutboxRunner runs fn inside a unit of work and commits when it returns nil.
type OutboxRunner interface {
	RunOutbox(ctx context.Context, fn func(OutboxTx) error) error
}
