package webhook

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory webhook store for tests and local development.
type MemoryStore struct {
	mu         sync.Mutex
	subs       map[string]Subscription
	events     map[string]Event
	deliveries map[string]*Delivery
	order      []string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs:       make(map[string]Subscription),
		events:     make(map[string]Event),
		deliveries: make(map[string]*Delivery),
	}
}

func (s *MemoryStore) ListEligible(_ context.Context, maxAttempts, limit int) ([]Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Pending
	for _, id := range s.order {
		if len(out) >= limit {
			break
		}
		d := s.deliveries[id]
		if (d.Status != DeliveryPending && d.Status != DeliveryFailed) || d.Attempts >= maxAttempts {
			continue
		}
		sub := s.subs[d.SubscriptionID]
		if sub.Status != SubscriptionActive {
			continue
		}
		out = append(out, Pending{Delivery: *d, URL: sub.URL, Secret: sub.Secret, Event: s.events[d.EventID]})
	}
	return out, nil
}

func (s *MemoryStore) Claim(_ context.Context, deliveryID string, maxAttempts int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[deliveryID]
	if !ok || (d.Status != DeliveryPending && d.Status != DeliveryFailed) || d.Attempts >= maxAttempts {
		return false, nil
	}
	if s.subs[d.SubscriptionID].Status != SubscriptionActive {
		return false, nil
	}
	d.Status = DeliveryProcessing
	return true, nil
}

func (s *MemoryStore) MarkDelivered(_ context.Context, deliveryID string, code int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.deliveries[deliveryID]; ok && d.Status == DeliveryProcessing {
		d.Status = DeliveryDelivered
		d.Attempts++
		d.LastResponseCode = code
		d.LastError = ""
		d.DeliveredAt = &at
	}
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, deliveryID string, code int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.deliveries[deliveryID]; ok && d.Status == DeliveryProcessing {
		d.Status = DeliveryFailed
		d.Attempts++
		d.LastResponseCode = code
		d.LastError = reason
	}
	return nil
}

// Delivery returns a copy of one delivery.
func (s *MemoryStore) Delivery(id string) (Delivery, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[id]
	if !ok {
		return Delivery{}, false
	}
	return *d, true
}

func (s *MemoryStore) CreateSubscription(_ context.Context, sub Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.ID] = sub
	return nil
}

func (s *MemoryStore) Subscriptions(_ context.Context, ownerID string) ([]Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Subscription
	for _, sub := range s.subs {
		if sub.OwnerID == ownerID {
			sub.Secret = ""
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Subscription(_ context.Context, ownerID, id string) (Subscription, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok || sub.OwnerID != ownerID {
		return Subscription{}, false, nil
	}
	sub.Secret = ""
	return sub, true, nil
}

func (s *MemoryStore) DisableSubscription(_ context.Context, ownerID, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok || sub.OwnerID != ownerID {
		return false, nil
	}
	sub.Status = SubscriptionDisabled
	s.subs[id] = sub
	return true, nil
}

func (s *MemoryStore) RecentEvents(_ context.Context, ownerID string, limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.events {
		if ev.OwnerID == ownerID {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) RecentDeliveries(_ context.Context, ownerID string, limit int) ([]Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Delivery
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		d := s.deliveries[s.order[i]]
		if s.subs[d.SubscriptionID].OwnerID == ownerID {
			out = append(out, *d)
		}
	}
	return out, nil
}

// Begin opens a buffered outbox unit of work.
func (s *MemoryStore) Begin() *MemoryOutboxTx {
	return &MemoryOutboxTx{store: s}
}

// RunOutbox implements OutboxRunner.
func (s *MemoryStore) RunOutbox(ctx context.Context, fn func(OutboxTx) error) error {
	tx := s.Begin()
	if err := fn(tx); err != nil {
		return err
	}
	tx.Commit()
	return nil
}

// MemoryOutboxTx buffers events and deliveries until Commit.
type MemoryOutboxTx struct {
	store      *MemoryStore
	events     []Event
	deliveries []Delivery
}

func (t *MemoryOutboxTx) ActiveSubscriptionIDs(_ context.Context, ownerID string) ([]string, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	var subs []Subscription
	for _, sub := range t.store.subs {
		if sub.OwnerID == ownerID && sub.Status == SubscriptionActive {
			subs = append(subs, sub)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].CreatedAt.Before(subs[j].CreatedAt) })
	ids := make([]string, len(subs))
	for i, sub := range subs {
		ids[i] = sub.ID
	}
	return ids, nil
}

func (t *MemoryOutboxTx) InsertEvent(_ context.Context, ev Event) error {
	t.events = append(t.events, ev)
	return nil
}

func (t *MemoryOutboxTx) InsertDelivery(_ context.Context, d Delivery) error {
	t.deliveries = append(t.deliveries, d)
	return nil
}

// Commit publishes the buffered rows. Deliveries for an already recorded
// (subscription, event) pair are dropped, mirroring the unique constraint.
func (t *MemoryOutboxTx) Commit() {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, ev := range t.events {
		t.store.events[ev.ID] = ev
	}
	for _, d := range t.deliveries {
		if t.store.hasPair(d.SubscriptionID, d.EventID) {
			continue
		}
		d := d
		t.store.deliveries[d.ID] = &d
		t.store.order = append(t.store.order, d.ID)
	}
}

func (s *MemoryStore) hasPair(subID, eventID string) bool {
	for _, d := range s.deliveries {
		if d.SubscriptionID == subID && d.EventID == eventID {
			return true
		}
	}
	return false
}
