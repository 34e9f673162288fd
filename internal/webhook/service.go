package webhook

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ghost-pay/ghost_pay/internal/ids"
)

var (
	ErrInvalidURL    = errors.New("url must be an absolute http or https URL")
	ErrInvalidSecret = errors.New("secret must be between 8 and 120 characters")
	ErrNotFound      = errors.New("webhook not found")
)

const (
	minSecretLen     = 8
	maxSecretLen     = 120
	recentEvents     = 20
	recentDeliveries = 50
)

// Kicker wakes the delivery worker.
type Kicker interface {
	Kick()
}

// Service manages subscriptions and test events.
type Service struct {
	store  SubscriptionStore
	runner OutboxRunner
	outbox *Outbox
	kicker Kicker
	now    func() time.Time
}

// NewService builds the subscription service. kicker may be nil.
func NewService(store SubscriptionStore, runner OutboxRunner, outbox *Outbox, kicker Kicker) *Service {
	return &Service{
		store:  store,
		runner: runner,
		outbox: outbox,
		kicker: kicker,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateInput captures a new subscription request.
type CreateInput struct {
	OwnerID string
	URL     string
	Secret  string
}

// Create registers an endpoint. The returned subscription is the only place
// the secret is ever shown.
func (s *Service) Create(ctx context.Context, in CreateInput) (Subscription, error) {
	target := strings.TrimSpace(in.URL)
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Subscription{}, ErrInvalidURL
	}

	secret := in.Secret
	if secret == "" {
		if secret, err = generateSecret(); err != nil {
			return Subscription{}, err
		}
	} else if len(secret) < minSecretLen || len(secret) > maxSecretLen {
		return Subscription{}, ErrInvalidSecret
	}

	sub := Subscription{
		ID:        ids.New(ids.Subscription),
		OwnerID:   in.OwnerID,
		URL:       target,
		Secret:    secret,
		Status:    SubscriptionActive,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateSubscription(ctx, sub); err != nil {
		return Subscription{}, fmt.Errorf("create webhook: %w", err)
	}
	return sub, nil
}

func (s *Service) List(ctx context.Context, ownerID string) ([]Subscription, error) {
	return s.store.Subscriptions(ctx, ownerID)
}

// Disable stops future fan-out to the subscription. Deliveries already queued
// for it stay in the table but are no longer attempted.
func (s *Service) Disable(ctx context.Context, ownerID, id string) error {
	ok, err := s.store.DisableSubscription(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// SendTest emits a webhook.test event for the owner. The subscription must be
// active; the event fans out like any other.
func (s *Service) SendTest(ctx context.Context, ownerID, id string) (Event, error) {
	sub, ok, err := s.store.Subscription(ctx, ownerID, id)
	if err != nil {
		return Event{}, err
	}
	if !ok || sub.Status != SubscriptionActive {
		return Event{}, ErrNotFound
	}

	var (
		ev     Event
		fanout int
	)
	err = s.runner.RunOutbox(ctx, func(tx OutboxTx) error {
		var emitErr error
		ev, fanout, emitErr = s.outbox.Emit(ctx, tx, ownerID, Test{Message: "GhostPay webhook test", WebhookID: id})
		return emitErr
	})
	if err != nil {
		return Event{}, err
	}
	if fanout > 0 && s.kicker != nil {
		s.kicker.Kick()
	}
	return ev, nil
}

// Activity is the recent outbox history of an owner.
type Activity struct {
	Events     []Event    `json:"events"`
	Deliveries []Delivery `json:"deliveries"`
}

func (s *Service) Activity(ctx context.Context, ownerID string) (Activity, error) {
	events, err := s.store.RecentEvents(ctx, ownerID, recentEvents)
	if err != nil {
		return Activity{}, err
	}
	deliveries, err := s.store.RecentDeliveries(ctx, ownerID, recentDeliveries)
	if err != nil {
		return Activity{}, err
	}
	if events == nil {
		events = []Event{}
	}
	if deliveries == nil {
		deliveries = []Delivery{}
	}
	return Activity{Events: events, Deliveries: deliveries}, nil
}

func generateSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
