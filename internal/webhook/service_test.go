package webhook

import (
	"context"
	"errors"
	"testing"
)

type kickCounter struct{ n int }

func (k *kickCounter) Kick() { k.n++ }

func TestServiceCreateValidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.service.Create(ctx, CreateInput{OwnerID: "u", URL: "ftp://example.com"}); !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("expected invalid url, got %v", err)
	}
	if _, err := f.service.Create(ctx, CreateInput{OwnerID: "u", URL: "https://example.com/hook", Secret: "short"}); !errors.Is(err, ErrInvalidSecret) {
		t.Fatalf("expected invalid secret, got %v", err)
	}

	sub, err := f.service.Create(ctx, CreateInput{OwnerID: "u", URL: "https://example.com/hook"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(sub.Secret) != 48 || sub.Status != SubscriptionActive {
		t.Fatalf("expected generated 48-char secret and active status, got %+v", sub)
	}

	listed, _ := f.service.List(ctx, "u")
	if len(listed) != 1 || listed[0].Secret != "" {
		t.Fatalf("listing must hide secrets, got %+v", listed)
	}
}

func TestDisabledSubscriptionsGetNoDeliveries(t *testing.T) {
	f := newFixture(t, "https://a.example.com", "https://b.example.com")
	ctx := context.Background()
	subs, _ := f.service.List(ctx, f.owner)

	if err := f.service.Disable(ctx, f.owner, subs[0].ID); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if err := f.service.Disable(ctx, "someone-else", subs[1].ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("disabling another owner's webhook must fail, got %v", err)
	}

	if ids := f.emit(t, Test{Message: "x"}); len(ids) != 1 {
		t.Fatalf("expected one delivery for the remaining active subscription, got %d", len(ids))
	}
}

func TestSendTestQueuesAndKicks(t *testing.T) {
	f := newFixture(t, "https://a.example.com")
	kicks := &kickCounter{}
	f.service = NewService(f.store, f.store, f.outbox, kicks)
	ctx := context.Background()
	subs, _ := f.service.List(ctx, f.owner)

	ev, err := f.service.SendTest(ctx, f.owner, subs[0].ID)
	if err != nil {
		t.Fatalf("send test: %v", err)
	}
	if ev.Type != EventWebhookTest || kicks.n != 1 {
		t.Fatalf("expected queued test event and one kick, got %s kicks=%d", ev.Type, kicks.n)
	}

	activity, err := f.service.Activity(ctx, f.owner)
	if err != nil {
		t.Fatalf("activity: %v", err)
	}
	if len(activity.Events) != 1 || len(activity.Deliveries) != 1 || activity.Deliveries[0].Status != DeliveryPending {
		t.Fatalf("unexpected activity %+v", activity)
	}

	_ = f.service.Disable(ctx, f.owner, subs[0].ID)
	if _, err := f.service.SendTest(ctx, f.owner, subs[0].ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("disabled webhook cannot be tested, got %v", err)
	}
}

func TestVerifyRejectsMalformedSignatures(t *testing.T) {
	body := []byte(`{"id":"evt_1"}`)
	sig := Sign("secret-123", body)
	if !Verify("secret-123", body, sig) {
		t.Fatal("expected signature to verify")
	}
	for _, bad := range []string{"", "deadbeef", "sha256=zz", "sha1=" + sig[len("sha256="):]} {
		if Verify("secret-123", body, bad) {
			t.Fatalf("malformed signature %q verified", bad)
		}
	}
	if Verify("secret-123", []byte(`{"id":"evt_2"}`), sig) {
		t.Fatal("signature must bind the body")
	}
}
