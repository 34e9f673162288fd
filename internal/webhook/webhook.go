package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// Subscription statuses. Subscriptions are disabled, never deleted, so past
// deliveries keep a valid parent.
const (
	SubscriptionActive   = "active"
	SubscriptionDisabled = "disabled"
)

// Delivery statuses.
const (
	DeliveryPending    = "pending"
	DeliveryProcessing = "processing"
	DeliveryDelivered  = "delivered"
	DeliveryFailed     = "failed"
)

// Headers sent with every delivery.
const (
	HeaderSignature = "X-GhostPay-Signature"
	HeaderEvent     = "X-GhostPay-Event"
	signaturePrefix = "sha256="
)

// Subscription is an owner-registered HTTP endpoint.
type Subscription struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"-"`
	URL       string    `json:"url"`
	Secret    string    `json:"secret,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Event is an immutable outbox record.
type Event struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"-"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Delivery tracks one event for one subscription.
type Delivery struct {
	ID               string     `json:"id"`
	SubscriptionID   string     `json:"webhookId"`
	EventID          string     `json:"eventId"`
	Status           string     `json:"status"`
	Attempts         int        `json:"attempts"`
	LastError        string     `json:"lastError,omitempty"`
	LastResponseCode int        `json:"lastResponseCode,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	DeliveredAt      *time.Time `json:"deliveredAt,omitempty"`
}

// Envelope is the body POSTed to subscribers.
type Envelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	CreatedAt time.Time       `json:"createdAt"`
	Data      json.RawMessage `json:"data"`
}

// Body serializes the envelope of ev. The returned bytes are both signed and sent.
func Body(ev Event) ([]byte, error) {
	data := ev.Payload
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	return json.Marshal(Envelope{ID: ev.ID, Type: ev.Type, CreatedAt: ev.CreatedAt.UTC(), Data: data})
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body under secret, in constant time.
func Verify(secret string, body []byte, signature string) bool {
	if !strings.HasPrefix(signature, signaturePrefix) {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(signature, signaturePrefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
