package webhook

import "time"

// Event types.
const (
	EventTransactionCompleted = "transaction.completed"
	EventWebhookTest          = "webhook.test"
)

// Payload is the typed data of an event.
type Payload interface {
	EventType() string
}

// AccountBalance is an account snapshot taken right after a posting.
type AccountBalance struct {
	ID           string `json:"id"`
	Currency     string `json:"currency"`
	BalanceCents int64  `json:"balanceCents"`
}

// TransactionCompleted is emitted for every committed ledger posting.
type TransactionCompleted struct {
	TransactionID string            `json:"transactionId"`
	Kind          string            `json:"kind"`
	AmountCents   int64             `json:"amountCents"`
	Currency      string            `json:"currency"`
	FromAccountID string            `json:"fromAccountId,omitempty"`
	ToAccountID   string            `json:"toAccountId,omitempty"`
	Counterparty  string            `json:"counterparty,omitempty"`
	Note          string            `json:"note,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Accounts      []AccountBalance  `json:"accounts"`
	CreatedAt     time.Time         `json:"createdAt"`
}

func (TransactionCompleted) EventType() string { return EventTransactionCompleted }

// Test is sent on demand to check a subscriber's endpoint.
type Test struct {
	Message   string `json:"message"`
	WebhookID string `json:"webhookId"`
}

func (Test) EventType() string { return EventWebhookTest }
