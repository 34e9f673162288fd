package ids

import (
	"strings"

	"github.com/google/uuid"
)

// Prefixes for every persisted entity. A prefix makes ids self-describing in
// logs and webhook payloads.
const (
	Account      = "acc"
	Transaction  = "txn"
	LedgerEntry  = "led"
	Subscription = "wh"
	Event        = "evt"
	Delivery     = "whd"
	Idempotency  = "idem"
)

// New returns a random identifier such as "txn_0b6f…".
func New(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

// AccountNumber returns a short human-facing account number, e.g. "GP-1A2B3C4D".
func AccountNumber() string {
	u := uuid.New()
	return "GP-" + strings.ToUpper(strings.ReplaceAll(u.String(), "-", "")[:8])
}
