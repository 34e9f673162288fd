package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// EmptyHash is the request hash of an empty body.
const EmptyHash = "empty"

// DefaultLockTimeout is the lease used when a store is built without a
// positive lock timeout. A zero lease would let every retry take over.
const DefaultLockTimeout = 30 * time.Second

func leaseOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultLockTimeout
	}
	return d
}

// Key identifies one guarded request. The same client key may be reused across
// operations or methods without colliding.
type Key struct {
	Caller    string
	Key       string
	Operation string
	Method    string
}

// Response is what gets replayed for a finalized key.
type Response struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType"`
	Body        []byte `json:"body"`
}

// Record is the stored state of a key. Response is nil while unresolved.
type Record struct {
	Key         Key
	RequestHash string
	Response    *Response
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Store persists idempotency records. Implementations must make Reserve atomic:
// of several concurrent callers with the same key, exactly one acquires it.
type Store interface {
	// Reserve creates an unresolved record for key. When a record already
	// exists it is returned with acquired=false, unless it is unresolved,
	// carries the same hash and its lease is older than the lock timeout, in
	// which case the caller takes it over.
	Reserve(ctx context.Context, key Key, hash string) (rec Record, acquired bool, err error)
	// Finalize stores the response of an acquired key.
	Finalize(ctx context.Context, key Key, resp Response) error
	// Release drops an unresolved record so the client can retry at once.
	Release(ctx context.Context, key Key) error
}

// HashBody fingerprints a request body. JSON bodies are compacted first so
// whitespace does not change the hash; an empty body or {} hashes to EmptyHash.
func HashBody(body []byte) string {
	body = bytes.TrimSpace(body)
	if json.Valid(body) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, body); err == nil {
			body = buf.Bytes()
		}
	}
	if len(body) == 0 || bytes.Equal(body, []byte("{}")) {
		return EmptyHash
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
