package ledger

import (
	"fmt"
	"sort"
	"strings"
)

// Metadata carries provider-side annotations for a transaction. Only the keys
// recognized for the transaction kind are accepted.
type Metadata map[string]string

// Recognized keys and their maximum value length.
var commonMetadataKeys = map[string]int{
	"channel":     32,
	"provider":    32,
	"external_id": 120,
}

var kindMetadataKeys = map[Kind]map[string]int{
	KindDeposit:  {"end_to_end_id": 64},
	KindTransfer: {"end_to_end_id": 64},
	KindPayment:  {"merchant": 80, "card_last4": 4, "end_to_end_id": 64},
}

// AllowedMetadataKeys lists the keys accepted for kind in sorted order.
func AllowedMetadataKeys(kind Kind) []string {
	keys := make([]string, 0, len(commonMetadataKeys)+len(kindMetadataKeys[kind]))
	for k := range commonMetadataKeys {
		keys = append(keys, k)
	}
	for k := range kindMetadataKeys[kind] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate checks every key against the bounded set recognized for kind.
func (m Metadata) Validate(kind Kind) error {
	for key, value := range m {
		limit, ok := commonMetadataKeys[key]
		if !ok {
			limit, ok = kindMetadataKeys[kind][key]
		}
		if !ok {
			return newError(CodeInvalidMetadata, fmt.Sprintf("key %q is not recognized for %s", key, kind))
		}
		value = strings.TrimSpace(value)
		if value == "" {
			return newError(CodeInvalidMetadata, fmt.Sprintf("key %q is empty", key))
		}
		if len(value) > limit {
			return newError(CodeInvalidMetadata, fmt.Sprintf("key %q exceeds %d characters", key, limit))
		}
	}
	return nil
}

func (m Metadata) clone() Metadata {
	if len(m) == 0 {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = strings.TrimSpace(v)
	}
	return out
}
