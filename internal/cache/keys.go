package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func RunLockKey() string {
	return "sync:lock"
}

func LastRunKey() string {
	return "sync:last_run"
}

// SuspendedKey scopes a suspension to one credential: a new token for the same
// tenant maps to a different key.
func SuspendedKey(tenantID uuid.UUID, tokenFingerprint string) string {
	return fmt.Sprintf("sync:suspended:%s:%s", tenantID, tokenFingerprint)
}

// RateLimitKey counts requests per API key id. Prefixes are not unique, so
// two keys sharing one would otherwise share a budget.
func RateLimitKey(keyID uuid.UUID) string {
	return fmt.Sprintf("ratelimit:%s", keyID)
}
