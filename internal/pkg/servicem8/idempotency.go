package servicem8

import (
	"crypto/sha256"
	"encoding/hex"
)

// IdempotencyKey derives a stable key from the operation name, the subject
// UUID and an optional content fingerprint. Identical logical intents always
// yield the same key, including across process restarts, so a retried
// mutation presents the same key to ServiceM8 as the original attempt.
func IdempotencyKey(operation, subjectID string, fingerprint ...string) string {
	h := sha256.New()
	h.Write([]byte(operation))
	h.Write([]byte{0})
	h.Write([]byte(subjectID))
	for _, f := range fingerprint {
		h.Write([]byte{0})
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}
