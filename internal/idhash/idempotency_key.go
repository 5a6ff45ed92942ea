package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// IdempotencyKey computes the dispatcher's idempotency key using SHA256.
// Formula: SHA256(suppression_key|time_bucket) where time_bucket is the
// signal's emission timestamp truncated to bucketMs. Two signals for the
// same (entity, category) inside one bucket map to the same key, so the
// dispatcher will not post the same content twice.
func IdempotencyKey(suppressionKey string, emittedAtMs, bucketMs int64) string {
	if bucketMs <= 0 {
		bucketMs = 1
	}
	bucket := emittedAtMs / bucketMs

	data := fmt.Sprintf("%s|%d", suppressionKey, bucket)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
