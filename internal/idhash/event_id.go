package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"token-sentinel/internal/domain"
)

// EventID computes a deterministic event ID using SHA256.
// Formula: SHA256(source_id|source_kind|event_type|entity_id|seq|timestamp)
// Returns hex-encoded hash (64 characters). The same upstream observation
// always maps to the same ID, which is what makes duplicate delivery
// detectable downstream.
func EventID(
	sourceID string,
	source domain.SourceKind,
	eventType domain.EventType,
	entityID string,
	seq uint64,
	timestamp int64,
) string {
	data := fmt.Sprintf("%s|%s|%s|%s|%d|%d",
		sourceID,
		string(source),
		string(eventType),
		entityID,
		seq,
		timestamp,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
