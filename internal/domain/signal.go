package domain

import "fmt"

// SignalStatus is the lifecycle state of a signal. Signals are terminal
// once dispatched, failed, or dropped.
type SignalStatus string

const (
	SignalPending    SignalStatus = "pending"
	SignalDispatched SignalStatus = "dispatched"
	SignalFailed     SignalStatus = "failed"
	SignalDropped    SignalStatus = "dropped"
)

// Signal is a verdict that cleared suppression and rate-limit checks and is
// queued for external posting.
type Signal struct {
	ID             string // uuid assigned at admission
	Verdict        Verdict
	SuppressionKey string // entity id + category
	EmittedAt      int64  // ms, admission time
	Status         SignalStatus
	Attempts       int    // dispatch attempts so far
	PostID         string // external post id after successful dispatch
}

// SuppressionKey builds the dedup key for an (entity, category) pair.
func SuppressionKey(entityID string, category Category) string {
	return fmt.Sprintf("%s|%s", entityID, category)
}
