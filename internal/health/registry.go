// Package health tracks per-source liveness for the degraded-state surface.
package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Stats is one source's health view.
type Stats struct {
	LastEventAt    int64  `json:"last_event_at"` // ms, 0 before the first event
	EventCount     uint64 `json:"event_count"`
	ErrorCount     uint64 `json:"error_count"`
	MalformedCount uint64 `json:"malformed_count"`
	Degraded       bool   `json:"degraded"`
}

// Registry aggregates health reports from sources. Sources report events and
// errors; anything watching the registry (the HTTP endpoint, the pipeline
// log loop) reads consistent snapshots.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]*Stats

	// StaleAfter marks a source degraded in snapshots when it has gone
	// this long without an event. Zero disables the check.
	StaleAfter time.Duration
}

// NewRegistry creates a registry. staleAfter of 0 disables staleness marking.
func NewRegistry(staleAfter time.Duration) *Registry {
	return &Registry{
		sources:    make(map[string]*Stats),
		StaleAfter: staleAfter,
	}
}

// Register adds a source so it shows up before its first event.
func (r *Registry) Register(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sources[name]; !ok {
		r.sources[name] = &Stats{}
	}
}

func (r *Registry) get(name string) *Stats {
	s, ok := r.sources[name]
	if !ok {
		s = &Stats{}
		r.sources[name] = s
	}
	return s
}

// RecordEvent notes a successfully ingested event.
func (r *Registry) RecordEvent(name string, tsMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.get(name)
	s.EventCount++
	if tsMs > s.LastEventAt {
		s.LastEventAt = tsMs
	}
	s.Degraded = false
}

// RecordError notes a source-level failure (stream drop, poll error).
func (r *Registry) RecordError(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.get(name).ErrorCount++
}

// RecordMalformed notes a dropped unparseable payload.
func (r *Registry) RecordMalformed(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.get(name).MalformedCount++
}

// SetDegraded marks a source degraded or recovered explicitly.
func (r *Registry) SetDegraded(name string, degraded bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.get(name).Degraded = degraded
}

// Snapshot returns a copy of all source stats, applying the staleness check
// against now.
func (r *Registry) Snapshot(nowMs int64) map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Stats, len(r.sources))
	for name, s := range r.sources {
		stat := *s
		if r.StaleAfter > 0 && stat.LastEventAt > 0 &&
			nowMs-stat.LastEventAt > r.StaleAfter.Milliseconds() {
			stat.Degraded = true
		}
		out[name] = stat
	}
	return out
}

// Degraded reports whether any source is currently degraded.
func (r *Registry) Degraded(nowMs int64) bool {
	for _, s := range r.Snapshot(nowMs) {
		if s.Degraded {
			return true
		}
	}
	return false
}

// ServeHTTP serves the health snapshot as JSON. Degraded sources make the
// overall status "degraded" but keep the 200 code: the process is alive,
// just impaired.
func (r *Registry) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	now := time.Now().UnixMilli()
	snapshot := r.Snapshot(now)

	status := "ok"
	if r.Degraded(now) {
		status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  status,
		"sources": snapshot,
	})
}
