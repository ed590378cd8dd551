// Package capture owns per-participant turn capture: the speaking-activity
// registry and the turn state machine that carries audio from decode to a
// transcript entry.
package capture

import "sync"

// Registry is the process-wide set of participants currently mid-turn.
// Capture pipelines are the only writers; the playback scheduler reads it to
// decide whether the channel is silent.
type Registry struct {
	mu       sync.RWMutex
	speaking map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{speaking: make(map[string]struct{})}
}

// Add marks a participant as speaking.
func (r *Registry) Add(participantID string) {
	r.mu.Lock()
	r.speaking[participantID] = struct{}{}
	r.mu.Unlock()
}

// Remove marks a participant as no longer speaking. Removing an absent
// participant is a no-op.
func (r *Registry) Remove(participantID string) {
	r.mu.Lock()
	delete(r.speaking, participantID)
	r.mu.Unlock()
}

// IsAnyoneSpeaking reports whether any participant is mid-turn.
func (r *Registry) IsAnyoneSpeaking() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.speaking) > 0
}

// Count returns the number of participants mid-turn.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.speaking)
}

// Snapshot returns the current speaking set.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.speaking))
	for id := range r.speaking {
		out = append(out, id)
	}
	return out
}
