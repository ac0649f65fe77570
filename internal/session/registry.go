package session

import (
	"sync"
	"time"
)

var legalNext = map[State][]State{
	Initializing: {Running, Failed},
	Running:      {Draining, Terminated},
	Draining:     {Terminated},
	Failed:       {Terminated},
	Terminated:   {},
}

func isLegalTransition(from, to State) bool {
	for _, s := range legalNext[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Registry is the process-wide session-id to Record map. Lookup, insert,
// and remove are guarded by a single mutex and are intentionally short;
// everything else about a record is guarded by the record's own mutex.
type Registry struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]*Record)}
}

// Create reserves id in Initializing state. It fails with *BindError* if a
// non-Terminated record already exists for id, enforcing the Uniqueness
// invariant.
func (r *Registry) Create(id string, kind Kind, projectPath string) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.records[id]; ok && existing.State() != Terminated {
		return nil, &BindError{ID: id}
	}

	now := time.Now()
	rec := &Record{
		ID:          id,
		Kind:        kind,
		ProjectPath: projectPath,
		state:       Initializing,
		CreatedAt:   now,
		LastIOAt:    now,
	}
	r.records[id] = rec
	return rec, nil
}

// Get returns the live record for id, or nil if none exists.
func (r *Registry) Get(id string) *Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.State() == Terminated {
		return nil
	}
	return rec
}

// Transition moves rec to the given state, failing with *TransitionError*
// if the move is not legal from rec's current state. When the new state
// is Terminated, the record is removed from the registry map after the
// record's own state is updated, satisfying the No-leaks invariant in
// concert with the caller having already closed the PTY.
func (r *Registry) Transition(rec *Record, to State) error {
	rec.mu.Lock()
	from := rec.state
	if !isLegalTransition(from, to) {
		rec.mu.Unlock()
		return &TransitionError{ID: rec.ID, From: from, To: to}
	}
	rec.state = to
	rec.mu.Unlock()

	if to == Terminated {
		r.mu.Lock()
		if current, ok := r.records[rec.ID]; ok && current == rec {
			delete(r.records, rec.ID)
		}
		r.mu.Unlock()
	}
	return nil
}

// Count returns the number of records currently tracked, including ones
// mid-teardown but not yet Terminated. Used to enforce the concurrent-PTY
// cap.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
