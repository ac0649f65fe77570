// Package session implements the process-wide Session Registry: a
// uniqueness-enforcing map from session id to session record, and the
// record's lifecycle state machine.
package session

import (
	"sync"
	"time"
)

// Kind distinguishes why a session exists.
type Kind int

const (
	KindInteractive Kind = iota
	KindTask
	KindResume
)

// ExecutionMode distinguishes whether a task has a live attached client.
type ExecutionMode int

const (
	ExecutionInteractive ExecutionMode = iota
	ExecutionBackground
)

// State is a node in the session lifecycle state machine.
type State int

const (
	Initializing State = iota
	Running
	Draining
	Failed
	Terminated
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Failed:
		return "failed"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// PTYHandle is the narrow view of a PTY Engine the Session record needs:
// just enough to tear it down on termination. Defined here, rather than
// importing ptyengine directly, so the registry has no compile-time
// dependency on the engine's construction details.
type PTYHandle interface {
	Close() error
}

// Record is one entry in the Session Registry. Mutable fields are guarded
// by mu; the Registry's own map mutex guards only insertion and removal.
type Record struct {
	mu sync.Mutex

	ID                string
	Kind              Kind
	ProjectPath       string
	RequestedResumeID string
	CapturedAgentID   string
	TaskID            string
	ExecutionMode     ExecutionMode
	PTY               PTYHandle
	ClientID          string

	state     State
	CreatedAt time.Time
	LastIOAt  time.Time
}

// State returns the record's current lifecycle state.
func (r *Record) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// SetCapturedAgentID records the id captured from the PTY output stream.
func (r *Record) SetCapturedAgentID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CapturedAgentID = id
}

// GetCapturedAgentID returns the previously captured agent id, if any.
func (r *Record) GetCapturedAgentID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.CapturedAgentID
}

// Touch updates LastIOAt to now; the Multiplexer calls it for every chunk
// of PTY output. Client input does not update it.
func (r *Record) Touch(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.LastIOAt = now
}
