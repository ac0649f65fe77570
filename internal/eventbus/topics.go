// Package eventbus is a small in-process publish/subscribe fan-out used
// to notify the wider application of task completion and deployment
// signals. Topics are a closed set, not stringly-typed.
package eventbus

// Topic is the closed set of subjects the bus carries.
type Topic int

const (
	// TopicTaskCompleted carries a TaskCompletedEvent.
	TopicTaskCompleted Topic = iota
	// TopicAgentsDeployed carries an AgentsDeployedEvent, published when
	// a home-level initialization task's marker files are observed to
	// exist; interpretation belongs to the external collaborator.
	TopicAgentsDeployed
)

func (t Topic) String() string {
	switch t {
	case TopicTaskCompleted:
		return "task_completed"
	case TopicAgentsDeployed:
		return "agents_deployed"
	default:
		return "unknown"
	}
}

// TaskCompletedEvent is published exactly once per task_id. SessionID is
// nil when the task finished without id capture or a completion marker
// ever supplying one.
type TaskCompletedEvent struct {
	TaskID              string
	SessionID           *string
	ExitCode            int
	Status              string // "completed" or "failed"
	NotificationTargets []byte // opaque, forwarded verbatim as json.RawMessage by callers
}

// AgentsDeployedEvent is published when a home-level initialization
// task's expected marker files are observed on disk.
type AgentsDeployedEvent struct {
	TaskID string
	Files  []string
}
