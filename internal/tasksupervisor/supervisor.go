package tasksupervisor

import (
	"context"
	"os"
	"time"

	"github.com/houx15fork/agentbridge/internal/agentprofile"
	"github.com/houx15fork/agentbridge/internal/db"
	"github.com/houx15fork/agentbridge/internal/eventbus"
	"github.com/houx15fork/agentbridge/internal/idcapture"
	"github.com/houx15fork/agentbridge/internal/ptyengine"
)

// defaultCols/defaultRows size the PTY a task runs in; a task has no
// resize control frame since it has no interactive client by default.
const (
	defaultCols = 120
	defaultRows = 30
)

// Supervisor launches one-shot Agent CLI runs and publishes exactly one
// completion event per task, using the marker directory as the
// authoritative source when it and PTY exit disagree.
type Supervisor struct {
	markerDir      string
	profiles       *agentprofile.Registry
	bus            *eventbus.Bus
	completions    *db.CompletionRepo
	killGrace      time.Duration
	initQuietAfter time.Duration
}

// NewSupervisor builds a Supervisor that watches markerDir for
// completion markers and reports through bus, gated by completions for
// exactly-once delivery across restarts. initQuietAfter <= 0 disables the
// observational init-quiet warning.
func NewSupervisor(markerDir string, profiles *agentprofile.Registry, bus *eventbus.Bus, completions *db.CompletionRepo, initQuietAfter time.Duration) *Supervisor {
	return &Supervisor{
		markerDir:      markerDir,
		profiles:       profiles,
		bus:            bus,
		completions:    completions,
		killGrace:      500 * time.Millisecond,
		initQuietAfter: initQuietAfter,
	}
}

// Launch spawns task's Agent CLI invocation and returns immediately with
// the PTY engine backing it. Run must still be called with that engine to
// drive completion tracking and event publication.
func (s *Supervisor) Launch(task *Task, profile *agentprofile.Profile) (*ptyengine.Engine, error) {
	wd := task.WorkingDirectory
	if wd == "" {
		if home, err := os.UserHomeDir(); err == nil {
			wd = home
		}
	}

	argv := profile.BuildTaskArgv(task.Prompt, task.SkipPermissions, task.Verbose)

	engine, err := ptyengine.New(wd, argv, os.Environ(), defaultCols, defaultRows, s.killGrace)
	if err != nil {
		return nil, err
	}

	task.Status = StatusRunning
	task.StartedAt = time.Now().UTC()
	engine.WatchInitQuiet(s.initQuietAfter)
	return engine, nil
}

// Run drives a launched task to completion: it feeds PTY output through
// an id capture filter, races the completion marker watch against PTY
// exit, assembles the completion event with marker fields taking
// precedence on conflict, and publishes it at most once.
func (s *Supervisor) Run(ctx context.Context, task *Task, engine *ptyengine.Engine) {
	filter := idcapture.New(nil, 0)

	ptyDone := make(chan int, 1)
	go func() {
		for ev := range engine.Events() {
			switch ev.Type {
			case ptyengine.EventOutput:
				filter.Feed(ev.Data)
			case ptyengine.EventExited:
				ptyDone <- ev.ExitCode
			}
		}
	}()

	markerCtx, cancelMarker := context.WithCancel(ctx)
	defer cancelMarker()
	markerCh := make(chan *marker, 1)
	go func() {
		m, err := watchMarker(markerCtx, s.markerDir, task.TaskID)
		if err == nil {
			markerCh <- m
		}
	}()

	var (
		m        *marker
		exitCode int
	)

	select {
	case m = <-markerCh:
		// Marker fired first; still wait for the PTY to actually exit so
		// the engine is fully reaped before we return.
		exitCode = engine.Wait()
	case exitCode = <-ptyDone:
		// Give a written-concurrently marker a brief window to land
		// before deciding the PTY exit is authoritative.
		select {
		case m = <-markerCh:
		case <-time.After(200 * time.Millisecond):
		}
	}
	cancelMarker()

	if capturedID, ok := filter.ID(); ok {
		task.CapturedAgentID = capturedID
	}

	s.complete(task, m, exitCode)
}

// Watch completes a task whose PTY has already exited with exitCode,
// for a caller that owns its own exclusive range over engine.Events()
// (the Multiplexer, feeding an interactive Client Channel) and so cannot
// hand this Supervisor a live engine to range over as Run does. It gives
// a marker that raced the exit a brief window to land, then assembles
// and publishes the completion event exactly as Run does for a
// background task.
func (s *Supervisor) Watch(ctx context.Context, task *Task, filter *idcapture.Filter, exitCode int) {
	markerCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	m, _ := watchMarker(markerCtx, s.markerDir, task.TaskID)

	if filter != nil {
		if capturedID, ok := filter.ID(); ok {
			task.CapturedAgentID = capturedID
		}
	}

	s.complete(task, m, exitCode)
}

// complete assembles the completion event per the marker-wins rule and
// publishes it exactly once, gated by the completion repo so a restart
// never re-delivers an already-published task.
func (s *Supervisor) complete(task *Task, m *marker, exitCode int) {
	var sessionID *string
	if task.CapturedAgentID != "" {
		sessionID = &task.CapturedAgentID
	}
	status := "failed"
	if exitCode == 0 {
		status = "completed"
	}

	if m != nil {
		if m.SessionID != "" {
			sessionID = &m.SessionID
		}
		exitCode = m.ExitCode
		status = "completed"
	}

	task.ExitCode = exitCode
	task.EndedAt = time.Now().UTC()
	if status == "completed" {
		task.Status = StatusCompleted
	} else {
		task.Status = StatusFailed
	}

	first, err := s.completions.MarkPublished(context.Background(), &db.Completion{
		TaskID:    task.TaskID,
		SessionID: sessionID,
		ExitCode:  exitCode,
		Status:    status,
	})
	if err != nil || !first {
		return
	}

	s.bus.Publish(eventbus.TopicTaskCompleted, eventbus.TaskCompletedEvent{
		TaskID:              task.TaskID,
		SessionID:           sessionID,
		ExitCode:            exitCode,
		Status:              status,
		NotificationTargets: task.NotificationTargets,
	})

	if task.HomeInit && status == "completed" {
		s.publishAgentsDeployed(task)
	}
}

// publishAgentsDeployed checks, by existence only, whether every file task
// expects a home-level initialization to have written is now present, and
// if so publishes agents_deployed. Interpretation of the files is left to
// whatever external collaborator subscribes to the topic.
func (s *Supervisor) publishAgentsDeployed(task *Task) {
	if len(task.ExpectedAgentFiles) == 0 {
		return
	}
	for _, f := range task.ExpectedAgentFiles {
		if _, err := os.Stat(f); err != nil {
			return
		}
	}
	s.bus.Publish(eventbus.TopicAgentsDeployed, eventbus.AgentsDeployedEvent{
		TaskID: task.TaskID,
		Files:  task.ExpectedAgentFiles,
	})
}
