// Package multiplexer binds one Client Channel to one Session record and
// its PTY Engine, running the three cooperating pumps described by the
// system design: PTY->client, client->PTY, and teardown supervision.
package multiplexer

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/houx15fork/agentbridge/internal/agentprofile"
	"github.com/houx15fork/agentbridge/internal/idcapture"
	"github.com/houx15fork/agentbridge/internal/ptyengine"
	"github.com/houx15fork/agentbridge/internal/session"
	"github.com/houx15fork/agentbridge/internal/tasksupervisor"
	"github.com/houx15fork/agentbridge/internal/wsgateway"
)

// Multiplexer owns the wiring between accepted channels, the Session
// Registry, and the PTY Engine layer for interactive, resume, and task
// sessions alike. A task session still runs through tasksupervisor.Supervisor
// for completion tracking (marker race + event publication), but the
// Multiplexer owns the PTY engine's event loop in every case, since a
// Client Channel is attached.
type Multiplexer struct {
	registry       *session.Registry
	profiles       *agentprofile.Registry
	tasks          *tasksupervisor.Supervisor
	defaultCols    uint16
	defaultRows    uint16
	killGrace      time.Duration
	drainGrace     time.Duration
	maxSessions    int
	initQuietAfter time.Duration
}

// New builds a Multiplexer. tasks may be nil if task-kind channels are
// never expected (e.g. in tests exercising interactive sessions only).
// maxSessions <= 0 disables the concurrent-PTY cap (not recommended
// outside tests). initQuietAfter <= 0 disables the observational
// init-quiet warning.
func New(registry *session.Registry, profiles *agentprofile.Registry, tasks *tasksupervisor.Supervisor, defaultCols, defaultRows uint16, killGrace, drainGrace time.Duration, maxSessions int, initQuietAfter time.Duration) *Multiplexer {
	return &Multiplexer{
		registry:       registry,
		profiles:       profiles,
		tasks:          tasks,
		defaultCols:    defaultCols,
		defaultRows:    defaultRows,
		killGrace:      killGrace,
		drainGrace:     drainGrace,
		maxSessions:    maxSessions,
		initQuietAfter: initQuietAfter,
	}
}

// HandleChannel is the wsgateway.Gateway onConnect callback: it waits for
// the channel's init frame, spawns the PTY, registers the session, and
// drives the three pumps until teardown.
func (m *Multiplexer) HandleChannel(ctx context.Context, ch *wsgateway.Channel) {
	init, ok := <-ch.Inbound()
	if !ok {
		return
	}

	if m.maxSessions > 0 && m.registry.Count() >= m.maxSessions {
		ch.CloseWithError(wsgateway.KindResourceExhausted, "maximum concurrent sessions reached")
		return
	}

	id := init.SessionID
	if id == "" {
		id = generateSessionID()
	}

	kind := session.KindInteractive
	if init.TaskID != "" {
		kind = session.KindTask
	} else if init.Resume && init.SessionID != "" {
		kind = session.KindResume
	}

	rec, err := m.registry.Create(id, kind, init.ProjectPath)
	if err != nil {
		ch.CloseWithError(wsgateway.KindBindError, err.Error())
		return
	}
	rec.TaskID = init.TaskID

	if err := ch.Bind(id); err != nil {
		_ = m.registry.Transition(rec, session.Failed)
		_ = m.registry.Transition(rec, session.Terminated)
		ch.CloseWithError(wsgateway.KindBindError, err.Error())
		return
	}

	profile := m.profiles.Default()
	if profile == nil {
		_ = m.registry.Transition(rec, session.Failed)
		_ = m.registry.Transition(rec, session.Terminated)
		ch.CloseWithError(wsgateway.KindSpawnError, "no agent profile configured")
		return
	}

	argv := m.buildArgv(profile, init)
	cols, rows := m.resolveSize(init)

	engine, err := ptyengine.New(init.ProjectPath, argv, os.Environ(), cols, rows, m.killGrace)
	if err != nil {
		_ = m.registry.Transition(rec, session.Failed)
		_ = m.registry.Transition(rec, session.Terminated)
		ch.CloseWithError(wsgateway.KindSpawnError, err.Error())
		return
	}

	rec.PTY = engine
	if err := m.registry.Transition(rec, session.Running); err != nil {
		_ = engine.Close()
		ch.CloseWithError(wsgateway.KindSpawnError, err.Error())
		return
	}
	engine.WatchInitQuiet(m.initQuietAfter)

	var filter *idcapture.Filter
	var task *tasksupervisor.Task
	if kind == session.KindTask {
		filter = idcapture.New(nil, 0)
		task = &tasksupervisor.Task{
			TaskID:              init.TaskID,
			WorkingDirectory:    init.ProjectPath,
			Prompt:              taskPrompt(init),
			SkipPermissions:     init.SkipPermissions,
			Verbose:             init.Verbose,
			ExecutionMode:       tasksupervisor.ExecutionInteractive,
			NotificationTargets: init.NotificationTargets,
			Status:              tasksupervisor.StatusRunning,
			StartedAt:           time.Now().UTC(),
		}
	}

	m.run(ctx, rec, ch, engine, filter, task)
}

// taskPrompt returns the literal positional prompt for a task-kind init
// frame, falling back to initial_command for a caller that hasn't
// adopted the dedicated prompt field yet.
func taskPrompt(init wsgateway.ClientMessage) string {
	if init.Prompt != "" {
		return init.Prompt
	}
	return init.InitialCommand
}

func (m *Multiplexer) buildArgv(profile *agentprofile.Profile, init wsgateway.ClientMessage) []string {
	if init.TaskID != "" {
		return profile.BuildTaskArgv(taskPrompt(init), init.SkipPermissions, init.Verbose)
	}
	if init.Resume && init.SessionID != "" {
		return profile.BuildResumeArgv(init.SessionID)
	}
	return profile.BuildInteractiveArgv(init.InitialCommand)
}

func (m *Multiplexer) resolveSize(init wsgateway.ClientMessage) (uint16, uint16) {
	cols, rows := m.defaultCols, m.defaultRows
	if init.Cols > 0 {
		cols = uint16(init.Cols)
	}
	if init.Rows > 0 {
		rows = uint16(init.Rows)
	}
	return cols, rows
}

// run drives the PTY->client pump, the client->PTY pump, and teardown
// supervision for one bound channel/session pair. It is the sole
// consumer of engine.Events() for the lifetime of the session: output
// delivery, id capture, client-disconnect reaction, and (for a task
// session) completion tracking all have to happen from this one loop.
//
// Two events can end the session: the PTY exits on its own (the common
// case), or the client goes away first (browser disconnect) while the
// PTY is still running. In the latter case the loop does not return
// immediately — it transitions to Draining and forces the child to
// terminate, then keeps consuming engine.Events() until the resulting
// EventExited arrives, so the process is always actually reaped and a
// task session still gets its completion event.
func (m *Multiplexer) run(ctx context.Context, rec *session.Record, ch *wsgateway.Channel, engine *ptyengine.Engine, filter *idcapture.Filter, task *tasksupervisor.Task) {
	stopClientPump := make(chan struct{})
	clientGone := make(chan struct{})
	var stopOnce sync.Once
	stopPump := func() { stopOnce.Do(func() { close(stopClientPump) }) }

	go func() {
		m.pumpClientToPTY(ch, engine, stopClientPump)
		close(clientGone)
	}()

	disconnected := false
	for {
		select {
		case ev, ok := <-engine.Events():
			if !ok {
				return
			}
			switch ev.Type {
			case ptyengine.EventOutput:
				rec.Touch(time.Now())
				if filter != nil {
					filter.Feed(ev.Data)
					if capturedID, ok := filter.ID(); ok {
						rec.SetCapturedAgentID(capturedID)
					}
				}
				if !disconnected {
					m.deliverOutput(ctx, ch, ev.Data)
				}
			case ptyengine.EventExited:
				m.finish(rec, ch, engine, stopPump, task, filter, ev.ExitCode, disconnected)
				return
			}
		case <-clientGone:
			if !disconnected {
				disconnected = true
				m.disconnect(rec, engine, stopPump)
			}
		case <-ch.Done():
			if !disconnected {
				disconnected = true
				m.disconnect(rec, engine, stopPump)
			}
		}
	}
}

// deliverOutput enqueues a PTY chunk to the channel's outbound queue,
// applying producer backpressure by blocking the PTY read loop (via a
// short retry poll) rather than dropping bytes when the budget is full.
func (m *Multiplexer) deliverOutput(ctx context.Context, ch *wsgateway.Channel, data []byte) {
	for {
		if ch.TryEnqueueOutput(data) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ch.Done():
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// pumpClientToPTY dequeues input/resize frames and applies them to the
// PTY until the channel closes or stop is signalled.
func (m *Multiplexer) pumpClientToPTY(ch *wsgateway.Channel, engine *ptyengine.Engine, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case msg, ok := <-ch.Inbound():
			if !ok {
				return
			}
			switch msg.Type {
			case "input":
				if _, err := engine.Write([]byte(msg.Data)); err != nil {
					return
				}
			case "resize":
				if msg.Cols > 0 && msg.Rows > 0 {
					_ = engine.Resize(uint16(msg.Cols), uint16(msg.Rows))
				}
			}
		}
	}
}

// disconnect reacts to the client going away (ch.Inbound() closing, or
// ch.Done() firing) while the PTY is still running: it stops accepting
// client input, transitions the session to Draining, and forces the
// child to exit promptly rather than waiting for it to notice EOF on
// its own — there is no longer anyone to flush output to, so it does
// not wait out the drain grace the normal-exit path uses.
func (m *Multiplexer) disconnect(rec *session.Record, engine *ptyengine.Engine, stopPump func()) {
	if err := m.registry.Transition(rec, session.Draining); err != nil {
		slog.Warn("session teardown: unexpected transition failure", "session_id", rec.ID, "error", err)
	}
	stopPump()
	_ = engine.Close()
}

// finish reaps the PTY's exit. If the client was still attached when
// the PTY exited on its own, it gives the output pump a flush deadline
// before severing; if the client had already disconnected, Draining and
// the forced close already happened in disconnect and finish only needs
// to reap. Either way it transitions to Terminated, closes the channel,
// and — for a task session — hands exitCode to the Task Supervisor so
// it can race the completion marker and publish exactly one
// task_completed event.
func (m *Multiplexer) finish(rec *session.Record, ch *wsgateway.Channel, engine *ptyengine.Engine, stopPump func(), task *tasksupervisor.Task, filter *idcapture.Filter, exitCode int, wasDisconnected bool) {
	if !wasDisconnected {
		if err := m.registry.Transition(rec, session.Draining); err != nil {
			slog.Warn("session teardown: unexpected transition failure", "session_id", rec.ID, "error", err)
		}
		time.Sleep(m.drainGrace)
		stopPump()
	}

	_ = engine.Close()

	if err := m.registry.Transition(rec, session.Terminated); err != nil {
		slog.Warn("session teardown: terminate transition failed", "session_id", rec.ID, "error", err)
	}
	ch.CloseNormally()

	if task != nil && m.tasks != nil {
		go m.tasks.Watch(context.Background(), task, filter, exitCode)
	}
}

func generateSessionID() string {
	return uuid.NewString()
}
