// Package ptyengine owns exactly one child process attached to a PTY master
// per Engine instance, exposing byte-stream read/write, resize, and
// signalled termination. One instance backs one live session or task.
package ptyengine

import (
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	creackpty "github.com/creack/pty"
)

const readChunkSize = 4096

// backlogCapacity bounds how much recent output is retained for a session
// running without an attached client.
const backlogCapacity = 64 * 1024

// Engine wraps a child process running inside a PTY.
type Engine struct {
	cwd  string
	argv []string

	cmd  *exec.Cmd
	ptmx *os.File

	events  chan Event
	backlog *ringBuf

	createdAt time.Time
	killGrace time.Duration

	mu       sync.Mutex
	cols     uint16
	rows     uint16
	closed   bool
	exitCode int
	exited   bool

	closeOnce sync.Once
	waitOnce  sync.Once
	waitDone  chan struct{}

	firstOutput     chan struct{}
	firstOutputOnce sync.Once
}

// New spawns argv[0] with the remaining argv as arguments inside a new PTY,
// in the given working directory and environment, sized cols x rows.
//
// It fails with *SpawnError* if cwd does not exist, argv[0] is not found on
// PATH, or the PTY cannot be allocated.
func New(cwd string, argv []string, env []string, cols, rows uint16, killGrace time.Duration) (*Engine, error) {
	if len(argv) == 0 {
		return nil, &SpawnError{Reason: "argv must not be empty"}
	}

	if info, err := os.Stat(cwd); err != nil || !info.IsDir() {
		if err == nil {
			err = errors.New("not a directory")
		}
		return nil, &SpawnError{Reason: "working directory unavailable: " + cwd, Err: err}
	}

	binPath, err := exec.LookPath(argv[0])
	if err != nil {
		return nil, &SpawnError{Reason: "command not found on PATH: " + argv[0], Err: err}
	}

	cmd := exec.Command(binPath, argv[1:]...)
	cmd.Dir = cwd
	cmd.Env = mergeEnv(env)

	ptmx, err := creackpty.StartWithSize(cmd, &creackpty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, &SpawnError{Reason: "pty allocation failed", Err: err}
	}

	if killGrace <= 0 {
		killGrace = 500 * time.Millisecond
	}

	e := &Engine{
		cwd:         cwd,
		argv:        argv,
		cmd:         cmd,
		ptmx:        ptmx,
		events:      make(chan Event, 256),
		backlog:     newRingBuf(backlogCapacity),
		createdAt:   time.Now(),
		killGrace:   killGrace,
		cols:        cols,
		rows:        rows,
		waitDone:    make(chan struct{}),
		firstOutput: make(chan struct{}),
	}

	go e.readPump()
	go e.waitPump()

	return e, nil
}

// mergeEnv appends the minimal set required for a terminal UI on top of the
// caller-supplied environment.
func mergeEnv(env []string) []string {
	merged := append([]string(nil), env...)
	if !containsVar(merged, "TERM") {
		merged = append(merged, "TERM=xterm-256color")
	}
	return merged
}

func containsVar(env []string, key string) bool {
	prefix := key + "="
	for _, kv := range env {
		if len(kv) >= len(prefix) && kv[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// readPump reads opportunistically-sized chunks from the PTY master and
// forwards them as EventOutput notifications until EOF or read error.
func (e *Engine) readPump() {
	buf := make([]byte, readChunkSize)
	for {
		n, err := e.ptmx.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			e.backlog.Write(data)
			e.firstOutputOnce.Do(func() { close(e.firstOutput) })
			e.events <- Event{Type: EventOutput, Data: data}
		}
		if err != nil {
			return
		}
	}
}

// waitPump reaps the child, records the exit code, and emits EventExited.
func (e *Engine) waitPump() {
	err := e.cmd.Wait()

	e.mu.Lock()
	if !e.exited {
		e.exitCode = exitCodeFromWaitErr(e.cmd, err)
		e.exited = true
		e.closed = true
	}
	code := e.exitCode
	e.mu.Unlock()

	e.events <- Event{Type: EventExited, ExitCode: code}
	close(e.events)
	close(e.waitDone)
}

func exitCodeFromWaitErr(cmd *exec.Cmd, err error) int {
	if err == nil {
		if cmd.ProcessState != nil {
			return cmd.ProcessState.ExitCode()
		}
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return 128 + int(status.Signal())
		}
		return exitErr.ExitCode()
	}
	return -1
}

// Events returns the channel of output/exit notifications. It is closed
// once the child has exited and the final EventExited has been delivered.
func (e *Engine) Events() <-chan Event { return e.events }

// Write writes to the PTY master (and therefore to the child's stdin). It
// returns only after the kernel has accepted the bytes.
func (e *Engine) Write(data []byte) (int, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0, &ClosedError{Op: "write"}
	}
	e.mu.Unlock()

	n, err := e.ptmx.Write(data)
	if err != nil {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		return n, &ClosedError{Op: "write"}
	}
	return n, nil
}

// Resize changes the PTY window size. It is idempotent; resizing a closed
// PTY fails with *ClosedError*.
func (e *Engine) Resize(cols, rows uint16) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return &ClosedError{Op: "resize"}
	}
	e.mu.Unlock()

	if err := creackpty.Setsize(e.ptmx, &creackpty.Winsize{Cols: cols, Rows: rows}); err != nil {
		return &ClosedError{Op: "resize"}
	}

	e.mu.Lock()
	e.cols, e.rows = cols, rows
	e.mu.Unlock()
	return nil
}

// Signal requests termination of the child. Soft sends SIGTERM to the
// child's process group (the child leads its own session, so this is the
// group it started in and the PTY's initial foreground group) and, if the
// child has not exited after the configured grace period, sends it SIGKILL
// and closes the master; Hard sends SIGKILL immediately.
func (e *Engine) Signal(kind TerminationKind) {
	if e.cmd.Process == nil {
		return
	}
	switch kind {
	case Hard:
		_ = e.cmd.Process.Signal(syscall.SIGKILL)
	default:
		_ = syscall.Kill(-e.cmd.Process.Pid, syscall.SIGTERM)
		go func() {
			select {
			case <-e.waitDone:
			case <-time.After(e.killGrace):
				_ = e.cmd.Process.Signal(syscall.SIGKILL)
				e.closeMaster()
			}
		}()
	}
}

// WatchInitQuiet starts an observational goroutine that logs a warning if
// the child has produced no output within quiet of this call. It never
// kills or otherwise affects the child: the Agent CLI may legitimately take
// time to produce its first byte.
func (e *Engine) WatchInitQuiet(quiet time.Duration) {
	if quiet <= 0 {
		return
	}
	go func() {
		select {
		case <-e.firstOutput:
		case <-e.waitDone:
		case <-time.After(quiet):
			slog.Warn("pty produced no output within init-quiet window", "argv", e.argv, "cwd", e.cwd)
		}
	}()
}

func (e *Engine) closeMaster() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		_ = e.ptmx.Close()
	})
}

// Wait blocks until the child has been reaped and returns its exit code. It
// is safe to call from multiple goroutines; all callers observe the same
// exit code.
func (e *Engine) Wait() int {
	<-e.waitDone
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exitCode
}

// Closed reports whether the PTY master has been closed.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Info returns a read-only snapshot of engine metadata.
func (e *Engine) Info() Info {
	e.mu.Lock()
	defer e.mu.Unlock()
	pid := 0
	if e.cmd.Process != nil {
		pid = e.cmd.Process.Pid
	}
	return Info{
		PID:       pid,
		Cols:      e.cols,
		Rows:      e.rows,
		Cwd:       e.cwd,
		Argv:      append([]string(nil), e.argv...),
		CreatedAt: e.createdAt,
	}
}

// Backlog returns the most recent bytes of output, up to a bounded
// capacity, for replay to a client attaching after output was produced.
func (e *Engine) Backlog() []byte { return e.backlog.Bytes() }

// Close forcibly terminates the child and closes the PTY master. Safe to
// call multiple times and safe to call concurrently with Signal.
func (e *Engine) Close() error {
	if e.cmd.Process != nil {
		_ = e.cmd.Process.Signal(syscall.SIGTERM)
	}
	e.closeMaster()
	return nil
}
