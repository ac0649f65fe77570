// Package idcapture extracts an Agent CLI's self-announced session
// identifier from its PTY output stream. The Agent prints a UUID-shaped
// token early in a task run; the filter watches a rolling, ANSI-stripped
// window of recent output for that token appearing in an announcement
// context and reports it exactly once.
package idcapture

import (
	"regexp"
	"sync"
)

// MinWindow is the minimum size, in bytes, of the rolling window the
// filter must maintain per the capture contract.
const MinWindow = 256

// defaultWindowSize is generous enough to hold a JSON announcement
// fragment or a "Session: <uuid>" line plus ANSI padding.
const defaultWindowSize = 4096

var uuidPattern = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

// DefaultAnnouncementPatterns recognizes a UUID immediately preceded by a
// "Session:" label on the same line, or embedded as a JSON session_id
// value. Each must contain exactly one capturing group around the UUID.
func DefaultAnnouncementPatterns() []*regexp.Regexp {
	return []*regexp.Regexp{
		regexp.MustCompile(`(?i)session:[ \t]*(` + uuidPattern.String() + `)`),
		regexp.MustCompile(`"session_id"\s*:\s*"(` + uuidPattern.String() + `)"`),
	}
}

// Filter is a stateful, single-use byte-stream scanner. Feed is safe to
// call from one goroutine at a time (the PTY read pump); Captured/ID may
// be called concurrently from others.
type Filter struct {
	patterns []*regexp.Regexp

	mu       sync.Mutex
	window   []byte
	maxWin   int
	captured bool
	id       string
}

// New builds a Filter using the given announcement patterns. If patterns
// is empty, DefaultAnnouncementPatterns is used. A windowSize below
// MinWindow is replaced by defaultWindowSize.
func New(patterns []*regexp.Regexp, windowSize int) *Filter {
	if len(patterns) == 0 {
		patterns = DefaultAnnouncementPatterns()
	}
	if windowSize < MinWindow {
		windowSize = defaultWindowSize
	}
	return &Filter{
		patterns: patterns,
		maxWin:   windowSize,
	}
}

// Feed appends raw PTY bytes (which may include ANSI escape sequences and
// may split a token across calls) to the rolling window and checks for an
// announcement. It never mutates or returns the bytes it is given; the
// forwarded stream to the client is untouched by this call.
func (f *Filter) Feed(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.captured {
		return
	}

	f.window = append(f.window, data...)
	if over := len(f.window) - f.maxWin; over > 0 {
		f.window = f.window[over:]
	}

	clean := StripForMatching(f.window)
	for _, pat := range f.patterns {
		if m := pat.FindSubmatch(clean); m != nil && len(m) > 1 {
			f.captured = true
			f.id = string(m[1])
			return
		}
	}
}

// Captured reports whether a session id has been recorded.
func (f *Filter) Captured() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.captured
}

// ID returns the captured session id and whether one has been captured.
func (f *Filter) ID() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.id, f.captured
}
