package wsgateway

import "encoding/json"

// ClientMessage is the union shape for every inbound frame. Fields not
// relevant to Type are left zero.
type ClientMessage struct {
	Type string `json:"type"`

	// init
	ProjectPath    string `json:"project_path,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
	Resume         bool   `json:"resume,omitempty"`
	InitialCommand string `json:"initial_command,omitempty"`
	TaskID         string `json:"task_id,omitempty"`
	ExecutionMode  string `json:"execution_mode,omitempty"`

	// init, task_id set: task launch fields mirroring the Task record's
	// prompt/skip_permissions/verbose/notification_targets.
	Prompt              string          `json:"prompt,omitempty"`
	SkipPermissions     bool            `json:"skip_permissions,omitempty"`
	Verbose             bool            `json:"verbose,omitempty"`
	NotificationTargets json.RawMessage `json:"notification_targets,omitempty"`

	// input
	Data string `json:"data,omitempty"`

	// resize / init share cols, rows
	Cols int `json:"cols,omitempty"`
	Rows int `json:"rows,omitempty"`
}

// OutputMessage carries an opaque byte chunk read from the PTY.
type OutputMessage struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// ErrorMessage is terminal: the channel is closed immediately after.
type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// URLOpenMessage hints that the Agent printed a URL worth opening.
type URLOpenMessage struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// newOutputMessage re-encodes a PTY chunk as a JSON string field. An
// invalid UTF-8 byte sequence becomes U+FFFD here, same as the teacher's
// own hub.OutputMessage; a client relying on exact byte order for binary
// output would need a frame-level binary encoding instead.
func newOutputMessage(data []byte) []byte {
	return mustMarshal(OutputMessage{Type: "output", Data: string(data)})
}

func newErrorMessage(kind ErrorKind, detail string) []byte {
	msg := kind.String()
	if detail != "" {
		msg = msg + ": " + detail
	}
	return mustMarshal(ErrorMessage{Type: "error", Error: msg})
}

func newURLOpenMessage(url string) []byte {
	return mustMarshal(URLOpenMessage{Type: "url_open", URL: url})
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"type":"error","error":"internal: marshal failure"}`)
	}
	return data
}
