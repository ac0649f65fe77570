package tasksupervisor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// markerPath is where an external hook is expected to write the
// completion marker for taskID.
func markerPath(markerDir, taskID string) string {
	return filepath.Join(markerDir, taskID+".json")
}

// watchMarker blocks until the marker file for taskID appears (and is
// fully readable as valid JSON) in markerDir, or ctx is cancelled. It
// returns nil, ctx.Err() on cancellation.
func watchMarker(ctx context.Context, markerDir, taskID string) (*marker, error) {
	path := markerPath(markerDir, taskID)

	if m, err := tryReadMarker(path); err == nil {
		return m, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	defer watcher.Close()

	if err := os.MkdirAll(markerDir, 0o755); err != nil {
		return nil, err
	}
	if err := watcher.Add(markerDir); err != nil {
		return nil, err
	}

	// A marker may have been written in the gap between the initial read
	// attempt and the watch being established.
	if m, err := tryReadMarker(path); err == nil {
		return m, nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil, ctx.Err()
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if m, err := tryReadMarker(path); err == nil {
				return m, nil
			}
		case <-watcher.Errors:
			continue
		}
	}
}

func tryReadMarker(path string) (*marker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m marker
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
