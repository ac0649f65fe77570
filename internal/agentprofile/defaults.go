package agentprofile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/houx15fork/agentbridge/configs"
)

var defaultProfileFiles = []string{
	"default.yaml",
	"legacy.yaml",
}

// ensureDefaults seeds dir with the shipped default profiles the first
// time it is used (i.e. it contains no YAML files of its own yet).
func ensureDefaults(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read profile dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := strings.ToLower(entry.Name())
		if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
			return nil
		}
	}

	for _, file := range defaultProfileFiles {
		content, err := configs.AgentDefaults.ReadFile(filepath.Join("agents", file))
		if err != nil {
			return fmt.Errorf("read embedded default %q: %w", file, err)
		}
		path := filepath.Join(dir, file)
		if err := os.WriteFile(path, content, 0o644); err != nil {
			return fmt.Errorf("write default %q: %w", path, err)
		}
	}
	return nil
}
