// Package agentprofile loads the set of Agent CLI flavors the core can
// launch from a directory of YAML files, with a shipped default seeded on
// first run.
package agentprofile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var idPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// Registry holds the loaded Profiles, keyed by id, and can reload them
// from disk.
type Registry struct {
	dir string

	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewRegistry loads profiles from dir, seeding it with the shipped
// defaults if it contains no YAML files yet.
func NewRegistry(dir string) (*Registry, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("agents dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}
	if err := ensureDefaults(dir); err != nil {
		return nil, err
	}

	r := &Registry{dir: dir, profiles: make(map[string]*Profile)}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Get returns a copy of the named profile, or nil if unknown.
func (r *Registry) Get(id string) *Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneProfile(r.profiles[id])
}

// Default returns the "default" profile if present, else the first
// profile in id order, or nil if the registry is empty.
func (r *Registry) Default() *Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.profiles["default"]; ok {
		return cloneProfile(p)
	}
	ids := make([]string, 0, len(r.profiles))
	for id := range r.profiles {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil
	}
	sort.Strings(ids)
	return cloneProfile(r.profiles[ids[0]])
}

// List returns all loaded profiles, sorted by id.
func (r *Registry) List() []*Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, cloneProfile(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reload re-reads every YAML file in the registry directory, replacing
// the in-memory set atomically.
func (r *Registry) Reload() error {
	loaded, err := loadDir(r.dir)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.profiles = loaded
	r.mu.Unlock()
	return nil
}

func loadDir(dir string) (map[string]*Profile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read profile dir: %w", err)
	}
	loaded := make(map[string]*Profile)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := strings.ToLower(entry.Name())
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		p, err := loadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if _, exists := loaded[p.ID]; exists {
			return nil, fmt.Errorf("duplicate agent profile id %q", p.ID)
		}
		loaded[p.ID] = p
	}
	return loaded, nil
}

func loadFile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent profile %q: %w", path, err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse agent profile %q: %w", path, err)
	}
	if err := validate(&p); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &p, nil
}

func validate(p *Profile) error {
	if !idPattern.MatchString(p.ID) {
		return errors.New("id must be lowercase alphanumeric with hyphens")
	}
	if strings.TrimSpace(p.Binary) == "" {
		return errors.New("binary is required")
	}
	return nil
}
