// Package config loads agentbridge's runtime configuration from a flat
// key=value file plus command-line flag overrides, in the teacher's style.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds every tunable named by the system spec: PTY defaults, resource
// caps, queue budgets, grace periods, and filesystem locations.
type Config struct {
	Port       int
	Token      string
	ConfigPath string
	PrintToken bool
	DefaultDir string
	DBPath     string
	AgentsDir  string

	DefaultCols uint16
	DefaultRows uint16

	MaxConcurrentPTYs  int
	OutboundQueueBytes int
	InboundQueueFrames int

	HookMarkerDir string

	TermKillGrace   time.Duration
	DrainFlushGrace time.Duration
	InitQuietAfter  time.Duration
}

func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	cfg := &Config{
		Port:               8765,
		DefaultDir:         filepath.Join(homeDir, "projects"),
		ConfigPath:         filepath.Join(homeDir, ".config", "agentbridge", "config"),
		DBPath:             filepath.Join(homeDir, ".config", "agentbridge", "agentbridge.db"),
		AgentsDir:          filepath.Join(homeDir, ".config", "agentbridge", "agents"),
		DefaultCols:        120,
		DefaultRows:        30,
		MaxConcurrentPTYs:  64,
		OutboundQueueBytes: 4 * 1024 * 1024,
		InboundQueueFrames: 256,
		HookMarkerDir:      filepath.Join(homeDir, ".config", "agentbridge", "markers"),
		TermKillGrace:      500 * time.Millisecond,
		DrainFlushGrace:    500 * time.Millisecond,
		InitQuietAfter:     30 * time.Second,
	}

	if err := cfg.loadFromFile(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	flag.IntVar(&cfg.Port, "port", cfg.Port, "server port (1-65535)")
	flag.StringVar(&cfg.Token, "token", cfg.Token, "authentication token (auto-generated if empty)")
	flag.StringVar(&cfg.DefaultDir, "dir", cfg.DefaultDir, "default project directory")
	flag.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "path to SQLite database")
	flag.StringVar(&cfg.AgentsDir, "agents-dir", cfg.AgentsDir, "directory for agent CLI profile YAML files")
	flag.StringVar(&cfg.HookMarkerDir, "marker-dir", cfg.HookMarkerDir, "directory watched for task completion markers")
	flag.IntVar(&cfg.MaxConcurrentPTYs, "max-ptys", cfg.MaxConcurrentPTYs, "maximum concurrent PTYs")
	flag.IntVar(&cfg.OutboundQueueBytes, "outbound-queue-bytes", cfg.OutboundQueueBytes, "bounded outbound queue budget in bytes")
	flag.BoolVar(&cfg.PrintToken, "print-token", false, "print token to stdout (for local debugging)")
	flag.Parse()

	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d: must be between 1 and 65535", cfg.Port)
	}

	if cfg.Token == "" {
		token, err := generateToken()
		if err != nil {
			return nil, fmt.Errorf("failed to generate token: %w", err)
		}
		cfg.Token = token
		if err := cfg.saveToFile(); err != nil {
			return nil, fmt.Errorf("failed to save config file: %w", err)
		}
	}

	return cfg, nil
}

func (c *Config) loadFromFile() error {
	data, err := os.ReadFile(c.ConfigPath)
	if err != nil {
		return err
	}
	lines := strings.Split(string(data), "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		switch key {
		case "Token":
			c.Token = value
		case "Port":
			port, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid Port value %q: %w", value, err)
			}
			c.Port = port
		case "DefaultDir":
			c.DefaultDir = value
		case "DBPath":
			c.DBPath = value
		case "AgentsDir":
			c.AgentsDir = value
		case "HookMarkerDir":
			c.HookMarkerDir = value
		case "MaxConcurrentPTYs":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid MaxConcurrentPTYs value %q: %w", value, err)
			}
			c.MaxConcurrentPTYs = n
		case "OutboundQueueBytes":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid OutboundQueueBytes value %q: %w", value, err)
			}
			c.OutboundQueueBytes = n
		}
	}
	return nil
}

func (c *Config) saveToFile() error {
	dir := filepath.Dir(c.ConfigPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data := fmt.Sprintf(
		"Port=%d\nToken=%s\nDefaultDir=%s\nDBPath=%s\nAgentsDir=%s\nHookMarkerDir=%s\nMaxConcurrentPTYs=%d\nOutboundQueueBytes=%d\n",
		c.Port, c.Token, c.DefaultDir, c.DBPath, c.AgentsDir, c.HookMarkerDir, c.MaxConcurrentPTYs, c.OutboundQueueBytes,
	)
	return os.WriteFile(c.ConfigPath, []byte(data), 0600)
}

func generateToken() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
