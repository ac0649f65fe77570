// Package broker is the dependency-injection root: it constructs the
// Session Registry, agent profile registry, event bus, database, and
// wires the Multiplexer and wsgateway.Gateway together into one running
// service.
package broker

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/houx15fork/agentbridge/internal/agentprofile"
	"github.com/houx15fork/agentbridge/internal/config"
	"github.com/houx15fork/agentbridge/internal/db"
	"github.com/houx15fork/agentbridge/internal/eventbus"
	"github.com/houx15fork/agentbridge/internal/multiplexer"
	"github.com/houx15fork/agentbridge/internal/session"
	"github.com/houx15fork/agentbridge/internal/tasksupervisor"
	"github.com/houx15fork/agentbridge/internal/wsgateway"
)

// Broker owns every long-lived component and the wiring between them.
type Broker struct {
	Config      *config.Config
	DB          *db.DB
	Registry    *session.Registry
	Profiles    *agentprofile.Registry
	Bus         *eventbus.Bus
	Completions *db.CompletionRepo
	Multiplexer *multiplexer.Multiplexer
	Supervisor  *tasksupervisor.Supervisor
	Gateway     *wsgateway.Gateway
}

// New constructs every component from cfg. The caller is responsible for
// calling Close when done.
func New(ctx context.Context, cfg *config.Config) (*Broker, error) {
	database, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	profiles, err := agentprofile.NewRegistry(cfg.AgentsDir)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to load agent profiles: %w", err)
	}

	registry := session.NewRegistry()
	bus := eventbus.New()
	completions := db.NewCompletionRepo(database.SQL())

	sup := tasksupervisor.NewSupervisor(cfg.HookMarkerDir, profiles, bus, completions, cfg.InitQuietAfter)
	mp := multiplexer.New(registry, profiles, sup, cfg.DefaultCols, cfg.DefaultRows, cfg.TermKillGrace, cfg.DrainFlushGrace, cfg.MaxConcurrentPTYs, cfg.InitQuietAfter)

	gw := wsgateway.NewGateway(cfg.Token, cfg.OutboundQueueBytes, cfg.InboundQueueFrames, mp.HandleChannel)

	return &Broker{
		Config:      cfg,
		DB:          database,
		Registry:    registry,
		Profiles:    profiles,
		Bus:         bus,
		Completions: completions,
		Multiplexer: mp,
		Supervisor:  sup,
		Gateway:     gw,
	}, nil
}

// LaunchTask starts a background task (one with no attached Client
// Channel): it spawns the Agent CLI under the Task Supervisor directly
// and returns once the child is running, with completion tracked
// asynchronously and published on the Bus. A task with an attached
// Client Channel is launched through the Gateway/Multiplexer instead,
// via an init frame carrying task_id — the Multiplexer owns that PTY's
// event loop and calls Supervisor.Watch itself once it exits.
func (b *Broker) LaunchTask(ctx context.Context, task *tasksupervisor.Task) error {
	profile := b.Profiles.Default()
	if profile == nil {
		return fmt.Errorf("no agent profile configured")
	}

	engine, err := b.Supervisor.Launch(task, profile)
	if err != nil {
		return err
	}

	go b.Supervisor.Run(ctx, task, engine)
	return nil
}

// SQL exposes the raw *sql.DB for components (outside this module) that
// need direct access, e.g. a metadata HTTP API supplied by an external
// collaborator.
func (b *Broker) SQL() *sql.DB {
	return b.DB.SQL()
}

// Close releases resources held by the broker. It does not stop
// in-flight sessions; the caller's shutdown sequence is responsible for
// draining those via context cancellation before calling Close.
func (b *Broker) Close() error {
	return b.DB.Close()
}
