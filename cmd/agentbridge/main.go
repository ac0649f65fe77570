package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/houx15fork/agentbridge/internal/broker"
	"github.com/houx15fork/agentbridge/internal/config"
	"github.com/houx15fork/agentbridge/internal/server"
)

var version = "0.1.0"

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("agentbridge v%s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	b, err := broker.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize broker", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := b.Close(); err != nil {
			slog.Error("failed to close broker", "error", err)
		}
	}()

	go b.Gateway.Run(ctx)

	srv := server.New(b)

	printStartupBanner(cfg)

	if err := srv.Start(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("agentbridge stopped")
}

func printStartupBanner(cfg *config.Config) {
	fmt.Printf("\nagentbridge v%s\n", version)
	fmt.Printf("  listening on: http://0.0.0.0:%d\n", cfg.Port)
	if cfg.PrintToken {
		fmt.Printf("  access URL:   ws://localhost:%d/ws?token=%s\n", cfg.Port, cfg.Token)
	} else {
		fmt.Printf("  access URL:   ws://localhost:%d/ws?token=<token>\n", cfg.Port)
		fmt.Printf("  (use --print-token to reveal token)\n")
	}
	fmt.Println("\nCtrl+C to stop")
}
