// ABOUTME: Entry point for the relay gateway server
// ABOUTME: Receives platform webhooks, orchestrates replies, serves the dashboard API

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/halcyon-health/relay/internal/cli"
	"github.com/halcyon-health/relay/internal/config"
	"github.com/halcyon-health/relay/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
            _
  _ __ ___ | | __ _ _   _
 | '__/ _ \| |/ _' | | | |
 | | |  __/| | (_| | |_| |
 |_|  \___||_|\__,_|\__, |
                    |___/
`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// Local development secrets; absence is fine in production.
	_ = godotenv.Load()

	configPath := cli.ConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := cli.SetupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	if cfg.Database.PostgresURL != "" {
		fmt.Println("Database: postgres")
	} else {
		fmt.Printf("Database: sqlite (%s)\n", cfg.Database.SQLitePath)
	}
	green.Print("    ▶ ")
	if cfg.Redis.URL != "" {
		fmt.Println("Queue:    redis")
	} else {
		fmt.Println("Queue:    in-process")
	}
	fmt.Println()

	logger.Info("starting relay-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}
