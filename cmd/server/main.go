package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/GriffinCanCode/pipeserve/internal/infrastructure/config"
	"github.com/GriffinCanCode/pipeserve/internal/infrastructure/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Config file (yaml, toml or json); overrides CONFIG_FILE")
	port := flag.Int("port", 0, "Server port; overrides config")
	dev := flag.Bool("dev", false, "Development logging")
	flag.Parse()

	if *configPath != "" {
		if err := os.Setenv("CONFIG_FILE", *configPath); err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			return 1
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}

	ctx := context.Background()
	srv, err := server.NewServer(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create server: %v\n", err)
		return 1
	}

	// SIGINT and SIGTERM are handled by the shutdown coordinator inside Run.
	if err := srv.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		return 1
	}
	return srv.ExitCode()
}
