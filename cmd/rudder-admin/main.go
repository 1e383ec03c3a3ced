package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BurntSushi/toml"

	"github.com/mailflow/rudder/config"
	"github.com/mailflow/rudder/db"
	"github.com/mailflow/rudder/logger"
	"github.com/mailflow/rudder/registry"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	logger.Initialize(logger.Config{Output: "stderr", Format: "console", Level: "info"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalChan
		cancel()
	}()

	switch os.Args[1] {
	case "migrate":
		handleMigrateCommand(ctx)
	case "tenants":
		handleTenantsCommand(ctx)
	case "dryrun":
		handleDryRunCommand(ctx)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`Rudder administration tool

Usage:
  rudder-admin <command> [options]

Commands:
  migrate   Manage the Postgres tenant store schema
  tenants   Inspect the configured tenant set
  dryrun    Preview the routing outcome for a message
  help      Show this help

Use 'rudder-admin <command> --help' for detailed help.
`)
}

// loadConfig reads the daemon configuration, tolerating a missing file so
// commands can run on defaults.
func loadConfig(configPath string) config.Config {
	cfg := config.NewDefaultConfig()
	if _, err := toml.DecodeFile(configPath, &cfg); err != nil {
		if os.IsNotExist(err) {
			logger.Infof("WARNING: configuration file '%s' not found. Using defaults.", configPath)
		} else {
			logger.Fatalf("Error parsing configuration file '%s': %v", configPath, err)
		}
	}
	return cfg
}

// tenantSource builds the registry source selected by the configuration.
// The returned closer is non-nil for the postgres backend.
func tenantSource(ctx context.Context, cfg *config.Config) (registry.Source, func(), error) {
	if cfg.Tenants.Backend == "postgres" {
		database, err := db.NewDatabase(ctx, &cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		return db.NewTenantStore(database), database.Close, nil
	}
	return registry.NewFileSource(cfg.Tenants.Path), func() {}, nil
}
