package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BurntSushi/toml"

	"github.com/mailflow/rudder/classify"
	"github.com/mailflow/rudder/config"
	"github.com/mailflow/rudder/db"
	"github.com/mailflow/rudder/logger"
	"github.com/mailflow/rudder/pipeline"
	"github.com/mailflow/rudder/pkg/errors"
	"github.com/mailflow/rudder/registry"
	"github.com/mailflow/rudder/resolver"
	"github.com/mailflow/rudder/routing"
	"github.com/mailflow/rudder/server/httpapi"
	"github.com/mailflow/rudder/server/lmtp"
)

// Version information, injected at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	errorHandler := errors.NewErrorHandler()
	cfg := config.NewDefaultConfig()

	showVersion := flag.Bool("version", false, "Show version information and exit")
	flag.BoolVar(showVersion, "v", false, "Show version information and exit")
	configPath := flag.String("config", "config.toml", "Path to TOML configuration file")
	flag.Parse()

	if *showVersion {
		fmt.Printf("rudder version %s (commit: %s, built at: %s)\n", version, commit, date)
		os.Exit(0)
	}

	if _, err := toml.DecodeFile(*configPath, &cfg); err != nil {
		errorHandler.ConfigError(*configPath, err)
		os.Exit(errorHandler.WaitForExit())
	}
	if err := cfg.Validate(); err != nil {
		errorHandler.ValidationError("config", err)
		os.Exit(errorHandler.WaitForExit())
	}

	logFile, err := logger.Initialize(logger.Config{
		Output:    cfg.Logging.Output,
		Format:    cfg.Logging.Format,
		Level:     cfg.Logging.Level,
		SyslogTag: cfg.Logging.SyslogTag,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "RUDDER: Warning initializing logger: %v\n", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	logger.Info("Starting rudder", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-signalChan
		logger.Info("Received shutdown signal", "signal", sig.String())
		cancel()
	}()

	// Tenant source: TOML file or Postgres.
	var source registry.Source
	var database *db.Database
	switch cfg.Tenants.Backend {
	case "postgres":
		database, err = db.NewDatabase(ctx, &cfg.Database)
		if err != nil {
			errorHandler.FatalError("database connection", err)
			os.Exit(errorHandler.WaitForExit())
		}
		defer database.Close()
		source = db.NewTenantStore(database)
	default:
		source = registry.NewFileSource(cfg.Tenants.Path)
	}

	reg := registry.New(source)
	if err := reg.Reload(ctx); err != nil {
		errorHandler.FatalError("initial tenant registry load", err)
		os.Exit(errorHandler.WaitForExit())
	}

	refreshInterval, err := cfg.Tenants.GetRefreshInterval()
	if err != nil {
		errorHandler.ValidationError("tenants.refresh_interval", err)
		os.Exit(errorHandler.WaitForExit())
	}
	reg.StartRefresh(ctx, refreshInterval)

	p, err := buildPipeline(&cfg, reg)
	if err != nil {
		errorHandler.ValidationError("pipeline", err)
		os.Exit(errorHandler.WaitForExit())
	}

	errChan := make(chan error, 1)
	startServers(ctx, &cfg, reg, p, errChan)

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-errChan:
		logger.Error("Server failed", "error", err)
		cancel()
		os.Exit(1)
	}
}

func buildPipeline(cfg *config.Config, reg *registry.Registry) (*pipeline.Pipeline, error) {
	cacheTTL, err := cfg.Resolver.GetCacheTTL()
	if err != nil {
		return nil, fmt.Errorf("invalid resolver.cache_ttl: %w", err)
	}
	res := resolver.New(resolver.Options{
		FuzzyThreshold: cfg.Resolver.FuzzyThreshold,
		CacheTTL:       cacheTTL,
		CacheMaxSize:   cfg.Resolver.CacheMaxSize,
	})

	classifyTimeout, err := cfg.Classifier.GetTimeout()
	if err != nil {
		return nil, fmt.Errorf("invalid classifier.timeout: %w", err)
	}
	var ai classify.AIClient
	if cfg.Classifier.APIKey != "" {
		ai = classify.NewOpenAIClient(cfg.Classifier.APIKey, cfg.Classifier.BaseURL, cfg.Classifier.Model)
	} else {
		logger.Warn("No classifier API key configured, every message will use the keyword fallback")
	}
	cls := classify.New(ai, classify.Options{
		Timeout:       classifyTimeout,
		MaxConcurrent: cfg.Classifier.MaxConcurrent,
		MaxRetries:    cfg.Classifier.MaxRetries,
	})

	deadline, err := cfg.Pipeline.GetMessageDeadline()
	if err != nil {
		return nil, fmt.Errorf("invalid pipeline.message_deadline: %w", err)
	}

	engine := routing.NewEngine(routing.SystemClock())
	return pipeline.New(reg, res, cls, engine, pipeline.NewLogDispatcher(), deadline), nil
}

func startServers(ctx context.Context, cfg *config.Config, reg *registry.Registry, p *pipeline.Pipeline, errChan chan error) {
	hostname, _ := os.Hostname()

	if cfg.Servers.LMTP.Start {
		maxSize, err := cfg.Servers.LMTP.GetMaxMessageSize()
		if err != nil {
			errChan <- fmt.Errorf("invalid lmtp.max_message_size: %w", err)
			return
		}

		var tlsConfig *tls.Config
		if cfg.Servers.LMTP.TLS {
			cert, err := tls.LoadX509KeyPair(cfg.Servers.LMTP.TLSCertFile, cfg.Servers.LMTP.TLSKeyFile)
			if err != nil {
				errChan <- fmt.Errorf("failed to load LMTP TLS keypair: %w", err)
				return
			}
			tlsConfig = &tls.Config{
				MinVersion:   tls.VersionTLS12,
				Certificates: []tls.Certificate{cert},
			}
		}

		backend, err := lmtp.New(ctx, p, lmtp.ServerOptions{
			Addr:           cfg.Servers.LMTP.Addr,
			Hostname:       hostname,
			MaxMessageSize: maxSize,
			TLSConfig:      tlsConfig,
			Debug:          cfg.Servers.Debug,
		})
		if err != nil {
			errChan <- err
			return
		}
		go backend.Start(errChan)
		go func() {
			<-ctx.Done()
			backend.Close()
		}()
	}

	if cfg.Servers.HTTPAPI.Start {
		go httpapi.Start(ctx, reg, p, httpapi.ServerOptions{
			Addr:         cfg.Servers.HTTPAPI.Addr,
			APIKey:       cfg.Servers.HTTPAPI.APIKey,
			AllowedHosts: cfg.Servers.HTTPAPI.AllowedHosts,
			TLS:          cfg.Servers.HTTPAPI.TLS,
			TLSCertFile:  cfg.Servers.HTTPAPI.TLSCertFile,
			TLSKeyFile:   cfg.Servers.HTTPAPI.TLSKeyFile,
		}, errChan)
	}
}
