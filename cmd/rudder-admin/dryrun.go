package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mailflow/rudder/classify"
	"github.com/mailflow/rudder/logger"
	"github.com/mailflow/rudder/pipeline"
	"github.com/mailflow/rudder/registry"
	"github.com/mailflow/rudder/resolver"
	"github.com/mailflow/rudder/routing"
)

func handleDryRunCommand(ctx context.Context) {
	fs := flag.NewFlagSet("dryrun", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	sender := fs.String("sender", "", "Envelope sender address")
	recipient := fs.String("recipient", "", "Envelope recipient address")
	subject := fs.String("subject", "", "Message subject")
	body := fs.String("body", "", "Message body text")
	at := fs.String("at", "", "Evaluation timestamp (RFC3339, default now)")
	useAI := fs.Bool("ai", false, "Call the configured AI classifier instead of the keyword fallback")
	fs.Usage = func() {
		fmt.Println("Usage: rudder-admin dryrun --sender a@x.com --recipient b@y.com [--subject s] [--body text] [--at RFC3339] [--ai]")
		fmt.Println("Previews the routing outcome for a message without dispatching it.")
	}
	fs.Parse(os.Args[2:])

	if *sender == "" || *recipient == "" {
		fs.Usage()
		os.Exit(1)
	}

	receivedAt := time.Now()
	if *at != "" {
		parsed, err := time.Parse(time.RFC3339, *at)
		if err != nil {
			logger.Fatalf("Invalid --at timestamp: %v", err)
		}
		receivedAt = parsed
	}

	cfg := loadConfig(*configPath)

	source, closer, err := tenantSource(ctx, &cfg)
	if err != nil {
		logger.Fatalf("Failed to open tenant source: %v", err)
	}
	defer closer()

	reg := registry.New(source)
	if err := reg.Reload(ctx); err != nil {
		logger.Fatalf("Failed to load tenants: %v", err)
	}

	cacheTTL, err := cfg.Resolver.GetCacheTTL()
	if err != nil {
		logger.Fatalf("Invalid resolver.cache_ttl: %v", err)
	}
	res := resolver.New(resolver.Options{
		FuzzyThreshold: cfg.Resolver.FuzzyThreshold,
		CacheTTL:       cacheTTL,
		CacheMaxSize:   cfg.Resolver.CacheMaxSize,
	})

	var ai classify.AIClient
	if *useAI && cfg.Classifier.APIKey != "" {
		ai = classify.NewOpenAIClient(cfg.Classifier.APIKey, cfg.Classifier.BaseURL, cfg.Classifier.Model)
	}
	classifyTimeout, err := cfg.Classifier.GetTimeout()
	if err != nil {
		logger.Fatalf("Invalid classifier.timeout: %v", err)
	}
	cls := classify.New(ai, classify.Options{
		Timeout:       classifyTimeout,
		MaxConcurrent: cfg.Classifier.MaxConcurrent,
		MaxRetries:    cfg.Classifier.MaxRetries,
	})

	deadline, err := cfg.Pipeline.GetMessageDeadline()
	if err != nil {
		logger.Fatalf("Invalid pipeline.message_deadline: %v", err)
	}

	p := pipeline.New(reg, res, cls, routing.NewEngine(routing.SystemClock()), nil, deadline)

	outcome, err := p.DryRun(ctx, &pipeline.InboundMessage{
		Sender:     *sender,
		Recipient:  *recipient,
		Subject:    *subject,
		Body:       *body,
		ReceivedAt: receivedAt,
	})
	if err != nil {
		logger.Fatalf("Dry run failed: %v", err)
	}

	fmt.Printf("State:       %s\n", outcome.State)
	fmt.Printf("Message ID:  %s\n", outcome.MessageID)
	if outcome.Match != nil {
		fmt.Printf("Tenant:      %s (strategy=%s confidence=%.3f matched=%s)\n",
			outcome.Match.TenantID, outcome.Match.Strategy, outcome.Match.Confidence, outcome.Match.MatchedDomain)
	}
	if outcome.Classification != nil {
		fmt.Printf("Category:    %s (source=%s confidence=%.2f)\n",
			outcome.Classification.Category, outcome.Classification.Source, outcome.Classification.Confidence)
	}
	if outcome.Decision != nil {
		fmt.Printf("Destination: %s (rule=%s escalated=%t)\n",
			outcome.Decision.Destination, outcome.Decision.MatchedRule, outcome.Decision.Escalated)
		fmt.Println("Trace:")
		for _, eval := range outcome.Decision.Trace {
			status := "skip"
			if eval.Matched {
				status = "MATCH"
			}
			fmt.Printf("  %-12s %-5s %s\n", eval.Rule, status, eval.Detail)
		}
	}
	if outcome.Reason != "" {
		fmt.Printf("Reason:      %s\n", outcome.Reason)
	}
}
