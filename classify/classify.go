// Package classify assigns a category to message text for a given tenant.
// The primary path delegates to an external AI collaborator under a bounded
// timeout, a concurrency cap, and a circuit breaker; any failure there
// degrades to deterministic keyword matching. Classification never fails:
// the worst case is a low-confidence "general" result, and the Source field
// tells downstream rules how much to trust it.
package classify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/mailflow/rudder/consts"
	"github.com/mailflow/rudder/logger"
	"github.com/mailflow/rudder/pkg/circuitbreaker"
	"github.com/mailflow/rudder/pkg/metrics"
	"github.com/mailflow/rudder/pkg/retry"
	"github.com/mailflow/rudder/registry"
)

type Source string

const (
	SourceAI       Source = "ai"
	SourceFallback Source = "keyword-fallback"
)

const (
	// FallbackConfidence is the fixed score of a keyword-derived result. It
	// is deliberately conservative so confidence-aware rules downstream
	// treat degraded classifications with suspicion.
	FallbackConfidence = 0.5

	// NoMatchConfidence is the score when not even a keyword matched.
	NoMatchConfidence = 0.3
)

// Result is the classification outcome for one message.
type Result struct {
	Category   string
	Confidence float64
	Source     Source
}

type Options struct {
	Timeout       time.Duration // Per-call AI deadline
	MaxConcurrent int64         // Global cap on in-flight AI calls
	MaxRetries    int
}

func DefaultOptions() Options {
	return Options{
		Timeout:       5 * time.Second,
		MaxConcurrent: 8,
		MaxRetries:    2,
	}
}

type Classifier struct {
	ai      AIClient
	timeout time.Duration
	sem     *semaphore.Weighted
	breaker *circuitbreaker.CircuitBreaker
	retry   retry.BackoffConfig
}

// New builds a classifier around ai. A nil ai is allowed and forces the
// keyword fallback for every message.
func New(ai AIClient, opts Options) *Classifier {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultOptions().MaxConcurrent
	}

	retryCfg := retry.DefaultBackoffConfig()
	retryCfg.MaxRetries = opts.MaxRetries

	return &Classifier{
		ai:      ai,
		timeout: opts.Timeout,
		sem:     semaphore.NewWeighted(opts.MaxConcurrent),
		breaker: circuitbreaker.New(circuitbreaker.DefaultSettings("ai-classifier")),
		retry:   retryCfg,
	}
}

// Classify returns a category for text from the tenant's closed set. It
// never returns an error: AI failure, timeout, breaker rejection, or a
// malformed or out-of-set response all degrade to the keyword fallback.
func (c *Classifier) Classify(ctx context.Context, text string, tenant *registry.TenantConfig) Result {
	if c.ai == nil {
		return c.fallback(text, tenant)
	}

	result, err := c.classifyAI(ctx, text, tenant)
	if err != nil {
		logger.Debug("AI classification degraded to keyword fallback", "tenant", tenant.ID, "error", err)
		return c.fallback(text, tenant)
	}

	metrics.ClassificationsTotal.WithLabelValues(string(SourceAI)).Inc()
	return result
}

func (c *Classifier) classifyAI(ctx context.Context, text string, tenant *registry.TenantConfig) (Result, error) {
	// The cap bounds AI spend and keeps one tenant's burst from starving
	// the rest. Waiting respects the caller's per-message deadline.
	if err := c.sem.Acquire(ctx, 1); err != nil {
		metrics.ClassifierFailuresTotal.WithLabelValues("concurrency").Inc()
		return Result{}, fmt.Errorf("classifier concurrency cap: %w", err)
	}
	defer c.sem.Release(1)

	req := AIRequest{
		Text:          text,
		Categories:    tenant.Categories(),
		PromptContext: tenant.PromptContext,
	}

	var category string
	var confidence float64

	err := c.breaker.Execute(func() error {
		return retry.WithRetry(ctx, func() error {
			callCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			start := time.Now()
			cat, conf, callErr := c.ai.ClassifyText(callCtx, req)
			metrics.ClassifierCallDuration.Observe(time.Since(start).Seconds())

			if callErr != nil {
				if ctx.Err() != nil {
					// The message deadline expired; abandon instead of retrying.
					return retry.Stop(callErr)
				}
				return callErr
			}

			category, confidence = cat, conf
			return nil
		}, c.retry)
	})
	if err != nil {
		metrics.ClassifierFailuresTotal.WithLabelValues(failureReason(err)).Inc()
		return Result{}, err
	}

	if !tenant.HasCategory(category) {
		metrics.ClassifierFailuresTotal.WithLabelValues("undeclared_category").Inc()
		return Result{}, fmt.Errorf("%w: %q", consts.ErrCategoryNotDeclared, category)
	}

	return Result{Category: category, Confidence: confidence, Source: SourceAI}, nil
}

// fallback scans tenant keyword sets for case-insensitive substring hits.
// The category with the most hits wins; equal counts break toward the
// lexicographically smallest category so the result is deterministic.
func (c *Classifier) fallback(text string, tenant *registry.TenantConfig) Result {
	lowered := strings.ToLower(text)

	categories := make([]string, 0, len(tenant.CategoryKeywords))
	for cat := range tenant.CategoryKeywords {
		categories = append(categories, cat)
	}
	sort.Strings(categories)

	bestCategory := ""
	bestHits := 0
	for _, cat := range categories {
		hits := 0
		for _, kw := range tenant.CategoryKeywords[cat] {
			if kw != "" && strings.Contains(lowered, strings.ToLower(kw)) {
				hits++
			}
		}
		if hits > bestHits {
			bestCategory = cat
			bestHits = hits
		}
	}

	metrics.ClassificationsTotal.WithLabelValues(string(SourceFallback)).Inc()

	if bestHits == 0 {
		return Result{Category: registry.CategoryGeneral, Confidence: NoMatchConfidence, Source: SourceFallback}
	}
	return Result{Category: bestCategory, Confidence: FallbackConfidence, Source: SourceFallback}
}

func failureReason(err error) string {
	switch {
	case circuitbreaker.IsRejection(err):
		return "breaker_open"
	case strings.Contains(err.Error(), "context deadline exceeded"):
		return "timeout"
	default:
		return "api_error"
	}
}
