// Package resolver maps an inbound sender or recipient domain to the tenant
// that owns it. Strategies run in strict precedence order: exact primary
// match, alias match, hierarchy (subdomain) match, then fuzzy similarity
// against the whole domain corpus. Ambiguity is terminal: if two tenants tie
// within a strategy the domain stays unresolved, because attributing a
// message to the wrong tenant is worse than attributing it to none.
package resolver

import (
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mailflow/rudder/consts"
	"github.com/mailflow/rudder/helpers"
	"github.com/mailflow/rudder/pkg/metrics"
	"github.com/mailflow/rudder/registry"
)

type Strategy string

const (
	StrategyExact     Strategy = "exact"
	StrategyAlias     Strategy = "alias"
	StrategyHierarchy Strategy = "hierarchy"
	StrategyFuzzy     Strategy = "fuzzy"
)

const (
	hierarchyBaseConfidence = 0.9
	hierarchyLabelPenalty   = 0.02
	hierarchyFloor          = 0.75
)

// Match is the outcome of a successful resolution.
type Match struct {
	TenantID      string
	Tenant        *registry.TenantConfig
	Strategy      Strategy
	Confidence    float64
	MatchedDomain string
}

type Options struct {
	// FuzzyThreshold is the minimum similarity score a fuzzy candidate must
	// reach to be accepted. Tunable; 0.82 by default.
	FuzzyThreshold float64
	CacheTTL       time.Duration
	CacheMaxSize   int
}

func DefaultOptions() Options {
	return Options{
		FuzzyThreshold: 0.82,
		CacheTTL:       10 * time.Minute,
		CacheMaxSize:   10000,
	}
}

type Resolver struct {
	fuzzyThreshold float64
	cache          *matchCache
	group          singleflight.Group
}

func New(opts Options) *Resolver {
	if opts.FuzzyThreshold <= 0 || opts.FuzzyThreshold > 1 {
		opts.FuzzyThreshold = DefaultOptions().FuzzyThreshold
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultOptions().CacheTTL
	}
	return &Resolver{
		fuzzyThreshold: opts.FuzzyThreshold,
		cache:          newMatchCache(opts.CacheTTL, opts.CacheMaxSize),
	}
}

// Resolve finds the tenant owning candidateDomain within snap. On failure it
// returns one of the consts sentinels (ErrDomainMalformed,
// ErrTenantNotFound, ErrAmbiguousMatch); callers treat all of them as the
// unresolved terminal state, never as a reason to guess.
func (r *Resolver) Resolve(candidateDomain string, snap *registry.Snapshot) (*Match, error) {
	domain := helpers.NormalizeDomain(candidateDomain)
	if !helpers.IsValidDomain(domain) {
		return nil, fmt.Errorf("%w: %q", consts.ErrDomainMalformed, candidateDomain)
	}

	// Exact and alias lookups are single map hits; no caching needed.
	if tenant, ok := snap.TenantByDomain(domain); ok {
		strategy := StrategyAlias
		if snap.OwnsDomainExactly(tenant, domain) {
			strategy = StrategyExact
		}
		return r.observed(&Match{
			TenantID:      tenant.ID,
			Tenant:        tenant,
			Strategy:      strategy,
			Confidence:    1.0,
			MatchedDomain: domain,
		}), nil
	}

	if match, err, ok := r.cache.get(domain, snap.Generation); ok {
		if err != nil {
			return nil, err
		}
		return r.observed(match), nil
	}

	// Collapse concurrent scans for the same domain into one.
	key := fmt.Sprintf("%d/%s", snap.Generation, domain)
	result, err, _ := r.group.Do(key, func() (interface{}, error) {
		match, scanErr := r.scan(domain, snap)
		r.cache.put(domain, snap.Generation, match, scanErr)
		return match, scanErr
	})
	if err != nil {
		return nil, err
	}
	return r.observed(result.(*Match)), nil
}

// scan runs the corpus strategies: hierarchy first, then fuzzy similarity.
func (r *Resolver) scan(domain string, snap *registry.Snapshot) (*Match, error) {
	if match, err := r.resolveHierarchy(domain, snap); match != nil || err != nil {
		return match, err
	}
	return r.resolveFuzzy(domain, snap)
}

func (r *Resolver) resolveHierarchy(domain string, snap *registry.Snapshot) (*Match, error) {
	candidateLabels := len(helpers.DomainLabels(domain))

	var best *Match
	ambiguous := false
	for _, entry := range snap.DomainCorpus() {
		if !isSubdomainOf(domain, entry.Domain) {
			continue
		}

		extraLabels := candidateLabels - len(helpers.DomainLabels(entry.Domain))
		confidence := hierarchyBaseConfidence - hierarchyLabelPenalty*float64(extraLabels-1)
		if confidence < hierarchyFloor {
			confidence = hierarchyFloor
		}

		switch {
		case best == nil || confidence > best.Confidence:
			best = &Match{
				TenantID:      entry.Tenant.ID,
				Tenant:        entry.Tenant,
				Strategy:      StrategyHierarchy,
				Confidence:    confidence,
				MatchedDomain: entry.Domain,
			}
			ambiguous = false
		case confidence == best.Confidence && entry.Tenant.ID != best.TenantID:
			ambiguous = true
		}
	}

	if best == nil {
		return nil, nil
	}
	if ambiguous {
		return nil, fmt.Errorf("%w: %q matches multiple tenants at confidence %.2f", consts.ErrAmbiguousMatch, domain, best.Confidence)
	}
	return best, nil
}

func (r *Resolver) resolveFuzzy(domain string, snap *registry.Snapshot) (*Match, error) {
	var best *Match
	ambiguous := false
	for _, entry := range snap.DomainCorpus() {
		score := Similarity(domain, entry.Domain)
		if score < r.fuzzyThreshold {
			continue
		}

		switch {
		case best == nil || score > best.Confidence:
			best = &Match{
				TenantID:      entry.Tenant.ID,
				Tenant:        entry.Tenant,
				Strategy:      StrategyFuzzy,
				Confidence:    score,
				MatchedDomain: entry.Domain,
			}
			ambiguous = false
		case score == best.Confidence && entry.Tenant.ID != best.TenantID:
			ambiguous = true
		}
	}

	if best == nil {
		return nil, fmt.Errorf("%w: no match for %q above threshold %.2f", consts.ErrTenantNotFound, domain, r.fuzzyThreshold)
	}
	if ambiguous {
		return nil, fmt.Errorf("%w: %q matches multiple tenants at score %.3f", consts.ErrAmbiguousMatch, domain, best.Confidence)
	}
	return best, nil
}

func (r *Resolver) observed(match *Match) *Match {
	metrics.ResolutionsTotal.WithLabelValues(string(match.Strategy)).Inc()
	metrics.ResolutionConfidence.WithLabelValues(string(match.Strategy)).Observe(match.Confidence)
	return match
}

// isSubdomainOf reports whether candidate is a proper subdomain of parent.
func isSubdomainOf(candidate, parent string) bool {
	if len(candidate) <= len(parent) {
		return false
	}
	return candidate[len(candidate)-len(parent):] == parent &&
		candidate[len(candidate)-len(parent)-1] == '.'
}
