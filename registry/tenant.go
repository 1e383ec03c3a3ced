package registry

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mailflow/rudder/consts"
	"github.com/mailflow/rudder/helpers"
)

// CategoryGeneral is the universal fallback category every tenant implicitly
// declares. Classification output is always a member of the tenant's closed
// category set plus this one.
const CategoryGeneral = "general"

// BusinessHours describes a tenant's staffed window. Comparison is inclusive
// of Start and exclusive of End, evaluated in the tenant's timezone. A window
// with Start > End spans midnight (e.g. 22:00-06:00).
type BusinessHours struct {
	Timezone string `toml:"timezone"` // IANA zone name, e.g. "Europe/Berlin"
	Start    string `toml:"start"`    // "HH:MM"
	End      string `toml:"end"`      // "HH:MM"

	loc      *time.Location
	startMin int
	endMin   int
}

// TenantConfig is the per-tenant routing configuration. Instances are
// immutable once a snapshot is built; a reload produces fresh instances.
type TenantConfig struct {
	ID            string   `toml:"id"`
	Name          string   `toml:"name"`
	Active        bool     `toml:"active"`
	PrimaryDomain string   `toml:"primary_domain"`
	AliasDomains  []string `toml:"alias_domains"`

	// Category -> destination address. The keys define the tenant's closed
	// category set.
	RoutingTable map[string]string `toml:"routing_table"`

	// Category -> keywords used by the degraded classifier fallback.
	CategoryKeywords map[string][]string `toml:"category_keywords"`

	// Escalation keyword -> destination. Matching is case-insensitive
	// substring, by design: false positives are accepted in favor of recall.
	EscalationKeywords map[string]string `toml:"escalation_keywords"`

	VIPDomains     []string `toml:"vip_domains"`
	VIPDestination string   `toml:"vip_destination"`

	DefaultDestination    string         `toml:"default_destination"`
	AfterHoursDestination string         `toml:"after_hours_destination"`
	BusinessHours         *BusinessHours `toml:"business_hours"`

	// Free-form context prepended to the AI classification prompt.
	PromptContext string `toml:"prompt_context"`

	vipDomainSet map[string]struct{}
}

// Categories returns the tenant's closed category set in sorted order,
// always including the universal "general" fallback.
func (t *TenantConfig) Categories() []string {
	cats := make([]string, 0, len(t.RoutingTable)+1)
	seen := map[string]struct{}{CategoryGeneral: {}}
	cats = append(cats, CategoryGeneral)
	for c := range t.RoutingTable {
		if _, dup := seen[c]; !dup {
			seen[c] = struct{}{}
			cats = append(cats, c)
		}
	}
	for c := range t.CategoryKeywords {
		if _, dup := seen[c]; !dup {
			seen[c] = struct{}{}
			cats = append(cats, c)
		}
	}
	sort.Strings(cats)
	return cats
}

// HasCategory reports whether cat is in the tenant's closed category set.
func (t *TenantConfig) HasCategory(cat string) bool {
	if cat == CategoryGeneral {
		return true
	}
	if _, ok := t.RoutingTable[cat]; ok {
		return true
	}
	_, ok := t.CategoryKeywords[cat]
	return ok
}

// IsVIPDomain reports whether the given (already normalized) sender domain
// is in the tenant's VIP set.
func (t *TenantConfig) IsVIPDomain(domain string) bool {
	_, ok := t.vipDomainSet[helpers.NormalizeDomain(domain)]
	return ok
}

// AllDomains returns the tenant's primary domain followed by its aliases,
// normalized.
func (t *TenantConfig) AllDomains() []string {
	domains := make([]string, 0, 1+len(t.AliasDomains))
	domains = append(domains, helpers.NormalizeDomain(t.PrimaryDomain))
	for _, a := range t.AliasDomains {
		domains = append(domains, helpers.NormalizeDomain(a))
	}
	return domains
}

// InBusinessHours reports whether ts falls inside the tenant's staffed
// window. Tenants without a configured window are always in business hours.
// The start boundary is inclusive, the end boundary exclusive.
func (t *TenantConfig) InBusinessHours(ts time.Time) bool {
	h := t.BusinessHours
	if h == nil || h.loc == nil {
		return true
	}

	local := ts.In(h.loc)
	minute := local.Hour()*60 + local.Minute()

	if h.startMin <= h.endMin {
		return minute >= h.startMin && minute < h.endMin
	}
	// Window spans midnight.
	return minute >= h.startMin || minute < h.endMin
}

// finalize validates and precomputes derived state for a freshly loaded
// tenant. Called by the snapshot builder; TenantConfig must not be used
// before it succeeds.
func (t *TenantConfig) finalize() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("tenant with primary domain %q has no id", t.PrimaryDomain)
	}
	if helpers.NormalizeDomain(t.PrimaryDomain) == "" {
		return fmt.Errorf("tenant %q has no primary domain", t.ID)
	}

	t.vipDomainSet = make(map[string]struct{}, len(t.VIPDomains))
	for _, d := range t.VIPDomains {
		t.vipDomainSet[helpers.NormalizeDomain(d)] = struct{}{}
	}

	if t.BusinessHours != nil {
		if err := t.BusinessHours.finalize(); err != nil {
			return fmt.Errorf("tenant %q: %w", t.ID, err)
		}
		if t.AfterHoursDestination == "" {
			return fmt.Errorf("tenant %q: %w: business hours configured without after_hours_destination", t.ID, consts.ErrInvalidHoursWindow)
		}
	}

	if len(t.VIPDomains) > 0 && t.VIPDestination == "" {
		return fmt.Errorf("tenant %q: vip_domains configured without vip_destination", t.ID)
	}

	return nil
}

func (h *BusinessHours) finalize() error {
	loc, err := time.LoadLocation(h.Timezone)
	if err != nil {
		return fmt.Errorf("%w: %q", consts.ErrInvalidTimezone, h.Timezone)
	}
	h.loc = loc

	h.startMin, err = parseClock(h.Start)
	if err != nil {
		return fmt.Errorf("%w: start %q", consts.ErrInvalidHoursWindow, h.Start)
	}
	h.endMin, err = parseClock(h.End)
	if err != nil {
		return fmt.Errorf("%w: end %q", consts.ErrInvalidHoursWindow, h.End)
	}
	if h.startMin == h.endMin {
		return fmt.Errorf("%w: start equals end", consts.ErrInvalidHoursWindow)
	}
	return nil
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	hh, err := strconv.Atoi(parts[0])
	if err != nil || hh < 0 || hh > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	mm, err := strconv.Atoi(parts[1])
	if err != nil || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hh*60 + mm, nil
}
