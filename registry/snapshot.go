package registry

import (
	"fmt"
	"time"

	"github.com/mailflow/rudder/consts"
	"github.com/mailflow/rudder/helpers"
)

// DomainEntry binds one claimed domain to its owning tenant. The corpus of
// entries is what the hierarchy and fuzzy matching strategies walk.
type DomainEntry struct {
	Domain string
	Tenant *TenantConfig
}

// Snapshot is an immutable, fully validated view of the tenant set. Lookups
// never lock: the registry swaps whole snapshots atomically and readers keep
// using whichever snapshot they grabbed for the duration of a message.
type Snapshot struct {
	Generation uint64
	LoadedAt   time.Time
	Tenants    []*TenantConfig

	byID     map[string]*TenantConfig
	byDomain map[string]*TenantConfig
	domains  []DomainEntry
}

// BuildSnapshot validates tenants and assembles the lookup indexes. It fails
// on duplicate tenant IDs, on a domain claimed by two tenants, and on any
// tenant that does not pass its own validation. Inactive tenants are kept in
// Tenants for the admin surface but excluded from all lookup indexes.
func BuildSnapshot(tenants []*TenantConfig, generation uint64) (*Snapshot, error) {
	snap := &Snapshot{
		Generation: generation,
		LoadedAt:   time.Now(),
		Tenants:    tenants,
		byID:       make(map[string]*TenantConfig, len(tenants)),
		byDomain:   make(map[string]*TenantConfig),
	}

	for _, t := range tenants {
		if err := t.finalize(); err != nil {
			return nil, err
		}
		if _, dup := snap.byID[t.ID]; dup {
			return nil, fmt.Errorf("%w: %q", consts.ErrDuplicateTenantID, t.ID)
		}
		snap.byID[t.ID] = t

		if !t.Active {
			continue
		}
		for _, d := range t.AllDomains() {
			if owner, claimed := snap.byDomain[d]; claimed {
				if owner == t {
					continue
				}
				return nil, fmt.Errorf("%w: %q claimed by %q and %q", consts.ErrDomainOwnedTwice, d, owner.ID, t.ID)
			}
			snap.byDomain[d] = t
			snap.domains = append(snap.domains, DomainEntry{Domain: d, Tenant: t})
		}
	}

	return snap, nil
}

// TenantByID returns the tenant with the given ID, including inactive ones.
func (s *Snapshot) TenantByID(id string) (*TenantConfig, bool) {
	t, ok := s.byID[id]
	return t, ok
}

// TenantByDomain returns the active tenant that owns the exact domain.
func (s *Snapshot) TenantByDomain(domain string) (*TenantConfig, bool) {
	t, ok := s.byDomain[helpers.NormalizeDomain(domain)]
	return t, ok
}

// OwnsDomainExactly reports whether domain is the tenant's primary domain,
// as opposed to an alias. The resolver uses this to distinguish exact from
// alias matches.
func (s *Snapshot) OwnsDomainExactly(t *TenantConfig, domain string) bool {
	return helpers.NormalizeDomain(t.PrimaryDomain) == helpers.NormalizeDomain(domain)
}

// DomainCorpus returns every claimed domain with its owner. The slice is
// shared; callers must not mutate it.
func (s *Snapshot) DomainCorpus() []DomainEntry {
	return s.domains
}

// ActiveTenantCount returns the number of tenants reachable by resolution.
func (s *Snapshot) ActiveTenantCount() int {
	n := 0
	for _, t := range s.Tenants {
		if t.Active {
			n++
		}
	}
	return n
}
