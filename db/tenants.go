package db

import (
	"context"
	"fmt"

	"github.com/mailflow/rudder/registry"
)

// TenantStore loads tenant configurations from Postgres. It implements
// registry.Source; validation and indexing happen in the registry, so the
// store only maps rows to TenantConfig values.
type TenantStore struct {
	db *Database
}

func NewTenantStore(database *Database) *TenantStore {
	return &TenantStore{db: database}
}

const selectTenantsQuery = `
SELECT id, name, active, primary_domain, alias_domains,
       routing_table, category_keywords, escalation_keywords,
       vip_domains, vip_destination,
       default_destination, after_hours_destination,
       business_timezone, business_start, business_end,
       prompt_context
FROM tenants
ORDER BY id`

func (s *TenantStore) LoadTenants(ctx context.Context) ([]*registry.TenantConfig, error) {
	ctx, cancel := s.db.queryCtx(ctx)
	defer cancel()

	rows, err := s.db.Pool.Query(ctx, selectTenantsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*registry.TenantConfig
	for rows.Next() {
		tenant, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, tenant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tenant rows: %w", err)
	}

	return tenants, nil
}

// rowScanner is the subset of pgx.Rows that scanTenant needs, kept narrow
// so mapping is testable without a live database.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(row rowScanner) (*registry.TenantConfig, error) {
	var (
		tenant             registry.TenantConfig
		routingTable       map[string]string
		categoryKeywords   map[string][]string
		escalationKeywords map[string]string
		businessTimezone   *string
		businessStart      *string
		businessEnd        *string
		vipDestination     *string
		afterHours         *string
		promptContext      *string
	)

	err := row.Scan(
		&tenant.ID,
		&tenant.Name,
		&tenant.Active,
		&tenant.PrimaryDomain,
		&tenant.AliasDomains,
		&routingTable,
		&categoryKeywords,
		&escalationKeywords,
		&tenant.VIPDomains,
		&vipDestination,
		&tenant.DefaultDestination,
		&afterHours,
		&businessTimezone,
		&businessStart,
		&businessEnd,
		&promptContext,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan tenant row: %w", err)
	}

	tenant.RoutingTable = routingTable
	tenant.CategoryKeywords = categoryKeywords
	tenant.EscalationKeywords = escalationKeywords
	tenant.VIPDestination = deref(vipDestination)
	tenant.AfterHoursDestination = deref(afterHours)
	tenant.PromptContext = deref(promptContext)

	if businessTimezone != nil && businessStart != nil && businessEnd != nil {
		tenant.BusinessHours = &registry.BusinessHours{
			Timezone: *businessTimezone,
			Start:    *businessStart,
			End:      *businessEnd,
		}
	}

	return &tenant, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
