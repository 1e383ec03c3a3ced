package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailflow/rudder/consts"
)

func testTenant(id, domain string) *TenantConfig {
	return &TenantConfig{
		ID:                 id,
		Name:               id,
		Active:             true,
		PrimaryDomain:      domain,
		RoutingTable:       map[string]string{"support": "support@" + domain},
		DefaultDestination: "inbox@" + domain,
	}
}

func TestBuildSnapshotIndexes(t *testing.T) {
	acme := testTenant("acme", "acme.com")
	acme.AliasDomains = []string{"Acme-Mail.COM"}
	globex := testTenant("globex", "globex.io")
	globex.Active = false

	snap, err := BuildSnapshot([]*TenantConfig{acme, globex}, 1)
	require.NoError(t, err)

	got, ok := snap.TenantByDomain("ACME.com")
	require.True(t, ok)
	assert.Equal(t, "acme", got.ID)

	got, ok = snap.TenantByDomain("acme-mail.com")
	require.True(t, ok)
	assert.Equal(t, "acme", got.ID)
	assert.False(t, snap.OwnsDomainExactly(got, "acme-mail.com"))
	assert.True(t, snap.OwnsDomainExactly(got, "acme.com"))

	// Inactive tenants stay visible by ID but never resolve by domain.
	_, ok = snap.TenantByDomain("globex.io")
	assert.False(t, ok)
	_, ok = snap.TenantByID("globex")
	assert.True(t, ok)

	assert.Equal(t, 1, snap.ActiveTenantCount())
	assert.Len(t, snap.DomainCorpus(), 2)
}

func TestBuildSnapshotRejectsDuplicateID(t *testing.T) {
	_, err := BuildSnapshot([]*TenantConfig{
		testTenant("acme", "acme.com"),
		testTenant("acme", "other.com"),
	}, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, consts.ErrDuplicateTenantID)
}

func TestBuildSnapshotRejectsDomainOverlap(t *testing.T) {
	first := testTenant("acme", "acme.com")
	second := testTenant("globex", "globex.io")
	second.AliasDomains = []string{"acme.com"}

	_, err := BuildSnapshot([]*TenantConfig{first, second}, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, consts.ErrDomainOwnedTwice)
}

func TestBuildSnapshotRejectsBadTimezone(t *testing.T) {
	tn := testTenant("acme", "acme.com")
	tn.BusinessHours = &BusinessHours{Timezone: "Mars/Olympus", Start: "09:00", End: "17:00"}
	tn.AfterHoursDestination = "night@acme.com"

	_, err := BuildSnapshot([]*TenantConfig{tn}, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, consts.ErrInvalidTimezone)
}

func TestBuildSnapshotRejectsBadHoursWindow(t *testing.T) {
	tests := []struct {
		name  string
		hours BusinessHours
	}{
		{"malformed start", BusinessHours{Timezone: "UTC", Start: "9am", End: "17:00"}},
		{"hour out of range", BusinessHours{Timezone: "UTC", Start: "25:00", End: "17:00"}},
		{"start equals end", BusinessHours{Timezone: "UTC", Start: "09:00", End: "09:00"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tn := testTenant("acme", "acme.com")
			hours := tc.hours
			tn.BusinessHours = &hours
			tn.AfterHoursDestination = "night@acme.com"

			_, err := BuildSnapshot([]*TenantConfig{tn}, 1)
			require.Error(t, err)
			assert.ErrorIs(t, err, consts.ErrInvalidHoursWindow)
		})
	}
}

func TestBuildSnapshotRequiresAfterHoursDestination(t *testing.T) {
	tn := testTenant("acme", "acme.com")
	tn.BusinessHours = &BusinessHours{Timezone: "UTC", Start: "09:00", End: "17:00"}

	_, err := BuildSnapshot([]*TenantConfig{tn}, 1)
	require.Error(t, err)
}

func TestInBusinessHours(t *testing.T) {
	tn := testTenant("acme", "acme.com")
	tn.BusinessHours = &BusinessHours{Timezone: "UTC", Start: "09:00", End: "17:00"}
	tn.AfterHoursDestination = "night@acme.com"
	_, err := BuildSnapshot([]*TenantConfig{tn}, 1)
	require.NoError(t, err)

	day := func(hh, mm int) time.Time {
		return time.Date(2025, 6, 2, hh, mm, 0, 0, time.UTC)
	}

	assert.True(t, tn.InBusinessHours(day(9, 0)), "start boundary is inclusive")
	assert.True(t, tn.InBusinessHours(day(16, 59)))
	assert.False(t, tn.InBusinessHours(day(17, 0)), "end boundary is exclusive")
	assert.False(t, tn.InBusinessHours(day(8, 59)))
}

func TestInBusinessHoursSpansMidnight(t *testing.T) {
	tn := testTenant("nightowl", "nightowl.io")
	tn.BusinessHours = &BusinessHours{Timezone: "UTC", Start: "22:00", End: "06:00"}
	tn.AfterHoursDestination = "day@nightowl.io"
	_, err := BuildSnapshot([]*TenantConfig{tn}, 1)
	require.NoError(t, err)

	day := func(hh, mm int) time.Time {
		return time.Date(2025, 6, 2, hh, mm, 0, 0, time.UTC)
	}

	assert.True(t, tn.InBusinessHours(day(23, 30)))
	assert.True(t, tn.InBusinessHours(day(2, 0)))
	assert.True(t, tn.InBusinessHours(day(22, 0)))
	assert.False(t, tn.InBusinessHours(day(6, 0)))
	assert.False(t, tn.InBusinessHours(day(12, 0)))
}

func TestInBusinessHoursRespectsTimezone(t *testing.T) {
	tn := testTenant("acme", "acme.com")
	tn.BusinessHours = &BusinessHours{Timezone: "America/New_York", Start: "09:00", End: "17:00"}
	tn.AfterHoursDestination = "night@acme.com"
	_, err := BuildSnapshot([]*TenantConfig{tn}, 1)
	require.NoError(t, err)

	// 14:00 UTC on June 2nd is 10:00 in New York (EDT).
	assert.True(t, tn.InBusinessHours(time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)))
	// 02:00 UTC is 22:00 the previous evening in New York.
	assert.False(t, tn.InBusinessHours(time.Date(2025, 6, 2, 2, 0, 0, 0, time.UTC)))
}

func TestNoBusinessHoursAlwaysStaffed(t *testing.T) {
	tn := testTenant("acme", "acme.com")
	assert.True(t, tn.InBusinessHours(time.Date(2025, 6, 2, 3, 0, 0, 0, time.UTC)))
}

func TestCategories(t *testing.T) {
	tn := testTenant("acme", "acme.com")
	tn.RoutingTable = map[string]string{"support": "s@acme.com", "billing": "b@acme.com"}
	tn.CategoryKeywords = map[string][]string{"sales": {"quote", "pricing"}}

	assert.Equal(t, []string{"billing", "general", "sales", "support"}, tn.Categories())
	assert.True(t, tn.HasCategory("general"))
	assert.True(t, tn.HasCategory("sales"))
	assert.False(t, tn.HasCategory("legal"))
}

type stubSource struct {
	tenants []*TenantConfig
	err     error
}

func (s *stubSource) LoadTenants(ctx context.Context) ([]*TenantConfig, error) {
	return s.tenants, s.err
}

func TestRegistryReloadKeepsOldSnapshotOnFailure(t *testing.T) {
	src := &stubSource{tenants: []*TenantConfig{testTenant("acme", "acme.com")}}
	reg := New(src)

	_, err := reg.Snapshot()
	assert.ErrorIs(t, err, consts.ErrSnapshotNotLoaded)

	require.NoError(t, reg.Reload(context.Background()))
	snap, err := reg.Snapshot()
	require.NoError(t, err)
	firstGen := snap.Generation

	// A failing source must not disturb the published snapshot.
	src.err = errors.New("store down")
	require.Error(t, reg.Reload(context.Background()))
	snap2, err := reg.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, firstGen, snap2.Generation)

	// An invalid tenant set must not either.
	src.err = nil
	src.tenants = []*TenantConfig{testTenant("a", "same.com"), testTenant("b", "same.com")}
	require.Error(t, reg.Reload(context.Background()))
	snap3, err := reg.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, firstGen, snap3.Generation)
}

func TestRegistryReloadBumpsGeneration(t *testing.T) {
	src := &stubSource{tenants: []*TenantConfig{testTenant("acme", "acme.com")}}
	reg := New(src)

	require.NoError(t, reg.Reload(context.Background()))
	first, _ := reg.Snapshot()
	require.NoError(t, reg.Reload(context.Background()))
	second, _ := reg.Snapshot()

	assert.Greater(t, second.Generation, first.Generation)
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenants.toml")
	content := `
[[tenant]]
id = "acme"
name = "Acme Corp"
active = true
primary_domain = "acme.com"
alias_domains = ["acme-mail.com"]
default_destination = "inbox@acme.com"
vip_domains = ["bigcustomer.com"]
vip_destination = "vip@acme.com"
after_hours_destination = "oncall@acme.com"

[tenant.routing_table]
support = "support@acme.com"
billing = "billing@acme.com"

[tenant.category_keywords]
support = ["help", "broken"]

[tenant.escalation_keywords]
urgent = "oncall@acme.com"

[tenant.business_hours]
timezone = "Europe/Berlin"
start = "09:00"
end = "17:00"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	tenants, err := NewFileSource(path).LoadTenants(context.Background())
	require.NoError(t, err)
	require.Len(t, tenants, 1)

	tn := tenants[0]
	assert.Equal(t, "acme", tn.ID)
	assert.Equal(t, []string{"acme-mail.com"}, tn.AliasDomains)
	assert.Equal(t, "support@acme.com", tn.RoutingTable["support"])
	assert.Equal(t, "oncall@acme.com", tn.EscalationKeywords["urgent"])
	require.NotNil(t, tn.BusinessHours)
	assert.Equal(t, "Europe/Berlin", tn.BusinessHours.Timezone)

	snap, err := BuildSnapshot(tenants, 1)
	require.NoError(t, err)
	_, ok := snap.TenantByDomain("acme.com")
	assert.True(t, ok)
}

func TestFileSourceMissingFile(t *testing.T) {
	_, err := NewFileSource("/nonexistent/tenants.toml").LoadTenants(context.Background())
	require.Error(t, err)
}
