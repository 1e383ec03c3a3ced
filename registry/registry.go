// Package registry maintains the tenant configuration set as an atomically
// swappable snapshot. Reloads build and validate a complete new snapshot
// before publishing it; a reload that fails leaves the previous snapshot
// serving, so in-flight messages never observe a half-applied tenant set.
package registry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mailflow/rudder/consts"
	"github.com/mailflow/rudder/logger"
	"github.com/mailflow/rudder/pkg/metrics"
)

// Source loads the raw tenant set from a backing store (TOML file, Postgres).
type Source interface {
	LoadTenants(ctx context.Context) ([]*TenantConfig, error)
}

type Registry struct {
	source Source

	current    atomic.Pointer[Snapshot]
	generation atomic.Uint64

	reloadMu sync.Mutex
}

func New(source Source) *Registry {
	return &Registry{source: source}
}

// Snapshot returns the current published snapshot, or an error if no load
// has succeeded yet.
func (r *Registry) Snapshot() (*Snapshot, error) {
	snap := r.current.Load()
	if snap == nil {
		return nil, consts.ErrSnapshotNotLoaded
	}
	return snap, nil
}

// Reload loads the tenant set from the source, validates it, and atomically
// publishes the new snapshot. Concurrent reloads are serialized; lookups are
// never blocked.
func (r *Registry) Reload(ctx context.Context) error {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	start := time.Now()

	tenants, err := r.source.LoadTenants(ctx)
	if err != nil {
		metrics.RegistryReloadsTotal.WithLabelValues("source_error").Inc()
		return fmt.Errorf("failed to load tenants: %w", err)
	}

	snap, err := BuildSnapshot(tenants, r.generation.Add(1))
	if err != nil {
		metrics.RegistryReloadsTotal.WithLabelValues("validation_error").Inc()
		return fmt.Errorf("tenant set rejected: %w", err)
	}

	r.current.Store(snap)
	metrics.RegistryReloadsTotal.WithLabelValues("success").Inc()
	metrics.RegistryTenants.Set(float64(snap.ActiveTenantCount()))

	logger.Info("Tenant registry reloaded",
		"generation", snap.Generation,
		"tenants", len(snap.Tenants),
		"active", snap.ActiveTenantCount(),
		"domains", len(snap.DomainCorpus()),
		"duration", time.Since(start))
	return nil
}

// StartRefresh launches a background goroutine that reloads the registry
// every interval until ctx is cancelled. Reload failures are logged and the
// previous snapshot keeps serving.
func (r *Registry) StartRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.Reload(ctx); err != nil {
					logger.Error("Periodic registry reload failed", "error", err)
				}
			}
		}
	}()
}
