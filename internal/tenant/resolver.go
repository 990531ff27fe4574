package tenant

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"saloncore/internal/types"
)

// DefaultTenant is the fallback config key used when a tenant has no entry
// of its own.
const DefaultTenant = "default"

// Resolver serves tenant configuration from an immutable cached snapshot,
// reloading from the source once the reload interval has elapsed. Reads
// during a failed reload are served from the stale snapshot so a transient
// source outage does not take down request handling.
type Resolver struct {
	source Source
	reload time.Duration
	clock  types.Clock
	logger *slog.Logger

	mu        sync.RWMutex
	snapshot  map[string]*types.TenantConfig
	loadedAt  time.Time
	lastError string
}

// NewResolver creates a Resolver over the given source.
func NewResolver(source Source, reload time.Duration, logger *slog.Logger) *Resolver {
	if reload <= 0 {
		reload = 30 * time.Second
	}
	return &Resolver{source: source, reload: reload, clock: types.RealClock{}, logger: logger}
}

// NewResolverWithClock creates a Resolver with an injectable clock for tests.
func NewResolverWithClock(source Source, reload time.Duration, clock types.Clock, logger *slog.Logger) *Resolver {
	r := NewResolver(source, reload, logger)
	r.clock = clock
	return r
}

// Resolve returns the tenant's config, falling back to the "default" entry
// when the tenant has none. The second return is false only when neither
// exists.
func (r *Resolver) Resolve(ctx context.Context, tenantID string) (*types.TenantConfig, bool) {
	snap := r.current(ctx)
	if cfg, ok := snap[tenantID]; ok && cfg != nil {
		return cfg, true
	}
	if cfg, ok := snap[DefaultTenant]; ok && cfg != nil {
		return cfg, true
	}
	return nil, false
}

// ResolveExact returns the tenant's own config with no default fallback.
// The tenant-admin surface uses this so the default entry is never exposed
// or modified under another tenant's ID.
func (r *Resolver) ResolveExact(ctx context.Context, tenantID string) (*types.TenantConfig, bool) {
	cfg, ok := r.current(ctx)[tenantID]
	return cfg, ok && cfg != nil
}

// Put writes the tenant's config through the source and invalidates the
// snapshot so the next read observes it.
func (r *Resolver) Put(ctx context.Context, tenantID string, cfg *types.TenantConfig) error {
	if err := r.source.Put(ctx, tenantID, cfg); err != nil {
		return err
	}
	r.Invalidate()
	return nil
}

// Delete removes the tenant's config through the source and invalidates the
// snapshot.
func (r *Resolver) Delete(ctx context.Context, tenantID string) error {
	if err := r.source.Delete(ctx, tenantID); err != nil {
		return err
	}
	r.Invalidate()
	return nil
}

// ReadOnly reports whether the underlying source rejects writes.
func (r *Resolver) ReadOnly() bool { return r.source.ReadOnly() }

// Invalidate forces the next read to reload from the source.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.loadedAt = time.Time{}
	r.mu.Unlock()
}

// current returns the live snapshot, reloading when stale. Each snapshot map
// is never mutated after the swap, so callers may read it without locks.
func (r *Resolver) current(ctx context.Context) map[string]*types.TenantConfig {
	r.mu.RLock()
	fresh := r.snapshot != nil && r.clock.Now().Sub(r.loadedAt) < r.reload
	snap := r.snapshot
	r.mu.RUnlock()
	if fresh {
		return snap
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another goroutine may have reloaded while we waited for the lock.
	if r.snapshot != nil && r.clock.Now().Sub(r.loadedAt) < r.reload {
		return r.snapshot
	}
	loaded, err := r.source.LoadAll(ctx)
	if err != nil {
		// Serve stale on failure; log each distinct error once.
		if err.Error() != r.lastError {
			r.logger.Warn("tenant config reload failed, serving stale snapshot",
				slog.String("error", err.Error()))
			r.lastError = err.Error()
		}
		if r.snapshot == nil {
			return map[string]*types.TenantConfig{}
		}
		return r.snapshot
	}
	r.snapshot = loaded
	r.loadedAt = r.clock.Now()
	r.lastError = ""
	return r.snapshot
}
