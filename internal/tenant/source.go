// Package tenant implements per-tenant configuration resolution, the
// tenant-admin access roles, and tenant identification on inbound requests.
//
// Configuration comes from one of two sources: a JSON file mapping tenant ID
// to config, or a database table. The resolver in front of the source caches
// an immutable snapshot with bounded staleness; writes go through the source
// and invalidate the snapshot.
package tenant

import (
	"context"
	"encoding/json"
	"os"

	"saloncore/internal/types"
)

// Source loads and, when writable, mutates tenant configuration documents.
type Source interface {
	// LoadAll returns the full tenant-id -> config map.
	LoadAll(ctx context.Context) (map[string]*types.TenantConfig, error)
	// Put stores the config for a tenant. Read-only sources return an
	// AppError with code config_source_read_only.
	Put(ctx context.Context, tenantID string, cfg *types.TenantConfig) error
	// Delete removes a tenant's config. Read-only sources return the same
	// error as Put.
	Delete(ctx context.Context, tenantID string) error
	// ReadOnly reports whether Put/Delete are supported.
	ReadOnly() bool
}

// FileSource reads tenant configuration from a JSON file. The file holds a
// single object keyed by tenant ID, with an optional "default" entry used as
// the fallback config.
type FileSource struct {
	path string
}

// NewFileSource creates a FileSource for the given path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// LoadAll reads and parses the config file.
func (s *FileSource) LoadAll(_ context.Context) (map[string]*types.TenantConfig, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationTenantConfig, "failed to read tenant config file", err)
	}
	var m map[string]*types.TenantConfig
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationTenantConfig, "failed to parse tenant config file", err)
	}
	return m, nil
}

// Put always fails: the file source is read-only.
func (s *FileSource) Put(context.Context, string, *types.TenantConfig) error {
	return errReadOnly()
}

// Delete always fails: the file source is read-only.
func (s *FileSource) Delete(context.Context, string) error {
	return errReadOnly()
}

// ReadOnly always reports true.
func (s *FileSource) ReadOnly() bool { return true }

func errReadOnly() error {
	return types.NewAppError(types.ErrCodeConfigSourceReadOnly, "tenant config source is not writable", nil)
}

// ConfigStore is the persistence surface the database-backed source needs.
// It is implemented by db.TenantConfigRepository.
type ConfigStore interface {
	ListConfigs(ctx context.Context) (map[string]*types.TenantConfig, error)
	UpsertConfig(ctx context.Context, tenantID string, cfg *types.TenantConfig) error
	DeleteConfig(ctx context.Context, tenantID string) error
	EnsureTenant(ctx context.Context, tenantID string) error
	UpsertMapping(ctx context.Context, tenantID, brandID, calendarTeamID string) error
}

// DBSource reads and writes tenant configuration through a ConfigStore.
type DBSource struct {
	store ConfigStore
}

// NewDBSource creates a DBSource over the given store.
func NewDBSource(store ConfigStore) *DBSource {
	return &DBSource{store: store}
}

// LoadAll returns every stored tenant config.
func (s *DBSource) LoadAll(ctx context.Context) (map[string]*types.TenantConfig, error) {
	return s.store.ListConfigs(ctx)
}

// Put stores the config for a tenant, keeping the tenant row and its
// brand/calendar-team mapping current with the document.
func (s *DBSource) Put(ctx context.Context, tenantID string, cfg *types.TenantConfig) error {
	if err := s.store.EnsureTenant(ctx, tenantID); err != nil {
		return err
	}
	if err := s.store.UpsertConfig(ctx, tenantID, cfg); err != nil {
		return err
	}
	var teamID string
	if cfg.Calendar != nil {
		teamID = cfg.Calendar.TeamID
	}
	if cfg.BrandID != "" || teamID != "" {
		return s.store.UpsertMapping(ctx, tenantID, cfg.BrandID, teamID)
	}
	return nil
}

// Delete removes a tenant's config.
func (s *DBSource) Delete(ctx context.Context, tenantID string) error {
	return s.store.DeleteConfig(ctx, tenantID)
}

// ReadOnly always reports false.
func (s *DBSource) ReadOnly() bool { return false }
