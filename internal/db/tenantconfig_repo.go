package db

import (
	"context"
	"encoding/json"

	"saloncore/internal/types"
)

// TenantConfigRepository provides data access for the tenant_config table
// and the tenant/provider mapping rows maintained alongside it. It backs the
// database tenant config source.
type TenantConfigRepository struct {
	db DBTX
}

// NewTenantConfigRepository creates a repository backed by the given
// database connection (pool or transaction).
func NewTenantConfigRepository(db DBTX) *TenantConfigRepository {
	return &TenantConfigRepository{db: db}
}

// ListConfigs returns every stored tenant config keyed by tenant id.
func (r *TenantConfigRepository) ListConfigs(ctx context.Context) (map[string]*types.TenantConfig, error) {
	rows, err := r.db.Query(ctx, `SELECT tenant_id, config FROM tenant_config`)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list tenant configs", err)
	}
	defer rows.Close()

	out := make(map[string]*types.TenantConfig)
	for rows.Next() {
		var tenantID string
		var raw []byte
		if err := rows.Scan(&tenantID, &raw); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan tenant config row", err)
		}
		var cfg types.TenantConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, types.NewAppError(types.ErrCodeValidationTenantConfig, "stored tenant config is malformed", err).
				WithDetails(map[string]any{"tenant_id": tenantID})
		}
		out[tenantID] = &cfg
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate tenant configs", err)
	}
	return out, nil
}

// UpsertConfig stores the config document for a tenant.
func (r *TenantConfigRepository) UpsertConfig(ctx context.Context, tenantID string, cfg *types.TenantConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return types.NewAppError(types.ErrCodeValidationTenantConfig, "failed to encode tenant config", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO tenant_config (tenant_id, config)
		VALUES ($1, $2)
		ON CONFLICT (tenant_id) DO UPDATE
		SET config = EXCLUDED.config, updated_at = now()`,
		tenantID, raw)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert tenant config", err)
	}
	return nil
}

// DeleteConfig removes a tenant's config document.
func (r *TenantConfigRepository) DeleteConfig(ctx context.Context, tenantID string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM tenant_config WHERE tenant_id = $1`, tenantID); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete tenant config", err)
	}
	return nil
}

// EnsureTenant creates the tenant row if it does not exist yet.
func (r *TenantConfigRepository) EnsureTenant(ctx context.Context, tenantID string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO tenants (id) VALUES ($1)
		ON CONFLICT (id) DO NOTHING`, tenantID)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to ensure tenant", err)
	}
	return nil
}

// UpsertMapping records the tenant's CRM brand and calendar team bindings.
// Empty identifiers clear nothing; existing values survive a partial update.
func (r *TenantConfigRepository) UpsertMapping(ctx context.Context, tenantID, brandID, calendarTeamID string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO tenant_mapping (tenant_id, brand_id, calendar_team_id)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''))
		ON CONFLICT (tenant_id) DO UPDATE
		SET brand_id = COALESCE(NULLIF(EXCLUDED.brand_id, ''), tenant_mapping.brand_id),
		    calendar_team_id = COALESCE(NULLIF(EXCLUDED.calendar_team_id, ''), tenant_mapping.calendar_team_id),
		    updated_at = now()`,
		tenantID, brandID, calendarTeamID)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert tenant mapping", err)
	}
	return nil
}
