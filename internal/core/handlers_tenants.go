package core

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"saloncore/internal/tenant"
	"saloncore/internal/types"
)

// authorizeTenant resolves the caller's role for a tenant, rejecting missing
// or unrecognized tokens.
func (s *Server) authorizeTenant(r *http.Request, tenantID string) (types.Role, error) {
	token := tenant.ExtractToken(r)
	if token == "" {
		return "", types.NewAppError(types.ErrCodeAuthTokenMissing, "authorization token is required", nil)
	}
	role := s.Access.ResolveRole(r.Context(), tenantID, token)
	if role == "" {
		return "", types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid authorization token", nil)
	}
	return role, nil
}

// HandleTenantConfigGet returns the tenant's configuration. Staff see it
// with access tokens masked.
func (s *Server) HandleTenantConfigGet(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	role, err := s.authorizeTenant(r, tenantID)
	if err != nil {
		Error(w, r, err)
		return
	}

	cfg, ok := s.Resolver.ResolveExact(r.Context(), tenantID)
	if !ok {
		Error(w, r, types.NewAppError(types.ErrCodeNotFoundTenant, "no configuration for tenant", nil))
		return
	}
	if role == types.RoleStaff {
		cfg = tenant.MaskConfig(cfg)
	}
	JSON(w, r, http.StatusOK, map[string]any{"tenantId": tenantID, "config": cfg})
}

// HandleTenantConfigPut replaces the tenant's configuration. Staff cannot
// write; file-backed sources reject writes entirely.
func (s *Server) HandleTenantConfigPut(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	role, err := s.authorizeTenant(r, tenantID)
	if err != nil {
		Error(w, r, err)
		return
	}
	if role == types.RoleStaff {
		Error(w, r, types.NewAppError(types.ErrCodePermissionRole, "staff role cannot modify tenant config", nil))
		return
	}
	if s.Resolver.ReadOnly() {
		Error(w, r, types.NewAppError(types.ErrCodeConfigSourceReadOnly,
			"tenant config source does not accept writes", nil))
		return
	}

	var cfg types.TenantConfig
	if err := DecodeJSON(w, r, &cfg); err != nil {
		Error(w, r, err)
		return
	}
	if err := cfg.Validate(); err != nil {
		Error(w, r, err)
		return
	}
	if err := s.Resolver.Put(r.Context(), tenantID, &cfg); err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, map[string]any{"tenantId": tenantID, "updated": true})
}

// HandleTenantConfigDelete removes the tenant's configuration.
func (s *Server) HandleTenantConfigDelete(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	role, err := s.authorizeTenant(r, tenantID)
	if err != nil {
		Error(w, r, err)
		return
	}
	if role == types.RoleStaff {
		Error(w, r, types.NewAppError(types.ErrCodePermissionRole, "staff role cannot modify tenant config", nil))
		return
	}
	if s.Resolver.ReadOnly() {
		Error(w, r, types.NewAppError(types.ErrCodeConfigSourceReadOnly,
			"tenant config source does not accept writes", nil))
		return
	}

	if _, ok := s.Resolver.ResolveExact(r.Context(), tenantID); !ok {
		Error(w, r, types.NewAppError(types.ErrCodeNotFoundTenant, "no configuration for tenant", nil))
		return
	}
	if err := s.Resolver.Delete(r.Context(), tenantID); err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, map[string]any{"tenantId": tenantID, "deleted": true})
}

// HandleKPI returns the tenant's operational KPI summary. Admin and owner
// only.
func (s *Server) HandleKPI(w http.ResponseWriter, r *http.Request) {
	tenantID := tenant.ResolveID(r, "", s.tenantIDOptions())
	role, err := s.authorizeTenant(r, tenantID)
	if err != nil {
		Error(w, r, err)
		return
	}
	if role == types.RoleStaff {
		Error(w, r, types.NewAppError(types.ErrCodePermissionRole, "staff role cannot read KPI data", nil))
		return
	}
	if s.KPI == nil {
		Error(w, r, types.NewAppError(types.ErrCodeInternalDB, "KPI aggregation requires a database", nil))
		return
	}

	period := r.URL.Query().Get("period")
	if period == "" {
		period = "week"
	}
	summary, err := s.KPI.Summary(r.Context(), tenantID, period)
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, summary)
}
