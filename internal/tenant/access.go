package tenant

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"saloncore/internal/types"
)

// AccessControl resolves the caller's role on the tenant-admin surface.
// The platform admin token outranks per-tenant tokens; per-tenant owner and
// staff tokens come from the tenant's access config.
type AccessControl struct {
	resolver   *Resolver
	adminToken string
}

// NewAccessControl creates an AccessControl. An empty adminToken disables
// the platform admin role entirely.
func NewAccessControl(resolver *Resolver, adminToken string) *AccessControl {
	return &AccessControl{resolver: resolver, adminToken: adminToken}
}

// ExtractToken pulls the caller's token from the X-Admin-Token header or a
// Bearer Authorization header, in that precedence.
func ExtractToken(r *http.Request) string {
	if t := r.Header.Get("X-Admin-Token"); t != "" {
		return t
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// ResolveRole maps the token to a role on the tenant. An empty role return
// means the caller is unauthorized. Token comparisons are constant-time.
func (a *AccessControl) ResolveRole(ctx context.Context, tenantID, token string) types.Role {
	if token == "" {
		return ""
	}
	if a.adminToken != "" && tokenEqual(token, a.adminToken) {
		return types.RoleAdmin
	}
	cfg, ok := a.resolver.ResolveExact(ctx, tenantID)
	if !ok || cfg.Access == nil {
		return ""
	}
	if containsToken(cfg.Access.OwnerTokens, token) {
		return types.RoleOwner
	}
	if containsToken(cfg.Access.StaffTokens, token) {
		return types.RoleStaff
	}
	return ""
}

func containsToken(tokens []string, token string) bool {
	found := false
	// Check every entry so timing does not reveal the match position.
	for _, t := range tokens {
		if tokenEqual(t, token) {
			found = true
		}
	}
	return found
}

func tokenEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// MaskConfig returns a deep copy of the config with access tokens reduced to
// "***<last4>" ("***" when shorter than five characters). The staff role
// sees configs only through this mask.
func MaskConfig(cfg *types.TenantConfig) *types.TenantConfig {
	if cfg == nil {
		return nil
	}
	masked := *cfg
	if cfg.Access != nil {
		access := types.AccessConfig{
			OwnerTokens: maskTokens(cfg.Access.OwnerTokens),
			StaffTokens: maskTokens(cfg.Access.StaffTokens),
		}
		masked.Access = &access
	}
	return &masked
}

func maskTokens(tokens []string) []string {
	if tokens == nil {
		return nil
	}
	out := make([]string, len(tokens))
	for i, t := range tokens {
		if len(t) <= 4 {
			out[i] = "***"
		} else {
			out[i] = "***" + t[len(t)-4:]
		}
	}
	return out
}
