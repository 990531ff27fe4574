package tenant

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
)

// IDOptions controls host-based tenant extraction on inbound requests.
type IDOptions struct {
	// FromHost enables deriving the tenant from the request's host
	// subdomain.
	FromHost bool
	// HostSuffix, when set, must match the host's tail; the remainder is
	// the tenant subdomain. Setting it implies FromHost.
	HostSuffix string
}

var hostPortRe = regexp.MustCompile(`:\d+$`)

// ResolveID determines the tenant for a request. Precedence is the
// X-Tenant-Id header, then the tenantId path parameter, then the tenantId
// query parameter, then the request body's tenantId, then the host
// subdomain when enabled. "default" is the final fallback.
//
// bodyTenant is the tenantId already decoded from the request body by the
// handler; pass "" when the body has none.
func ResolveID(r *http.Request, bodyTenant string, opts IDOptions) string {
	if t := r.Header.Get("X-Tenant-Id"); t != "" {
		return t
	}
	if t := chi.URLParam(r, "tenantId"); t != "" {
		return t
	}
	if t := r.URL.Query().Get("tenantId"); t != "" {
		return t
	}
	if bodyTenant != "" {
		return bodyTenant
	}
	if t := fromHost(r, opts); t != "" {
		return t
	}
	return DefaultTenant
}

// fromHost extracts the tenant subdomain from X-Forwarded-Host or Host.
func fromHost(r *http.Request, opts IDOptions) string {
	if !opts.FromHost && opts.HostSuffix == "" {
		return ""
	}
	hostHeader := r.Header.Get("X-Forwarded-Host")
	if hostHeader == "" {
		hostHeader = r.Host
	}
	if hostHeader == "" {
		return ""
	}
	host, _, _ := strings.Cut(hostHeader, ",")
	host = hostPortRe.ReplaceAllString(strings.TrimSpace(host), "")
	if host == "" {
		return ""
	}

	var subdomain string
	switch {
	case opts.HostSuffix != "":
		if !strings.HasSuffix(host, opts.HostSuffix) {
			return ""
		}
		subdomain = strings.TrimSuffix(strings.TrimSuffix(host, opts.HostSuffix), ".")
	case strings.Contains(host, "."):
		subdomain = strings.SplitN(host, ".", 2)[0]
	default:
		return ""
	}
	if subdomain == "" {
		return ""
	}
	tenantID, _, _ := strings.Cut(subdomain, ".")
	return strings.TrimSpace(tenantID)
}
