package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"vm-request-platform/api/internal/repos"
	"vm-request-platform/shared/authx"
	"vm-request-platform/shared/cachex"
	"vm-request-platform/shared/httpx"
	"vm-request-platform/shared/tenantx"
)

// TenantMiddleware resolves the caller's tenant from X-Tenant-ID or
// X-Tenant-Slug, cross-checks it against the token's tenant claims, and
// binds it on the request context. Handlers and stores downstream never
// see an unbound context past this point.
type TenantMiddleware struct {
	Tenants *repos.TenantsRepo
	Cache   *cachex.Client
	Skip    func(*http.Request) bool
}

func (m TenantMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skip != nil && m.Skip(r) {
			next.ServeHTTP(w, r)
			return
		}

		rawID := strings.TrimSpace(r.Header.Get("X-Tenant-ID"))
		slug := strings.TrimSpace(r.Header.Get("X-Tenant-Slug"))
		if rawID == "" && slug == "" {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "missing tenant header", nil)
			return
		}

		tenant := tenantx.Tenant{Slug: slug}
		if slug != "" {
			record, err := m.resolveSlug(r, slug)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "tenant not found", nil)
					return
				}
				httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to resolve tenant", nil)
				return
			}
			if rawID != "" && rawID != record.TenantID.String() {
				httpx.WriteError(w, r, http.StatusForbidden, "FORBIDDEN", "tenant mismatch", nil)
				return
			}
			tenant.ID = record.TenantID
			tenant.Slug = record.Slug
		} else {
			id, err := uuid.Parse(rawID)
			if err != nil {
				httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "malformed tenant id", nil)
				return
			}
			tenant.ID = id
		}

		if auth, ok := authx.FromContext(r.Context()); ok {
			if err := validateTenantClaims(auth.Claims, tenant.ID.String()); err != nil {
				httpx.WriteError(w, r, http.StatusForbidden, "FORBIDDEN", err.Error(), nil)
				return
			}
		}

		ctx := tenantx.WithTenant(r.Context(), tenant)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m TenantMiddleware) resolveSlug(r *http.Request, slug string) (repos.Tenant, error) {
	ctx := r.Context()
	cacheKey := cachex.TenantSlugKey(slug)

	if m.Cache != nil {
		var cached repos.Tenant
		if ok, err := m.Cache.GetJSON(ctx, cacheKey, &cached); err == nil && ok {
			return cached, nil
		}
	}
	if m.Tenants == nil {
		return repos.Tenant{}, errors.New("tenant repository not configured")
	}
	record, err := m.Tenants.GetTenantBySlug(ctx, slug)
	if err != nil {
		return repos.Tenant{}, err
	}
	if m.Cache != nil {
		_ = m.Cache.SetJSON(ctx, cacheKey, record, cachex.TenantSlugTTL)
	}
	return record, nil
}

// validateTenantClaims rejects tokens scoped to a different tenant. Tokens
// without tenant claims pass; the header alone decides then.
func validateTenantClaims(claims map[string]any, tenantID string) error {
	if claims == nil || tenantID == "" {
		return nil
	}
	if v, ok := claims["tenant_id"]; ok {
		claimed := strings.TrimSpace(fmt.Sprint(v))
		if claimed != "" && claimed != tenantID {
			return errors.New("tenant claim mismatch")
		}
	}
	if v, ok := claims["tenants"]; ok {
		allowed := map[string]struct{}{}
		switch t := v.(type) {
		case []string:
			for _, item := range t {
				if item = strings.TrimSpace(item); item != "" {
					allowed[item] = struct{}{}
				}
			}
		case []any:
			for _, item := range t {
				if val := strings.TrimSpace(fmt.Sprint(item)); val != "" {
					allowed[val] = struct{}{}
				}
			}
		case string:
			for _, item := range strings.Fields(t) {
				allowed[item] = struct{}{}
			}
		}
		if len(allowed) > 0 {
			if _, ok := allowed[tenantID]; !ok {
				return errors.New("tenant not allowed")
			}
		}
	}
	return nil
}
