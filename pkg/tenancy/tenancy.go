// Package tenancy implements the per-request SecurityContext (C14, spec.md
// §4.12): an immutable value propagated through every core call instead of
// the source's ambient continuation-local store, per spec.md §9's
// re-architecture note.
package tenancy

import (
	"errors"
	"strings"

	"github.com/hsgraph/hsg/pkg/errs"
)

var (
	errUnauthorizedAnyTenant = errors.New("tenancy: only admins may target any tenant")
	errTenantMismatch        = errors.New("tenancy: tenant id does not match security context")
)

// Context is the immutable per-request security context threaded through
// every core call. It is never read from a hidden singleton.
type Context struct {
	// TenantID is nil for the system/global bucket. A second pointer level
	// isn't needed in Go: "any tenant" (admin-only) is represented by the
	// AnyTenant sentinel field below rather than an untyped undefined.
	TenantID  *string
	AnyTenant bool // true only when IsAdmin and the caller asked for "any tenant"
	Scopes    map[string]struct{}
	IsAdmin   bool
	RequestID string
	IP        string
	UserAgent string
}

// New builds a Context scoped to a single tenant (or the global bucket when
// tenantID is nil).
func New(tenantID *string, isAdmin bool, scopes ...string) Context {
	set := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		set[s] = struct{}{}
	}
	return Context{TenantID: tenantID, Scopes: set, IsAdmin: isAdmin}
}

// HasScope reports whether the context carries the named scope.
func (c Context) HasScope(scope string) bool {
	_, ok := c.Scopes[scope]
	return ok
}

// Allow checks that c may operate against targetTenant (nil = global),
// returning a Forbidden error otherwise. Non-admins may only ever act within
// their own effective tenant; admins may additionally pass AnyTenant to mean
// "every tenant" (spec.md §4.12).
func (c Context) Allow(targetTenant *string) error {
	if c.AnyTenant {
		if !c.IsAdmin {
			return errs.Forbidden("tenancy.Allow", errUnauthorizedAnyTenant)
		}
		return nil
	}
	if sameTenant(c.TenantID, targetTenant) {
		return nil
	}
	if c.IsAdmin {
		return nil
	}
	return errs.Forbidden("tenancy.Allow", errTenantMismatch)
}

func sameTenant(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// EffectiveTenant returns the tenant id core operations should filter by:
// nil if the context targets the global bucket or "any tenant".
func (c Context) EffectiveTenant() *string {
	if c.AnyTenant {
		return nil
	}
	return c.TenantID
}

// NormalizeTenantID maps the aliases spec.md §4.12 lists to their canonical
// form: "", "anonymous", "public", "NULL" -> nil (global); "system" -> the
// AnyTenant sentinel is represented by returning (nil, true); anything else
// is trimmed and returned as-is.
func NormalizeTenantID(raw string) (tenantID *string, anyTenant bool) {
	trimmed := strings.TrimSpace(raw)
	switch trimmed {
	case "", "anonymous", "public", "NULL":
		return nil, false
	case "system":
		return nil, true
	default:
		return &trimmed, false
	}
}
