package auth

import "context"

type principalContextKey struct{}

// Principal is an authenticated caller: the loaded identity plus the
// verified access-token claims.
type Principal struct {
	User   Profile
	Claims *Claims
	Token  string
}

// HasRole reports whether the principal holds one of roles. An empty list
// admits any authenticated principal.
func (p Principal) HasRole(roles ...Role) bool {
	if len(roles) == 0 {
		return true
	}
	for _, r := range roles {
		if p.User.Role == r {
			return true
		}
	}
	return false
}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}

// UserIDFromContext returns the authenticated identity id, if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.User.ID == "" {
		return "", false
	}
	return p.User.ID, true
}
