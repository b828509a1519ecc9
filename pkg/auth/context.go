package auth

import (
	"context"
	"errors"
)

type contextKey string

const principalKey contextKey = "principal"

// WithPrincipal attaches a Principal to the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal retrieves the Principal from the context.
func GetPrincipal(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(principalKey).(Principal)
	if !ok {
		return Principal{}, errors.New("no principal in context")
	}
	return p, nil
}

// GetOrgID is a helper to get the org ID from the context's Principal.
func GetOrgID(ctx context.Context) (string, error) {
	p, err := GetPrincipal(ctx)
	if err != nil {
		return "", err
	}
	return p.OrgID, nil
}

// MustGetOrgID panics if the org ID is missing (use only when middleware
// guarantees it, e.g. inside a handler wrapped by SessionMiddleware).
func MustGetOrgID(ctx context.Context) string {
	orgID, err := GetOrgID(ctx)
	if err != nil {
		panic(err)
	}
	return orgID
}
