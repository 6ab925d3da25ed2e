package auth

import (
	"context"
	"errors"

	"github.com/chronoflux-labs/chronovault/pkg/contracts"
)

// Roles recognized by the API layer.
const (
	RoleAdmin  = "admin"
	RoleKeeper = "keeper"
	RoleOracle = "oracle"
)

// Identity is the authenticated caller: a vault principal plus the
// roles its token carries.
type Identity struct {
	Principal contracts.Principal
	Roles     []string
}

// HasRole reports whether the identity carries the given role.
func (i *Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type contextKey string

const identityKey contextKey = "identity"

// WithIdentity attaches an Identity to the context.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// GetIdentity retrieves the Identity from the context.
func GetIdentity(ctx context.Context) (*Identity, error) {
	id, ok := ctx.Value(identityKey).(*Identity)
	if !ok {
		return nil, errors.New("no identity in context")
	}
	return id, nil
}
