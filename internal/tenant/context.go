package tenant

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrMissingTenant = errors.New("tenant id missing from context")

type contextKey struct{}

// WithTenant returns a context carrying the caller's tenant ID. The HTTP
// layer sets this from the authenticated session; engine code never accepts
// a tenant ID as a request field.
func WithTenant(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext extracts the tenant ID. Every store call requires it.
func FromContext(ctx context.Context) (uuid.UUID, error) {
	id, ok := ctx.Value(contextKey{}).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, ErrMissingTenant
	}
	return id, nil
}
