package testutil

import (
	"context"
	"net/http"

	gateway "github.com/leenhawk/gproxy/internal"
)

// FakeAuth always authenticates successfully with admin permissions.
type FakeAuth struct{}

// Authenticate returns a test identity with admin permissions.
func (FakeAuth) Authenticate(_ context.Context, _ *http.Request) (*gateway.Identity, error) {
	return &gateway.Identity{
		UserID:     "test-user",
		KeyID:      "test-key",
		OrgID:      "default",
		Role:       "admin",
		Perms:      gateway.RolePermissions["admin"],
		AuthMethod: "apikey",
	}, nil
}

// RejectAuth always rejects authentication.
type RejectAuth struct{}

// Authenticate always returns ErrUnauthorized.
func (RejectAuth) Authenticate(context.Context, *http.Request) (*gateway.Identity, error) {
	return nil, gateway.ErrUnauthorized
}

// FakeViewerAuth authenticates successfully but with viewer-level
// permissions only, for exercising requirePerm rejections.
type FakeViewerAuth struct{}

// Authenticate returns a test identity with viewer permissions.
func (FakeViewerAuth) Authenticate(_ context.Context, _ *http.Request) (*gateway.Identity, error) {
	return &gateway.Identity{
		UserID:     "viewer-user",
		KeyID:      "viewer-key",
		OrgID:      "default",
		Role:       "viewer",
		Perms:      gateway.RolePermissions["viewer"],
		AuthMethod: "apikey",
	}, nil
}
