package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"
)

func TestHashKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "prefix only", raw: APIKeyPrefix},
		{name: "typical key", raw: "gpx_abc123xyz"},
		{name: "long key", raw: "gpx_" + "a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := HashKey(tt.raw)
			h := sha256.Sum256([]byte(tt.raw))
			want := hex.EncodeToString(h[:])
			if got != want {
				t.Errorf("HashKey(%q) = %q, want %q", tt.raw, got, want)
			}
			if len(got) != 64 {
				t.Errorf("HashKey len = %d, want 64", len(got))
			}
		})
	}

	t.Run("deterministic", func(t *testing.T) {
		t.Parallel()
		if HashKey("key") != HashKey("key") {
			t.Error("HashKey is not deterministic")
		}
	})
}

func TestIdentity_Can(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		perms Permission
		check Permission
		want  bool
	}{
		{name: "exact match single", perms: PermUseModels, check: PermUseModels, want: true},
		{name: "superset", perms: PermUseModels | PermManageOwnKeys, check: PermUseModels, want: true},
		{name: "missing", perms: PermManageOwnKeys, check: PermUseModels, want: false},
		{name: "zero perms", perms: 0, check: PermUseModels, want: false},
		{name: "all perms", perms: ^Permission(0), check: PermManageOrgs, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			id := &Identity{Perms: tt.perms}
			if got := id.Can(tt.check); got != tt.want {
				t.Errorf("Can(%v) = %v, want %v (perms=%v)", tt.check, got, tt.want, tt.perms)
			}
		})
	}
}

func TestRolePermissions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		role  string
		perms []Permission
		lacks []Permission
	}{
		{
			role:  "admin",
			perms: []Permission{PermUseModels, PermManageOwnKeys, PermViewOwnUsage, PermViewAllUsage, PermManageAllKeys, PermManageProviders, PermManageCredentials, PermManageOrgs},
		},
		{
			role:  "member",
			perms: []Permission{PermUseModels, PermManageOwnKeys, PermViewOwnUsage},
			lacks: []Permission{PermViewAllUsage, PermManageAllKeys, PermManageOrgs},
		},
		{
			role:  "viewer",
			perms: []Permission{PermViewOwnUsage, PermViewAllUsage},
			lacks: []Permission{PermUseModels, PermManageOwnKeys},
		},
	}

	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			t.Parallel()
			p := RolePermissions[tt.role]
			id := &Identity{Perms: p}
			for _, perm := range tt.perms {
				if !id.Can(perm) {
					t.Errorf("role %q: expected Can(%v) = true", tt.role, perm)
				}
			}
			for _, perm := range tt.lacks {
				if id.Can(perm) {
					t.Errorf("role %q: expected Can(%v) = false", tt.role, perm)
				}
			}
		})
	}
}

func TestContextWithRequestID_RequestIDFromContext(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		id   string
	}{
		{name: "non-empty", id: "req-abc-123"},
		{name: "empty string", id: ""},
		{name: "uuid-like", id: "018f1b2c-3d4e-7a5b-8c9d-0e1f2a3b4c5d"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := ContextWithRequestID(context.Background(), tt.id)
			got := RequestIDFromContext(ctx)
			if got != tt.id {
				t.Errorf("RequestIDFromContext = %q, want %q", got, tt.id)
			}
		})
	}

	t.Run("missing from context", func(t *testing.T) {
		t.Parallel()
		got := RequestIDFromContext(context.Background())
		if got != "" {
			t.Errorf("RequestIDFromContext on bare ctx = %q, want empty", got)
		}
	})
}

func TestContextWithIdentity_IdentityFromContext(t *testing.T) {
	t.Parallel()

	t.Run("set on bare context", func(t *testing.T) {
		t.Parallel()
		id := &Identity{UserID: "user-1", Role: "admin", Perms: RolePermissions["admin"]}
		ctx := ContextWithIdentity(context.Background(), id)
		got := IdentityFromContext(ctx)
		if got != id {
			t.Errorf("IdentityFromContext = %v, want %v", got, id)
		}
	})

	t.Run("mutates existing meta", func(t *testing.T) {
		t.Parallel()
		ctx := ContextWithRequestID(context.Background(), "req-xyz")
		id := &Identity{UserID: "svc-1", Role: "member"}
		ctx2 := ContextWithIdentity(ctx, id)
		if ctx2 != ctx {
			t.Error("ContextWithIdentity should return same ctx when meta already present")
		}
		if got := IdentityFromContext(ctx2); got != id {
			t.Errorf("IdentityFromContext = %v, want %v", got, id)
		}
		if got := RequestIDFromContext(ctx2); got != "req-xyz" {
			t.Errorf("RequestIDFromContext after ContextWithIdentity = %q, want req-xyz", got)
		}
	})

	t.Run("missing from context", func(t *testing.T) {
		t.Parallel()
		if got := IdentityFromContext(context.Background()); got != nil {
			t.Errorf("IdentityFromContext on bare ctx = %v, want nil", got)
		}
	})
}

func TestDisallowEntry_IsExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		entry DisallowEntry
		want  bool
	}{
		{
			name:  "dead with nil until is indefinite",
			entry: DisallowEntry{Level: Dead, Until: nil, UpdatedAt: now},
			want:  false,
		},
		{
			name:  "cooldown with nil until is indefinite",
			entry: DisallowEntry{Level: Cooldown, Until: nil, UpdatedAt: now},
			want:  false,
		},
		{
			name:  "transient with nil until expires after 30s",
			entry: DisallowEntry{Level: Transient, Until: nil, UpdatedAt: now.Add(-31 * time.Second)},
			want:  true,
		},
		{
			name:  "transient with nil until still active",
			entry: DisallowEntry{Level: Transient, Until: nil, UpdatedAt: now.Add(-10 * time.Second)},
			want:  false,
		},
		{
			name:  "explicit until in the past",
			entry: DisallowEntry{Level: Cooldown, Until: ptrTime(now.Add(-1 * time.Second))},
			want:  true,
		},
		{
			name:  "explicit until in the future",
			entry: DisallowEntry{Level: Cooldown, Until: ptrTime(now.Add(1 * time.Second))},
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.entry.IsExpired(now); got != tt.want {
				t.Errorf("IsExpired = %v, want %v", got, tt.want)
			}
		})
	}
}

func ptrTime(t time.Time) *time.Time { return &t }
