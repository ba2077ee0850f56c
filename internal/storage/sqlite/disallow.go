package sqlite

import (
	"context"
	"database/sql"
	"time"

	gateway "github.com/leenhawk/gproxy/internal"
)

// UpsertDisallow inserts or replaces the disallow mark for
// (providerID, entry.CredentialID, entry.Scope), matching the
// credential_disallow table's UNIQUE(provider_id, credential_id,
// scope_kind, scope_model) constraint.
func (s *Store) UpsertDisallow(ctx context.Context, providerID string, entry gateway.DisallowEntry) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO credential_disallow (provider_id, credential_id, scope_kind, scope_model, level, until, reason, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(provider_id, credential_id, scope_kind, scope_model)
		 DO UPDATE SET level=excluded.level, until=excluded.until, reason=excluded.reason, updated_at=excluded.updated_at`,
		providerID, entry.CredentialID, int(entry.Scope.Kind), entry.Scope.Model,
		int(entry.Level), timeToStr(entry.Until), entry.Reason, entry.UpdatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// ClearDisallow removes the disallow mark for (providerID, credentialID, scope).
func (s *Store) ClearDisallow(ctx context.Context, providerID string, credentialID int64, scope gateway.Scope) error {
	_, err := s.write.ExecContext(ctx,
		`DELETE FROM credential_disallow WHERE provider_id=? AND credential_id=? AND scope_kind=? AND scope_model=?`,
		providerID, credentialID, int(scope.Kind), scope.Model,
	)
	return err
}

// ListDisallows returns every disallow mark currently recorded for
// providerID, used to rebuild a gateway.PoolSnapshot at startup.
func (s *Store) ListDisallows(ctx context.Context, providerID string) ([]gateway.DisallowEntry, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT credential_id, scope_kind, scope_model, level, until, reason, updated_at
		 FROM credential_disallow WHERE provider_id=?`, providerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []gateway.DisallowEntry
	for rows.Next() {
		var e gateway.DisallowEntry
		var scopeKind, level int
		var scopeModel string
		var until, updatedAt sql.NullString

		if err := rows.Scan(&e.CredentialID, &scopeKind, &scopeModel, &level, &until, &e.Reason, &updatedAt); err != nil {
			return nil, err
		}
		e.Scope = gateway.Scope{Kind: gateway.ScopeKind(scopeKind), Model: scopeModel}
		e.Level = gateway.DisallowLevel(level)
		e.Until = parseTime(until)
		if t := parseTime(updatedAt); t != nil {
			e.UpdatedAt = *t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ApplyProviderState persists one credential health transition: a mark
// (Entry set), a clear (Cleared set, no Entry), or a full snapshot swap
// (SnapshotSwap set, nothing to persist per-row since ApplyPools already
// carries the authoritative new state into each pool's memory -- the DB
// mirror is rebuilt from ListDisallows the next time a row-level mark
// lands, not from the swap event itself).
func (s *Store) ApplyProviderState(ctx context.Context, ev gateway.ProviderStateEvent) error {
	switch {
	case ev.SnapshotSwap:
		return nil
	case ev.Entry != nil:
		return s.UpsertDisallow(ctx, ev.ProviderID, *ev.Entry)
	case ev.Cleared:
		return s.ClearDisallow(ctx, ev.ProviderID, ev.CredentialID, ev.Scope)
	default:
		return nil
	}
}
