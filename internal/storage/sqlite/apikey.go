package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	gateway "github.com/leenhawk/gproxy/internal"
)

// CreateKey inserts a new API key.
func (s *Store) CreateKey(ctx context.Context, key *gateway.APIKey) error {
	role := key.Role
	if role == "" {
		role = "member"
	}
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO api_keys (id, key_hash, key_prefix, user_id, org_id, role, enabled, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		key.ID, key.KeyHash, key.KeyPrefix, key.UserID, nullStr(key.OrgID), role,
		boolToInt(key.Enabled), key.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// GetKey retrieves an API key by its id.
func (s *Store) GetKey(ctx context.Context, id string) (*gateway.APIKey, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, key_hash, key_prefix, user_id, org_id, role, enabled, created_at
		 FROM api_keys WHERE id = ?`, id,
	)
	return scanKey(row)
}

// GetKeyByHash retrieves an API key by its SHA-256 hash.
func (s *Store) GetKeyByHash(ctx context.Context, hash string) (*gateway.APIKey, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, key_hash, key_prefix, user_id, org_id, role, enabled, created_at
		 FROM api_keys WHERE key_hash = ?`, hash,
	)
	return scanKey(row)
}

// ListKeys returns API keys ordered by creation time, most recent first.
func (s *Store) ListKeys(ctx context.Context, offset, limit int) ([]*gateway.APIKey, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, key_hash, key_prefix, user_id, org_id, role, enabled, created_at
		 FROM api_keys ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanKeys(rows)
}

// ListAllEnabledKeys returns every enabled key, for building the auth
// guard's in-memory snapshot.
func (s *Store) ListAllEnabledKeys(ctx context.Context) ([]*gateway.APIKey, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, key_hash, key_prefix, user_id, org_id, role, enabled, created_at
		 FROM api_keys WHERE enabled = 1`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanKeys(rows)
}

func scanKeys(rows *sql.Rows) ([]*gateway.APIKey, error) {
	var keys []*gateway.APIKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// UpdateKey updates an existing API key's mutable fields (role, enabled).
func (s *Store) UpdateKey(ctx context.Context, key *gateway.APIKey) error {
	role := key.Role
	if role == "" {
		role = "member"
	}
	result, err := s.write.ExecContext(ctx,
		`UPDATE api_keys SET role=?, enabled=? WHERE id=?`,
		role, boolToInt(key.Enabled), key.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "api key")
}

// DeleteKey removes an API key.
func (s *Store) DeleteKey(ctx context.Context, id string) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM api_keys WHERE id=?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "api key")
}

// TouchKeyUsed updates the last_used_at timestamp.
func (s *Store) TouchKeyUsed(ctx context.Context, id string) error {
	_, err := s.write.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at=? WHERE id=?`,
		time.Now().UTC().Format(time.RFC3339), id,
	)
	return err
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// notFoundErr translates sql.ErrNoRows to gateway.ErrNotFound.
func notFoundErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return gateway.ErrNotFound
	}
	return err
}

func scanKey(s scanner) (*gateway.APIKey, error) {
	var k gateway.APIKey
	var orgID sql.NullString
	var role sql.NullString
	var enabled int
	var createdAt sql.NullString

	err := s.Scan(&k.ID, &k.KeyHash, &k.KeyPrefix, &k.UserID, &orgID, &role, &enabled, &createdAt)
	if err != nil {
		return nil, notFoundErr(err)
	}

	k.OrgID = orgID.String
	k.Role = role.String
	if k.Role == "" {
		k.Role = "member"
	}
	k.Enabled = enabled != 0
	if t := parseTime(createdAt); t != nil {
		k.CreatedAt = *t
	}
	return &k, nil
}

// helpers shared by the rest of this package's query files.

func timeToStr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func parseTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func checkRowsAffected(result sql.Result, entity string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", entity, gateway.ErrNotFound)
	}
	return nil
}
