package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/leenhawk/gproxy/internal/storage"
)

// CreateCredential inserts a new credential under a provider.
func (s *Store) CreateCredential(ctx context.Context, c *storage.CredentialRecord) error {
	result, err := s.write.ExecContext(ctx,
		`INSERT INTO credentials (provider_id, label, secret_json, meta, weight, enabled, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ProviderID, c.Label, nullRaw(c.SecretJSON), nullRaw(c.Meta), c.Weight, boolToInt(c.Enabled),
		c.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	c.ID = id
	return nil
}

// GetCredential retrieves a credential by ID.
func (s *Store) GetCredential(ctx context.Context, id int64) (*storage.CredentialRecord, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, provider_id, label, secret_json, meta, weight, enabled, created_at
		 FROM credentials WHERE id=?`, id,
	)
	return scanCredential(row)
}

// ListCredentials returns every credential registered under providerID.
func (s *Store) ListCredentials(ctx context.Context, providerID string) ([]*storage.CredentialRecord, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, provider_id, label, secret_json, meta, weight, enabled, created_at
		 FROM credentials WHERE provider_id=? ORDER BY id ASC`, providerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*storage.CredentialRecord
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateCredential updates a credential's mutable fields.
func (s *Store) UpdateCredential(ctx context.Context, c *storage.CredentialRecord) error {
	result, err := s.write.ExecContext(ctx,
		`UPDATE credentials SET label=?, secret_json=?, meta=?, weight=?, enabled=? WHERE id=?`,
		c.Label, nullRaw(c.SecretJSON), nullRaw(c.Meta), c.Weight, boolToInt(c.Enabled), c.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "credential")
}

// DeleteCredential removes a credential.
func (s *Store) DeleteCredential(ctx context.Context, id int64) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM credentials WHERE id=?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "credential")
}

func scanCredential(s scanner) (*storage.CredentialRecord, error) {
	var c storage.CredentialRecord
	var secret, meta sql.NullString
	var enabled int
	var createdAt sql.NullString

	err := s.Scan(&c.ID, &c.ProviderID, &c.Label, &secret, &meta, &c.Weight, &enabled, &createdAt)
	if err != nil {
		return nil, notFoundErr(err)
	}
	if secret.Valid {
		c.SecretJSON = []byte(secret.String)
	}
	if meta.Valid {
		c.Meta = []byte(meta.String)
	}
	c.Enabled = enabled != 0
	if t := parseTime(createdAt); t != nil {
		c.CreatedAt = *t
	}
	return &c, nil
}
