package sqlite

import (
	"context"
	"database/sql"
	"time"

	gateway "github.com/leenhawk/gproxy/internal"
	"github.com/leenhawk/gproxy/internal/storage"
)

// CreateProvider inserts a new provider catalog entry.
func (s *Store) CreateProvider(ctx context.Context, p *storage.ProviderRecord) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO providers (id, name, dialect, base_url, config, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, int(p.Dialect), p.BaseURL, nullRaw(p.Config), p.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// GetProvider retrieves a provider by ID.
func (s *Store) GetProvider(ctx context.Context, id string) (*storage.ProviderRecord, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, name, dialect, base_url, config, created_at FROM providers WHERE id=?`, id,
	)
	return scanProvider(row)
}

// GetProviderByName retrieves a provider by its registry name.
func (s *Store) GetProviderByName(ctx context.Context, name string) (*storage.ProviderRecord, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, name, dialect, base_url, config, created_at FROM providers WHERE name=?`, name,
	)
	return scanProvider(row)
}

// ListProviders returns all provider catalog entries.
func (s *Store) ListProviders(ctx context.Context) ([]*storage.ProviderRecord, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, name, dialect, base_url, config, created_at FROM providers ORDER BY name ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*storage.ProviderRecord
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProvider updates a provider catalog entry.
func (s *Store) UpdateProvider(ctx context.Context, p *storage.ProviderRecord) error {
	result, err := s.write.ExecContext(ctx,
		`UPDATE providers SET name=?, dialect=?, base_url=?, config=? WHERE id=?`,
		p.Name, int(p.Dialect), p.BaseURL, nullRaw(p.Config), p.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "provider")
}

// DeleteProvider removes a provider catalog entry.
func (s *Store) DeleteProvider(ctx context.Context, id string) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM providers WHERE id=?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "provider")
}

func scanProvider(s scanner) (*storage.ProviderRecord, error) {
	var p storage.ProviderRecord
	var dialect int
	var config sql.NullString
	var createdAt sql.NullString

	err := s.Scan(&p.ID, &p.Name, &dialect, &p.BaseURL, &config, &createdAt)
	if err != nil {
		return nil, notFoundErr(err)
	}
	p.Dialect = gateway.Dialect(dialect)
	if config.Valid {
		p.Config = []byte(config.String)
	}
	if t := parseTime(createdAt); t != nil {
		p.CreatedAt = *t
	}
	return &p, nil
}

func nullRaw(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
