package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
)

// GetGlobalConfig returns the single persisted global_config row, or an
// empty object if none has been written yet.
func (s *Store) GetGlobalConfig(ctx context.Context) (json.RawMessage, error) {
	var body string
	err := s.read.QueryRowContext(ctx, `SELECT body FROM global_config WHERE id = 1`).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return json.RawMessage(`{}`), nil
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

// PutGlobalConfig replaces the single global_config row.
func (s *Store) PutGlobalConfig(ctx context.Context, cfg json.RawMessage) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO global_config (id, body) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET body=excluded.body`,
		string(cfg),
	)
	return err
}
