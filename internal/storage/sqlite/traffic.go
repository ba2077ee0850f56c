package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	gateway "github.com/leenhawk/gproxy/internal"
	"github.com/google/uuid"
)

// InsertUpstreamTraffic batch-inserts upstream traffic events. Grounded on
// the teacher's InsertUsage multi-row-INSERT batching (one round trip per
// flush regardless of batch size).
func (s *Store) InsertUpstreamTraffic(ctx context.Context, events []gateway.UpstreamTrafficEvent) error {
	if len(events) == 0 {
		return nil
	}
	const cols = 12
	placeholders := make([]string, len(events))
	args := make([]any, 0, len(events)*cols)

	for i, ev := range events {
		headers, _ := json.Marshal(ev.Headers)
		var usage sql.NullString
		if ev.Usage != nil {
			b, _ := json.Marshal(ev.Usage)
			usage = sql.NullString{String: string(b), Valid: true}
		}
		placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
		args = append(args,
			uuid.Must(uuid.NewV7()).String(), ev.TraceID,
			ev.Meta.ProviderID, ev.Meta.CredentialID, int(ev.Meta.Operation), ev.Meta.Model,
			ev.Status, string(headers), truncateBody(ev.Body), boolToInt(ev.Streamed),
			usage, ev.OccurredAt.UTC().Format(time.RFC3339),
		)
	}

	query := `INSERT INTO upstream_traffic
		(id, trace_id, provider_id, credential_id, operation, model, status, headers, body, streamed, usage, occurred_at)
		VALUES ` + strings.Join(placeholders, ", ")

	_, err := s.write.ExecContext(ctx, query, args...)
	return err
}

// InsertDownstreamTraffic batch-inserts downstream (caller-visible) traffic
// events.
func (s *Store) InsertDownstreamTraffic(ctx context.Context, events []gateway.DownstreamTrafficEvent) error {
	if len(events) == 0 {
		return nil
	}
	const cols = 8
	placeholders := make([]string, len(events))
	args := make([]any, 0, len(events)*cols)

	for i, ev := range events {
		headers, _ := json.Marshal(ev.Headers)
		placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?)"
		args = append(args,
			uuid.Must(uuid.NewV7()).String(), ev.TraceID,
			ev.Status, string(headers), truncateBody(ev.Body), boolToInt(ev.Streamed),
			ev.Meta.Method, ev.OccurredAt.UTC().Format(time.RFC3339),
		)
	}

	query := `INSERT INTO downstream_traffic
		(id, trace_id, status, headers, body, streamed, method, occurred_at)
		VALUES ` + strings.Join(placeholders, ", ")

	_, err := s.write.ExecContext(ctx, query, args...)
	return err
}

// maxStoredBody caps the body column so a pathologically large streamed
// response doesn't blow out the SQLite page cache on insert.
const maxStoredBody = 256 << 10

func truncateBody(b []byte) string {
	if len(b) > maxStoredBody {
		b = b[:maxStoredBody]
	}
	return string(b)
}
