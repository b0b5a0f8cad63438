package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goSentinel "github.com/MrEthical07/goSentinel"
)

// Append inserts event. Re-appending an id already stored is a no-op.
func (s *Store) Append(ctx context.Context, event goSentinel.AuditEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("pgstore: encode audit event: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, occurred_at, event_type, identity_id, tenant_id, portal, session_id, success, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb)
		ON CONFLICT (id) DO NOTHING`,
		event.ID, event.Timestamp.UTC(), event.EventType, event.IdentityID, event.TenantID,
		event.Portal, event.SessionID, event.Success, string(payload),
	)
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// Purge deletes events strictly older than olderThan.
func (s *Store) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_events WHERE occurred_at < $1`, olderThan.UTC())
	if err != nil {
		return 0, unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

func (s *Store) CountSince(ctx context.Context, identityID, eventType string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM audit_events
		WHERE identity_id = $1 AND event_type = $2 AND occurred_at >= $3`,
		identityID, eventType, since.UTC(),
	).Scan(&n)
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

// Events returns up to limit events of one identity, newest first.
func (s *Store) Events(ctx context.Context, identityID string, limit int) ([]goSentinel.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM audit_events
		WHERE identity_id = $1
		ORDER BY occurred_at DESC, id DESC
		LIMIT $2`, identityID, limit)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var out []goSentinel.AuditEvent
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, unavailable(err)
		}
		var ev goSentinel.AuditEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("pgstore: decode audit event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}
