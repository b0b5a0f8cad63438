package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goSentinel "github.com/MrEthical07/goSentinel"
	"github.com/MrEthical07/goSentinel/portal"
	"github.com/google/uuid"
)

const identityColumns = `id, email, password_hash, role, tenant_id, is_active, is_super,
	failed_attempts, locked_until, last_failed_at, password_expires_at,
	mfa_enabled, mfa_secret, backup_codes, ip_allowlist,
	last_login_location, last_login_device`

// recordFailureSQL runs the whole transition in one row-locked statement.
// Every SET expression sees the pre-update row, so an expired lock restarts
// the counter at one and an active lock is never extended. A row already
// stamped with attempt $5 is returned unchanged.
const recordFailureSQL = `
UPDATE identities SET
	failed_attempts = CASE
		WHEN last_failure_attempt = $5 THEN failed_attempts
		WHEN locked_until IS NOT NULL AND locked_until <= $2 THEN 1
		ELSE failed_attempts + 1
	END,
	locked_until = CASE
		WHEN last_failure_attempt = $5 THEN locked_until
		WHEN locked_until IS NOT NULL AND locked_until > $2 THEN locked_until
		WHEN (CASE
			WHEN locked_until IS NOT NULL AND locked_until <= $2 THEN 1
			ELSE failed_attempts + 1
		END) >= $3 THEN $4::timestamptz
		ELSE NULL
	END,
	last_failed_at = CASE WHEN last_failure_attempt = $5 THEN last_failed_at ELSE $2 END,
	last_failure_attempt = $5
WHERE id = $1
RETURNING failed_attempts, locked_until`

// consumeBackupCodeSQL removes the code, or matches without change when
// the same attempt already removed it.
const consumeBackupCodeSQL = `
UPDATE identities SET backup_codes = backup_codes - $2::text, last_backup_attempt = $3
WHERE id = $1 AND (jsonb_exists(backup_codes, $2::text) OR last_backup_attempt = $3)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (*goSentinel.Identity, error) {
	var (
		id                           goSentinel.Identity
		role                         string
		locked, lastFailed, pwExpiry sql.NullTime
		codes, allow                 []byte
	)
	err := row.Scan(
		&id.ID, &id.Email, &id.PasswordHash, &role, &id.TenantID, &id.IsActive, &id.IsSuperAccount,
		&id.Security.FailedAttempts, &locked, &lastFailed, &pwExpiry,
		&id.Security.MFAEnabled, &id.Security.MFASecret, &codes, &allow,
		&id.Security.LastLoginLocation, &id.Security.LastLoginDevice,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, goSentinel.ErrIdentityNotFound
		}
		return nil, unavailable(err)
	}

	r, err := portal.ParseRole(role)
	if err != nil {
		return nil, fmt.Errorf("pgstore: identity %s: %w", id.ID, err)
	}
	id.Role = r
	id.Security.LockedUntil = timeOf(locked)
	id.Security.LastFailedAt = timeOf(lastFailed)
	id.Security.PasswordExpiresAt = timeOf(pwExpiry)

	if err := decodeList(codes, &id.Security.BackupCodes); err != nil {
		return nil, fmt.Errorf("pgstore: identity %s backup codes: %w", id.ID, err)
	}
	if err := decodeList(allow, &id.Security.IPAllowlist); err != nil {
		return nil, fmt.Errorf("pgstore: identity %s allowlist: %w", id.ID, err)
	}
	return &id, nil
}

func decodeList(raw []byte, dst *[]string) error {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return err
	}
	if len(list) > 0 {
		*dst = list
	}
	return nil
}

func encodeList(list []string) string {
	if len(list) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(list)
	return string(b)
}

// PutIdentity inserts or replaces an identity. An empty ID is assigned a
// random UUID.
func (s *Store) PutIdentity(ctx context.Context, identity *goSentinel.Identity) error {
	if identity == nil || identity.Email == "" {
		return errors.New("pgstore: identity email is required")
	}
	if identity.ID == "" {
		identity.ID = uuid.NewString()
	}
	sec := identity.Security
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identities (`+identityColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14::jsonb, $15::jsonb, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			password_hash = EXCLUDED.password_hash,
			role = EXCLUDED.role,
			tenant_id = EXCLUDED.tenant_id,
			is_active = EXCLUDED.is_active,
			is_super = EXCLUDED.is_super,
			failed_attempts = EXCLUDED.failed_attempts,
			locked_until = EXCLUDED.locked_until,
			last_failed_at = EXCLUDED.last_failed_at,
			password_expires_at = EXCLUDED.password_expires_at,
			mfa_enabled = EXCLUDED.mfa_enabled,
			mfa_secret = EXCLUDED.mfa_secret,
			backup_codes = EXCLUDED.backup_codes,
			ip_allowlist = EXCLUDED.ip_allowlist,
			last_login_location = EXCLUDED.last_login_location,
			last_login_device = EXCLUDED.last_login_device`,
		identity.ID, strings.ToLower(strings.TrimSpace(identity.Email)), identity.PasswordHash,
		identity.Role.String(), identity.TenantID, identity.IsActive, identity.IsSuperAccount,
		sec.FailedAttempts, nullTime(sec.LockedUntil), nullTime(sec.LastFailedAt), nullTime(sec.PasswordExpiresAt),
		sec.MFAEnabled, sec.MFASecret, encodeList(sec.BackupCodes), encodeList(sec.IPAllowlist),
		sec.LastLoginLocation, sec.LastLoginDevice,
	)
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*goSentinel.Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE email = $1`,
		strings.ToLower(strings.TrimSpace(email)),
	)
	return scanIdentity(row)
}

func (s *Store) FindByID(ctx context.Context, id string) (*goSentinel.Identity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = $1`, id)
	return scanIdentity(row)
}

func (s *Store) RecordFailure(ctx context.Context, id, attemptID string, now time.Time, maxAttempts int, lockout time.Duration) (goSentinel.FailureResult, error) {
	var (
		failed int
		locked sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, recordFailureSQL, id, now.UTC(), maxAttempts, now.Add(lockout).UTC(), attemptID).Scan(&failed, &locked)
	if err != nil {
		if isNoRows(err) {
			return goSentinel.FailureResult{}, goSentinel.ErrIdentityNotFound
		}
		return goSentinel.FailureResult{}, unavailable(err)
	}
	return goSentinel.FailureResult{FailedAttempts: failed, LockedUntil: timeOf(locked)}, nil
}

func (s *Store) ResetFailures(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE identities SET failed_attempts = 0, locked_until = NULL WHERE id = $1`, id)
	return affected(res, err, goSentinel.ErrIdentityNotFound)
}

func (s *Store) UpdateLoginContext(ctx context.Context, id string, lc goSentinel.LoginContext) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE identities SET last_login_location = $2, last_login_device = $3, last_login_at = $4 WHERE id = $1`,
		id, lc.Location, lc.Device, nullTime(lc.At))
	return affected(res, err, goSentinel.ErrIdentityNotFound)
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE identities SET password_hash = $2 WHERE id = $1`, id, hash)
	return affected(res, err, goSentinel.ErrIdentityNotFound)
}

func (s *Store) SetMFASecret(ctx context.Context, id, secret string, backupHashes []string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE identities SET mfa_secret = $2, backup_codes = $3::jsonb, mfa_enabled = FALSE WHERE id = $1`,
		id, secret, encodeList(backupHashes))
	return affected(res, err, goSentinel.ErrIdentityNotFound)
}

func (s *Store) EnableMFA(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE identities SET mfa_enabled = TRUE WHERE id = $1 AND mfa_secret <> ''`, id)
	return affected(res, err, goSentinel.ErrMFANotConfigured)
}

func (s *Store) DisableMFA(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE identities SET mfa_enabled = FALSE, mfa_secret = '', backup_codes = '[]'::jsonb WHERE id = $1`, id)
	return affected(res, err, goSentinel.ErrIdentityNotFound)
}

// ConsumeBackupCode removes hash in a single conditional UPDATE; of two
// concurrent callers only one matches the row. A repeat of the consuming
// attempt matches through last_backup_attempt.
func (s *Store) ConsumeBackupCode(ctx context.Context, id, hash, attemptID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, consumeBackupCodeSQL, id, hash, attemptID)
	if err != nil {
		return false, unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}

func (s *Store) UnlockExpired(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`UPDATE identities SET failed_attempts = 0, locked_until = NULL
		WHERE locked_until IS NOT NULL AND locked_until <= $1
		RETURNING id`, now.UTC())
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, unavailable(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return ids, nil
}
