package goSentinel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/goSentinel/notify"
	passwordpkg "github.com/MrEthical07/goSentinel/password"
	"github.com/google/uuid"
)

// verifyCredentials runs the credential branch of login. Each outcome except
// success audits exactly one user.login.failed event.
func (e *Engine) verifyCredentials(ctx context.Context, email, password string) (*Identity, error) {
	identity, err := callStore(ctx, e, func(ctx context.Context) (*Identity, error) {
		return e.credentials.FindByEmail(ctx, email)
	})
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			// Equalize timing with a real verification.
			e.hasher.VerifyDummy(password)
			e.emitAudit(ctx, EventLoginFailed, false, auditSubject{}, ErrInvalidCredentials, func() map[string]string {
				return map[string]string{"email": email, "reason": "unknown_email"}
			})
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	subject := subjectOf(identity)
	now := e.now()

	if !identity.IsActive {
		e.emitAudit(ctx, EventLoginFailed, false, subject, ErrAccountInactive, func() map[string]string {
			return map[string]string{"reason": "inactive"}
		})
		return nil, ErrAccountInactive
	}

	if until := identity.Security.LockedUntil; now.Before(until) {
		e.emitAudit(ctx, EventLoginFailed, false, subject, ErrAccountLocked, func() map[string]string {
			return map[string]string{"reason": "locked", "locked_until": until.UTC().Format(time.RFC3339)}
		})
		return nil, &LockedError{Until: until}
	}

	ok, err := e.hasher.Verify(password, identity.PasswordHash)
	if err != nil && !errors.Is(err, passwordpkg.ErrPasswordTooLong) {
		// a corrupt stored hash is not the caller's failed attempt
		e.logger.Error("stored password hash unreadable", "identity_id", identity.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !ok {
		return nil, e.recordFailure(ctx, identity, subject)
	}

	if exp := identity.Security.PasswordExpiresAt; !exp.IsZero() && !now.Before(exp) {
		e.emitAudit(ctx, EventLoginFailed, false, subject, ErrPasswordExpired, func() map[string]string {
			return map[string]string{"reason": "password_expired"}
		})
		return nil, ErrPasswordExpired
	}

	if identity.Security.FailedAttempts > 0 || !identity.Security.LockedUntil.IsZero() {
		if err := callStoreErr(ctx, e, func(ctx context.Context) error {
			return e.credentials.ResetFailures(ctx, identity.ID)
		}); err != nil {
			return nil, err
		}
	}

	if e.config.Password.UpgradeOnLogin {
		e.upgradeHash(ctx, identity, password)
	}
	return identity, nil
}

func (e *Engine) recordFailure(ctx context.Context, identity *Identity, subject auditSubject) error {
	now := e.now()
	maxAttempts := e.config.Lockout.MaxAttempts
	// retries of this call share one attempt id so the store counts it once
	attempt := uuid.NewString()
	res, err := callStore(ctx, e, func(ctx context.Context) (FailureResult, error) {
		return e.credentials.RecordFailure(ctx, identity.ID, attempt, now, maxAttempts, e.config.Lockout.Duration)
	})
	if err != nil {
		return err
	}

	// The store increments atomically, so exactly one caller observes the
	// attempt that crossed the threshold.
	lockedNow := res.FailedAttempts == maxAttempts && res.LockedUntil.After(now)

	e.emitAudit(ctx, EventLoginFailed, false, subject, ErrInvalidCredentials, func() map[string]string {
		m := map[string]string{
			"reason":   "bad_password",
			"attempts": strconv.Itoa(res.FailedAttempts),
		}
		if lockedNow {
			m["locked_until"] = res.LockedUntil.UTC().Format(time.RFC3339)
		}
		return m
	})

	if lockedNow {
		e.metricInc(MetricAccountLocked)
		e.logger.Warn("account locked", "identity_id", identity.ID, "locked_until", res.LockedUntil)
		meta := RequestMetaFromContext(ctx)
		e.notifyAsync(notify.Notice{
			Kind:        notify.KindLockout,
			IdentityID:  identity.ID,
			Email:       identity.Email,
			TenantID:    identity.TenantID,
			At:          now,
			LockedUntil: res.LockedUntil,
			IP:          meta.IP,
		})
	}
	return ErrInvalidCredentials
}

// upgradeHash rehashes password with the current parameters. Failures are
// logged; the login itself already succeeded.
func (e *Engine) upgradeHash(ctx context.Context, identity *Identity, password string) {
	stale, err := e.hasher.NeedsUpgrade(identity.PasswordHash)
	if err != nil || !stale {
		return
	}
	hash, err := e.hasher.Hash(password)
	if err != nil {
		e.logger.Error("rehash password", "identity_id", identity.ID, "error", err)
		return
	}
	if err := callStoreErr(ctx, e, func(ctx context.Context) error {
		return e.credentials.UpdatePasswordHash(ctx, identity.ID, hash)
	}); err != nil {
		e.logger.Warn("store upgraded password hash", "identity_id", identity.ID, "error", err)
	}
}

// UnlockExpiredAccounts clears every lock whose window has passed and audits
// one user.account.unlocked event per identity.
func (e *Engine) UnlockExpiredAccounts(ctx context.Context) (int, error) {
	if e == nil || e.credentials == nil {
		return 0, ErrEngineNotReady
	}
	ids, err := callStore(ctx, e, func(ctx context.Context) ([]string, error) {
		return e.credentials.UnlockExpired(ctx, e.now())
	})
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		e.metricInc(MetricAccountUnlocked)
		e.emitAudit(ctx, EventAccountUnlocked, true, auditSubject{IdentityID: id}, nil, func() map[string]string {
			return map[string]string{"reason": "lock_expired"}
		})
	}
	return len(ids), nil
}

