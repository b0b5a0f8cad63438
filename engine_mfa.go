package goSentinel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/goSentinel/internal/limiters"
	"github.com/MrEthical07/goSentinel/mfa"
	"github.com/google/uuid"
)

// checkMFA verifies one second-factor code. Backup codes are consumed by the
// store atomically, so each one works exactly once. Every attempt is audited.
func (e *Engine) checkMFA(ctx context.Context, identity *Identity, method mfa.Method, code string, subject auditSubject) error {
	code = strings.TrimSpace(code)
	if method == "" {
		method = mfa.MethodTOTP
	}
	if err := e.mfaLimiter.Check(ctx, identity.ID); err != nil {
		if !errors.Is(err, limiters.ErrMFARateLimited) {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		e.metricInc(MetricMFAFailure)
		e.emitAudit(ctx, EventMFAVerifyFailed, false, subject, ErrMFARateLimited, func() map[string]string {
			return map[string]string{"method": string(method), "reason": "rate_limited"}
		})
		return ErrMFARateLimited
	}

	var ok bool
	switch method {
	case mfa.MethodBackup:
		hash, attempt := mfa.HashBackupCode(code), uuid.NewString()
		consumed, err := callStore(ctx, e, func(ctx context.Context) (bool, error) {
			return e.credentials.ConsumeBackupCode(ctx, identity.ID, hash, attempt)
		})
		if err != nil {
			return err
		}
		ok = consumed
		if ok {
			e.metricInc(MetricBackupCodeUsed)
		}
	default:
		if identity.Security.MFASecret == "" {
			return ErrMFANotConfigured
		}
		ok = mfa.Validate(identity.Security.MFASecret, code, e.now(), e.config.MFA.Skew)
	}

	if !ok {
		if err := e.mfaLimiter.RecordFailure(ctx, identity.ID); err != nil && !errors.Is(err, limiters.ErrMFARateLimited) {
			e.logger.Warn("record mfa failure", "identity_id", identity.ID, "error", err)
		}
		e.metricInc(MetricMFAFailure)
		e.emitAudit(ctx, EventMFAVerifyFailed, false, subject, ErrMFAInvalid, func() map[string]string {
			return map[string]string{"method": string(method)}
		})
		return ErrMFAInvalid
	}

	if err := e.mfaLimiter.Reset(ctx, identity.ID); err != nil {
		e.logger.Warn("reset mfa attempts", "identity_id", identity.ID, "error", err)
	}
	e.metricInc(MetricMFASuccess)
	e.emitAudit(ctx, EventMFAVerifySuccess, true, subject, nil, func() map[string]string {
		return map[string]string{"method": string(method)}
	})
	return nil
}

func (e *Engine) loadIdentity(ctx context.Context, identityID string) (*Identity, error) {
	if e == nil || e.credentials == nil {
		return nil, ErrEngineNotReady
	}
	if identityID == "" {
		return nil, fmt.Errorf("%w: identity id is required", ErrValidation)
	}
	return callStore(ctx, e, func(ctx context.Context) (*Identity, error) {
		return e.credentials.FindByID(ctx, identityID)
	})
}

// SetupMFA generates a new TOTP secret and backup codes for identityID and
// stores them unconfirmed. Calling it again before EnableMFA replaces both.
func (e *Engine) SetupMFA(ctx context.Context, identityID string) (*MFASetup, error) {
	identity, err := e.loadIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if identity.Security.MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}

	secret, err := mfa.GenerateSecret(e.config.MFA.Issuer, identity.Email)
	if err != nil {
		return nil, err
	}
	codes, err := mfa.GenerateBackupCodes(e.config.MFA.BackupCodeCount)
	if err != nil {
		return nil, err
	}
	if err := callStoreErr(ctx, e, func(ctx context.Context) error {
		return e.credentials.SetMFASecret(ctx, identity.ID, secret.Base32, mfa.HashBackupCodes(codes))
	}); err != nil {
		return nil, err
	}

	e.emitAudit(ctx, EventMFASetup, true, subjectOf(identity), nil, func() map[string]string {
		return map[string]string{"backup_codes": fmt.Sprint(len(codes))}
	})
	return &MFASetup{Secret: secret.Base32, URI: secret.URI, BackupCodes: codes}, nil
}

// EnableMFA confirms a pending setup with a current TOTP code.
func (e *Engine) EnableMFA(ctx context.Context, identityID, code string) error {
	identity, err := e.loadIdentity(ctx, identityID)
	if err != nil {
		return err
	}
	if identity.Security.MFAEnabled {
		return ErrMFAAlreadyEnabled
	}
	if identity.Security.MFASecret == "" {
		return ErrMFANotConfigured
	}

	subject := subjectOf(identity)
	if err := e.checkMFA(ctx, identity, mfa.MethodTOTP, code, subject); err != nil {
		return err
	}
	if err := callStoreErr(ctx, e, func(ctx context.Context) error {
		return e.credentials.EnableMFA(ctx, identity.ID)
	}); err != nil {
		return err
	}

	e.emitAudit(ctx, EventMFAEnabled, true, subject, nil, nil)
	return nil
}

// VerifyMFA checks a TOTP or backup code for an identity with MFA enabled.
func (e *Engine) VerifyMFA(ctx context.Context, identityID, code string, method mfa.Method) error {
	identity, err := e.loadIdentity(ctx, identityID)
	if err != nil {
		return err
	}
	if !identity.Security.MFAEnabled {
		return ErrMFANotConfigured
	}
	return e.checkMFA(ctx, identity, method, code, subjectOf(identity))
}

// DisableMFA turns MFA off after a final TOTP check and discards the secret
// and any unused backup codes.
func (e *Engine) DisableMFA(ctx context.Context, identityID, code string) error {
	identity, err := e.loadIdentity(ctx, identityID)
	if err != nil {
		return err
	}
	if !identity.Security.MFAEnabled {
		return ErrMFANotConfigured
	}

	subject := subjectOf(identity)
	if err := e.checkMFA(ctx, identity, mfa.MethodTOTP, code, subject); err != nil {
		return err
	}
	if err := callStoreErr(ctx, e, func(ctx context.Context) error {
		return e.credentials.DisableMFA(ctx, identity.ID)
	}); err != nil {
		return err
	}

	e.emitAudit(ctx, EventMFADisabled, true, subject, nil, nil)
	return nil
}
