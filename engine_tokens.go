package goSentinel

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goSentinel/internal"
	"github.com/MrEthical07/goSentinel/jwt"
	"github.com/MrEthical07/goSentinel/portal"
	"github.com/MrEthical07/goSentinel/session"
)

// errNonceMismatch marks a token whose nonce was rotated away. Callers map it
// to ErrTokenInvalid or ErrRefreshReuse.
var errNonceMismatch = errors.New("session nonce mismatch")

func tokenError(err error) error {
	if errors.Is(err, jwt.ErrExpired) {
		return ErrTokenExpired
	}
	return ErrTokenInvalid
}

func (e *Engine) issuePair(subject jwt.Subject) (TokenPair, error) {
	access, err := e.tokens.Issue(jwt.KindAccess, subject)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := e.tokens.Issue(jwt.KindRefresh, subject)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    e.tokens.TTL(jwt.KindAccess),
	}, nil
}

func tokenSubject(c *jwt.Claims) auditSubject {
	return auditSubject{IdentityID: c.UID, TenantID: c.TID, Portal: c.Portal, SessionID: c.SID}
}

// Verify authenticates token of the given kind. Signature, expiry and kind
// are checked locally before one atomic session lookup. Access tokens bump
// the session's last activity.
func (e *Engine) Verify(ctx context.Context, token string, kind jwt.Kind) (*Principal, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	if e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricVerifyLatency, time.Since(start)) }()
	}

	claims, err := e.tokens.Parse(kind, token)
	if err != nil {
		err = tokenError(err)
		e.metricInc(MetricVerifyFailure)
		e.emitTokenFailure(ctx, auditSubject{}, string(kind), err)
		return nil, err
	}
	subject := tokenSubject(claims)

	principal, err := principalOf(claims)
	if err != nil {
		e.metricInc(MetricVerifyFailure)
		e.emitTokenFailure(ctx, subject, string(kind), err)
		return nil, err
	}

	res, err := callStore(ctx, e, func(ctx context.Context) (session.Result, error) {
		return e.sessions.Validate(ctx, claims.SID, claims.Nonce, kind == jwt.KindAccess, e.now())
	})
	if err != nil {
		e.metricInc(MetricVerifyFailure)
		return nil, err
	}
	if err := e.sessionResult(ctx, claims.SID, res); err != nil {
		if errors.Is(err, errNonceMismatch) {
			err = ErrTokenInvalid
		}
		e.metricInc(MetricVerifyFailure)
		e.emitTokenFailure(ctx, subject, string(kind), err)
		return nil, err
	}

	e.metricInc(MetricVerifySuccess)
	return principal, nil
}

func principalOf(c *jwt.Claims) (*Principal, error) {
	if _, err := internal.ParseSessionID(c.SID); err != nil {
		return nil, ErrTokenInvalid
	}
	role, err := portal.ParseRole(c.Role)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	p, err := portal.ParsePortal(c.Portal)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	return &Principal{
		IdentityID:  c.UID,
		TenantID:    c.TID,
		Role:        role,
		Portal:      p,
		Permissions: c.Permissions,
		SessionID:   c.SID,
	}, nil
}

// sessionResult maps a store verdict to an engine error. A session the
// lookup itself expired is audited here, once.
func (e *Engine) sessionResult(ctx context.Context, id string, res session.Result) error {
	switch res.Status {
	case session.StatusValid:
		return nil
	case session.StatusNotFound:
		return ErrSessionNotFound
	case session.StatusBlacklisted:
		return ErrSessionBlacklisted
	case session.StatusNonceMismatch:
		return errNonceMismatch
	case session.StatusExpired:
		e.auditEnded(ctx, []session.Ended{{
			ID:         id,
			IdentityID: res.IdentityID,
			TenantID:   res.TenantID,
			Portal:     res.Portal,
			State:      res.State,
		}}, "lazy")
		return ErrSessionExpired
	default:
		return ErrSessionExpired
	}
}

// Refresh exchanges a refresh token for a new pair. The session nonce is
// rotated with a compare-and-swap; presenting a rotated-away token again
// blacklists the session.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.tokens.Parse(jwt.KindRefresh, refreshToken)
	if err != nil {
		return nil, e.refreshFailed(ctx, auditSubject{}, tokenError(err), "token")
	}
	subject := tokenSubject(claims)
	if _, err := internal.ParseSessionID(claims.SID); err != nil {
		return nil, e.refreshFailed(ctx, subject, ErrTokenInvalid, "token")
	}

	p, err := portal.ParsePortal(claims.Portal)
	if err != nil {
		return nil, e.refreshFailed(ctx, subject, ErrTokenInvalid, "portal")
	}

	identity, err := callStore(ctx, e, func(ctx context.Context) (*Identity, error) {
		return e.credentials.FindByID(ctx, claims.UID)
	})
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			e.endSession(ctx, claims.SID, "identity_missing")
			return nil, e.refreshFailed(ctx, subject, ErrTokenInvalid, "identity_missing")
		}
		return nil, err
	}
	if !identity.IsActive {
		e.endSession(ctx, claims.SID, "identity_inactive")
		return nil, e.refreshFailed(ctx, subject, ErrAccountInactive, "identity_inactive")
	}

	if claims.TID != "" && e.tenants != nil {
		tenant, err := callStore(ctx, e, func(ctx context.Context) (*Tenant, error) {
			return e.tenants.TenantByID(ctx, claims.TID)
		})
		switch {
		case errors.Is(err, ErrTenantNotResolved), err == nil && (tenant == nil || !tenant.IsActive):
			e.endSession(ctx, claims.SID, "tenant_inactive")
			return nil, e.refreshFailed(ctx, subject, ErrTenantNotResolved, "tenant_inactive")
		case err != nil:
			return nil, err
		}
	}

	switch portal.Decide(identity.subject(), claims.TID, p) {
	case portal.DeniedTenantMismatch:
		e.endSession(ctx, claims.SID, "tenant_mismatch")
		return nil, e.refreshFailed(ctx, subject, ErrTenantMismatch, "tenant_mismatch")
	case portal.DeniedPortal:
		e.endSession(ctx, claims.SID, "portal_denied")
		return nil, e.refreshFailed(ctx, subject, ErrPortalDenied, "portal_denied")
	}

	nonce, err := internal.NewNonce()
	if err != nil {
		return nil, err
	}
	res, err := callStore(ctx, e, func(ctx context.Context) (session.Result, error) {
		return e.sessions.Rotate(ctx, claims.SID, claims.Nonce, nonce, e.now())
	})
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, err
	}
	if err := e.sessionResult(ctx, claims.SID, res); err != nil {
		if errors.Is(err, errNonceMismatch) {
			return nil, e.refreshReuse(ctx, claims, subject)
		}
		return nil, e.refreshFailed(ctx, subject, err, "session")
	}

	pair, err := e.issuePair(jwt.Subject{
		IdentityID:  identity.ID,
		TenantID:    claims.TID,
		Role:        identity.Role.String(),
		Portal:      claims.Portal,
		Permissions: portal.Permissions(identity.Role),
		SessionID:   claims.SID,
		Nonce:       nonce,
	})
	if err != nil {
		e.endSession(ctx, claims.SID, "signing_failed")
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, EventRefreshSuccess, true, subject, nil, nil)
	return &pair, nil
}

func (e *Engine) refreshFailed(ctx context.Context, subject auditSubject, err error, reason string) error {
	e.metricInc(MetricRefreshFailure)
	e.emitAudit(ctx, EventRefreshFailed, false, subject, err, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return err
}

func (e *Engine) refreshReuse(ctx context.Context, claims *jwt.Claims, subject auditSubject) error {
	e.metricInc(MetricRefreshReuse)
	e.metricInc(MetricRefreshFailure)
	e.logger.Warn("refresh token reuse detected",
		"identity_id", claims.UID,
		"session_id", claims.SID,
		"ip", RequestMetaFromContext(ctx).IP,
	)

	_, err := callStore(ctx, e, func(ctx context.Context) (bool, error) {
		_, changed, err := e.sessions.Transition(ctx, claims.SID, session.StateBlacklisted, true, e.now())
		return changed, err
	})
	if err != nil {
		e.logger.Error("blacklist reused session", "session_id", claims.SID, "error", err)
	}
	e.emitAudit(ctx, EventRefreshReuse, false, subject, ErrRefreshReuse, nil)
	return ErrRefreshReuse
}

// endSession blacklists a session whose owner may no longer hold it. Errors
// are logged; the caller is already failing the request.
func (e *Engine) endSession(ctx context.Context, id, reason string) {
	ended, err := callStore(ctx, e, func(ctx context.Context) ([]session.Ended, error) {
		end, changed, err := e.sessions.Transition(ctx, id, session.StateBlacklisted, true, e.now())
		if !changed {
			return nil, err
		}
		return []session.Ended{end}, err
	})
	if err != nil {
		e.logger.Error("end session", "session_id", id, "reason", reason, "error", err)
		return
	}
	e.auditEnded(ctx, ended, reason)
}

// Logout ends the session behind token, which may be a refresh or an access
// token and may be expired. Logging out an ended session succeeds.
func (e *Engine) Logout(ctx context.Context, token string) error {
	if e == nil || e.tokens == nil {
		return ErrEngineNotReady
	}

	claims, err := e.tokens.ParseIgnoringExpiry(jwt.KindRefresh, token)
	if err != nil {
		claims, err = e.tokens.ParseIgnoringExpiry(jwt.KindAccess, token)
	}
	if err != nil {
		e.emitTokenFailure(ctx, auditSubject{}, "logout", ErrTokenInvalid)
		return ErrTokenInvalid
	}

	ended, err := callStore(ctx, e, func(ctx context.Context) ([]session.Ended, error) {
		end, changed, err := e.sessions.Transition(ctx, claims.SID, session.StateLoggedOut, true, e.now())
		if !changed {
			return nil, err
		}
		return []session.Ended{end}, err
	})
	if err != nil {
		return err
	}
	e.auditEnded(ctx, ended, "logout")
	return nil
}

// WhoAmI verifies an access token and returns the identity behind it.
func (e *Engine) WhoAmI(ctx context.Context, accessToken string) (*WhoAmI, error) {
	principal, err := e.Verify(ctx, accessToken, jwt.KindAccess)
	if err != nil {
		return nil, err
	}
	return e.whoAmI(ctx, principal)
}

func (e *Engine) whoAmI(ctx context.Context, principal *Principal) (*WhoAmI, error) {
	identity, err := callStore(ctx, e, func(ctx context.Context) (*Identity, error) {
		return e.credentials.FindByID(ctx, principal.IdentityID)
	})
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	return &WhoAmI{
		IdentityID:     identity.ID,
		Email:          identity.Email,
		Role:           identity.Role,
		TenantID:       principal.TenantID,
		Portal:         principal.Portal,
		SessionID:      principal.SessionID,
		Permissions:    principal.Permissions,
		MFAEnabled:     identity.Security.MFAEnabled,
		IsSuperAccount: identity.IsSuperAccount,
	}, nil
}

// WhoAmIFor returns the identity summary of an already verified principal.
func (e *Engine) WhoAmIFor(ctx context.Context, principal *Principal) (*WhoAmI, error) {
	if e == nil || e.credentials == nil {
		return nil, ErrEngineNotReady
	}
	if principal == nil {
		return nil, ErrTokenInvalid
	}
	return e.whoAmI(ctx, principal)
}
