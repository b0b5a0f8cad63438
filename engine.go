package goSentinel

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/goSentinel/internal"
	internalaudit "github.com/MrEthical07/goSentinel/internal/audit"
	"github.com/MrEthical07/goSentinel/internal/limiters"
	"github.com/MrEthical07/goSentinel/jwt"
	"github.com/MrEthical07/goSentinel/mfa"
	"github.com/MrEthical07/goSentinel/notify"
	"github.com/MrEthical07/goSentinel/password"
	"github.com/MrEthical07/goSentinel/portal"
	"github.com/MrEthical07/goSentinel/risk"
	"github.com/MrEthical07/goSentinel/session"
	"golang.org/x/time/rate"
)

// Engine is the authentication, session and risk engine. Build one with
// New().…Build(); it is safe for concurrent use.
type Engine struct {
	config      Config
	logger      *slog.Logger
	credentials CredentialStore
	tenants     TenantDirectory
	auditStore  AuditStore
	sessions    *session.Store
	tokens      *jwt.Manager
	hasher      *password.Hasher
	scorer      *risk.Scorer
	audit       *internalaudit.Dispatcher
	mfaLimiter  *limiters.MFALimiter
	storeSink   *internalaudit.StoreSink
	metrics     *Metrics
	notifier    notify.Notifier
	now         func() time.Time

	tokenFailureLimiter *rate.Limiter
	background          sync.WaitGroup
}

// Close waits for pending notifications and drains the audit buffer.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.background.Wait()
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports events discarded because the audit buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditFailed reports events the audit store rejected.
func (e *Engine) AuditFailed() uint64 {
	if e == nil {
		return 0
	}
	return e.storeSink.Failed()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// Ping checks the session store.
func (e *Engine) Ping(ctx context.Context) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	return callStoreErr(ctx, e, e.sessions.Ping)
}

// Login authenticates req and opens a session on the requested portal.
//
// Order: input validation, credentials, tenant resolution, authorization
// matrix, IP allowlist, MFA, risk scoring, session creation, token signing.
// Exactly one login-outcome event is audited.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}

	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrValidation)
	}
	if !req.Portal.Valid() {
		return nil, fmt.Errorf("%w: unknown portal", ErrValidation)
	}
	method, err := mfa.ParseMethod(string(req.MFAMethod))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	identity, err := e.verifyCredentials(ctx, email, req.Password)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		return nil, err
	}

	subject := subjectOf(identity)
	subject.Portal = req.Portal.String()

	tenant, err := e.resolveTenant(ctx, identity, req.TenantDomain)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, EventLoginFailed, false, subject, err, func() map[string]string {
			return map[string]string{"reason": "tenant_not_resolved", "domain": req.TenantDomain}
		})
		return nil, err
	}
	tenantID := ""
	if tenant != nil {
		tenantID = tenant.ID
	}

	switch portal.Decide(identity.subject(), tenantID, req.Portal) {
	case portal.DeniedTenantMismatch:
		e.metricInc(MetricTenantDenied)
		e.emitAudit(ctx, EventVendorDenied, false, subject, ErrTenantMismatch, func() map[string]string {
			return map[string]string{"requested_tenant": tenantID, "role": identity.Role.String()}
		})
		return nil, ErrTenantMismatch
	case portal.DeniedPortal:
		e.metricInc(MetricPortalDenied)
		e.emitAudit(ctx, EventPortalDenied, false, subject, ErrPortalDenied, func() map[string]string {
			return map[string]string{"role": identity.Role.String()}
		})
		return nil, ErrPortalDenied
	}

	meta := RequestMetaFromContext(ctx)
	if !ipAllowed(identity.Security.IPAllowlist, meta.IP) {
		e.metricInc(MetricIPDenied)
		e.emitAudit(ctx, EventIPDenied, false, subject, ErrIPNotAllowed, nil)
		return nil, ErrIPNotAllowed
	}

	mfaUsed, setupRequired := false, false
	if mfa.IsRequired(identity.Role, identity.Security.MFAEnabled, req.Portal) {
		switch {
		case !identity.Security.MFAEnabled:
			setupRequired = true
		case strings.TrimSpace(req.MFAToken) == "":
			e.metricInc(MetricMFARequired)
			e.emitAudit(ctx, EventMFARequired, false, subject, ErrMFARequired, nil)
			return nil, &MFARequiredError{Method: mfa.MethodTOTP}
		default:
			if err := e.checkMFA(ctx, identity, method, req.MFAToken, subject); err != nil {
				return nil, err
			}
			mfaUsed = true
		}
	}

	now := e.now()
	location := risk.CoarseLocation(meta.IP)
	device := risk.DeviceType(meta.UserAgent)
	assessment := e.scorer.Score(risk.Input{
		RecentFailures:    e.recentFailures(ctx, identity, now),
		LastLoginLocation: identity.Security.LastLoginLocation,
		LastLoginDevice:   identity.Security.LastLoginDevice,
		Location:          location,
		DeviceType:        device,
		Now:               now,
	})
	subject.Security = AuditSecurity{RiskScore: assessment.Score, Suspicious: assessment.Suspicious, MFAUsed: mfaUsed}

	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, err
	}
	nonce, err := internal.NewNonce()
	if err != nil {
		return nil, err
	}

	limit := e.config.Session.MaxConcurrent
	if tenant != nil && tenant.MaxConcurrentSessions > 0 {
		limit = tenant.MaxConcurrentSessions
	}
	super := identity.subject().IsSuper()
	sess := &session.Session{
		ID:             sid.String(),
		IdentityID:     identity.ID,
		TenantID:       tenantID,
		Portal:         req.Portal.String(),
		Nonce:          nonce,
		SuperAccount:   super,
		CreatedAt:      now,
		LastActivityAt: now,
		Risk:           session.Risk{Score: assessment.Score, Suspicious: assessment.Suspicious, MFAUsed: mfaUsed},
		Device:         session.Device{IP: meta.IP, UserAgent: meta.UserAgent, Type: device, Location: location},
	}
	created, err := callStore(ctx, e, func(ctx context.Context) (session.CreateResult, error) {
		return e.sessions.Create(ctx, sess, limit, super)
	})
	if err != nil {
		e.metricInc(MetricLoginFailure)
		return nil, err
	}
	e.auditEnded(ctx, created.Evicted, "session_limit")
	subject.SessionID = created.SessionID

	pair, err := e.issuePair(jwt.Subject{
		IdentityID:  identity.ID,
		TenantID:    tenantID,
		Role:        identity.Role.String(),
		Portal:      req.Portal.String(),
		Permissions: portal.Permissions(identity.Role),
		SessionID:   created.SessionID,
		Nonce:       nonce,
	})
	if err != nil {
		e.endSession(context.WithoutCancel(ctx), created.SessionID, "signing_failed")
		return nil, err
	}

	if err := callStoreErr(ctx, e, func(ctx context.Context) error {
		return e.credentials.UpdateLoginContext(ctx, identity.ID, LoginContext{Location: location, Device: device, At: now})
	}); err != nil {
		e.logger.Warn("update login context failed", "identity_id", identity.ID, "error", err)
	}

	if created.Reused {
		e.metricInc(MetricSessionReused)
	} else {
		e.metricInc(MetricSessionCreated)
	}
	e.metricInc(MetricLoginSuccess)
	if assessment.Suspicious {
		e.metricInc(MetricSuspiciousLogin)
		e.logger.Warn("suspicious login",
			"identity_id", identity.ID,
			"risk_score", assessment.Score,
			"reasons", assessment.Reasons,
			"ip", meta.IP,
		)
		e.notifyAsync(notify.Notice{
			Kind:       notify.KindSuspicious,
			IdentityID: identity.ID,
			Email:      identity.Email,
			TenantID:   identity.TenantID,
			At:         now,
			RiskScore:  assessment.Score,
			Reasons:    assessment.Reasons,
			IP:         meta.IP,
			Location:   location,
			Device:     device,
		})
	}

	e.emitAudit(ctx, EventLoginSuccess, true, subject, nil, func() map[string]string {
		m := map[string]string{
			"session_reused": fmt.Sprint(created.Reused),
			"location":       location,
			"device":         device,
		}
		if setupRequired {
			m["mfa_setup_required"] = "true"
		}
		if len(assessment.Reasons) > 0 {
			m["risk_reasons"] = strings.Join(assessment.Reasons, ",")
		}
		return m
	})

	info := SessionInfo{
		ID:             created.SessionID,
		Portal:         req.Portal,
		TenantID:       tenantID,
		CreatedAt:      now,
		LastActivityAt: now,
		IP:             meta.IP,
		DeviceType:     device,
		Location:       location,
		Current:        true,
	}
	if created.Reused {
		existing, err := callStore(ctx, e, func(ctx context.Context) (*session.Session, error) {
			return e.sessions.Get(ctx, created.SessionID)
		})
		if err == nil {
			info.CreatedAt = existing.CreatedAt
		} else {
			e.logger.Warn("read reused session failed", "session_id", created.SessionID, "error", err)
		}
	}

	return &LoginResult{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		ExpiresIn:        pair.ExpiresIn,
		Session:          info,
		MFASetupRequired: setupRequired,
		Risk:             assessment,
	}, nil
}

// resolveTenant maps the requested domain to an active tenant. An empty
// domain is accepted only for super accounts and yields a nil tenant.
func (e *Engine) resolveTenant(ctx context.Context, identity *Identity, domain string) (*Tenant, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		if identity.subject().IsSuper() {
			return nil, nil
		}
		return nil, ErrTenantNotResolved
	}
	if e.tenants == nil {
		return nil, ErrTenantNotResolved
	}

	tenant, err := callStore(ctx, e, func(ctx context.Context) (*Tenant, error) {
		return e.tenants.TenantByDomain(ctx, domain)
	})
	if err != nil {
		return nil, err
	}
	if tenant == nil || !tenant.IsActive {
		return nil, ErrTenantNotResolved
	}
	return tenant, nil
}

// recentFailures counts failed logins inside the risk window. The audit log
// is authoritative when present; otherwise the identity's own counter is
// used while its last failure is inside the window.
func (e *Engine) recentFailures(ctx context.Context, identity *Identity, now time.Time) int {
	since := now.Add(-e.scorer.Window())
	if e.auditStore != nil {
		n, err := callStore(ctx, e, func(ctx context.Context) (int, error) {
			return e.auditStore.CountSince(ctx, identity.ID, EventLoginFailed, since)
		})
		if err == nil {
			return n
		}
		e.logger.Warn("count recent failures failed, using identity counter", "identity_id", identity.ID, "error", err)
	}
	if identity.Security.LastFailedAt.After(since) {
		return identity.Security.FailedAttempts
	}
	return 0
}

func (e *Engine) notifyAsync(n notify.Notice) {
	if e.notifier == nil {
		return
	}
	e.background.Add(1)
	go func() {
		defer e.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.config.Notify.Timeout)
		defer cancel()
		if err := e.notifier.Notify(ctx, n); err != nil {
			e.metricInc(MetricNotifyFailure)
			e.logger.Error("notification failed", "kind", n.Kind, "identity_id", n.IdentityID, "error", err)
		}
	}()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ipAllowed reports whether ip matches an entry of allowlist. Entries are
// addresses or CIDR prefixes; an empty list allows everything.
func ipAllowed(allowlist []string, ip string) bool {
	if len(allowlist) == 0 {
		return true
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, entry := range allowlist {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err == nil && prefix.Contains(addr) {
				return true
			}
			continue
		}
		if allowed, err := netip.ParseAddr(entry); err == nil && allowed.Unmap() == addr {
			return true
		}
	}
	return false
}

