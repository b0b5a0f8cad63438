package goSentinel

import (
	"context"

	internalaudit "github.com/MrEthical07/goSentinel/internal/audit"
)

const (
	EventLoginSuccess      = "user.login.success"
	EventLoginFailed       = "user.login.failed"
	EventLogout            = "user.logout"
	EventAccountUnlocked   = "user.account.unlocked"
	EventPortalDenied      = "portal.access.denied"
	EventVendorDenied      = "vendor.access.denied"
	EventIPDenied          = "ip.access.denied"
	EventMFARequired       = "mfa.required"
	EventMFASetup          = "mfa.setup"
	EventMFAEnabled        = "mfa.enabled"
	EventMFADisabled       = "mfa.disabled"
	EventMFAVerifySuccess  = "mfa.verify.success"
	EventMFAVerifyFailed   = "mfa.verify.failed"
	EventSessionEvicted    = "session.evicted"
	EventSessionIdle       = "session.idle_expired"
	EventSessionExpired    = "session.expired"
	EventSessionForced     = "session.force_logout"
	EventRefreshSuccess    = "token.refresh.success"
	EventRefreshFailed     = "token.refresh.failed"
	EventRefreshReuse      = "token.refresh.reuse"
	EventTokenVerifyFailed = "token.verify.failed"
)

// auditSubject carries the identity-side fields of an event. Zero values are
// left empty in the record.
type auditSubject struct {
	IdentityID string
	TenantID   string
	Portal     string
	SessionID  string
	Security   AuditSecurity
}

func subjectOf(id *Identity) auditSubject {
	if id == nil {
		return auditSubject{}
	}
	return auditSubject{IdentityID: id.ID, TenantID: id.TenantID}
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	subject auditSubject,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	meta := RequestMetaFromContext(ctx)
	now := e.now().UTC()
	event := AuditEvent{
		ID:         internalaudit.NewEventID(now),
		Timestamp:  now,
		EventType:  eventType,
		IdentityID: subject.IdentityID,
		TenantID:   subject.TenantID,
		Portal:     subject.Portal,
		SessionID:  subject.SessionID,
		Request: AuditRequest{
			IP:        meta.IP,
			UserAgent: meta.UserAgent,
			Method:    meta.Method,
			Path:      meta.Path,
		},
		Security: subject.Security,
		Success:  success,
		Metadata: metadata,
	}
	if err != nil {
		event.Error = ErrorCode(err)
	}

	e.audit.Emit(ctx, event)
}

// emitTokenFailure audits a rejected token unless the shared token bucket is
// empty. Floods of garbage tokens are counted but not all recorded.
func (e *Engine) emitTokenFailure(ctx context.Context, subject auditSubject, kind string, err error) {
	if e.tokenFailureLimiter != nil && !e.tokenFailureLimiter.Allow() {
		return
	}
	e.emitAudit(ctx, EventTokenVerifyFailed, false, subject, err, func() map[string]string {
		return map[string]string{"kind": kind}
	})
}
