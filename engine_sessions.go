package goSentinel

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goSentinel/portal"
	"github.com/MrEthical07/goSentinel/session"
)

// endedEvent maps a terminal session state to its audit event and counter.
func endedEvent(state session.State) (string, MetricID) {
	switch state {
	case session.StateEvicted:
		return EventSessionEvicted, MetricSessionEvicted
	case session.StateIdleExpired:
		return EventSessionIdle, MetricSessionIdleExpired
	case session.StateAbsoluteExpired:
		return EventSessionExpired, MetricSessionExpired
	case session.StateLoggedOut:
		return EventLogout, MetricLogout
	default:
		return EventSessionForced, MetricForceLogout
	}
}

// auditEnded records one event per session this process ended.
func (e *Engine) auditEnded(ctx context.Context, ended []session.Ended, reason string) {
	for _, s := range ended {
		event, metric := endedEvent(s.State)
		e.metricInc(metric)
		e.emitAudit(ctx, event, true, auditSubject{
			IdentityID: s.IdentityID,
			TenantID:   s.TenantID,
			Portal:     s.Portal,
			SessionID:  s.ID,
		}, nil, func() map[string]string {
			if reason == "" {
				return nil
			}
			return map[string]string{"reason": reason}
		})
	}
}

// ForceLogout blacklists every active session of identityID and returns how
// many were ended.
func (e *Engine) ForceLogout(ctx context.Context, identityID, reason string) (int, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}
	if identityID == "" {
		return 0, ErrValidation
	}

	ids, err := callStore(ctx, e, func(ctx context.Context) ([]string, error) {
		return e.sessions.ActiveForIdentity(ctx, identityID)
	})
	if err != nil {
		return 0, err
	}

	if reason == "" {
		reason = "admin"
	}
	n := 0
	for _, id := range ids {
		ended, err := callStore(ctx, e, func(ctx context.Context) ([]session.Ended, error) {
			end, changed, err := e.sessions.Transition(ctx, id, session.StateBlacklisted, true, e.now())
			if !changed {
				return nil, err
			}
			return []session.Ended{end}, err
		})
		if err != nil {
			return n, err
		}
		e.auditEnded(ctx, ended, reason)
		n += len(ended)
	}
	return n, nil
}

// SweepIdle ends sessions idle longer than Session.IdleTimeout.
func (e *Engine) SweepIdle(ctx context.Context) (int, error) {
	return e.sweep(ctx, e.sessionsSweepIdle)
}

// SweepExpired ends sessions older than Session.AbsoluteTimeout.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	return e.sweep(ctx, e.sessionsSweepExpired)
}

func (e *Engine) sessionsSweepIdle(ctx context.Context, now time.Time) ([]session.Ended, error) {
	return e.sessions.SweepIdle(ctx, now)
}

func (e *Engine) sessionsSweepExpired(ctx context.Context, now time.Time) ([]session.Ended, error) {
	return e.sessions.SweepExpired(ctx, now)
}

// sweep runs without the per-call store timeout; a large backlog takes as
// many batches as it needs. Sessions ended before an error are still audited.
func (e *Engine) sweep(ctx context.Context, run func(context.Context, time.Time) ([]session.Ended, error)) (int, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}
	ended, err := run(ctx, e.now())
	e.auditEnded(ctx, ended, "sweep")
	if err != nil {
		if errors.Is(err, session.ErrRedisUnavailable) {
			e.metricInc(MetricStoreUnavailable)
			e.logger.Error("session sweep failed", "ended", len(ended), "error", err)
			return len(ended), ErrStoreUnavailable
		}
		return len(ended), err
	}
	return len(ended), nil
}

// ListSessions returns the active sessions of one identity in one tenant.
// currentID marks the caller's own session.
func (e *Engine) ListSessions(ctx context.Context, identityID, tenantID, currentID string) ([]SessionInfo, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	list, err := callStore(ctx, e, func(ctx context.Context) ([]*session.Session, error) {
		return e.sessions.ListActive(ctx, identityID, tenantID)
	})
	if err != nil {
		return nil, err
	}

	out := make([]SessionInfo, 0, len(list))
	for _, s := range list {
		p, _ := portal.ParsePortal(s.Portal)
		out = append(out, SessionInfo{
			ID:             s.ID,
			Portal:         p,
			TenantID:       s.TenantID,
			CreatedAt:      s.CreatedAt,
			LastActivityAt: s.LastActivityAt,
			IP:             s.Device.IP,
			DeviceType:     s.Device.Type,
			Location:       s.Device.Location,
			Current:        s.ID == currentID,
		})
	}
	return out, nil
}

// PurgeAuditLog deletes audit events older than olderThan, or older than
// Audit.Retention when olderThan is zero.
func (e *Engine) PurgeAuditLog(ctx context.Context, olderThan time.Duration) (int64, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	if e.auditStore == nil {
		return 0, nil
	}
	if olderThan <= 0 {
		olderThan = e.config.Audit.Retention
	}
	cutoff := e.now().Add(-olderThan)

	n, err := callStore(ctx, e, func(ctx context.Context) (int64, error) {
		return e.auditStore.Purge(ctx, cutoff)
	})
	if err != nil {
		return 0, err
	}
	e.metrics.Add(MetricAuditPurged, uint64(n))
	e.logger.Info("audit log purged", "deleted", n, "cutoff", cutoff)
	return n, nil
}
