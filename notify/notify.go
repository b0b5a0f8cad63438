package notify

import (
	"context"
	"time"
)

// Kind is the reason a notice is sent.
type Kind string

const (
	KindLockout    Kind = "lockout"
	KindSuspicious Kind = "suspicious_login"
)

// Notice is one security notification addressed to an identity.
type Notice struct {
	Kind        Kind
	IdentityID  string
	Email       string
	TenantID    string
	At          time.Time
	LockedUntil time.Time
	RiskScore   float64
	Reasons     []string
	IP          string
	Location    string
	Device      string
}

// Notifier delivers notices. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// NoOp discards every notice.
type NoOp struct{}

func (NoOp) Notify(context.Context, Notice) error { return nil }

// Func adapts a function to Notifier.
type Func func(ctx context.Context, n Notice) error

func (f Func) Notify(ctx context.Context, n Notice) error { return f(ctx, n) }
