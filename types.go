package goSentinel

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/MrEthical07/goSentinel/internal/audit"
	"github.com/MrEthical07/goSentinel/mfa"
	"github.com/MrEthical07/goSentinel/portal"
	"github.com/MrEthical07/goSentinel/risk"
)

// SecurityState is the per-identity security record. It is mutated only
// through the CredentialStore transition methods. Zero times mean unset.
type SecurityState struct {
	FailedAttempts    int
	LockedUntil       time.Time
	LastFailedAt      time.Time
	PasswordExpiresAt time.Time
	MFAEnabled        bool
	MFASecret         string
	// BackupCodes holds the sha256 hex digests of unused backup codes.
	BackupCodes       []string
	IPAllowlist       []string
	LastLoginLocation string
	LastLoginDevice   string
}

// Identity is an account that can log in. TenantID is empty only for
// super_admin and super accounts.
type Identity struct {
	ID             string
	Email          string
	PasswordHash   string
	Role           portal.Role
	TenantID       string
	IsActive       bool
	IsSuperAccount bool
	Security       SecurityState
}

func (i *Identity) subject() portal.Subject {
	return portal.Subject{Role: i.Role, Super: i.IsSuperAccount, TenantID: i.TenantID}
}

// Tenant is a customer organization resolved from a domain.
type Tenant struct {
	ID       string
	Domain   string
	IsActive bool
	// MaxConcurrentSessions overrides Config.Session.MaxConcurrent when > 0.
	MaxConcurrentSessions int
}

// FailureResult is the state after an atomic failed-attempt update.
type FailureResult struct {
	FailedAttempts int
	LockedUntil    time.Time
}

// LoginContext is written after a successful login and read by the risk
// scorer on the next one.
type LoginContext struct {
	Location string
	Device   string
	At       time.Time
}

// CredentialStore persists identities and their security state. Every
// mutation is a single atomic transition on one identity.
type CredentialStore interface {
	// FindByEmail looks up a normalized email. It returns ErrIdentityNotFound
	// when no identity matches.
	FindByEmail(ctx context.Context, email string) (*Identity, error)
	FindByID(ctx context.Context, id string) (*Identity, error)

	// RecordFailure increments the failed-attempt counter and, when it reaches
	// maxAttempts, sets LockedUntil to now+lockout. A lock that has already
	// expired is cleared first, so the counter restarts at one. Repeating a
	// call with the same attemptID changes nothing and returns the state
	// after the first call.
	RecordFailure(ctx context.Context, id, attemptID string, now time.Time, maxAttempts int, lockout time.Duration) (FailureResult, error)
	// ResetFailures clears the counter and any lock.
	ResetFailures(ctx context.Context, id string) error
	UpdateLoginContext(ctx context.Context, id string, lc LoginContext) error
	UpdatePasswordHash(ctx context.Context, id, hash string) error

	SetMFASecret(ctx context.Context, id, secret string, backupHashes []string) error
	EnableMFA(ctx context.Context, id string) error
	DisableMFA(ctx context.Context, id string) error
	// ConsumeBackupCode removes hash from the identity's backup codes. It
	// reports false when the code was not present, except that repeating the
	// call that consumed it with the same attemptID reports true again.
	ConsumeBackupCode(ctx context.Context, id, hash, attemptID string) (bool, error)

	// UnlockExpired clears every lock that ended at or before now and returns
	// the affected identity ids.
	UnlockExpired(ctx context.Context, now time.Time) ([]string, error)
}

// TenantDirectory resolves tenants. Both methods return ErrTenantNotResolved
// for unknown tenants.
type TenantDirectory interface {
	TenantByDomain(ctx context.Context, domain string) (*Tenant, error)
	TenantByID(ctx context.Context, id string) (*Tenant, error)
}

type (
	AuditEvent    = internalaudit.Event
	AuditRequest  = internalaudit.Request
	AuditSecurity = internalaudit.Security
	AuditSink     = internalaudit.Sink
	AuditStore    = internalaudit.Store
)

type (
	NoOpSink       = internalaudit.NoOpSink
	ChannelSink    = internalaudit.ChannelSink
	JSONWriterSink = internalaudit.JSONWriterSink
	MultiSink      = internalaudit.MultiSink
)

// NewChannelSink returns a sink that forwards events to a buffered channel.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink that writes one JSON object per line.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// LoginRequest is the input of Engine.Login.
type LoginRequest struct {
	Email        string
	Password     string
	TenantDomain string
	Portal       portal.Portal
	MFAToken     string
	// MFAMethod is totp when empty.
	MFAMethod mfa.Method
}

// SessionInfo is the client-facing view of a session.
type SessionInfo struct {
	ID             string        `json:"id"`
	Portal         portal.Portal `json:"portalType"`
	TenantID       string        `json:"tenantId,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	LastActivityAt time.Time     `json:"lastActivityAt"`
	IP             string        `json:"ip,omitempty"`
	DeviceType     string        `json:"deviceType,omitempty"`
	Location       string        `json:"location,omitempty"`
	Current        bool          `json:"current,omitempty"`
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	AccessToken      string
	RefreshToken     string
	ExpiresIn        time.Duration
	Session          SessionInfo
	MFASetupRequired bool
	Risk             risk.Assessment
}

// TokenPair is returned by Engine.Refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// Principal is the verified caller behind an access or refresh token.
type Principal struct {
	IdentityID  string
	TenantID    string
	Role        portal.Role
	Portal      portal.Portal
	Permissions []string
	SessionID   string
}

// WhoAmI is the identity summary returned for a valid access token.
type WhoAmI struct {
	IdentityID     string        `json:"id"`
	Email          string        `json:"email"`
	Role           portal.Role   `json:"role"`
	TenantID       string        `json:"tenantId,omitempty"`
	Portal         portal.Portal `json:"portalType"`
	SessionID      string        `json:"sessionId"`
	Permissions    []string      `json:"permissions"`
	MFAEnabled     bool          `json:"mfaEnabled"`
	IsSuperAccount bool          `json:"isSuperAccount,omitempty"`
}

// MFASetup is returned by SetupMFA. BackupCodes are shown once.
type MFASetup struct {
	Secret      string   `json:"secret"`
	URI         string   `json:"uri"`
	BackupCodes []string `json:"backupCodes"`
}
