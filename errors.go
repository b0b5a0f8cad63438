package goSentinel

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MrEthical07/goSentinel/mfa"
)

var (
	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidCredentials covers unknown emails and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountInactive is returned for deactivated identities.
	ErrAccountInactive = errors.New("account inactive")
	// ErrAccountLocked is wrapped by *LockedError.
	ErrAccountLocked = errors.New("account locked")
	// ErrPasswordExpired is returned after a correct password past its expiry.
	ErrPasswordExpired = errors.New("password expired")
	// ErrTenantNotResolved is returned when the tenant domain is unknown or inactive.
	ErrTenantNotResolved = errors.New("tenant not resolved")
	// ErrMFARequired is wrapped by *MFARequiredError.
	ErrMFARequired = errors.New("mfa required")
	// ErrMFAInvalid is returned for a wrong TOTP or backup code.
	ErrMFAInvalid = errors.New("invalid mfa code")
	// ErrMFANotConfigured is returned when no secret has been set up.
	ErrMFANotConfigured = errors.New("mfa not configured")
	// ErrMFAAlreadyEnabled is returned by SetupMFA once MFA is enabled.
	ErrMFAAlreadyEnabled = errors.New("mfa already enabled")
	// ErrMFARateLimited is returned after too many wrong codes in a row.
	ErrMFARateLimited = errors.New("too many mfa attempts")
	// ErrIdentityNotFound is returned by identity-scoped operations.
	ErrIdentityNotFound = errors.New("identity not found")

	ErrPortalDenied   = errors.New("portal access denied")
	ErrTenantMismatch = errors.New("tenant access denied")
	ErrIPNotAllowed   = errors.New("ip address not allowed")

	ErrTokenInvalid       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionExpired     = errors.New("session expired")
	ErrSessionBlacklisted = errors.New("session blacklisted")
	ErrRefreshReuse       = errors.New("refresh token reuse detected")

	// ErrStoreUnavailable wraps every store and Redis failure.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrEngineNotReady is returned by a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// LockedError is returned while an identity is locked out.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

func (e *LockedError) Unwrap() error { return ErrAccountLocked }

// MFARequiredError tells the caller to resubmit the login with a second factor.
type MFARequiredError struct {
	Method mfa.Method
}

func (e *MFARequiredError) Error() string {
	return fmt.Sprintf("mfa required (%s)", e.Method)
}

func (e *MFARequiredError) Unwrap() error { return ErrMFARequired }

// ErrorKind groups errors by the way a transport should report them.
type ErrorKind uint8

const (
	KindUnknown ErrorKind = iota
	KindValidation
	KindAuthentication
	KindAuthorization
	KindToken
	KindRateLimit
	KindInfra
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindToken:
		return "token"
	case KindRateLimit:
		return "rate_limit"
	case KindInfra:
		return "infra"
	default:
		return "unknown"
	}
}

var errorTable = []struct {
	err  error
	kind ErrorKind
	code string
}{
	{ErrValidation, KindValidation, "validation_failed"},
	{ErrInvalidCredentials, KindAuthentication, "invalid_credentials"},
	{ErrAccountInactive, KindAuthentication, "account_inactive"},
	{ErrAccountLocked, KindAuthentication, "account_locked"},
	{ErrPasswordExpired, KindAuthentication, "password_expired"},
	{ErrTenantNotResolved, KindAuthentication, "tenant_not_resolved"},
	{ErrMFARequired, KindAuthentication, "mfa_required"},
	{ErrMFAInvalid, KindAuthentication, "mfa_invalid"},
	{ErrMFANotConfigured, KindValidation, "mfa_not_configured"},
	{ErrMFAAlreadyEnabled, KindValidation, "mfa_already_enabled"},
	{ErrMFARateLimited, KindRateLimit, "mfa_rate_limited"},
	{ErrIdentityNotFound, KindAuthentication, "identity_not_found"},
	{ErrPortalDenied, KindAuthorization, "portal_access_denied"},
	{ErrTenantMismatch, KindAuthorization, "tenant_access_denied"},
	{ErrIPNotAllowed, KindAuthorization, "ip_not_allowed"},
	{ErrTokenInvalid, KindToken, "token_invalid"},
	{ErrTokenExpired, KindToken, "token_expired"},
	{ErrSessionNotFound, KindToken, "session_not_found"},
	{ErrSessionExpired, KindToken, "session_expired"},
	{ErrSessionBlacklisted, KindToken, "session_blacklisted"},
	{ErrRefreshReuse, KindToken, "refresh_reuse"},
	{ErrStoreUnavailable, KindInfra, "store_unavailable"},
	{ErrEngineNotReady, KindInfra, "engine_not_ready"},
}

// Classify returns the kind of err. Unrecognized errors are infra errors so
// they are never reported to clients as their own fault.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	for _, row := range errorTable {
		if errors.Is(err, row.err) {
			return row.kind
		}
	}
	return KindInfra
}

// ErrorCode returns a stable snake_case code for err.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, row := range errorTable {
		if errors.Is(err, row.err) {
			return row.code
		}
	}
	return "internal_error"
}

// HTTPStatus maps err to a response status.
func HTTPStatus(err error) int {
	switch Classify(err) {
	case KindUnknown:
		return http.StatusOK
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication, KindToken:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the client-facing text for err. Infra causes are
// replaced by a generic message.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	if Classify(err) == KindInfra {
		return "internal error"
	}
	var locked *LockedError
	if errors.As(err, &locked) {
		return locked.Error()
	}
	var required *MFARequiredError
	if errors.As(err, &required) {
		return required.Error()
	}
	for _, row := range errorTable {
		if errors.Is(err, row.err) {
			return row.err.Error()
		}
	}
	return err.Error()
}
