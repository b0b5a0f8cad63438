package goSentinel

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/MrEthical07/goSentinel/mfa"
)

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   ErrorKind
		code   string
		status int
	}{
		{"nil", nil, KindUnknown, "", http.StatusOK},
		{"validation", fmt.Errorf("%w: email required", ErrValidation), KindValidation, "validation_failed", http.StatusBadRequest},
		{"credentials", ErrInvalidCredentials, KindAuthentication, "invalid_credentials", http.StatusUnauthorized},
		{"locked", &LockedError{Until: time.Now()}, KindAuthentication, "account_locked", http.StatusUnauthorized},
		{"mfa required", &MFARequiredError{Method: mfa.MethodTOTP}, KindAuthentication, "mfa_required", http.StatusUnauthorized},
		{"portal", ErrPortalDenied, KindAuthorization, "portal_access_denied", http.StatusForbidden},
		{"tenant", ErrTenantMismatch, KindAuthorization, "tenant_access_denied", http.StatusForbidden},
		{"reuse", ErrRefreshReuse, KindToken, "refresh_reuse", http.StatusUnauthorized},
		{"mfa limiter", ErrMFARateLimited, KindRateLimit, "mfa_rate_limited", http.StatusTooManyRequests},
		{"store", fmt.Errorf("%w: dial tcp: refused", ErrStoreUnavailable), KindInfra, "store_unavailable", http.StatusInternalServerError},
		{"unknown", errors.New("boom"), KindInfra, "internal_error", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.kind {
				t.Fatalf("Classify = %v, want %v", got, tt.kind)
			}
			if got := ErrorCode(tt.err); got != tt.code {
				t.Fatalf("ErrorCode = %q, want %q", got, tt.code)
			}
			if got := HTTPStatus(tt.err); got != tt.status {
				t.Fatalf("HTTPStatus = %d, want %d", got, tt.status)
			}
		})
	}
}

func TestPublicMessageHidesInfraCause(t *testing.T) {
	err := fmt.Errorf("%w: redis: connection refused at 10.0.0.5:6379", ErrStoreUnavailable)
	if got := PublicMessage(err); got != "internal error" {
		t.Fatalf("unexpected message %q", got)
	}

	err = fmt.Errorf("%w: email required", ErrValidation)
	if got := PublicMessage(err); got != ErrValidation.Error() {
		t.Fatalf("unexpected message %q", got)
	}

	until := time.Date(2026, 3, 2, 10, 15, 0, 0, time.UTC)
	if got := PublicMessage(&LockedError{Until: until}); got != "account locked until 2026-03-02T10:15:00Z" {
		t.Fatalf("unexpected locked message %q", got)
	}
}

func TestWrappedErrorsKeepSentinel(t *testing.T) {
	locked := fmt.Errorf("login: %w", &LockedError{Until: time.Now()})
	if !errors.Is(locked, ErrAccountLocked) {
		t.Fatal("wrapped LockedError must match ErrAccountLocked")
	}
	var le *LockedError
	if !errors.As(locked, &le) {
		t.Fatal("expected errors.As to find *LockedError")
	}
}
