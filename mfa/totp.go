package mfa

import (
	"errors"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/MrEthical07/goSentinel/portal"
)

const (
	// SecretSize is the raw secret length in bytes before base32 encoding.
	SecretSize = 32
	// Period is the TOTP time step.
	Period = 30
)

// ErrInvalidCode is returned when a TOTP or backup code does not verify.
var ErrInvalidCode = errors.New("invalid mfa code")

// Method names the second factor presented at login or verification.
type Method string

const (
	MethodTOTP   Method = "totp"
	MethodBackup Method = "backup"
)

// ParseMethod defaults an empty value to TOTP.
func ParseMethod(s string) (Method, error) {
	switch Method(strings.ToLower(strings.TrimSpace(s))) {
	case "", MethodTOTP:
		return MethodTOTP, nil
	case MethodBackup:
		return MethodBackup, nil
	default:
		return "", errors.New("unknown mfa method")
	}
}

// Secret is a freshly generated TOTP secret.
type Secret struct {
	Base32 string
	URI    string
}

// GenerateSecret creates a new secret and its otpauth:// provisioning URI.
func GenerateSecret(issuer, account string) (Secret, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Period:      Period,
		SecretSize:  SecretSize,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return Secret{}, err
	}
	return Secret{Base32: key.Secret(), URI: key.URL()}, nil
}

// Validate checks code against secret at now, accepting skew steps on either
// side to tolerate clock drift.
func Validate(secret, code string, now time.Time, skew uint) bool {
	code = strings.TrimSpace(code)
	if secret == "" || len(code) != int(otp.DigitsSix) {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, now.UTC(), totp.ValidateOpts{
		Period:    Period,
		Skew:      skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// GenerateCode returns the code for secret at t. Used by tests and tooling.
func GenerateCode(secret string, t time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, t.UTC(), totp.ValidateOpts{
		Period:    Period,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
}

// IsRequired reports whether a login must present a second factor.
func IsRequired(role portal.Role, mfaEnabled bool, p portal.Portal) bool {
	if mfaEnabled {
		return true
	}
	switch role {
	case portal.RoleAdmin, portal.RoleSuperAdmin:
		return true
	}
	switch p {
	case portal.PortalAdmin, portal.PortalSuperAdmin:
		return true
	}
	return false
}
