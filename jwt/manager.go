package jwt

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the signature algorithm of one token kind.
type SigningMethod string

const (
	// MethodEd25519 signs with an Ed25519 key pair.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with a shared HMAC secret.
	MethodHS256 SigningMethod = "hs256"
)

// Kind distinguishes access tokens from refresh tokens. Each kind is signed
// with its own key so one cannot be minted from the other's material.
type Kind string

const (
	// KindAccess is the short-lived bearer token.
	KindAccess Kind = "access"
	// KindRefresh is the long-lived rotation token.
	KindRefresh Kind = "refresh"
)

var (
	// ErrMalformed is returned for tokens that cannot be decoded.
	ErrMalformed = errors.New("token malformed")
	// ErrSignatureInvalid is returned when the signature, algorithm, issuer or audience does not verify.
	ErrSignatureInvalid = errors.New("token signature invalid")
	// ErrExpired is returned for tokens past their expiry.
	ErrExpired = errors.New("token expired")
	// ErrWrongKind is returned when an access token is presented as refresh or vice versa.
	ErrWrongKind = errors.New("token kind mismatch")
)

// KeyConfig carries the key material of one token kind.
type KeyConfig struct {
	TTL           time.Duration
	SigningMethod SigningMethod
	// PrivateKey is the HMAC secret for hs256 or the Ed25519 private key
	// (raw or PEM) for ed25519.
	PrivateKey []byte
	// PublicKey is the Ed25519 public key (raw or PEM); unused for hs256.
	PublicKey []byte
}

// Config configures a Manager.
type Config struct {
	Access   KeyConfig
	Refresh  KeyConfig
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// Subject is the identity-side payload encoded into both tokens of a pair.
type Subject struct {
	IdentityID  string
	TenantID    string
	Role        string
	Portal      string
	Permissions []string
	SessionID   string
	Nonce       string
}

// Claims is the decoded payload of a verified token.
type Claims struct {
	UID         string   `json:"uid"`
	TID         string   `json:"tid,omitempty"`
	Role        string   `json:"role"`
	Portal      string   `json:"portal"`
	Permissions []string `json:"perms,omitempty"`
	SID         string   `json:"sid"`
	Nonce       string   `json:"nonce"`
	Type        Kind     `json:"typ"`
	jwt.RegisteredClaims
}

type signer struct {
	cfg    KeyConfig
	method jwt.SigningMethod
	sign   interface{}
	verify interface{}
}

// Manager issues and parses access and refresh tokens.
type Manager struct {
	cfg     Config
	access  signer
	refresh signer
	now     func() time.Time
}

// NewManager validates cfg and prepares both signers.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	access, err := newSigner(KindAccess, cfg.Access)
	if err != nil {
		return nil, err
	}
	refresh, err := newSigner(KindRefresh, cfg.Refresh)
	if err != nil {
		return nil, err
	}
	if len(cfg.Access.PrivateKey) > 0 && bytes.Equal(cfg.Access.PrivateKey, cfg.Refresh.PrivateKey) {
		return nil, errors.New("access and refresh tokens must use distinct signing keys")
	}

	return &Manager{cfg: cfg, access: access, refresh: refresh, now: time.Now}, nil
}

func newSigner(kind Kind, cfg KeyConfig) (signer, error) {
	if cfg.TTL <= 0 {
		return signer{}, fmt.Errorf("%s: invalid TTL configuration", kind)
	}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < 32 {
			return signer{}, fmt.Errorf("%s: hs256 requires a secret of at least 32 bytes", kind)
		}
		return signer{cfg: cfg, method: jwt.SigningMethodHS256, sign: cfg.PrivateKey, verify: cfg.PrivateKey}, nil
	case MethodEd25519:
		s := signer{cfg: cfg, method: jwt.SigningMethodEdDSA}
		if len(cfg.PrivateKey) > 0 {
			priv, err := parseEdPrivateKey(cfg.PrivateKey)
			if err != nil {
				return signer{}, fmt.Errorf("%s: %w", kind, err)
			}
			s.sign = priv
			s.verify = priv.Public()
		}
		if len(cfg.PublicKey) > 0 {
			pub, err := parseEdPublicKey(cfg.PublicKey)
			if err != nil {
				return signer{}, fmt.Errorf("%s: %w", kind, err)
			}
			s.verify = pub
		}
		if s.verify == nil {
			return signer{}, fmt.Errorf("%s: ed25519 requires a public or private key", kind)
		}
		return s, nil
	default:
		return signer{}, fmt.Errorf("%s: unsupported signing method", kind)
	}
}

// WithClock replaces the time source used for issuing and validating.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	if now != nil {
		m.now = now
	}
	return m
}

// TTL returns the configured lifetime for kind.
func (m *Manager) TTL(kind Kind) time.Duration {
	if kind == KindRefresh {
		return m.refresh.cfg.TTL
	}
	return m.access.cfg.TTL
}

// Issue signs a token of kind for subject.
func (m *Manager) Issue(kind Kind, subject Subject) (string, error) {
	s, err := m.signerFor(kind)
	if err != nil {
		return "", err
	}
	if s.sign == nil {
		return "", fmt.Errorf("%s: no signing key configured", kind)
	}

	now := m.now()
	claims := Claims{
		UID:         subject.IdentityID,
		TID:         subject.TenantID,
		Role:        subject.Role,
		Portal:      subject.Portal,
		Permissions: subject.Permissions,
		SID:         subject.SessionID,
		Nonce:       subject.Nonce,
		Type:        kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject.IdentityID,
			Issuer:    m.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TTL)),
		},
	}
	if m.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.cfg.Audience}
	}

	return jwt.NewWithClaims(s.method, claims).SignedString(s.sign)
}

// Parse verifies signature, algorithm, issuer, audience, expiry and kind.
func (m *Manager) Parse(kind Kind, token string) (*Claims, error) {
	return m.parse(kind, token, true)
}

// ParseIgnoringExpiry verifies everything Parse does except expiry. Logout
// uses it so an expired but authentic token can still end its session.
func (m *Manager) ParseIgnoringExpiry(kind Kind, token string) (*Claims, error) {
	return m.parse(kind, token, false)
}

func (m *Manager) parse(kind Kind, token string, checkExpiry bool) (*Claims, error) {
	s, err := m.signerFor(kind)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(token) == "" {
		return nil, ErrMalformed
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithTimeFunc(m.now),
	}
	if checkExpiry {
		options = append(options, jwt.WithExpirationRequired())
		if m.cfg.Leeway > 0 {
			options = append(options, jwt.WithLeeway(m.cfg.Leeway))
		}
		if m.cfg.Issuer != "" {
			options = append(options, jwt.WithIssuer(m.cfg.Issuer))
		}
		if m.cfg.Audience != "" {
			options = append(options, jwt.WithAudience(m.cfg.Audience))
		}
	} else {
		options = append(options, jwt.WithoutClaimsValidation())
	}

	claims := &Claims{}
	parsed, err := jwt.NewParser(options...).ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != s.method.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return s.verify, nil
	})
	if err != nil {
		return nil, classify(err)
	}
	if !parsed.Valid {
		return nil, ErrSignatureInvalid
	}
	if !checkExpiry && m.cfg.Issuer != "" && claims.Issuer != m.cfg.Issuer {
		return nil, ErrSignatureInvalid
	}
	if claims.Type != kind {
		return nil, ErrWrongKind
	}
	if claims.SID == "" || claims.UID == "" || claims.Nonce == "" {
		return nil, ErrMalformed
	}

	return claims, nil
}

func (m *Manager) signerFor(kind Kind) (signer, error) {
	switch kind {
	case KindAccess:
		return m.access, nil
	case KindRefresh:
		return m.refresh, nil
	default:
		return signer{}, fmt.Errorf("unknown token kind %q", kind)
	}
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return ErrMalformed
	default:
		// unknown algorithm, bad signature, wrong issuer or audience, nbf/iat in the future
		return ErrSignatureInvalid
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	if len(key) == ed25519.SeedSize {
		return ed25519.NewKeyFromSeed(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
