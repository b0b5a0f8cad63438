package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goSentinel "github.com/MrEthical07/goSentinel"
	"github.com/redis/go-redis/v9"
)

// Store implements goSentinel.CredentialStore, goSentinel.TenantDirectory
// and goSentinel.AuditStore on one Redis node.
type Store struct {
	redis      redis.UniversalClient
	prefix     string
	purgeBatch int
}

// Option customizes a Store.
type Option func(*Store)

// WithPrefix namespaces every key. The default is "sentinel".
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithPurgeBatch bounds how many audit events one purge round trip deletes.
func WithPurgeBatch(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.purgeBatch = n
		}
	}
}

func New(rdb redis.UniversalClient, opts ...Option) *Store {
	s := &Store{redis: rdb, prefix: "sentinel", purgeBatch: 500}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) identityKey(id string) string { return s.prefix + ":id:" + id }
func (s *Store) codesKey(id string) string { return s.prefix + ":id:" + id + ":bc" }
func (s *Store) emailKey(email string) string { return s.prefix + ":email:" + email }
func (s *Store) lockedKey() string { return s.prefix + ":locked" }
func (s *Store) tenantKey(id string) string { return s.prefix + ":tenant:" + id }
func (s *Store) domainKey(domain string) string { return s.prefix + ":domain:" + domain }
func (s *Store) auditKey() string { return s.prefix + ":audit" }
func (s *Store) eventKey(id string) string { return s.prefix + ":audit:ev:" + id }

func (s *Store) auditIndexKey(identityID, eventType string) string {
	return s.prefix + ":audit:u:" + identityID + ":" + eventType
}

// unavailable marks err as a transport failure the engine may retry.
func unavailable(err error) error {
	return fmt.Errorf("%w: %v", goSentinel.ErrStoreUnavailable, err)
}

func millis(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// fromMillis also accepts float text; Lua may hand numbers back that way.
func fromMillis(v string) time.Time {
	if v == "" || v == "0" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(v, 64)
		if ferr != nil {
			return time.Time{}
		}
		ms = int64(f)
	}
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func str(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
