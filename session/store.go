package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRedisUnavailable wraps every transport or script failure.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrNotFound is returned by Get for unknown or purged sessions.
	ErrNotFound = errors.New("session not found")
)

// Config controls key layout, timeouts and record retention.
type Config struct {
	// Prefix namespaces every key, e.g. "sentinel".
	Prefix          string
	IdleTimeout     time.Duration
	AbsoluteTimeout time.Duration
	// Retention keeps ended records readable after the absolute timeout.
	Retention  time.Duration
	SweepBatch int
}

// Status is the outcome of Validate and Rotate.
type Status uint8

const (
	StatusNotFound Status = iota
	StatusBlacklisted
	StatusInactive
	StatusNonceMismatch
	StatusValid
	// StatusExpired means the call itself moved the session to an expired state.
	StatusExpired
)

// Result is returned by Validate and Rotate.
type Result struct {
	Status     Status
	State      State
	IdentityID string
	TenantID   string
	Portal     string
}

// Ended describes a session that a call moved into a terminal state.
type Ended struct {
	ID         string
	IdentityID string
	TenantID   string
	Portal     string
	State      State
}

// CreateResult is returned by Create.
type CreateResult struct {
	// SessionID is the new session, or the reused one when Reused is set.
	SessionID string
	Reused    bool
	Evicted   []Ended
}

// Store is the Redis session manager. All state changes run inside Lua
// scripts so concurrent logins, refreshes and sweeps cannot interleave.
type Store struct {
	redis redis.UniversalClient
	cfg   Config
}

// NewStore creates a [Store] backed by the given Redis client.
func NewStore(rdb redis.UniversalClient, cfg Config) *Store {
	if cfg.Prefix == "" {
		cfg.Prefix = "sentinel"
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 256
	}
	return &Store{redis: rdb, cfg: cfg}
}

func (s *Store) key(id string) string {
	return s.cfg.Prefix + ":s:" + id
}

func (s *Store) userKey(tenantID, identityID string) string {
	return s.cfg.Prefix + ":u:" + tenantID + ":" + identityID
}

func (s *Store) identityKey(identityID string) string {
	return s.cfg.Prefix + ":i:" + identityID
}

func (s *Store) idleKey() string {
	return s.cfg.Prefix + ":idle"
}

func (s *Store) createdKey() string {
	return s.cfg.Prefix + ":created"
}

func (s *Store) ttl() time.Duration {
	ttl := s.cfg.AbsoluteTimeout + s.cfg.Retention
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return ttl
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Create inserts sess. Sessions of the same identity and tenant that are no
// longer active are dropped from the index first. With reuse set, an active
// session on the same portal is refreshed and returned instead. Otherwise the
// oldest active sessions are evicted while the count is at or above limit.
// A limit of zero disables the cap.
func (s *Store) Create(ctx context.Context, sess *Session, limit int, reuse bool) (CreateResult, error) {
	if sess == nil || sess.ID == "" || sess.IdentityID == "" {
		return CreateResult{}, errors.New("session: id and identity are required")
	}
	if sess.LastActivityAt.IsZero() {
		sess.LastActivityAt = sess.CreatedAt
	}

	args := []interface{}{
		s.cfg.Prefix,
		sess.ID,
		limit,
		millis(sess.CreatedAt),
		s.ttl().Milliseconds(),
		boolField(reuse),
		sess.Portal,
	}
	args = append(args, sess.fields()...)

	raw, err := createScript.Run(ctx, s.redis, []string{s.userKey(sess.TenantID, sess.IdentityID), s.key(sess.ID)}, args...).Slice()
	if err != nil {
		return CreateResult{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(raw) < 2 {
		return CreateResult{}, fmt.Errorf("%w: unexpected create reply", ErrRedisUnavailable)
	}

	res := CreateResult{SessionID: str(raw[1]), Reused: str(raw[0]) == "reused"}
	for i := 2; i+1 < len(raw); i += 2 {
		res.Evicted = append(res.Evicted, Ended{
			ID:         str(raw[i]),
			IdentityID: sess.IdentityID,
			TenantID:   sess.TenantID,
			Portal:     str(raw[i+1]),
			State:      StateEvicted,
		})
	}
	return res, nil
}

// Validate checks that the session is active, not blacklisted, not expired
// and still bound to nonce. With touch set a valid session's last activity is
// bumped to now. A session found past a timeout is transitioned inline and
// reported with StatusExpired.
func (s *Store) Validate(ctx context.Context, id, nonce string, touch bool, now time.Time) (Result, error) {
	raw, err := validateScript.Run(ctx, s.redis, []string{s.key(id)},
		s.cfg.Prefix, id, nonce, now.UnixMilli(),
		s.cfg.IdleTimeout.Milliseconds(), s.cfg.AbsoluteTimeout.Milliseconds(), boolField(touch),
	).Slice()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return parseResult(raw), nil
}

// Rotate replaces the session nonce when the current one equals oldNonce.
// The same checks as Validate apply first. Repeating a call whose reply was
// lost succeeds again, since newNonce is already in place.
func (s *Store) Rotate(ctx context.Context, id, oldNonce, newNonce string, now time.Time) (Result, error) {
	raw, err := rotateScript.Run(ctx, s.redis, []string{s.key(id)},
		s.cfg.Prefix, id, oldNonce, newNonce, now.UnixMilli(),
		s.cfg.IdleTimeout.Milliseconds(), s.cfg.AbsoluteTimeout.Milliseconds(),
	).Slice()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return parseResult(raw), nil
}

// Transition moves an active session to the terminal state to. The boolean
// is true only when this call performed the transition. With blacklist set
// the record is blacklisted even if it had already ended.
func (s *Store) Transition(ctx context.Context, id string, to State, blacklist bool, now time.Time) (Ended, bool, error) {
	if !to.Terminal() {
		return Ended{}, false, fmt.Errorf("session: %q is not a terminal state", to)
	}
	raw, err := transitionScript.Run(ctx, s.redis, []string{s.key(id)},
		s.cfg.Prefix, id, string(to), boolField(blacklist), now.UnixMilli(),
	).Slice()
	if err != nil {
		return Ended{}, false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(raw) < 4 || toInt(raw[0]) != 1 {
		return Ended{}, false, nil
	}
	return Ended{ID: id, IdentityID: str(raw[1]), TenantID: str(raw[2]), Portal: str(raw[3]), State: to}, true, nil
}

// SweepIdle ends every active session whose last activity is older than the
// idle timeout. Running it concurrently or repeatedly ends each session once.
func (s *Store) SweepIdle(ctx context.Context, now time.Time) ([]Ended, error) {
	if s.cfg.IdleTimeout <= 0 {
		return nil, nil
	}
	return s.sweep(ctx, s.idleKey(), StateIdleExpired, now.Add(-s.cfg.IdleTimeout), now)
}

// SweepExpired ends every active session created before the absolute timeout.
func (s *Store) SweepExpired(ctx context.Context, now time.Time) ([]Ended, error) {
	if s.cfg.AbsoluteTimeout <= 0 {
		return nil, nil
	}
	return s.sweep(ctx, s.createdKey(), StateAbsoluteExpired, now.Add(-s.cfg.AbsoluteTimeout), now)
}

func (s *Store) sweep(ctx context.Context, index string, to State, cutoff, now time.Time) ([]Ended, error) {
	var out []Ended
	for {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		raw, err := sweepScript.Run(ctx, s.redis, []string{index},
			s.cfg.Prefix, string(to), cutoff.UnixMilli(), now.UnixMilli(), s.cfg.SweepBatch,
		).Slice()
		if err != nil {
			return out, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if len(raw) == 0 {
			return out, nil
		}
		for i := 1; i+3 < len(raw); i += 4 {
			out = append(out, Ended{
				ID:         str(raw[i]),
				IdentityID: str(raw[i+1]),
				TenantID:   str(raw[i+2]),
				Portal:     str(raw[i+3]),
				State:      to,
			})
		}
		if toInt(raw[0]) < int64(s.cfg.SweepBatch) {
			return out, nil
		}
	}
}

// Get loads one session record, including ended ones still retained.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	h, err := s.redis.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(h) == 0 {
		return nil, ErrNotFound
	}
	return decode(h), nil
}

// ActiveForIdentity returns the ids of every active session of identityID
// across tenants.
func (s *Store) ActiveForIdentity(ctx context.Context, identityID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.identityKey(identityID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ids, nil
}

// ListActive returns the active sessions of identityID within tenantID,
// oldest first.
func (s *Store) ListActive(ctx context.Context, identityID, tenantID string) ([]*Session, error) {
	ids, err := s.redis.ZRange(ctx, s.userKey(tenantID, identityID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.key(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	out := make([]*Session, 0, len(ids))
	for _, cmd := range cmds {
		h := cmd.Val()
		if len(h) == 0 || State(h[fState]) != StateActive {
			continue
		}
		out = append(out, decode(h))
	}
	return out, nil
}

// CountActive returns how many active sessions identityID holds in tenantID.
func (s *Store) CountActive(ctx context.Context, identityID, tenantID string) (int, error) {
	sessions, err := s.ListActive(ctx, identityID, tenantID)
	if err != nil {
		return 0, err
	}
	return len(sessions), nil
}

func parseResult(raw []interface{}) Result {
	if len(raw) == 0 {
		return Result{Status: StatusNotFound}
	}
	res := Result{Status: Status(toInt(raw[0]))}
	if len(raw) >= 5 {
		res.State = State(str(raw[1]))
		res.IdentityID = str(raw[2])
		res.TenantID = str(raw[3])
		res.Portal = str(raw[4])
	}
	return res
}

func str(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}

func toInt(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}
