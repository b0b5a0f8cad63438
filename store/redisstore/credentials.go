package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goSentinel "github.com/MrEthical07/goSentinel"
	"github.com/MrEthical07/goSentinel/portal"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// KEYS: identity hash, locked zset
// ARGV: now ms, max attempts, lock deadline ms, identity id, attempt id
var recordFailureScript = redis.NewScript(`
local h = redis.call("HMGET", KEYS[1], "email", "failed", "locked", "failattempt")
if not h[1] then
  return nil
end
if h[4] == ARGV[5] then
  return {tonumber(h[2]) or 0, h[3] or "0"}
end
redis.call("HSET", KEYS[1], "failattempt", ARGV[5])
local now = tonumber(ARGV[1])
local failed = tonumber(h[2]) or 0
local locked = h[3] or "0"
if tonumber(locked) > 0 and tonumber(locked) <= now then
  failed = 0
  locked = "0"
  redis.call("ZREM", KEYS[2], ARGV[4])
end
failed = failed + 1
redis.call("HSET", KEYS[1], "failed", tostring(failed), "lastfail", ARGV[1], "locked", locked)
if failed >= tonumber(ARGV[2]) and tonumber(locked) == 0 then
  locked = ARGV[3]
  redis.call("HSET", KEYS[1], "locked", locked)
  redis.call("ZADD", KEYS[2], locked, ARGV[4])
end
return {failed, locked}
`)

// KEYS: identity hash
// ARGV: field/value pairs
var updateScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], unpack(ARGV))
return 1
`)

// KEYS: identity hash, backup code set
// ARGV: secret, code hashes...
var setMFAScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "secret", ARGV[1], "mfa", "0")
redis.call("DEL", KEYS[2])
if #ARGV > 1 then
  redis.call("SADD", KEYS[2], unpack(ARGV, 2))
end
return 1
`)

// KEYS: backup code set, identity hash
// ARGV: code hash, attempt id
var consumeCodeScript = redis.NewScript(`
if redis.call("HGET", KEYS[2], "codeattempt") == ARGV[2] then
  return 1
end
if redis.call("SREM", KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[2], "codeattempt", ARGV[2])
return 1
`)

// KEYS: locked zset
// ARGV: now ms, identity key prefix
var unlockScript = redis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
for _, id in ipairs(ids) do
  local key = ARGV[2] .. id
  if redis.call("EXISTS", key) == 1 then
    redis.call("HSET", key, "failed", "0", "locked", "0")
  end
  redis.call("ZREM", KEYS[1], id)
end
return ids
`)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// PutIdentity creates or replaces an identity. An empty ID is assigned a
// random UUID. The password hash must already be encoded.
func (s *Store) PutIdentity(ctx context.Context, identity *goSentinel.Identity) error {
	if identity == nil || identity.Email == "" {
		return errors.New("redisstore: identity email is required")
	}
	if identity.ID == "" {
		identity.ID = uuid.NewString()
	}
	email := normalizeEmail(identity.Email)
	sec := identity.Security

	key := s.identityKey(identity.ID)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key, s.codesKey(identity.ID))
		pipe.HSet(ctx, key,
			"email", email,
			"hash", identity.PasswordHash,
			"role", identity.Role.String(),
			"tenant", identity.TenantID,
			"active", boolField(identity.IsActive),
			"super", boolField(identity.IsSuperAccount),
			"failed", strconv.Itoa(sec.FailedAttempts),
			"locked", millis(sec.LockedUntil),
			"lastfail", millis(sec.LastFailedAt),
			"pwexp", millis(sec.PasswordExpiresAt),
			"mfa", boolField(sec.MFAEnabled),
			"secret", sec.MFASecret,
			"allow", strings.Join(sec.IPAllowlist, ","),
			"lastloc", sec.LastLoginLocation,
			"lastdev", sec.LastLoginDevice,
		)
		if len(sec.BackupCodes) > 0 {
			members := make([]interface{}, len(sec.BackupCodes))
			for i, c := range sec.BackupCodes {
				members[i] = c
			}
			pipe.SAdd(ctx, s.codesKey(identity.ID), members...)
		}
		if sec.LockedUntil.IsZero() {
			pipe.ZRem(ctx, s.lockedKey(), identity.ID)
		} else {
			pipe.ZAdd(ctx, s.lockedKey(), redis.Z{Score: float64(sec.LockedUntil.UnixMilli()), Member: identity.ID})
		}
		pipe.Set(ctx, s.emailKey(email), identity.ID, 0)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*goSentinel.Identity, error) {
	id, err := s.redis.Get(ctx, s.emailKey(normalizeEmail(email))).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, goSentinel.ErrIdentityNotFound
		}
		return nil, unavailable(err)
	}
	return s.FindByID(ctx, id)
}

func (s *Store) FindByID(ctx context.Context, id string) (*goSentinel.Identity, error) {
	var fields *redis.MapStringStringCmd
	var codes *redis.StringSliceCmd
	_, err := s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		fields = pipe.HGetAll(ctx, s.identityKey(id))
		codes = pipe.SMembers(ctx, s.codesKey(id))
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}
	h := fields.Val()
	if len(h) == 0 {
		return nil, goSentinel.ErrIdentityNotFound
	}
	return decodeIdentity(id, h, codes.Val())
}

func decodeIdentity(id string, h map[string]string, codes []string) (*goSentinel.Identity, error) {
	role, err := portal.ParseRole(h["role"])
	if err != nil {
		return nil, fmt.Errorf("redisstore: identity %s: %w", id, err)
	}
	failed, _ := strconv.Atoi(h["failed"])

	var allow []string
	if v := h["allow"]; v != "" {
		allow = strings.Split(v, ",")
	}

	return &goSentinel.Identity{
		ID:             id,
		Email:          h["email"],
		PasswordHash:   h["hash"],
		Role:           role,
		TenantID:       h["tenant"],
		IsActive:       h["active"] == "1",
		IsSuperAccount: h["super"] == "1",
		Security: goSentinel.SecurityState{
			FailedAttempts:    failed,
			LockedUntil:       fromMillis(h["locked"]),
			LastFailedAt:      fromMillis(h["lastfail"]),
			PasswordExpiresAt: fromMillis(h["pwexp"]),
			MFAEnabled:        h["mfa"] == "1",
			MFASecret:         h["secret"],
			BackupCodes:       codes,
			IPAllowlist:       allow,
			LastLoginLocation: h["lastloc"],
			LastLoginDevice:   h["lastdev"],
		},
	}, nil
}

func (s *Store) RecordFailure(ctx context.Context, id, attemptID string, now time.Time, maxAttempts int, lockout time.Duration) (goSentinel.FailureResult, error) {
	raw, err := recordFailureScript.Run(ctx, s.redis,
		[]string{s.identityKey(id), s.lockedKey()},
		millis(now), maxAttempts, millis(now.Add(lockout)), id, attemptID,
	).Slice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return goSentinel.FailureResult{}, goSentinel.ErrIdentityNotFound
		}
		return goSentinel.FailureResult{}, unavailable(err)
	}
	if len(raw) < 2 {
		return goSentinel.FailureResult{}, unavailable(errors.New("unexpected record failure reply"))
	}
	failed, _ := strconv.Atoi(str(raw[0]))
	return goSentinel.FailureResult{
		FailedAttempts: failed,
		LockedUntil:    fromMillis(str(raw[1])),
	}, nil
}

func (s *Store) ResetFailures(ctx context.Context, id string) error {
	if err := s.update(ctx, id, "failed", "0", "locked", "0"); err != nil {
		return err
	}
	if err := s.redis.ZRem(ctx, s.lockedKey(), id).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) UpdateLoginContext(ctx context.Context, id string, lc goSentinel.LoginContext) error {
	return s.update(ctx, id, "lastloc", lc.Location, "lastdev", lc.Device, "lastlogin", millis(lc.At))
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return s.update(ctx, id, "hash", hash)
}

func (s *Store) SetMFASecret(ctx context.Context, id, secret string, backupHashes []string) error {
	args := make([]interface{}, 0, len(backupHashes)+1)
	args = append(args, secret)
	for _, h := range backupHashes {
		args = append(args, h)
	}
	n, err := setMFAScript.Run(ctx, s.redis, []string{s.identityKey(id), s.codesKey(id)}, args...).Int()
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
		return goSentinel.ErrIdentityNotFound
	}
	return nil
}

func (s *Store) EnableMFA(ctx context.Context, id string) error {
	return s.update(ctx, id, "mfa", "1")
}

func (s *Store) DisableMFA(ctx context.Context, id string) error {
	if err := s.update(ctx, id, "mfa", "0", "secret", ""); err != nil {
		return err
	}
	if err := s.redis.Del(ctx, s.codesKey(id)).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// ConsumeBackupCode removes hash inside one script, so concurrent callers
// presenting the same code see exactly one success. The consuming attempt id
// is kept on the identity so a retry of that call still reports success.
func (s *Store) ConsumeBackupCode(ctx context.Context, id, hash, attemptID string) (bool, error) {
	n, err := consumeCodeScript.Run(ctx, s.redis, []string{s.codesKey(id), s.identityKey(id)}, hash, attemptID).Int()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}

func (s *Store) UnlockExpired(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := unlockScript.Run(ctx, s.redis, []string{s.lockedKey()}, millis(now), s.identityKey("")).StringSlice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, unavailable(err)
	}
	return ids, nil
}

func (s *Store) update(ctx context.Context, id string, pairs ...string) error {
	args := make([]interface{}, len(pairs))
	for i, p := range pairs {
		args[i] = p
	}
	n, err := updateScript.Run(ctx, s.redis, []string{s.identityKey(id)}, args...).Int()
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
		return goSentinel.ErrIdentityNotFound
	}
	return nil
}
