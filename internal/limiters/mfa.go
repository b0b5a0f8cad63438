package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultMFAMaxAttempts = 5
	defaultMFACooldown    = time.Minute
)

var (
	ErrMFARateLimited = errors.New("mfa rate limited")
	ErrMFAUnavailable = errors.New("mfa limiter unavailable")
)

// MFAConfig holds the thresholds of the MFA attempt limiter.
type MFAConfig struct {
	Prefix      string
	MaxAttempts int
	Cooldown    time.Duration
}

// MFALimiter counts wrong second-factor codes per identity. The counter
// expires Cooldown after the first failure of a streak.
type MFALimiter struct {
	redis       redis.UniversalClient
	prefix      string
	maxAttempts int64
	cooldown    time.Duration
}

// NewMFALimiter creates an MFA limiter. Zero-value fields in cfg fall back to
// 5 attempts / 60s.
func NewMFALimiter(redisClient redis.UniversalClient, cfg MFAConfig) *MFALimiter {
	max := cfg.MaxAttempts
	if max <= 0 {
		max = defaultMFAMaxAttempts
	}
	cd := cfg.Cooldown
	if cd <= 0 {
		cd = defaultMFACooldown
	}
	return &MFALimiter{redis: redisClient, prefix: cfg.Prefix, maxAttempts: int64(max), cooldown: cd}
}

func (l *MFALimiter) key(identityID string) string {
	return l.prefix + ":mfa:att:" + identityID
}

// Check returns ErrMFARateLimited once the streak has reached MaxAttempts.
func (l *MFALimiter) Check(ctx context.Context, identityID string) error {
	if l == nil {
		return nil
	}
	count, err := l.redis.Get(ctx, l.key(identityID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrMFAUnavailable, err)
	}
	if count >= l.maxAttempts {
		return ErrMFARateLimited
	}
	return nil
}

// RecordFailure extends the streak. It returns ErrMFARateLimited when this
// failure reached the threshold.
func (l *MFALimiter) RecordFailure(ctx context.Context, identityID string) error {
	if l == nil {
		return nil
	}
	key := l.key(identityID)
	var incr *redis.IntCmd
	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, l.cooldown)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMFAUnavailable, err)
	}
	if incr.Val() >= l.maxAttempts {
		return ErrMFARateLimited
	}
	return nil
}

// Reset clears the streak after a correct code.
func (l *MFALimiter) Reset(ctx context.Context, identityID string) error {
	if l == nil {
		return nil
	}
	if err := l.redis.Del(ctx, l.key(identityID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrMFAUnavailable, err)
	}
	return nil
}
