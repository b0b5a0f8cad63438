package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goSentinel "github.com/MrEthical07/goSentinel"
	"github.com/redis/go-redis/v9"
)

// KEYS: global audit zset
// ARGV: event key prefix, exclusive cutoff ms, batch size
var purgeScript = redis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", "(" .. ARGV[2], "LIMIT", 0, tonumber(ARGV[3]))
for _, id in ipairs(ids) do
  local key = ARGV[1] .. id
  local idx = redis.call("HGET", key, "idx")
  if idx and idx ~= "" then
    redis.call("ZREMRANGEBYSCORE", idx, "-inf", "(" .. ARGV[2])
  end
  redis.call("DEL", key)
  redis.call("ZREM", KEYS[1], id)
end
return #ids
`)

// Append stores event and indexes it by time and, for identified events, by
// identity and event type.
func (s *Store) Append(ctx context.Context, event goSentinel.AuditEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redisstore: encode audit event: %w", err)
	}
	score := float64(event.Timestamp.UnixMilli())

	idx := ""
	if event.IdentityID != "" {
		idx = s.auditIndexKey(event.IdentityID, event.EventType)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.eventKey(event.ID), "json", body, "idx", idx)
		pipe.ZAdd(ctx, s.auditKey(), redis.Z{Score: score, Member: event.ID})
		if idx != "" {
			pipe.ZAdd(ctx, idx, redis.Z{Score: score, Member: event.ID})
		}
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// Purge deletes events strictly older than olderThan in batches.
func (s *Store) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	var total int64
	cutoff := strconv.FormatInt(olderThan.UnixMilli(), 10)
	for {
		n, err := purgeScript.Run(ctx, s.redis, []string{s.auditKey()}, s.eventKey(""), cutoff, s.purgeBatch).Int64()
		if err != nil {
			return total, unavailable(err)
		}
		total += n
		if n < int64(s.purgeBatch) {
			return total, nil
		}
	}
}

func (s *Store) CountSince(ctx context.Context, identityID, eventType string, since time.Time) (int, error) {
	n, err := s.redis.ZCount(ctx, s.auditIndexKey(identityID, eventType), strconv.FormatInt(since.UnixMilli(), 10), "+inf").Result()
	if err != nil {
		return 0, unavailable(err)
	}
	return int(n), nil
}

// Recent returns up to limit events, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]goSentinel.AuditEvent, error) {
	if limit <= 0 {
		return nil, nil
	}
	ids, err := s.redis.ZRevRange(ctx, s.auditKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, unavailable(err)
	}

	cmds := make([]*redis.StringCmd, len(ids))
	_, err = s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGet(ctx, s.eventKey(id), "json")
		}
		return nil
	})
	if err != nil && err != redis.Nil {
		return nil, unavailable(err)
	}

	out := make([]goSentinel.AuditEvent, 0, len(ids))
	for _, cmd := range cmds {
		raw, err := cmd.Result()
		if err != nil {
			continue
		}
		var ev goSentinel.AuditEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("redisstore: decode audit event: %w", err)
		}
		out = append(out, ev)
	}
	return out, nil
}
