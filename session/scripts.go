package session

import "github.com/redis/go-redis/v9"

// Every script receives the key root as ARGV[1] and derives index keys from
// it, so the per-session critical sections run against a single Redis node.
const preludeLua = `
local root = ARGV[1]

local function session_key(id)
  return root .. ":s:" .. id
end

local function unindex(id, identity, tenant)
  redis.call("ZREM", root .. ":u:" .. tenant .. ":" .. identity, id)
  redis.call("ZREM", root .. ":idle", id)
  redis.call("ZREM", root .. ":created", id)
  redis.call("SREM", root .. ":i:" .. identity, id)
end

-- finish moves an active session into a terminal state. It returns the
-- identity, tenant and portal only when this call performed the transition.
local function finish(id, state, blacklist, now)
  local key = session_key(id)
  local h = redis.call("HMGET", key, "state", "identity", "tenant", "portal")
  if not h[1] then
    return nil
  end
  if blacklist == "1" then
    redis.call("HSET", key, "bl", "1")
  end
  if h[1] ~= "active" then
    return nil
  end
  redis.call("HSET", key, "state", state, "ended", now)
  unindex(id, h[2], h[3])
  return h
end

-- check runs the shared validity checks. nil means the session is usable.
local function check(id, nonce, now_s, idle, absolute)
  local now = tonumber(now_s)
  local h = redis.call("HMGET", session_key(id), "state", "bl", "nonce", "last", "created", "identity", "tenant", "portal")
  if not h[1] then
    return {0}
  end
  if h[2] == "1" then
    return {1, h[1], h[6], h[7], h[8]}
  end
  if h[1] ~= "active" then
    return {2, h[1], h[6], h[7], h[8]}
  end
  if absolute > 0 and now - tonumber(h[5]) > absolute then
    finish(id, "absolute_expired", "0", now_s)
    return {5, "absolute_expired", h[6], h[7], h[8]}
  end
  if idle > 0 and now - tonumber(h[4]) > idle then
    finish(id, "idle_expired", "0", now_s)
    return {5, "idle_expired", h[6], h[7], h[8]}
  end
  if h[3] ~= nonce then
    return {3, h[1], h[6], h[7], h[8]}
  end
  return nil
end
`

// KEYS: user index, new session key
// ARGV: root, id, cap, now, ttl ms, reuse, portal, field/value pairs...
const createLua = preludeLua + `
local user_key = KEYS[1]
local new_key = KEYS[2]
local sid = ARGV[2]
local cap = tonumber(ARGV[3])
local now = ARGV[4]
local ttl = tonumber(ARGV[5])
local reuse = ARGV[6] == "1"
local portal = ARGV[7]
local identity = nil
local tenant = nil

-- a retried call after a lost reply must not evict again
if redis.call("EXISTS", new_key) == 1 then
  return {"created", sid}
end

for i = 8, #ARGV, 2 do
  if ARGV[i] == "identity" then identity = ARGV[i + 1] end
  if ARGV[i] == "tenant" then tenant = ARGV[i + 1] end
end

local live = {}
for _, id in ipairs(redis.call("ZRANGE", user_key, 0, -1)) do
  if redis.call("HGET", session_key(id), "state") == "active" then
    table.insert(live, id)
  else
    unindex(id, identity, tenant)
  end
end

if reuse then
  local refresh = {nonce = true, last = true, ip = true, ua = true, dev = true, loc = true, risk = true, susp = true, mfa = true}
  for _, id in ipairs(live) do
    local key = session_key(id)
    if redis.call("HGET", key, "portal") == portal then
      for i = 8, #ARGV, 2 do
        if refresh[ARGV[i]] then
          redis.call("HSET", key, ARGV[i], ARGV[i + 1])
        end
      end
      redis.call("ZADD", root .. ":idle", now, id)
      return {"reused", id}
    end
  end
end

local out = {"created", sid}
local count = #live
while cap > 0 and count >= cap do
  local oldest = redis.call("ZRANGE", user_key, 0, 0)[1]
  if not oldest then
    break
  end
  local h = finish(oldest, "evicted", "0", now)
  if h then
    table.insert(out, oldest)
    table.insert(out, h[4])
  else
    redis.call("ZREM", user_key, oldest)
  end
  count = count - 1
end

redis.call("HSET", new_key, unpack(ARGV, 8))
redis.call("PEXPIRE", new_key, ttl)
redis.call("ZADD", user_key, now, sid)
redis.call("ZADD", root .. ":idle", now, sid)
redis.call("ZADD", root .. ":created", now, sid)
redis.call("SADD", root .. ":i:" .. identity, sid)
return out
`

// ARGV: root, id, nonce, now, idle ms, absolute ms, touch
const validateLua = preludeLua + `
local id = ARGV[2]
local now = ARGV[4]
local res = check(id, ARGV[3], now, tonumber(ARGV[5]), tonumber(ARGV[6]))
if res then
  return res
end
if ARGV[7] == "1" then
  redis.call("HSET", session_key(id), "last", now)
  redis.call("ZADD", root .. ":idle", now, id)
end
local h = redis.call("HMGET", session_key(id), "identity", "tenant", "portal")
return {4, "active", h[1], h[2], h[3]}
`

// ARGV: root, id, old nonce, new nonce, now, idle ms, absolute ms
const rotateLua = preludeLua + `
local id = ARGV[2]
local now = ARGV[5]
-- a retried call after a lost reply finds its own new nonce in place
local target = ARGV[3]
if redis.call("HGET", session_key(id), "nonce") == ARGV[4] then
  target = ARGV[4]
end
local res = check(id, target, now, tonumber(ARGV[6]), tonumber(ARGV[7]))
if res then
  return res
end
redis.call("HSET", session_key(id), "nonce", ARGV[4], "last", now)
redis.call("ZADD", root .. ":idle", now, id)
local h = redis.call("HMGET", session_key(id), "identity", "tenant", "portal")
return {4, "active", h[1], h[2], h[3]}
`

// ARGV: root, id, state, blacklist, now
const transitionLua = preludeLua + `
local h = finish(ARGV[2], ARGV[3], ARGV[4], ARGV[5])
if not h then
  return {0}
end
return {1, h[2], h[3], h[4]}
`

// KEYS: index zset scored by the timestamp being swept
// ARGV: root, state, cutoff, now, limit
const sweepLua = preludeLua + `
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", "(" .. ARGV[3], "LIMIT", 0, tonumber(ARGV[5]))
local out = {#ids}
for _, id in ipairs(ids) do
  local h = finish(id, ARGV[2], "0", ARGV[4])
  if h then
    table.insert(out, id)
    table.insert(out, h[2])
    table.insert(out, h[3])
    table.insert(out, h[4])
  else
    local rest = redis.call("HMGET", session_key(id), "identity", "tenant")
    if rest[1] then
      unindex(id, rest[1], rest[2])
    else
      redis.call("ZREM", root .. ":idle", id)
      redis.call("ZREM", root .. ":created", id)
    end
  end
end
return out
`

var (
	createScript     = redis.NewScript(createLua)
	validateScript   = redis.NewScript(validateLua)
	rotateScript     = redis.NewScript(rotateLua)
	transitionScript = redis.NewScript(transitionLua)
	sweepScript      = redis.NewScript(sweepLua)
)
