package redisq

import "github.com/redis/go-redis/v9"

// All scripts take KEYS = ready, delayed, unack, meta, payload.
// A ready score is (99 - priority) * 1e13 + visible_at_ms: lower scores
// pop first, so higher priority wins and ties go to the older message.

// ARGV: id, priority, visible_at_ms, now_ms, payload, only_if_absent
var pushScript = redis.NewScript(`
local id = ARGV[1]
if redis.call('ZSCORE', KEYS[3], id) then
  return 0
end
if ARGV[6] == '1' and redis.call('HEXISTS', KEYS[4], id) == 1 then
  return 0
end
redis.call('ZREM', KEYS[1], id)
redis.call('ZREM', KEYS[2], id)
redis.call('HSET', KEYS[4], id, ARGV[2])
redis.call('HSET', KEYS[5], id, ARGV[5])
local at = tonumber(ARGV[3])
if at <= tonumber(ARGV[4]) then
  redis.call('ZADD', KEYS[1], (99 - tonumber(ARGV[2])) * 1e13 + at, id)
else
  redis.call('ZADD', KEYS[2], at, id)
end
return 1
`)

// ARGV: now_ms, count, deadline_ms, promote_limit
// Returns id, priority, payload triples.
var popScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1], 'WITHSCORES', 'LIMIT', 0, tonumber(ARGV[4]))
for i = 1, #due, 2 do
  local id = due[i]
  redis.call('ZREM', KEYS[2], id)
  local p = redis.call('HGET', KEYS[4], id)
  if p then
    redis.call('ZADD', KEYS[1], (99 - tonumber(p)) * 1e13 + tonumber(due[i + 1]), id)
  end
end
local ids = redis.call('ZRANGE', KEYS[1], 0, tonumber(ARGV[2]) - 1)
local out = {}
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('ZADD', KEYS[3], ARGV[3], id)
  table.insert(out, id)
  table.insert(out, redis.call('HGET', KEYS[4], id) or '0')
  table.insert(out, redis.call('HGET', KEYS[5], id) or '')
end
return out
`)

// ARGV: id
var ackScript = redis.NewScript(`
if redis.call('ZREM', KEYS[3], ARGV[1]) == 1 then
  redis.call('HDEL', KEYS[4], ARGV[1])
  redis.call('HDEL', KEYS[5], ARGV[1])
  return 1
end
return 0
`)

// ARGV: id, deadline_ms
var unackTimeoutScript = redis.NewScript(`
if redis.call('ZSCORE', KEYS[3], ARGV[1]) then
  redis.call('ZADD', KEYS[3], ARGV[2], ARGV[1])
  return 1
end
return 0
`)

// ARGV: id, now_ms
var resetOffsetScript = redis.NewScript(`
local id = ARGV[1]
if redis.call('ZREM', KEYS[2], id) == 1 then
  local p = redis.call('HGET', KEYS[4], id) or '0'
  redis.call('ZADD', KEYS[1], (99 - tonumber(p)) * 1e13 + tonumber(ARGV[2]), id)
  return 1
end
if redis.call('ZSCORE', KEYS[1], id) then
  return 1
end
return 0
`)

// ARGV: id
var removeScript = redis.NewScript(`
local n = redis.call('ZREM', KEYS[1], ARGV[1])
n = n + redis.call('ZREM', KEYS[2], ARGV[1])
n = n + redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('HDEL', KEYS[4], ARGV[1])
redis.call('HDEL', KEYS[5], ARGV[1])
return n
`)

// ARGV: now_ms, limit
// Moves expired leases back to ready in one step, so a message cannot be
// both requeued and acked.
var requeueScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local n = 0
for _, id in ipairs(expired) do
  redis.call('ZREM', KEYS[3], id)
  local p = redis.call('HGET', KEYS[4], id)
  if p then
    redis.call('ZADD', KEYS[1], (99 - tonumber(p)) * 1e13 + tonumber(ARGV[1]), id)
    n = n + 1
  end
end
return n
`)
