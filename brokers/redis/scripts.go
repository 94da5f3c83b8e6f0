package redis

import "github.com/gomodule/redigo/redis"

// Every state transition runs as one script so a job is never visible in two
// lists at once and a claim cannot be observed by two workers.

// KEYS: id counter, wait list
// ARGV: job key prefix, name, payload, createdAt ms, maxAttempts, backoff ms
var enqueueScript = redis.NewScript(2, `
local id = redis.call('INCR', KEYS[1])
local jobKey = ARGV[1] .. id
redis.call('HSET', jobKey,
  'name', ARGV[2],
  'payload', ARGV[3],
  'state', 'waiting',
  'createdAt', ARGV[4],
  'attempts', '0',
  'maxAttempts', ARGV[5],
  'backoff', ARGV[6])
redis.call('RPUSH', KEYS[2], id)
return id
`)

// KEYS: wait list, active list, delayed zset
// ARGV: job key prefix, now ms
var dequeueScript = redis.NewScript(3, `
local due = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', ARGV[2])
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[3], id)
  redis.call('HSET', ARGV[1] .. id, 'state', 'waiting')
  redis.call('RPUSH', KEYS[1], id)
end
local id = redis.call('LPOP', KEYS[1])
if not id then
  return false
end
local jobKey = ARGV[1] .. id
redis.call('RPUSH', KEYS[2], id)
redis.call('HSET', jobKey, 'state', 'active', 'processedAt', ARGV[2])
redis.call('HINCRBY', jobKey, 'attempts', 1)
return id
`)

// KEYS: active list, completed list
// ARGV: job key, id, now ms
var ackScript = redis.NewScript(2, `
if redis.call('LREM', KEYS[1], 1, ARGV[2]) == 0 then
  return 0
end
redis.call('RPUSH', KEYS[2], ARGV[2])
redis.call('HSET', ARGV[1], 'state', 'completed', 'finishedAt', ARGV[3])
return 1
`)

// KEYS: active list, delayed zset, failed list
// ARGV: job key, id, now ms, reason, retry flag, due ms
var nackScript = redis.NewScript(3, `
if redis.call('LREM', KEYS[1], 1, ARGV[2]) == 0 then
  return 0
end
redis.call('HSET', ARGV[1], 'failedReason', ARGV[4])
if ARGV[5] == '1' then
  redis.call('ZADD', KEYS[2], ARGV[6], ARGV[2])
  redis.call('HSET', ARGV[1], 'state', 'delayed')
  return 2
end
redis.call('RPUSH', KEYS[3], ARGV[2])
redis.call('HSET', ARGV[1], 'state', 'failed', 'finishedAt', ARGV[3])
return 1
`)
