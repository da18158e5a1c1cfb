package state

import "github.com/redis/go-redis/v9"

// casStatusScript atomically transitions the status field of a node hash.
// KEYS[1] = status key
// ARGV[1] = expected status, ARGV[2] = new status, ARGV[3] = terminal TTL in
// milliseconds (0 to skip), ARGV[4..] = alternating extra field/value pairs.
// Returns 1 on success, 0 when the current status does not match.
var casStatusScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'status')
if current ~= ARGV[1] then
  return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[2])
for i = 4, #ARGV - 1, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
local ttl = tonumber(ARGV[3])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[1], ttl)
end
return 1
`)

// casExecutionStatusScript transitions the status field of the execution meta
// hash with the same compare-and-set discipline.
// KEYS[1] = meta key
// ARGV[1] = expected, ARGV[2] = new, ARGV[3] = terminal TTL ms (0 to skip),
// ARGV[4..] = alternating extra field/value pairs.
var casExecutionStatusScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'status')
if current ~= ARGV[1] then
  return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[2])
for i = 4, #ARGV - 1, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
local ttl = tonumber(ARGV[3])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[1], ttl)
end
return 1
`)

// releaseLockScript deletes a lock only when it is still held by the given
// owner token, so a holder cannot release a lock taken over after TTL expiry.
// KEYS[1] = lock key, ARGV[1] = owner token.
var releaseLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)
