package redis

import "github.com/redis/go-redis/v9"

// KEYS: doc, ids, feed, uniq... ; ARGV: id, body, maxlen, uniq values...
// An empty uniq value means the document does not carry that field.
var insertScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return redis.error_reply('DUPLICATE id ' .. ARGV[1])
end
for i = 4, #KEYS do
  if ARGV[i] ~= '' and redis.call('HEXISTS', KEYS[i], ARGV[i]) == 1 then
    return redis.error_reply('DUPLICATE ' .. KEYS[i])
  end
end
redis.call('HSET', KEYS[1], 'body', ARGV[2])
redis.call('ZADD', KEYS[2], 0, ARGV[1])
for i = 4, #KEYS do
  if ARGV[i] ~= '' then
    redis.call('HSET', KEYS[i], ARGV[i], ARGV[1])
  end
end
if tonumber(ARGV[3]) > 0 then
  redis.call('XADD', KEYS[3], 'MAXLEN', '~', ARGV[3], '*', 'id', ARGV[1], 'body', ARGV[2])
else
  redis.call('XADD', KEYS[3], '*', 'id', ARGV[1], 'body', ARGV[2])
end
return 1
`)

// KEYS: doc ; ARGV: group, unacked, claimable, now, maxRetries, retriesAtMost,
// setVisibleAt, incRetries, setAckedAt. Returns the hash as it was before the
// update, or an empty array when the condition no longer holds.
var updateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {}
end
local p = '_c.' .. ARGV[1]
local v = tonumber(redis.call('HGET', KEYS[1], p .. '.v')) or 0
local r = tonumber(redis.call('HGET', KEYS[1], p .. '.r')) or 0
local a = tonumber(redis.call('HGET', KEYS[1], p .. '.a')) or 0
if ARGV[2] == '1' and a ~= 0 then
  return {}
end
local most = tonumber(ARGV[6])
if most >= 0 and r > most then
  return {}
end
if ARGV[3] == '1' and v ~= 0 then
  if v >= tonumber(ARGV[4]) or r > tonumber(ARGV[5]) then
    return {}
  end
end
local before = redis.call('HGETALL', KEYS[1])
if ARGV[7] ~= '0' then
  redis.call('HSET', KEYS[1], p .. '.v', ARGV[7])
end
if ARGV[8] ~= '0' then
  redis.call('HINCRBY', KEYS[1], p .. '.r', ARGV[8])
end
if ARGV[9] ~= '0' then
  redis.call('HSET', KEYS[1], p .. '.a', ARGV[9])
end
return before
`)
