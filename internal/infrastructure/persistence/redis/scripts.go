package redis

import "github.com/redis/go-redis/v9"

// Returns 1 granted, 0 denied, -1 when the counter is absent.
var tryDecrementScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if not current then
	return -1
end

local quantity = tonumber(ARGV[1])
if tonumber(current) >= quantity then
	redis.call('DECRBY', KEYS[1], ARGV[1])
	return 1
end

return 0
`)

// Seeds stock minus the quantity still waiting in the pending log.
// Without ARGV[3] == '1' an existing counter is left alone and -1 is returned.
var seedScript = redis.NewScript(`
if ARGV[3] ~= '1' and redis.call('EXISTS', KEYS[1]) == 1 then
	return -1
end

local pending = tonumber(redis.call('HGET', KEYS[2], ARGV[2]) or '0')
local stock = tonumber(ARGV[1]) - pending
if stock < 0 then
	stock = 0
end

redis.call('SET', KEYS[1], tostring(stock))
return stock
`)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	redis.call('DEL', KEYS[1])
	return 1
end
return 0
`)

// KEYS: marker, stock, stream, pending qty
// ARGV: claim token, grant json, product id, quantity, marker ttl ms
// Returns 1 when recorded. When another request owns the marker the
// decremented quantity goes back to the counter and 0 is returned.
var recordGrantScript = redis.NewScript(`
local marker = redis.call('GET', KEYS[1])
if marker and marker ~= ARGV[1] then
	redis.call('INCRBY', KEYS[2], ARGV[4])
	return 0
end

if tonumber(ARGV[5]) > 0 then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[5])
else
	redis.call('SET', KEYS[1], ARGV[2])
end
redis.call('XADD', KEYS[3], '*', 'grant', ARGV[2])
redis.call('HINCRBY', KEYS[4], ARGV[3], ARGV[4])
return 1
`)

// KEYS: marker, stock, stream, pending qty
// ARGV: grant json, product id, quantity, marker ttl ms
// Returns 0 out of stock, 1 granted, 2 already claimed, 3 not seeded.
var atomicPurchaseScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 2
end

local current = redis.call('GET', KEYS[2])
if not current then
	return 3
end

local quantity = tonumber(ARGV[3])
if tonumber(current) < quantity then
	return 0
end

redis.call('DECRBY', KEYS[2], ARGV[3])
if tonumber(ARGV[4]) > 0 then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[4])
else
	redis.call('SET', KEYS[1], ARGV[1])
end
redis.call('XADD', KEYS[3], '*', 'grant', ARGV[1])
redis.call('HINCRBY', KEYS[4], ARGV[2], ARGV[3])
return 1
`)

// KEYS: stream, pending qty
// ARGV: group, then (entry id, product id, quantity) triples
var ackScript = redis.NewScript(`
local acked = 0
for i = 2, #ARGV, 3 do
	if redis.call('XACK', KEYS[1], ARGV[1], ARGV[i]) == 1 then
		local left = redis.call('HINCRBY', KEYS[2], ARGV[i + 1], '-' .. ARGV[i + 2])
		if left <= 0 then
			redis.call('HDEL', KEYS[2], ARGV[i + 1])
		end
		redis.call('XDEL', KEYS[1], ARGV[i])
		acked = acked + 1
	end
end
return acked
`)

// deadLetterScript moves entries out of the group into the dead stream.
// Their quantity stays in the pending total so reseeds keep treating it as sold.
// KEYS: stream, dead stream
// ARGV: group, reason, then (entry id, grant payload) pairs
var deadLetterScript = redis.NewScript(`
local moved = 0
for i = 3, #ARGV, 2 do
	if redis.call('XACK', KEYS[1], ARGV[1], ARGV[i]) == 1 then
		redis.call('XADD', KEYS[2], '*', 'entry', ARGV[i], 'grant', ARGV[i + 1], 'reason', ARGV[2])
		redis.call('XDEL', KEYS[1], ARGV[i])
		moved = moved + 1
	end
end
return moved
`)
