package redis

// nolint: lll
var pushScript = `
-- KEYS[1]: the states hash
-- KEYS[2]: the jobs hash
-- KEYS[3]: the pending list
-- KEYS[4]: the queues set

-- ARGV[1]: the job ID
-- ARGV[2]: the JSON-encoded job
-- ARGV[3]: the queue name

-- Returns: 1 if the job was pushed, 0 if a job with the same ID is in flight

local state = redis.call("HGET", KEYS[1], ARGV[1])
if state == "waiting" or state == "active" then
  return 0
end

redis.call("HSET", KEYS[1], ARGV[1], "waiting")
redis.call("HSET", KEYS[2], ARGV[1], ARGV[2])
redis.call("LPUSH", KEYS[3], ARGV[1])
redis.call("SADD", KEYS[4], ARGV[3])

return 1
`

// nolint: lll
var cleanerScript = `
-- KEYS[1]: the workers set
-- KEYS[2]: the pending list
-- KEYS[3]: the states hash

-- ARGV[1]: the timestamp before which an active list is considered as belonging to a dead worker

-- Returns: the number of jobs returned to the pending list

local deadWorkerActiveLists = redis.call("ZRANGEBYSCORE", KEYS[1], 0, ARGV[1])
local moved = 0

for _, deadWorkerActiveList in ipairs(deadWorkerActiveLists) do
  local jobIDs = redis.call("LRANGE", deadWorkerActiveList, 0, -1)

  -- Orphaned jobs go to the consuming end of the pending list so they are
  -- claimed before anything enqueued after them.
  for _, jobID in ipairs(jobIDs) do
    redis.call("HSET", KEYS[3], jobID, "waiting")
    redis.call("RPUSH", KEYS[2], jobID)
    moved = moved + 1
  end

  redis.call("DEL", deadWorkerActiveList)
  redis.call("ZREM", KEYS[1], deadWorkerActiveList)
end

return moved
`
