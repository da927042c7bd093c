package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/warden/internal/clock"
	"github.com/redis/go-redis/v9"
)

// Lua keeps each ledger mutation a single atomic step on the server
var (
	recordScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
if ARGV[3] ~= '' and redis.call('EXISTS', KEYS[3]) == 1 then
  redis.call('SET', KEYS[1], 'blacklisted', 'PX', ARGV[2])
else
  redis.call('SET', KEYS[1], 'live', 'PX', ARGV[1])
end
if ARGV[3] ~= '' then
  redis.call('SADD', KEYS[2], ARGV[4])
  redis.call('PEXPIRE', KEYS[2], ARGV[2])
end
return 1
`)

	consumeScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == 'blacklisted' then
  return 0
end
redis.call('SET', KEYS[1], 'blacklisted', 'PX', ARGV[1])
return 1
`)

	blacklistFamilyScript = redis.NewScript(`
redis.call('SET', KEYS[2], '1', 'PX', ARGV[1])
local members = redis.call('SMEMBERS', KEYS[1])
local count = 0
for _, id in ipairs(members) do
  local key = ARGV[2] .. id
  if redis.call('GET', key) == 'live' then
    redis.call('SET', key, 'blacklisted', 'PX', ARGV[1])
    count = count + 1
  end
end
return count
`)
)

// RedisLedger stores the ledger in Redis; expiry is delegated to key TTLs.
// Keys of a family are not hash-tagged, so it needs a single-node Redis.
type RedisLedger struct {
	client    redis.UniversalClient
	clock     clock.Clock
	retention time.Duration
	prefix    string
}

// NewRedisLedger creates a new RedisLedger; prefix namespaces every key
func NewRedisLedger(client redis.UniversalClient, clk clock.Clock, retention time.Duration, prefix string) *RedisLedger {
	if prefix == "" {
		prefix = "warden:"
	}
	return &RedisLedger{client: client, clock: clk, retention: retention, prefix: prefix}
}

func (l *RedisLedger) idKey(id string) string { return l.prefix + "jti:" + id }
func (l *RedisLedger) familyKey(family string) string { return l.prefix + "family:" + family }
func (l *RedisLedger) familyRevokedKey(family string) string { return l.prefix + "family-revoked:" + family }

func (l *RedisLedger) Record(ctx context.Context, entry Entry) error {
	ttl := entry.ExpiresAt.Sub(l.clock.Now())
	if ttl <= 0 {
		return nil
	}

	keys := []string{l.idKey(entry.ID), l.familyKey(entry.Family), l.familyRevokedKey(entry.Family)}
	err := recordScript.Run(ctx, l.client, keys,
		ttl.Milliseconds(), l.retention.Milliseconds(), entry.Family, entry.ID).Err()
	if err != nil {
		return fmt.Errorf("failed to record ledger entry: %w", err)
	}
	return nil
}

func (l *RedisLedger) Blacklist(ctx context.Context, id string) error {
	if err := l.client.Set(ctx, l.idKey(id), stateBlacklisted, l.retention).Err(); err != nil {
		return fmt.Errorf("failed to blacklist: %w", err)
	}
	return nil
}

func (l *RedisLedger) IsBlacklisted(ctx context.Context, id string) (bool, error) {
	state, err := l.client.Get(ctx, l.idKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return state == stateBlacklisted, nil
}

func (l *RedisLedger) Consume(ctx context.Context, id string) (bool, error) {
	flipped, err := consumeScript.Run(ctx, l.client, []string{l.idKey(id)}, l.retention.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to consume: %w", err)
	}
	return flipped == 1, nil
}

func (l *RedisLedger) BlacklistFamily(ctx context.Context, family string) (int64, error) {
	keys := []string{l.familyKey(family), l.familyRevokedKey(family)}
	count, err := blacklistFamilyScript.Run(ctx, l.client, keys, l.retention.Milliseconds(), l.prefix+"jti:").Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to blacklist family: %w", err)
	}
	return count, nil
}

// Purge is a no-op: Redis expires keys on its own
func (l *RedisLedger) Purge(ctx context.Context) (int64, error) {
	return 0, nil
}

// HealthCheck pings the Redis server
func (l *RedisLedger) HealthCheck(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
