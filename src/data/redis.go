package data

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cooldownPrefix = "cooldown:"
	channelsPrefix = "channels:"
	streamEvents   = "onpage.events"
)

// MustRedis connects to redis, or fatals. Redis is advisory only: it
// backs TTL caches and the event mirror stream, never a ledger.
func MustRedis(url string) *redis.Client {
	opt, err := redis.ParseURL(url)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	return redis.NewClient(opt)
}

// SetCooldown marks a short-message cooldown for a user.
func SetCooldown(ctx context.Context, rdb *redis.Client, userID string, d time.Duration) error {
	return rdb.Set(ctx, cooldownPrefix+userID, "1", d).Err()
}

// OnCooldown reports whether the user's cooldown is still running.
func OnCooldown(ctx context.Context, rdb *redis.Client, userID string) bool {
	n, err := rdb.Exists(ctx, cooldownPrefix+userID).Result()
	return err == nil && n > 0
}

// CacheChannelSet stores an expanded tracked-channel set with a TTL.
func CacheChannelSet(ctx context.Context, rdb *redis.Client, guildID, source string,
	channels []string, ttl time.Duration) error {
	key := channelsPrefix + guildID + ":" + source
	pipe := rdb.TxPipeline()
	pipe.Del(ctx, key)
	if len(channels) > 0 {
		members := make([]interface{}, len(channels))
		for i, c := range channels {
			members[i] = c
		}
		pipe.SAdd(ctx, key, members...)
		pipe.Expire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// CachedChannelSet reads a previously cached expansion. ok is false on
// miss or error; callers fall back to recomputing.
func CachedChannelSet(ctx context.Context, rdb *redis.Client, guildID, source string) ([]string, bool) {
	key := channelsPrefix + guildID + ":" + source
	members, err := rdb.SMembers(ctx, key).Result()
	if err != nil || len(members) == 0 {
		return nil, false
	}
	return members, true
}

// PublishEvent mirrors a domain event onto the redis stream for
// out-of-process consumers.
func PublishEvent(ctx context.Context, rdb *redis.Client, payload map[string]interface{}) error {
	_, err := rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamEvents,
		Values: payload,
	}).Result()
	return err
}
