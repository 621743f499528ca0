// Package bus is the in-process event bus connecting the accounting
// core to its notifiers. Components publish domain events and never
// hold references to each other's state.
package bus

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/page-village/onpage/src/data"
	"github.com/redis/go-redis/v9"
)

// Topics.
const (
	TopicQuestCompletion  = "quest_completion"
	TopicUserIDSwap       = "user_id_swap"
	TopicPromotion        = "promotion"
	TopicSnowflakeSpawned = "snowflake_spawned"
)

// Event is one published domain event.
type Event struct {
	ID      string
	Topic   string
	GuildID string
	UserID  string
	// Fields carries topic-specific payload (subtype lists, amounts,
	// swapped ids) as flat strings for the redis mirror.
	Fields map[string]string
	At     time.Time
}

// Bus fans events out to subscribers. Delivery is per-subscriber
// buffered; a slow subscriber drops events rather than blocking the
// accounting path.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]chan Event
	rdb  *redis.Client
}

// New creates a bus. rdb may be nil; when set, every event is mirrored
// to the redis stream for out-of-process consumers.
func New(rdb *redis.Client) *Bus {
	return &Bus{subs: make(map[string][]chan Event), rdb: rdb}
}

// Subscribe returns a channel receiving every event on topic.
func (b *Bus) Subscribe(topic string) <-chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()
	return ch
}

// Publish delivers ev to all subscribers of its topic.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.RLock()
	subs := b.subs[ev.Topic]
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			log.Printf("bus: dropping %s event for slow subscriber", ev.Topic)
		}
	}

	if b.rdb != nil {
		payload := map[string]interface{}{
			"id":    ev.ID,
			"topic": ev.Topic,
			"guild": ev.GuildID,
			"user":  ev.UserID,
		}
		for k, v := range ev.Fields {
			payload[k] = v
		}
		if err := data.PublishEvent(ctx, b.rdb, payload); err != nil {
			log.Printf("bus: redis mirror: %v", err)
		}
	}
}
