package eventbus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/tripforge/itinerary-engine/internal/model"
	"github.com/tripforge/itinerary-engine/internal/telemetry"
)

const redisChannelPrefix = "itin:engine:events:"

// RedisBus fans AgentEvents out across processes using Redis Pub/Sub,
// delegating local subscriber bookkeeping (bounded queues, drop-oldest,
// idle expiry) to an embedded InProcessBus. Use this when the pipeline and
// the transport layer handling a client's stream run in different
// processes; the in-memory bus suffices for a single instance.
type RedisBus struct {
	client *redis.Client
	local  *InProcessBus
	logger telemetry.Logger

	mu     sync.Mutex
	cancel map[string]context.CancelFunc
}

// NewRedisBus wraps an existing client. Publications are sent to Redis;
// each itinerary topic lazily starts one Subscribe relay goroutine on first
// local Subscribe, fanning received messages into the embedded
// InProcessBus's topic.
func NewRedisBus(client *redis.Client, opts ...Option) *RedisBus {
	return &RedisBus{
		client: client,
		local:  NewInProcessBus(opts...),
		logger: telemetry.NoOpLogger{},
		cancel: make(map[string]context.CancelFunc),
	}
}

func redisChannel(itineraryID string) string { return redisChannelPrefix + itineraryID }

func (b *RedisBus) Subscribe(itineraryID string) *Subscription {
	b.ensureRelay(itineraryID)
	return b.local.Subscribe(itineraryID)
}

// ensureRelay starts (once per itinerary) a goroutine that relays Redis
// Pub/Sub messages into the local in-process topic, so existing local
// subscribers receive events published from any process.
func (b *RedisBus) ensureRelay(itineraryID string) {
	b.mu.Lock()
	if _, ok := b.cancel[itineraryID]; ok {
		b.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel[itineraryID] = cancel
	b.mu.Unlock()

	pubsub := b.client.Subscribe(ctx, redisChannel(itineraryID))
	ch := pubsub.Channel()

	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev model.AgentEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.logger.Warn("eventbus: malformed redis event payload", map[string]interface{}{"itinerary_id": itineraryID})
					continue
				}
				b.local.Publish(ctx, itineraryID, ev)
			}
		}
	}()
}

// Publish sends ev to the Redis channel for the itinerary. Local relay
// goroutines (in this process and any other subscribed process) deliver it
// to their subscribers.
func (b *RedisBus) Publish(ctx context.Context, itineraryID string, ev model.AgentEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("eventbus: failed to encode event for redis publish", map[string]interface{}{"itinerary_id": itineraryID, "error": err.Error()})
		return
	}
	if err := b.client.Publish(ctx, redisChannel(itineraryID), data).Err(); err != nil {
		b.logger.Warn("eventbus: redis publish failed", map[string]interface{}{"itinerary_id": itineraryID, "error": err.Error()})
	}
}

// Close stops every relay goroutine and the embedded local bus's sweep.
func (b *RedisBus) Close() {
	b.mu.Lock()
	for _, cancel := range b.cancel {
		cancel()
	}
	b.mu.Unlock()
	b.local.Close()
}
