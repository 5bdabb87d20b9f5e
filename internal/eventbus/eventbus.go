// Package eventbus implements the per-itinerary publish/subscribe channel
// AgentEvents travel over: publication is non-blocking, each subscriber
// gets a bounded queue with drop-oldest overflow, and delivery preserves
// per-publisher FIFO order.
package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/tripforge/itinerary-engine/internal/model"
	"github.com/tripforge/itinerary-engine/internal/telemetry"
)

// Bus is the subscriber-registration and publication surface the pipeline,
// change engine, and transport layer share. The core only knows the
// Subscription abstraction; frame encoding is a transport concern.
type Bus interface {
	Subscribe(itineraryID string) *Subscription
	Publish(ctx context.Context, itineraryID string, ev model.AgentEvent)
	Close()
}

// Subscription is a single subscriber's handle: a channel of events plus an
// Unsubscribe to release it. Idle subscriptions (no event delivered to them
// for longer than idleTTL) expire and are unregistered automatically.
type Subscription struct {
	Events <-chan model.AgentEvent

	bus         *InProcessBus
	itineraryID string
	id          uint64
	queue       chan model.AgentEvent
	mu          sync.Mutex
	closed      bool
	lastActive  time.Time
}

// Unsubscribe releases the subscription. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s.itineraryID, s.id)
}

func (s *Subscription) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

func (s *Subscription) idleSince() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActive)
}

type topic struct {
	mu          sync.Mutex
	subscribers map[uint64]*Subscription
	nextSeq     uint64 // per-topic publisher sequence, assigned at publish time
	replay      []model.AgentEvent
}

// Option configures an InProcessBus at construction.
type Option func(*InProcessBus)

// WithReplayBuffer enables a bounded per-topic replay buffer: a subscriber
// that joins after publication has begun receives the last size events
// immediately. Off by default: no backfill unless a caller opts in.
func WithReplayBuffer(size int) Option {
	return func(b *InProcessBus) {
		b.replayEnabled = true
		b.replaySize = size
	}
}

// WithQueueDepth overrides the default per-subscriber bounded queue size.
func WithQueueDepth(depth int) Option {
	return func(b *InProcessBus) { b.queueDepth = depth }
}

// WithIdleTTL overrides the default subscriber idle expiry.
func WithIdleTTL(ttl time.Duration) Option {
	return func(b *InProcessBus) { b.idleTTL = ttl }
}

// WithLogger attaches a structured logger.
func WithLogger(l telemetry.Logger) Option {
	return func(b *InProcessBus) { b.logger = l }
}

// WithTelemetry attaches an otel provider for queue-depth metrics.
func WithTelemetry(p *telemetry.Provider) Option {
	return func(b *InProcessBus) { b.telemetry = p }
}

// InProcessBus is the in-memory Bus implementation. A Redis-backed
// implementation (redis_bus.go) exists for multi-instance deployments where
// a publisher and a subscriber may live in different processes.
type InProcessBus struct {
	mu     sync.RWMutex
	topics map[string]*topic

	queueDepth    int
	idleTTL       time.Duration
	replayEnabled bool
	replaySize    int

	logger    telemetry.Logger
	telemetry *telemetry.Provider

	subIDs     uint64
	stopSweep  chan struct{}
	sweepOnce  sync.Once
}

// NewInProcessBus builds a bus with the given options and starts its idle
// subscriber sweep goroutine.
func NewInProcessBus(opts ...Option) *InProcessBus {
	b := &InProcessBus{
		topics:     make(map[string]*topic),
		queueDepth: 256,
		idleTTL:    30 * time.Minute,
		logger:     telemetry.NoOpLogger{},
		stopSweep:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	go b.sweepIdleSubscribers()
	return b
}

func (b *InProcessBus) topicFor(itineraryID string) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[itineraryID]
	if !ok {
		t = &topic{subscribers: make(map[uint64]*Subscription)}
		b.topics[itineraryID] = t
	}
	return t
}

// Subscribe registers a new subscriber on the itinerary's topic.
func (b *InProcessBus) Subscribe(itineraryID string) *Subscription {
	t := b.topicFor(itineraryID)

	b.mu.Lock()
	b.subIDs++
	id := b.subIDs
	b.mu.Unlock()

	queue := make(chan model.AgentEvent, b.queueDepth)
	sub := &Subscription{
		Events:      queue,
		bus:         b,
		itineraryID: itineraryID,
		id:          id,
		queue:       queue,
		lastActive:  time.Now(),
	}

	t.mu.Lock()
	t.subscribers[id] = sub
	var backfill []model.AgentEvent
	if b.replayEnabled {
		backfill = append(backfill, t.replay...)
	}
	t.mu.Unlock()

	for _, ev := range backfill {
		select {
		case queue <- ev:
		default:
		}
	}

	return sub
}

func (b *InProcessBus) unsubscribe(itineraryID string, id uint64) {
	b.mu.RLock()
	t, ok := b.topics[itineraryID]
	b.mu.RUnlock()
	if !ok {
		return
	}

	t.mu.Lock()
	sub, ok := t.subscribers[id]
	if ok {
		delete(t.subscribers, id)
	}
	t.mu.Unlock()

	if ok {
		sub.mu.Lock()
		if !sub.closed {
			sub.closed = true
			close(sub.queue)
		}
		sub.mu.Unlock()
	}
}

// Publish delivers ev to every current subscriber of the itinerary's topic.
// Delivery never blocks on a slow subscriber: a full queue drops its oldest
// entries to take ev followed by a warning event.
func (b *InProcessBus) Publish(ctx context.Context, itineraryID string, ev model.AgentEvent) {
	t := b.topicFor(itineraryID)

	t.mu.Lock()
	t.nextSeq++
	ev.SequenceNum = t.nextSeq
	if ev.TimestampMs == 0 {
		ev.TimestampMs = time.Now().UnixMilli()
	}
	if b.replayEnabled {
		t.replay = append(t.replay, ev)
		if len(t.replay) > b.replaySize {
			t.replay = t.replay[len(t.replay)-b.replaySize:]
		}
	}
	subs := make([]*Subscription, 0, len(t.subscribers))
	for _, s := range t.subscribers {
		subs = append(subs, s)
	}
	t.mu.Unlock()

	for _, sub := range subs {
		b.deliver(ctx, itineraryID, sub, ev)
	}
}

func (b *InProcessBus) deliver(ctx context.Context, itineraryID string, sub *Subscription, ev model.AgentEvent) {
	sub.touch()
	select {
	case sub.queue <- ev:
		if b.telemetry != nil {
			b.telemetry.AdjustQueueDepth(ctx, 1)
		}
		return
	default:
	}

	// Queue full: per the drop-oldest overflow policy, drop the oldest entry
	// to make room for ev, then drop the next oldest to append a warning
	// after it.
	warn := model.AgentEvent{
		Type:         model.EventWarning,
		ItineraryID:  itineraryID,
		Code:         "subscriber_queue_overflow",
		Message:      "subscriber too slow; oldest event dropped",
		RecoveryHint: "reconnect to resynchronize state",
		TimestampMs:  time.Now().UnixMilli(),
	}
	for _, out := range []model.AgentEvent{ev, warn} {
		select {
		case <-sub.queue:
		default:
		}
		select {
		case sub.queue <- out:
		default:
		}
	}
	b.logger.Warn("eventbus: subscriber queue overflow, dropped oldest event", map[string]interface{}{
		"itinerary_id": itineraryID,
	})
}

func (b *InProcessBus) sweepIdleSubscribers() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopSweep:
			return
		case <-ticker.C:
			b.mu.RLock()
			topics := make([]*topic, 0, len(b.topics))
			for _, t := range b.topics {
				topics = append(topics, t)
			}
			b.mu.RUnlock()

			for _, t := range topics {
				t.mu.Lock()
				var expired []*Subscription
				for id, s := range t.subscribers {
					if s.idleSince() > b.idleTTL {
						expired = append(expired, s)
						delete(t.subscribers, id)
					}
				}
				t.mu.Unlock()
				for _, s := range expired {
					s.mu.Lock()
					if !s.closed {
						s.closed = true
						close(s.queue)
					}
					s.mu.Unlock()
				}
			}
		}
	}
}

// Close stops the idle sweep goroutine. It does not close subscriber
// channels; callers should Unsubscribe explicitly or let idle expiry run.
func (b *InProcessBus) Close() {
	b.sweepOnce.Do(func() { close(b.stopSweep) })
}
