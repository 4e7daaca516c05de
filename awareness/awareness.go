// Package awareness publishes observations about the running system — a
// write-only, best-effort channel that must never block or fail its
// caller. Events are held in a small bounded queue and, if a broadcast
// backing is configured, fanned out over Redis pub/sub for other nodes to
// observe.
package awareness

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lancejames221b/playbook-engine/core"
)

// defaultQueueSize bounds the in-process event backlog; once full, the
// oldest event is dropped to make room rather than blocking the emitter.
const defaultQueueSize = 256

// Event is one observation emitted through the publisher.
type Event struct {
	ID        string                 `json:"id"`
	Content   string                 `json:"content"`
	Category  string                 `json:"category"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Tags      []string               `json:"tags,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// broadcaster is the subset of core.RedisClient the publisher depends on.
type broadcaster interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// Publisher is the engine's single write-only awareness surface.
type Publisher struct {
	mu        sync.Mutex
	queue     []Event
	queueSize int
	dropped   int

	broadcast broadcaster
	channel   string
	logger    core.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithQueueSize overrides the bounded backlog size (default 256).
func WithQueueSize(n int) Option {
	return func(p *Publisher) { p.queueSize = n }
}

// WithBroadcast wires a Redis pub/sub backing; emitted events are also
// published to channel for other nodes to observe.
func WithBroadcast(client broadcaster, channel string) Option {
	return func(p *Publisher) {
		p.broadcast = client
		p.channel = channel
	}
}

// WithLogger sets the Publisher's structured logger.
func WithLogger(logger core.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

// New builds a Publisher with a local-only queue until WithBroadcast is
// supplied.
func New(opts ...Option) *Publisher {
	p := &Publisher{
		queueSize: defaultQueueSize,
		logger:    &core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit records an observation without a caller context, satisfying the
// step runner's EventSink interface. It delegates to EmitContext with a
// background context since awareness broadcast is always best-effort.
func (p *Publisher) Emit(content, category string, metadata map[string]interface{}, tags []string) {
	p.EmitContext(context.Background(), content, category, metadata, tags)
}

// EmitContext records an observation. It never returns an error and never
// blocks the caller: queue overflow drops the oldest event, and a
// broadcast failure is logged, not propagated.
func (p *Publisher) EmitContext(ctx context.Context, content, category string, metadata map[string]interface{}, tags []string) {
	event := Event{
		ID:        uuid.NewString(),
		Content:   content,
		Category:  category,
		Metadata:  metadata,
		Tags:      tags,
		CreatedAt: time.Now(),
	}

	p.mu.Lock()
	if len(p.queue) >= p.queueSize {
		p.queue = p.queue[1:]
		p.dropped++
	}
	p.queue = append(p.queue, event)
	p.mu.Unlock()

	if p.broadcast == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn("awareness: failed to marshal event for broadcast", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := p.broadcast.Publish(ctx, p.channel, payload); err != nil {
		p.logger.Warn("awareness: broadcast publish failed", map[string]interface{}{"error": err.Error()})
	}
}

// Drain returns and clears the current local queue, for a consumer that
// polls instead of subscribing over the broadcast channel.
func (p *Publisher) Drain() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.queue
	p.queue = nil
	return out
}

// Stats reports the queue's current depth and lifetime drop count.
type Stats struct {
	QueueDepth int
	Dropped    int
}

// Stats returns the current queue depth and total drop count.
func (p *Publisher) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{QueueDepth: len(p.queue), Dropped: p.dropped}
}
