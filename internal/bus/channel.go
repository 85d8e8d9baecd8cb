// Package bus provides the event bus implementations behind
// domain.EventBus: in-process channels for the Community tier and NATS
// for the Pro tier.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

const requestTimeout = 30 * time.Second

// ChannelBus is an in-process EventBus built on buffered channels. It
// carries ingest notifications and labeling runs for single-process
// Community deployments; nothing survives a restart.
type ChannelBus struct {
	mu     sync.RWMutex
	buffer int
	subs   map[string][]*channelSub
	closed bool
}

type channelSub struct {
	id      string
	topic   string
	inbox   chan *domain.Message
	handler domain.MessageHandler
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewChannelBus creates a channel bus whose subscriber inboxes hold up to
// buffer messages each.
func NewChannelBus(buffer int) *ChannelBus {
	if buffer <= 0 {
		buffer = 1000
	}
	return &ChannelBus{
		buffer: buffer,
		subs:   make(map[string][]*channelSub),
	}
}

// Publish delivers payload to every subscriber of the tenant's topic.
// Delivery is best effort: a subscriber with a full inbox misses the
// message rather than blocking the publisher.
func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("bus is closed")
	}
	subs := b.subs[subKey(tenantID, topic)]
	b.mu.RUnlock()

	msg := &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}

	for _, sub := range subs {
		select {
		case sub.inbox <- msg:
		default:
		}
	}
	return nil
}

// Subscribe registers handler for the tenant's topic and starts a
// goroutine that drains the subscription's inbox until it is cancelled.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSub{
		id:      uuid.New().String(),
		topic:   topic,
		inbox:   make(chan *domain.Message, b.buffer),
		handler: handler,
		ctx:     subCtx,
		cancel:  cancel,
	}

	go sub.drain()

	key := subKey(tenantID, topic)
	b.subs[key] = append(b.subs[key], sub)
	return sub, nil
}

func (s *channelSub) drain() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.inbox:
			if msg != nil {
				_ = s.handler(s.ctx, msg)
			}
		}
	}
}

// Request publishes payload and waits for a single reply on a private
// reply topic, mirroring the NATS request-reply pattern.
func (b *ChannelBus) Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	replyCh := make(chan []byte, 1)
	replyTopic := topic + ".reply." + uuid.New().String()

	sub, err := b.Subscribe(ctx, tenantID, replyTopic, func(ctx context.Context, msg *domain.Message) error {
		select {
		case replyCh <- msg.Payload:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	if err := b.Publish(ctx, tenantID, topic, payload); err != nil {
		return nil, err
	}

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(requestTimeout):
		return nil, fmt.Errorf("request timeout")
	}
}

// Ping reports whether the bus is still open.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	return nil
}

// Close cancels every subscription and rejects further use.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.cancel()
			close(sub.inbox)
		}
	}
	b.subs = make(map[string][]*channelSub)
	return nil
}

func subKey(tenantID, topic string) string {
	return tenantID + ":" + topic
}

// Unsubscribe stops the drain goroutine. Messages already in the inbox
// are dropped.
func (s *channelSub) Unsubscribe() error {
	s.cancel()
	return nil
}

func (s *channelSub) Topic() string { return s.topic }
