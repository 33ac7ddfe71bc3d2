package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/d60-Lab/tagstream/config"
	"github.com/d60-Lab/tagstream/pkg/breaker"
)

var ErrPublisherClosed = errors.New("publisher is closed")

// Publisher 带熔断的发布端
type Publisher struct {
	publisher message.Publisher
	breaker   *gobreaker.CircuitBreaker[any]

	mu     sync.RWMutex
	closed bool
}

func NewPublisher(pub message.Publisher, name string, cfg config.BreakerConfig) *Publisher {
	return &Publisher{publisher: pub, breaker: breaker.New(name, cfg)}
}

// Publish id 同时作为消息 UUID 与 Nats-Msg-Id，JetStream 按它去重
func (p *Publisher) Publish(ctx context.Context, topic, id string, payload []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}

	msg := message.NewMessage(id, payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(natsgo.MsgIdHdr, id)

	_, err := p.breaker.Execute(func() (any, error) {
		return nil, p.publisher.Publish(topic, msg)
	})
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", id, topic, err)
	}
	return nil
}

// Close 只关闭自身状态，底层传输由 PubSub 负责
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
