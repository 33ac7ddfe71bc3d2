package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	natsgo "github.com/nats-io/nats.go"

	"github.com/d60-Lab/tagstream/config"
)

// PubSub 一个租户的队列传输（发布端 + 订阅端）
type PubSub struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber

	closers []func() error
}

// TopicFor 租户隔离的 topic 名，同时作为 JetStream stream 名（不能含 '.'）
func TopicFor(tenant, topic string) string {
	if tenant == "" {
		return topic
	}
	return tenant + "_" + topic
}

// NewPubSub memory 走 gochannel，nats 走 JetStream。natsURL 为空时使用配置里的地址。
func NewPubSub(cfg config.QueueConfig, tenant, natsURL string, logger watermill.LoggerAdapter) (*PubSub, error) {
	if logger == nil {
		logger = NewLoggerAdapter(nil)
	}
	switch cfg.Transport {
	case "", "memory":
		// Persistent：订阅前发布的消息也会投递给之后的订阅者
		ch := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 1024,
			Persistent:          cfg.Replay,
		}, logger)
		return &PubSub{Publisher: ch, Subscriber: ch, closers: []func() error{ch.Close}}, nil
	case "nats":
		return newNATSPubSub(cfg, tenant, natsURL, logger)
	default:
		return nil, fmt.Errorf("unsupported queue transport %q", cfg.Transport)
	}
}

func newNATSPubSub(cfg config.QueueConfig, tenant, natsURL string, logger watermill.LoggerAdapter) (*PubSub, error) {
	if natsURL == "" {
		natsURL = cfg.NATS.URL
	}
	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.NATS.MaxReconnects),
		natsgo.ReconnectWait(cfg.NATS.ReconnectWait),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("nats disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("nats reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         natsURL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: true,
			TrackMsgId:    true,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create nats publisher: %w", err)
	}

	deliver := natsgo.DeliverNew()
	if cfg.Replay {
		deliver = natsgo.DeliverAll()
	}
	maxDeliver := cfg.MaxRetries + 1
	if maxDeliver < 1 {
		maxDeliver = 1
	}
	subscribers := cfg.NATS.SubscribersCount
	if subscribers < 1 {
		subscribers = 1
	}
	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              natsURL,
		SubscribersCount: subscribers,
		AckWaitTimeout:   cfg.NATS.AckWait,
		CloseTimeout:     cfg.CloseTimeout,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: true,
			SubscribeOptions: []natsgo.SubOpt{
				deliver,
				natsgo.MaxDeliver(maxDeliver),
				natsgo.MaxAckPending(cfg.NATS.MaxAckPending),
				natsgo.AckWait(cfg.NATS.AckWait),
			},
			DurablePrefix: TopicFor(tenant, cfg.ConsumerName),
		},
	}, logger)
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("create nats subscriber: %w", err)
	}

	return &PubSub{Publisher: pub, Subscriber: sub, closers: []func() error{sub.Close, pub.Close}}, nil
}

func (p *PubSub) Close() error {
	var errs []error
	for _, c := range p.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subscribe 透传，方便测试直接读消息
func (p *PubSub) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return p.Subscriber.Subscribe(ctx, topic)
}
