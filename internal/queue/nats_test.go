package queue

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/tagstream/config"
)

func TestJetStreamTransport(t *testing.T) {
	if testing.Short() {
		t.Skip("embedded nats in -short mode")
	}

	ns, err := NewEmbeddedServer(config.EmbeddedNATSConfig{
		Host:     "127.0.0.1",
		Port:     server.RANDOM_PORT,
		StoreDir: t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = ns.Shutdown(ctx)
	})

	cfg := testQueueConfig()
	cfg.Transport = "nats"
	cfg.NATS = config.NATSConfig{
		SubscribersCount: 1,
		AckWait:          5 * time.Second,
		MaxAckPending:    1,
		MaxReconnects:    1,
		ReconnectWait:    100 * time.Millisecond,
	}

	ps, err := NewPubSub(cfg, "acme", ns.ClientURL(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ps.Close() })

	topic := TopicFor("acme", cfg.Topic)
	pub := NewPublisher(ps.Publisher, "nats-test", cfg.Breaker)
	// 订阅前发布，DeliverAll 保证能收到
	require.NoError(t, pub.Publish(context.Background(), topic, "a1", []byte(`{"verb":"publish"}`)))
	require.NoError(t, pub.Publish(context.Background(), topic, "a2", []byte(`{"verb":"unpublish"}`)))

	got := make(chan *message.Message, 4)
	startRouter(t, cfg, &memDeadLetters{}, ps, topic, func(msg *message.Message) error {
		got <- msg
		return nil
	})

	var ids []string
	for len(ids) < 2 {
		select {
		case msg := <-got:
			ids = append(ids, msg.UUID)
		case <-time.After(10 * time.Second):
			t.Fatalf("only %d messages delivered", len(ids))
		}
	}
	// max_ack_pending=1 + 单订阅者：严格按发布顺序
	assert.Equal(t, []string{"a1", "a2"}, ids)
}
