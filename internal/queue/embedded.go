package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"

	"github.com/d60-Lab/tagstream/config"
)

// EmbeddedServer 进程内 NATS（开启 JetStream），本地运行与测试用
type EmbeddedServer struct {
	server *server.Server
}

func NewEmbeddedServer(cfg config.EmbeddedNATSConfig) (*EmbeddedServer, error) {
	opts := &server.Options{
		ServerName: "tagstream",
		Host:       cfg.Host,
		Port:       cfg.Port,
		JetStream:  true,
		StoreDir:   cfg.StoreDir,
		NoLog:      true,
		NoSigs:     true,
		MaxPayload: 4 * 1024 * 1024,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}
	go ns.Start()

	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, errors.New("nats server not ready within timeout")
	}
	return &EmbeddedServer{server: ns}, nil
}

func (s *EmbeddedServer) ClientURL() string { return s.server.ClientURL() }

func (s *EmbeddedServer) Shutdown(ctx context.Context) error {
	s.server.Shutdown()
	done := make(chan struct{})
	go func() {
		s.server.WaitForShutdown()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
