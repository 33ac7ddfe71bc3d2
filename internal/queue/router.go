package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/d60-Lab/tagstream/config"
	"github.com/d60-Lab/tagstream/internal/metrics"
	"github.com/d60-Lab/tagstream/internal/model"
	"github.com/d60-Lab/tagstream/pkg/logger"
)

// DeadLetterRecorder 死信落库
type DeadLetterRecorder interface {
	Record(ctx context.Context, d *model.DeadLetter) error
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent 标记不可重试的错误（例如消息体校验失败），消息直接进死信并确认
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Router watermill router 封装；中间件顺序 DeadLetter -> Retry -> Recoverer -> permanent
type Router struct {
	router      *message.Router
	deadLetters DeadLetterRecorder
	attempts    int
}

func NewRouter(cfg config.QueueConfig, deadLetters DeadLetterRecorder, logger watermill.LoggerAdapter) (*Router, error) {
	if logger == nil {
		logger = NewLoggerAdapter(nil)
	}
	wmRouter, err := message.NewRouter(message.RouterConfig{CloseTimeout: cfg.CloseTimeout}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill router: %w", err)
	}

	r := &Router{router: wmRouter, deadLetters: deadLetters, attempts: cfg.MaxRetries + 1}

	retry := middleware.Retry{
		MaxRetries:      cfg.MaxRetries,
		InitialInterval: cfg.InitialInterval,
		MaxInterval:     cfg.MaxInterval,
		Multiplier:      2,
		Logger:          logger,
	}
	wmRouter.AddMiddleware(
		r.deadLetter,
		retry.Middleware,
		middleware.Recoverer,
		r.permanent,
	)
	return r, nil
}

// AddConsumerHandler 注册只消费不产出的 handler
func (r *Router) AddConsumerHandler(name, topic string, sub message.Subscriber, h message.NoPublishHandlerFunc) {
	r.router.AddConsumerHandler(name, topic, sub, h)
}

// Run 阻塞直到 ctx 取消或 Close
func (r *Router) Run(ctx context.Context) error { return r.router.Run(ctx) }

// Running 在 router 启动完成后关闭
func (r *Router) Running() <-chan struct{} { return r.router.Running() }

func (r *Router) IsRunning() bool {
	select {
	case <-r.router.Running():
		return true
	default:
		return false
	}
}

func (r *Router) Close() error { return r.router.Close() }

// deadLetter 最外层：重试耗尽仍失败的消息记录后确认
func (r *Router) deadLetter(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		out, err := h(msg)
		if err == nil {
			return out, nil
		}
		if recErr := r.record(msg, err, r.attempts); recErr != nil {
			// 死信都写不进去就让传输层重投
			return nil, recErr
		}
		return nil, nil
	}
}

// permanent 最内层：不可重试的错误不进入 Retry
func (r *Router) permanent(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		out, err := h(msg)
		if err == nil || !IsPermanent(err) {
			return out, err
		}
		if recErr := r.record(msg, err, 1); recErr != nil {
			return nil, recErr
		}
		return nil, nil
	}
}

func (r *Router) record(msg *message.Message, cause error, attempts int) error {
	handler := message.HandlerNameFromCtx(msg.Context())
	logger.Error("queue message dead-lettered",
		zap.String("handler", handler),
		zap.String("message_uuid", msg.UUID),
		zap.Int("attempts", attempts),
		zap.Bool("permanent", IsPermanent(cause)),
		zap.Error(cause),
	)
	metrics.DeadLetters.WithLabelValues("queue").Inc()
	sentry.CaptureException(cause)
	if r.deadLetters == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.deadLetters.Record(ctx, &model.DeadLetter{
		Source:   "queue",
		Task:     handler,
		Key:      msg.UUID,
		Error:    cause.Error(),
		Payload:  string(msg.Payload),
		Attempts: attempts,
	})
}
