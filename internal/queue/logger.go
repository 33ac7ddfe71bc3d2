package queue

import (
	"github.com/ThreeDotsLabs/watermill"
	"go.uber.org/zap"

	"github.com/d60-Lab/tagstream/pkg/logger"
)

// zapAdapter 把 watermill 的日志接到全局 zap logger
type zapAdapter struct {
	l *zap.Logger
}

func NewLoggerAdapter(l *zap.Logger) watermill.LoggerAdapter {
	if l == nil {
		l = logger.L()
	}
	return &zapAdapter{l: l.Named("watermill")}
}

func (a *zapAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.l.Error(msg, append(toZap(fields), zap.Error(err))...)
}

func (a *zapAdapter) Info(msg string, fields watermill.LogFields) {
	a.l.Info(msg, toZap(fields)...)
}

func (a *zapAdapter) Debug(msg string, fields watermill.LogFields) {
	a.l.Debug(msg, toZap(fields)...)
}

// Trace 级别太吵，降到 debug
func (a *zapAdapter) Trace(msg string, fields watermill.LogFields) {
	a.l.Debug(msg, toZap(fields)...)
}

func (a *zapAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &zapAdapter{l: a.l.With(toZap(fields)...)}
}

func toZap(fields watermill.LogFields) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}
