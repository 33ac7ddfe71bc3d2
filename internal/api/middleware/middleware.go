package middleware

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/d60-Lab/tagstream/internal/tenant"
	"github.com/d60-Lab/tagstream/pkg/logger"
	"github.com/d60-Lab/tagstream/pkg/response"
)

const (
	HeaderTenant = "X-Tenant"
	HeaderUser   = "X-User-ID"

	keyTenant = "tenant"
	keyUser   = "user_id"
)

// Tenant 按 X-Tenant 选择租户，缺省时使用 fallback
func Tenant(reg *tenant.Registry, fallback string) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.GetHeader(HeaderTenant)
		if name == "" {
			name = fallback
		}
		s, err := reg.Get(name)
		if err != nil {
			if errors.Is(err, tenant.ErrUnknownTenant) {
				response.NotFound(c, "unknown_tenant")
				return
			}
			response.InternalError(c, err)
			return
		}
		c.Set(keyTenant, s)
		c.Next()
	}
}

// ActingUser 认证由网关负责，这里只读取用户 id
func ActingUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := c.GetHeader(HeaderUser); id != "" {
			c.Set(keyUser, id)
		}
		c.Next()
	}
}

// RequireUser 没有用户时返回 401
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if UserFrom(c) == "" {
			response.Error(c, 401, "authentication_required")
			return
		}
		c.Next()
	}
}

func TenantFrom(c *gin.Context) *tenant.Services {
	v, ok := c.Get(keyTenant)
	if !ok {
		return nil
	}
	s, _ := v.(*tenant.Services)
	return s
}

func UserFrom(c *gin.Context) string {
	return c.GetString(keyUser)
}

// RequestLogger zap 访问日志
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", c.FullPath()),
			zap.String("tenant", c.GetHeader(HeaderTenant)),
			zap.Duration("latency", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		switch {
		case c.Writer.Status() >= 500:
			logger.Error("http request", fields...)
		case c.Writer.Status() >= 400:
			logger.Warn("http request", fields...)
		default:
			logger.Debug("http request", fields...)
		}
	}
}
