package api

import (
	"fmt"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/d60-Lab/tagstream/config"
	_ "github.com/d60-Lab/tagstream/docs"
	"github.com/d60-Lab/tagstream/internal/api/handler"
	"github.com/d60-Lab/tagstream/internal/api/middleware"
	"github.com/d60-Lab/tagstream/internal/tenant"
	"github.com/d60-Lab/tagstream/pkg/response"
)

// NewRouter 注册全部路由；没有 X-Tenant 头时使用第一个配置的租户
func NewRouter(cfg *config.Config, reg *tenant.Registry) *gin.Engine {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	r := gin.New()
	r.Use(
		middleware.RequestLogger(),
		gin.CustomRecovery(func(c *gin.Context, recovered any) {
			response.InternalError(c, fmt.Errorf("panic: %v", recovered))
		}),
	)
	if cfg.Sentry.DSN != "" {
		r.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}
	if cfg.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	}
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	h := handler.NewHandler(reg)
	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if cfg.Server.Swagger {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	fallback := ""
	if len(cfg.Tenants) > 0 {
		fallback = cfg.Tenants[0]
	}
	v1 := r.Group("/api/v1", middleware.Tenant(reg, fallback), middleware.ActingUser())
	{
		v1.POST("/activities", h.PostActivity)
		v1.GET("/:entityType/:entityId/followers/:followerId", h.GetFollower)

		user := v1.Group("", middleware.RequireUser())
		user.GET("/activities/:type", h.LoadActivities)
		user.GET("/tag-activity/_ALL", h.LoadTagTimelines)
		user.GET("/tag-activity/:tag", h.LoadTagTimeline)
		user.POST("/:entityType/:entityId/followers/:followerId", h.Follow)
		user.DELETE("/:entityType/:entityId/followers/:followerId", h.Unfollow)
	}
	return r
}
