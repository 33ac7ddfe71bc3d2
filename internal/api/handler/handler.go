package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/tagstream/internal/api/middleware"
	"github.com/d60-Lab/tagstream/internal/feed"
	"github.com/d60-Lab/tagstream/internal/tenant"
	"github.com/d60-Lab/tagstream/pkg/response"
)

// Handler 所有接口共用，按请求上的租户取服务
type Handler struct {
	registry *tenant.Registry
}

func NewHandler(registry *tenant.Registry) *Handler {
	return &Handler{registry: registry}
}

func (h *Handler) services(c *gin.Context) (*tenant.Services, bool) {
	s := middleware.TenantFrom(c)
	if s == nil {
		response.NotFound(c, "unknown_tenant")
		return nil, false
	}
	return s, true
}

// queryLimit 缺省或非法时返回 0，由服务层使用默认值
func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		response.BadRequest(c, "invalid limit")
		return 0, false
	}
	return n, true
}

// upstreamError 外部 feed 故障返回 502，其余为 500
func upstreamError(c *gin.Context, err error) {
	var apiErr *feed.APIError
	if errors.Is(err, feed.ErrUnavailable) || errors.As(err, &apiErr) {
		response.BadGateway(c, err)
		return
	}
	response.InternalError(c, err)
}

// Health 每个租户的扇出消费者都在运行时返回 200
func (h *Handler) Health(c *gin.Context) {
	tenants := gin.H{}
	healthy := true
	_ = h.registry.ForEach(func(name string, s *tenant.Services) error {
		ready := s.Ready()
		tenants[name] = ready
		healthy = healthy && ready
		return nil
	})
	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "tenants": tenants})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "tenants": tenants})
}
