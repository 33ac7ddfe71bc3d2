package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/d60-Lab/tagstream/internal/model"
	"github.com/d60-Lab/tagstream/internal/service"
	"github.com/d60-Lab/tagstream/pkg/logger"
	"github.com/d60-Lab/tagstream/pkg/response"
)

var validate = validator.New()

type activityRequest struct {
	EntityType string             `json:"entity_type" binding:"required,oneof=user group tag"`
	EntityID   string             `json:"entity_id" binding:"required"`
	Activity   model.ActivityBody `json:"activity"`
	// Forward 为 false 时只记录本地日志，默认转发
	Forward *bool `json:"forward"`
}

// PostActivity 内容服务发布/修改/下线文章时调用
// @Summary 记录并发布动态
// @Tags 动态
// @Accept json
// @Produce json
// @Param request body activityRequest true "动态"
// @Success 200 {object} response.Response{data=model.Activity}
// @Success 202 {object} response.Response "本地已记录，转发外部 feed 失败"
// @Failure 400 {object} response.Response
// @Router /api/v1/activities [post]
func (h *Handler) PostActivity(c *gin.Context) {
	s, ok := h.services(c)
	if !ok {
		return
	}
	var req activityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := validate.Struct(req.Activity); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	entityType := model.EntityType(req.EntityType)
	if req.Forward != nil && !*req.Forward {
		a, err := s.Streams.Record(ctx, entityType, req.EntityID, req.Activity)
		if err != nil {
			response.InternalError(c, err)
			return
		}
		response.Success(c, a)
		return
	}

	a, err := s.Streams.Publish(ctx, entityType, req.EntityID, req.Activity)
	if err != nil {
		if a != nil && errors.Is(err, service.ErrForwardFailed) {
			logger.Warn("activity stored but not forwarded", zap.String("activity", a.ID), zap.Error(err))
			c.JSON(http.StatusAccepted, response.Response{Code: 0, Message: "forward_failed", Data: a})
			return
		}
		response.InternalError(c, err)
		return
	}
	response.Success(c, a)
}
