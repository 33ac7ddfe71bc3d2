package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/tagstream/internal/api/middleware"
	"github.com/d60-Lab/tagstream/internal/service"
	"github.com/d60-Lab/tagstream/pkg/response"
)

// LoadActivities 当前用户关注的时间线（flat / aggregated），数据来自外部 feed
// @Summary 用户时间线
// @Tags 时间线
// @Param type path string true "flat 或 aggregated"
// @Param limit query int false "数量" default(30)
// @Param before query string false "上一页最后一条动态的 id"
// @Success 200 {object} response.Response{data=service.TimelinePage}
// @Failure 502 {object} response.Response
// @Router /api/v1/activities/{type} [get]
func (h *Handler) LoadActivities(c *gin.Context) {
	s, ok := h.services(c)
	if !ok {
		return
	}
	kind, err := service.ParseTimelineKind(c.Param("type"))
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}

	page, err := s.Reader.LoadTimeline(c.Request.Context(), kind, middleware.UserFrom(c), limit, c.Query("before"))
	if err != nil {
		upstreamError(c, err)
		return
	}
	response.Success(c, page)
}

// LoadTagTimelines 当前用户全部关注标签的聚合时间线
// @Summary 聚合标签时间线
// @Tags 时间线
// @Param limit query int false "数量" default(30)
// @Param before query string false "RFC3339 时间，只返回 modified 更早的行"
// @Success 200 {object} response.Response{data=service.TagTimelinesPage}
// @Router /api/v1/tag-activity/_ALL [get]
func (h *Handler) LoadTagTimelines(c *gin.Context) {
	s, ok := h.services(c)
	if !ok {
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	var before time.Time
	if raw := c.Query("before"); raw != "" {
		var err error
		before, err = time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			response.BadRequest(c, "invalid before")
			return
		}
	}

	page, err := s.Reader.LoadTagTimelines(c.Request.Context(), middleware.UserFrom(c), limit, before)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, page)
}

// LoadTagTimeline 单个标签的平铺时间线
// @Summary 标签时间线
// @Tags 时间线
// @Param tag path string true "标签"
// @Param limit query int false "数量" default(30)
// @Param before query int false "上一页最后一条的 id"
// @Success 200 {object} response.Response{data=service.TagTimelinePage}
// @Router /api/v1/tag-activity/{tag} [get]
func (h *Handler) LoadTagTimeline(c *gin.Context) {
	s, ok := h.services(c)
	if !ok {
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	var before uint64
	if raw := c.Query("before"); raw != "" {
		var err error
		before, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			response.BadRequest(c, "invalid before")
			return
		}
	}

	page, err := s.Reader.LoadTagTimeline(c.Request.Context(), c.Param("tag"), middleware.UserFrom(c), limit, before)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, page)
}
