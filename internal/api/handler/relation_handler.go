package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/tagstream/internal/api/middleware"
	"github.com/d60-Lab/tagstream/internal/model"
	"github.com/d60-Lab/tagstream/internal/service"
	"github.com/d60-Lab/tagstream/pkg/response"
)

// allEntities 批量查询关注状态时的占位 entityId
const allEntities = "_ALL"

type followingRequest struct {
	Entities []string `json:"entities" binding:"required"`
}

// actingFollower 只能替自己关注或取消关注
func actingFollower(c *gin.Context) (string, bool) {
	follower := c.Param("followerId")
	if middleware.UserFrom(c) != follower {
		response.Forbidden(c, "forbidden")
		return "", false
	}
	return follower, true
}

// GetFollower 查询关注关系
// @Summary 查询 follower 是否关注了实体
// @Tags 关注
// @Param entityType path string true "tag 或 user"
// @Param entityId path string true "实体ID"
// @Param followerId path string true "关注者ID"
// @Success 200 {object} response.Response{data=service.FollowEdge}
// @Failure 404 {object} response.Response
// @Router /api/v1/{entityType}/{entityId}/followers/{followerId} [get]
func (h *Handler) GetFollower(c *gin.Context) {
	s, ok := h.services(c)
	if !ok {
		return
	}
	edges, err := s.Streams.FollowEdges(c.Request.Context(), model.EntityType(c.Param("entityType")),
		c.Param("followerId"), []string{c.Param("entityId")})
	if err != nil {
		if errors.Is(err, model.ErrUnknownTargetKind) {
			response.BadRequest(c, err.Error())
			return
		}
		response.InternalError(c, err)
		return
	}
	if len(edges) == 0 {
		response.NotFound(c, "no_such_follower")
		return
	}
	response.Success(c, edges[0])
}

// Follow 关注标签或用户；entityId 为 _ALL 时批量查询关注状态
// @Summary 关注
// @Tags 关注
// @Accept json
// @Produce json
// @Param entityType path string true "tag 或 user"
// @Param entityId path string true "实体ID"
// @Param followerId path string true "关注者ID，必须是当前用户"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 403 {object} response.Response
// @Router /api/v1/{entityType}/{entityId}/followers/{followerId} [post]
func (h *Handler) Follow(c *gin.Context) {
	s, ok := h.services(c)
	if !ok {
		return
	}
	if c.Param("entityId") == allEntities {
		h.following(c, s.Streams)
		return
	}
	follower, ok := actingFollower(c)
	if !ok {
		return
	}
	target, err := model.ParseFollowTarget(c.Param("entityType"), c.Param("entityId"))
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	res, err := s.Streams.Follow(c.Request.Context(), target, follower)
	if err != nil {
		if errors.Is(err, service.ErrFollowSelf) {
			response.BadRequest(c, err.Error())
			return
		}
		response.InternalError(c, err)
		return
	}
	// 部分失败已经记录日志，following 以本地关注边为准
	response.Success(c, gin.H{"following": res.Following(), "result": res})
}

func (h *Handler) following(c *gin.Context, streams *service.ActivityStreams) {
	var req followingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	edges, err := streams.FollowEdges(c.Request.Context(), model.EntityType(c.Param("entityType")),
		c.Param("followerId"), req.Entities)
	if err != nil {
		if errors.Is(err, model.ErrUnknownTargetKind) {
			response.BadRequest(c, err.Error())
			return
		}
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{"values": edges, "range": gin.H{}})
}

// Unfollow 取消关注
// @Summary 取消关注
// @Tags 关注
// @Param entityType path string true "tag 或 user"
// @Param entityId path string true "实体ID"
// @Param followerId path string true "关注者ID，必须是当前用户"
// @Success 204
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/{entityType}/{entityId}/followers/{followerId} [delete]
func (h *Handler) Unfollow(c *gin.Context) {
	s, ok := h.services(c)
	if !ok {
		return
	}
	follower, ok := actingFollower(c)
	if !ok {
		return
	}
	target, err := model.ParseFollowTarget(c.Param("entityType"), c.Param("entityId"))
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	res, err := s.Streams.Unfollow(c.Request.Context(), target, follower)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if !res.Success {
		response.NotFound(c, "no_such_follower")
		return
	}
	c.Status(http.StatusNoContent)
}
