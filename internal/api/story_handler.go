package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/story-game/internal/game"
	"github.com/wfunc/story-game/internal/middleware"
	"github.com/wfunc/story-game/internal/repository"
)

// StoryHandler 故事会话处理器
type StoryHandler struct {
	coordinator *game.Coordinator
}

// NewStoryHandler 创建故事会话处理器
func NewStoryHandler(coordinator *game.Coordinator) *StoryHandler {
	return &StoryHandler{
		coordinator: coordinator,
	}
}

// Start 开始新会话
func (h *StoryHandler) Start(c *gin.Context) {
	var req game.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	userID, _ := middleware.GetUserID(c)

	state, err := h.coordinator.StartSession(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// Join 通过邀请码加入会话
func (h *StoryHandler) Join(c *gin.Context) {
	var req game.JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	userID, _ := middleware.GetUserID(c)

	state, err := h.coordinator.JoinSession(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// List 查询当前用户参与的会话
func (h *StoryHandler) List(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	var query struct {
		Page     int `form:"page"`
		PageSize int `form:"page_size"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		respondBadRequest(c, err)
		return
	}
	p := repository.NewPagination(query.Page, query.PageSize)

	states, err := h.coordinator.ListSessions(c.Request.Context(), userID, p)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions":  states,
		"page":      p.Page,
		"page_size": p.PageSize,
		"total":     p.Total,
	})
}

// Get 查询完整会话状态
func (h *StoryHandler) Get(c *gin.Context) {
	state, err := h.coordinator.GetState(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// SubmitActionRequest 行动提交请求
type SubmitActionRequest struct {
	Action        string `json:"action" binding:"required"`
	FromTurnIndex *int   `json:"fromTurnIndex" binding:"required"`
}

// SubmitAction 提交行动
func (h *StoryHandler) SubmitAction(c *gin.Context) {
	var req SubmitActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	userID, _ := middleware.GetUserID(c)

	result, err := h.coordinator.SubmitAction(c.Request.Context(), c.Param("id"), userID, req.Action, *req.FromTurnIndex)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Delete 删除会话（仅创建者）
func (h *StoryHandler) Delete(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	if err := h.coordinator.DeleteSession(c.Request.Context(), c.Param("id"), userID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
