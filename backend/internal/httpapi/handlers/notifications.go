package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"collab-session/backend/internal/cache"
	"collab-session/backend/internal/ws"

	"github.com/gin-gonic/gin"
)

// Notifications 通知发布与离线收件箱
type Notifications struct {
	m *ws.Manager
}

func NewNotifications(m *ws.Manager) *Notifications {
	return &Notifications{m: m}
}

type publishReq struct {
	Target struct {
		Kind string `json:"kind" binding:"required,oneof=user role global"`
		ID   string `json:"id"`
	} `json:"target"`
	Type     string          `json:"type" binding:"required"`
	Title    string          `json:"title"`
	Content  string          `json:"content"`
	Priority string          `json:"priority"`
	Pending  *int            `json:"pending"`
	Data     json.RawMessage `json:"data"`
}

// Publish POST /v1/notifications/publish
func (h *Notifications) Publish(c *gin.Context) {
	var req publishReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "JSON格式错误", "details": err.Error()})
		return
	}
	t := cache.Target{Kind: cache.TargetKind(req.Target.Kind), ID: req.Target.ID}
	if t.Kind != cache.TargetGlobal && t.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target.id required"})
		return
	}
	if req.Type == ws.TypePing || req.Type == ws.TypePong {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reserved type"})
		return
	}
	f := ws.Frame{
		Type:     req.Type,
		Title:    req.Title,
		Content:  req.Content,
		Priority: req.Priority,
		Pending:  req.Pending,
		Data:     req.Data,
	}
	n, err := h.m.Notify(c.Request.Context(), t, f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"delivered": n})
}

// List GET /v1/notifications?limit=
func (h *Notifications) List(c *gin.Context) {
	inbox := h.m.Inbox()
	if inbox == nil {
		c.JSON(http.StatusOK, gin.H{"items": []cache.InboxItem{}})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	items, err := inbox.List(c.Request.Context(), c.GetString("userId"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取通知失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// Clear DELETE /v1/notifications
func (h *Notifications) Clear(c *gin.Context) {
	if inbox := h.m.Inbox(); inbox != nil {
		if err := inbox.Clear(c.Request.Context(), c.GetString("userId")); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "清空通知失败"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}
