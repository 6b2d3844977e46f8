package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"collab-session/backend/internal/cache"
	"collab-session/backend/internal/collab"

	"github.com/gin-gonic/gin"
)

const writeAcquireTimeout = 200 * time.Millisecond

// Collaboration 文档锁 / 在线 / 内容 / 历史接口
type Collaboration struct {
	coord    *collab.Coordinator
	presence cache.PresenceCache
	// 信号量控制并发写入
	sem *collab.SemaphoreControl
}

// NewCollaboration presence 可以为 nil（没有 Redis 时在线列表取自内存）
func NewCollaboration(coord *collab.Coordinator, presence cache.PresenceCache, sem *collab.SemaphoreControl) *Collaboration {
	return &Collaboration{coord: coord, presence: presence, sem: sem}
}

func (h *Collaboration) Register(g gin.IRouter) {
	g.POST("/documents", h.CreateDocument)
	g.DELETE("/documents/:id", h.DeleteDocument)
	g.POST("/documents/:id/lock", h.Lock)
	g.POST("/documents/:id/unlock", h.Unlock)
	g.POST("/documents/:id/force-unlock", h.ForceUnlock)
	g.POST("/documents/:id/presence", h.Presence)
	g.GET("/documents/:id/state", h.State)
	g.PUT("/documents/:id/content", h.WriteContent)
	g.GET("/documents/:id/content", h.Content)
	g.GET("/documents/:id/history", h.History)
	g.GET("/documents/:id/online-users", h.OnlineUsers)
	g.POST("/logout", h.Logout)
}

// 从gin.Context获取用户信息；gin.Context对每个请求天然隔离
func currentUser(c *gin.Context) (collab.User, bool) {
	id := c.GetString("userId")
	if id == "" {
		return collab.User{}, false
	}
	name := c.GetString("realName")
	if name == "" {
		name = c.GetString("username")
	}
	return collab.User{ID: id, Name: name, Role: c.GetString("role")}, true
}

func mustUser(c *gin.Context) (collab.User, bool) {
	u, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User context missing"})
	}
	return u, ok
}

func internalError(c *gin.Context, op string, err error) {
	log.Printf("[http] %s error (doc=%s): %v", op, c.Param("id"), err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": op + " failed"})
}

func lockConflict(c *gin.Context, e *collab.LockConflictError) {
	c.JSON(http.StatusLocked, gin.H{
		"error":       "文档正在被其他用户编辑",
		"granted":     false,
		"holder":      e.Holder,
		"holder_name": e.HolderName,
		"expires_at":  e.ExpiresAt,
	})
}

type createDocumentReq struct {
	DocumentID string `json:"document_id" binding:"required"`
	Title      string `json:"title"`
}

func (h *Collaboration) CreateDocument(c *gin.Context) {
	u, ok := mustUser(c)
	if !ok {
		return
	}
	var req createDocumentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "JSON格式错误", "details": err.Error()})
		return
	}
	if err := h.coord.Create(c.Request.Context(), req.DocumentID, u, req.Title); err != nil {
		if errors.Is(err, collab.ErrDocumentExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "文档已存在"})
			return
		}
		internalError(c, "create document", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"document_id": req.DocumentID, "title": req.Title, "owner_id": u.ID})
}

func (h *Collaboration) DeleteDocument(c *gin.Context) {
	u, ok := mustUser(c)
	if !ok {
		return
	}
	err := h.coord.Delete(c.Request.Context(), c.Param("id"), u)
	var conflict *collab.LockConflictError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"deleted": true})
	case errors.Is(err, collab.ErrDocumentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "文档不存在"})
	case errors.As(err, &conflict):
		lockConflict(c, conflict)
	default:
		internalError(c, "delete document", err)
	}
}

func (h *Collaboration) Lock(c *gin.Context) {
	u, ok := mustUser(c)
	if !ok {
		return
	}
	res, err := h.coord.Acquire(c.Request.Context(), c.Param("id"), u)
	if err != nil {
		var conflict *collab.LockConflictError
		if errors.As(err, &conflict) {
			lockConflict(c, conflict)
			return
		}
		internalError(c, "lock", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"granted":     true,
		"holder":      res.Lock.HolderID,
		"holder_name": res.Lock.HolderName,
		"acquired_at": res.Lock.AcquiredAt,
		"expires_at":  res.Lock.ExpiresAt,
		"reentrant":   res.Reentrant,
	})
}

func (h *Collaboration) Unlock(c *gin.Context) {
	u, ok := mustUser(c)
	if !ok {
		return
	}
	if err := h.coord.Release(c.Request.Context(), c.Param("id"), u); err != nil {
		if errors.Is(err, collab.ErrNotHolder) {
			c.JSON(http.StatusLocked, gin.H{"error": "您没有持有该文档的编辑锁"})
			return
		}
		internalError(c, "unlock", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": true})
}

// ForceUnlock 管理员或文档所有者
func (h *Collaboration) ForceUnlock(c *gin.Context) {
	u, ok := mustUser(c)
	if !ok {
		return
	}
	if err := h.coord.ForceRelease(c.Request.Context(), c.Param("id"), u); err != nil {
		if errors.Is(err, collab.ErrForbidden) {
			c.JSON(http.StatusForbidden, gin.H{"error": "只有管理员或文档所有者可以强制解锁"})
			return
		}
		internalError(c, "force unlock", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": true})
}

type presenceReq struct {
	CursorPosition *int `json:"cursor_position"`
	SelectionStart *int `json:"selection_start"`
	SelectionEnd   *int `json:"selection_end"`
}

func (h *Collaboration) Presence(c *gin.Context) {
	u, ok := mustUser(c)
	if !ok {
		return
	}
	var req presenceReq
	// 空 body 视为纯心跳
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "JSON格式错误", "details": err.Error()})
			return
		}
	}
	upd := collab.PresenceUpdate{CursorPosition: req.CursorPosition, SelectionStart: req.SelectionStart, SelectionEnd: req.SelectionEnd}
	if err := h.coord.HeartbeatPresence(c.Request.Context(), c.Param("id"), u, upd); err != nil {
		internalError(c, "presence", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Collaboration) State(c *gin.Context) {
	st, err := h.coord.State(c.Request.Context(), c.Param("id"))
	if err != nil {
		internalError(c, "state", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

type writeReq struct {
	Content string  `json:"content"`
	Version *uint64 `json:"version" binding:"required"`
}

func (h *Collaboration) WriteContent(c *gin.Context) {
	u, ok := mustUser(c)
	if !ok {
		return
	}
	var req writeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "JSON格式错误", "details": err.Error()})
		return
	}

	if h.sem != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), writeAcquireTimeout)
		err := h.sem.Acquire(ctx)
		cancel()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		defer h.sem.Release()
	}

	v, err := h.coord.Write(c.Request.Context(), c.Param("id"), u, req.Content, *req.Version)
	if err != nil {
		var vc *collab.VersionConflictError
		switch {
		case errors.As(err, &vc):
			c.JSON(http.StatusConflict, gin.H{
				"error":            "文档已被修改，请刷新后重试",
				"expected_version": vc.Expected,
				"current_version":  vc.Current,
			})
		case errors.Is(err, collab.ErrNotHolder):
			c.JSON(http.StatusLocked, gin.H{"error": "请先获取编辑锁"})
		default:
			internalError(c, "write content", err)
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": v})
}

func (h *Collaboration) Content(c *gin.Context) {
	doc, err := h.coord.Content(c.Request.Context(), c.Param("id"))
	if err != nil {
		internalError(c, "content", err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *Collaboration) History(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	res, err := h.coord.History(c.Request.Context(), c.Param("id"), page, pageSize)
	if err != nil {
		internalError(c, "history", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// OnlineUsers 优先读 Redis 镜像（多实例可见），失败时退回本机内存
func (h *Collaboration) OnlineUsers(c *gin.Context) {
	docID := c.Param("id")
	if h.presence != nil {
		members, err := h.presence.OnlineMembers(c.Request.Context(), docID)
		if err == nil {
			c.JSON(http.StatusOK, gin.H{"document_id": docID, "users": members, "source": "redis"})
			return
		}
		log.Printf("[http] online users from redis error (doc=%s): %v", docID, err)
	}
	st, err := h.coord.State(c.Request.Context(), docID)
	if err != nil {
		internalError(c, "online users", err)
		return
	}
	users := make([]cache.PresenceMember, 0, len(st.ActiveEditors))
	for _, p := range st.ActiveEditors {
		users = append(users, cache.PresenceMember{UserID: p.UserID, Username: p.UserName})
	}
	c.JSON(http.StatusOK, gin.H{"document_id": docID, "users": users, "source": "memory"})
}

// Logout 释放调用者持有的全部锁
func (h *Collaboration) Logout(c *gin.Context) {
	u, ok := mustUser(c)
	if !ok {
		return
	}
	n := h.coord.ReleaseAll(c.Request.Context(), u)
	c.JSON(http.StatusOK, gin.H{"released": n})
}
