package httpapi

import (
	"context"
	"time"

	"collab-session/backend/internal/authservice"
	"collab-session/backend/internal/cache"
	"collab-session/backend/internal/collab"
	"collab-session/backend/internal/httpapi/handlers"
	"collab-session/backend/internal/httpapi/middleware"
	"collab-session/backend/internal/ws"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type Deps struct {
	Coordinator *collab.Coordinator
	Presence    cache.PresenceCache
	Sem         *collab.SemaphoreControl
	WS          *ws.Manager
	Directory   *authservice.Directory
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
	// PingRedis 为 nil 表示未启用 Redis
	PingRedis func(ctx context.Context) error
	// Quiet 测试时不挂 gin.Logger
	Quiet bool
}

func NewRouter(d Deps) *gin.Engine {
	if d.AccessTTL <= 0 {
		d.AccessTTL = authservice.DefaultAccessTTL
	}
	if d.RefreshTTL <= 0 {
		d.RefreshTTL = authservice.DefaultRefreshTTL
	}

	r := gin.New()
	if !d.Quiet {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	// 添加全局 CORS 中间件
	r.Use(cors.New(cors.Config{
		// 允许任意来源（包含 file:// 场景的 Origin: null）；比 AllowOrigins:["*"] 更兼容
		AllowOriginFunc:  func(origin string) bool { return true },
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/healthz", handlers.Healthz(d.PingRedis))

	r.POST("/v1/auth/login", func(c *gin.Context) {
		authservice.Login(c, d.Directory, d.AccessTTL, d.RefreshTTL)
	})
	r.POST("/v1/auth/refresh", func(c *gin.Context) {
		authservice.Refresh(c, d.Directory, d.AccessTTL)
	})

	auth := middleware.AuthMiddleware()

	collabGroup := r.Group("/v1/collaboration", auth)
	handlers.NewCollaboration(d.Coordinator, d.Presence, d.Sem).Register(collabGroup)

	if d.WS != nil {
		notify := handlers.NewNotifications(d.WS)
		notifyGroup := r.Group("/v1/notifications", auth)
		notifyGroup.GET("", notify.List)
		notifyGroup.DELETE("", notify.Clear)
		notifyGroup.POST("/publish", middleware.RequireRole("admin", "reviewer"), notify.Publish)

		r.GET("/ws/notifications", auth, d.WS.WebSocketConnect)
	}
	return r
}
