package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Healthz pingRedis 为 nil 表示未配置 Redis
func Healthz(pingRedis func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		redis := "disabled"
		if pingRedis != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
			defer cancel()
			redis = "ok"
			if err := pingRedis(ctx); err != nil {
				redis = "down"
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "redis": redis})
	}
}
