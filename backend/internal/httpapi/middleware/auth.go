package middleware

import (
	"net/http"
	"strings"

	"collab-session/backend/internal/authservice"

	"github.com/gin-gonic/gin"
)

func unauthenticated(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHENTICATED", "message": msg})
}

// tokenFromRequest Authorization 头优先；WebSocket 握手带不了头，退回 ?token=
func tokenFromRequest(c *gin.Context) string {
	if tok := extractBearer(c.Request.Header.Get("Authorization")); tok != "" {
		return tok
	}
	return strings.TrimSpace(c.Query("token"))
}

// AuthMiddleware 本地校验 access token，写入 userId / username / role / realName
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := tokenFromRequest(c)
		if raw == "" {
			unauthenticated(c, "Authorization header is missing or invalid")
			return
		}
		claims, err := authservice.ParseToken(raw)
		if err != nil {
			unauthenticated(c, "invalid token")
			return
		}
		// refresh token 不能直接访问接口
		if claims.Type != authservice.TokenAccess {
			unauthenticated(c, "access token required")
			return
		}

		c.Set("userId", claims.UserID)
		c.Set("username", claims.Username)
		c.Set("role", strings.ToLower(claims.Role))
		c.Set("realName", claims.RealName)
		c.Next()
	}
}

// RequireRole 必须在 AuthMiddleware 之后
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString("role")
		for _, r := range roles {
			if strings.EqualFold(r, role) {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"code":    "FORBIDDEN",
			"message": "role " + role + " not allowed",
		})
	}
}

// extractBearer 前缀大小写不敏感
func extractBearer(header string) string {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}
