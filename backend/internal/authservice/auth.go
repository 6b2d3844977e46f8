package authservice

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	DefaultAccessTTL  = 30 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

type loginReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RefreshReq struct {
	RefreshToken string `json:"refreshToken"`
}

func userJSON(a Account) gin.H {
	return gin.H{
		"id":        a.ID,
		"username":  a.Username,
		"real_name": a.RealName,
		"role":      a.Role,
	}
}

// Login POST /v1/auth/login {"username": "...", "password": "..."}
func Login(c *gin.Context, dir *Directory, accessTTL, refreshTTL time.Duration) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		// http.StatusBadRequest:错误码400
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "JSON格式错误",
			"details": err.Error(),
		})
		return
	}

	a, err := dir.Authenticate(req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "用户名或密码错误"})
		return
	}

	accessToken, _, err := SignAccessToken(a, accessTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "生成访问令牌失败"})
		return
	}
	refreshToken, _, err := SignRefreshToken(a, refreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "生成刷新令牌失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"accessToken":  accessToken,
		"refreshToken": refreshToken,
		"expiresIn":    int(accessTTL.Seconds()),
		"tokenType":    "Bearer",
		"user":         userJSON(a),
	})
}

// Refresh 校验 typ == "refresh" 后重新签发 access
func Refresh(c *gin.Context, dir *Directory, accessTTL time.Duration) {
	var req RefreshReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "JSON格式错误",
			"details": err.Error(),
		})
		return
	}

	claims, err := ParseToken(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "refreshToken 无效"})
		return
	}
	if claims.Type != TokenRefresh {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "refreshToken 类型错误"})
		return
	}
	// 账号被移出配置后刷新失效
	a, err := dir.Lookup(claims.Username)
	if err != nil || a.ID != claims.UserID {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "用户不存在"})
		return
	}

	accessToken, _, err := SignAccessToken(a, accessTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "更新访问令牌失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"accessToken": accessToken,
		"expiresIn":   int(accessTTL.Seconds()),
		"tokenType":   "Bearer",
		"user":        userJSON(a),
	})
}
