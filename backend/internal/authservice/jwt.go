package authservice

import (
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	TokenAccess  = "access"
	TokenRefresh = "refresh"
)

type Claims struct {
	UserID   string `json:"sub"`
	Username string `json:"username"`
	RealName string `json:"name,omitempty"`
	Role     string `json:"role"`
	Type     string `json:"typ"`
	jwt.RegisteredClaims
}

var (
	secretMu sync.RWMutex
	secret   []byte
)

// SetSecret 由配置注入，空串表示回退到 JWT_SECRET 环境变量
func SetSecret(s string) {
	secretMu.Lock()
	defer secretMu.Unlock()
	secret = []byte(s)
}

func getSecret() []byte {
	secretMu.RLock()
	s := secret
	secretMu.RUnlock()
	if len(s) > 0 {
		return s
	}
	env := os.Getenv("JWT_SECRET")
	if env == "" {
		env = "dev-secret"
	}
	return []byte(env)
}

func sign(a Account, typ string, ttl time.Duration) (string, time.Time, error) {
	expiresAt := time.Now().Add(ttl)
	// jwt.NewWithClaims接收指针作为参数，需要使用&取地址
	claims := &Claims{
		UserID:   a.ID,
		Username: a.Username,
		RealName: a.RealName,
		Role:     a.Role,
		Type:     typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(getSecret())
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

func SignAccessToken(a Account, ttl time.Duration) (string, time.Time, error) {
	return sign(a, TokenAccess, ttl)
}

func SignRefreshToken(a Account, ttl time.Duration) (string, time.Time, error) {
	return sign(a, TokenRefresh, ttl)
}

// 解析任意 token（访问/刷新），返回 Claims
func ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return getSecret(), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, jwt.ErrTokenInvalidClaims
}

// Account 从 claims 还原出的用户（不含密码）
func (c *Claims) Account() Account {
	return Account{ID: c.UserID, Username: c.Username, RealName: c.RealName, Role: c.Role}
}
