package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	apperrors "github.com/wfunc/bias-game/internal/errors"
	"github.com/wfunc/bias-game/internal/game"
	"github.com/wfunc/bias-game/internal/session"
)

const (
	identityKey = "identity"
	tokenKey    = "token"
)

// AuthMiddleware 会话令牌认证中间件
type AuthMiddleware struct {
	tokens *session.TokenManager
}

// NewAuthMiddleware 创建认证中间件
func NewAuthMiddleware(tokens *session.TokenManager) *AuthMiddleware {
	return &AuthMiddleware{
		tokens: tokens,
	}
}

// RequireSession 需要有效会话令牌
func (m *AuthMiddleware) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := m.extractToken(c)
		if token == "" {
			Abort(c, apperrors.New(apperrors.ErrAuthentication, "缺少会话令牌"))
			return
		}

		claims, err := m.tokens.Parse(token)
		if err != nil {
			Abort(c, err)
			return
		}

		c.Set(identityKey, claims.Identity())
		c.Set(tokenKey, token)
		c.Next()
	}
}

// RequireRoomMatch 路径中的房间号必须是令牌所属房间
func (m *AuthMiddleware) RequireRoomMatch(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := GetIdentity(c)
		if !ok {
			Abort(c, apperrors.New(apperrors.ErrAuthentication))
			return
		}
		if !strings.EqualFold(c.Param(param), id.RoomID) {
			Abort(c, apperrors.New(apperrors.ErrPermissionDenied, "令牌不属于该房间"))
			return
		}
		c.Next()
	}
}

// extractToken 从请求中提取令牌
func (m *AuthMiddleware) extractToken(c *gin.Context) string {
	// 1. Authorization: Bearer <token>
	bearerToken := c.GetHeader("Authorization")
	if bearerToken != "" {
		parts := strings.Split(bearerToken, " ")
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			return parts[1]
		}
	}

	// 2. X-Session-Token
	if token := c.GetHeader("X-Session-Token"); token != "" {
		return token
	}

	// 3. 查询参数，浏览器建立WebSocket时无法设置请求头
	if token := c.Query("token"); token != "" {
		return token
	}

	return ""
}

// GetIdentity 从上下文获取玩家身份
func GetIdentity(c *gin.Context) (game.Identity, bool) {
	if v, exists := c.Get(identityKey); exists {
		if id, ok := v.(game.Identity); ok {
			return id, true
		}
	}
	return game.Identity{}, false
}

// GetToken 从上下文获取原始令牌
func GetToken(c *gin.Context) (string, bool) {
	if v, exists := c.Get(tokenKey); exists {
		if t, ok := v.(string); ok {
			return t, true
		}
	}
	return "", false
}
