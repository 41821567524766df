// Package session 负责玩家身份令牌与本地身份存储。
package session

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/wfunc/bias-game/internal/config"
	apperrors "github.com/wfunc/bias-game/internal/errors"
	"github.com/wfunc/bias-game/internal/game"
)

// Claims 会话令牌声明
type Claims struct {
	PlayerID   string `json:"pid"`
	RoomID     string `json:"rid"`
	PlayerName string `json:"name"`
	jwt.RegisteredClaims
}

// Identity 令牌中的身份
func (c *Claims) Identity() game.Identity {
	return game.Identity{PlayerID: c.PlayerID, PlayerName: c.PlayerName, RoomID: c.RoomID}
}

// TokenManager 会话令牌管理器
type TokenManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager 创建令牌管理器。未配置密钥时使用随机密钥，重启后旧令牌失效。
func NewTokenManager(cfg config.SessionConfig) *TokenManager {
	secret := cfg.Secret
	if secret == "" {
		secret = uuid.NewString()
	}
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = "bias-game"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &TokenManager{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

// TTL 令牌有效期
func (m *TokenManager) TTL() time.Duration {
	return m.ttl
}

// Issue 为身份签发令牌
func (m *TokenManager) Issue(id game.Identity) (string, time.Time, error) {
	if id.Empty() {
		return "", time.Time{}, apperrors.New(apperrors.ErrInvalidParam, "身份为空")
	}
	now := m.now()
	expiresAt := now.Add(m.ttl)
	claims := &Claims{
		PlayerID:   id.PlayerID,
		RoomID:     id.RoomID,
		PlayerName: id.PlayerName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    m.issuer,
			Subject:   id.PlayerID,
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, apperrors.Wrap(err, apperrors.ErrInternal, "签发令牌失败")
	}
	return token, expiresAt, nil
}

// Parse 校验并解析令牌
func (m *TokenManager) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperrors.New(apperrors.ErrTokenExpired).WithCause(err)
		}
		return nil, apperrors.New(apperrors.ErrTokenInvalid).WithCause(err)
	}
	if !token.Valid || claims.PlayerID == "" || claims.RoomID == "" {
		return nil, apperrors.New(apperrors.ErrTokenInvalid, "令牌缺少身份")
	}
	return claims, nil
}
