package service

import (
	"time"

	"github.com/wfunc/bias-game/internal/catalog"
	"github.com/wfunc/bias-game/internal/game"
	"github.com/wfunc/bias-game/internal/repository"
	"github.com/wfunc/bias-game/internal/session"
	"github.com/wfunc/bias-game/internal/store"
	"go.uber.org/zap"
)

// Config 服务配置
type Config struct {
	Rules           game.Rules
	RoomIdleTimeout time.Duration // 0 表示不清理
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Rules:           game.DefaultRules(),
		RoomIdleTimeout: 6 * time.Hour,
	}
}

// Dependencies 服务依赖
type Dependencies struct {
	Store   store.Store
	Library *catalog.Library
	Results repository.GameResultRepository // 可为 nil，不归档对局
	Tokens  *session.TokenManager
}

// Services 服务集合
type Services struct {
	Room RoomService
}

// NewServices 创建服务集合
func NewServices(deps Dependencies, config *Config, log *zap.Logger) *Services {
	if config == nil {
		config = DefaultConfig()
	}
	return &Services{
		Room: NewRoomService(deps, config, log),
	}
}
