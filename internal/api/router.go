package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/bias-game/internal/config"
	"github.com/wfunc/bias-game/internal/middleware"
	"github.com/wfunc/bias-game/internal/service"
	"github.com/wfunc/bias-game/internal/session"
	ws "github.com/wfunc/bias-game/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Dependencies 路由依赖，DB 为空时健康检查跳过数据库
type Dependencies struct {
	Config   *config.Config
	Services *service.Services
	Hub      *ws.Hub
	Tokens   *session.TokenManager
	DB       *gorm.DB
}

// Router API路由器
type Router struct {
	engine         *gin.Engine
	db             *gorm.DB
	config         *config.Config
	roomHandler    *RoomHandler
	qrHandler      *QRHandler
	wsHandler      *WebSocketHandler
	authMiddleware *middleware.AuthMiddleware
	rateLimiter    *middleware.RateLimiter
	log            *zap.Logger
}

// NewRouter 创建路由器
func NewRouter(deps Dependencies, log *zap.Logger) *Router {
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Default()
	}

	engine := gin.New()

	// 全局中间件
	engine.Use(middleware.RequestID())
	engine.Use(middleware.Recovery())
	engine.Use(middleware.RequestLogger())
	engine.Use(middleware.CORS(cfg.Security.CORS))

	router := &Router{
		engine:         engine,
		db:             deps.DB,
		config:         cfg,
		roomHandler:    NewRoomHandler(deps.Services.Room, log),
		qrHandler:      NewQRHandler(cfg.Server.PublicURL, log),
		wsHandler:      NewWebSocketHandler(deps.Hub, log),
		authMiddleware: middleware.NewAuthMiddleware(deps.Tokens),
		log:            log,
	}
	if cfg.Security.RateLimit.Enabled {
		router.rateLimiter = middleware.NewRateLimiter(cfg.Security.RateLimit)
	}

	router.setupRoutes()
	return router
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	r.engine.GET("/health", r.healthCheck)

	registerOpenAPIRoutes(r.engine)
	registerSwaggerRoutes(r.engine)

	v1 := r.engine.Group("/api/v1")
	if r.rateLimiter != nil {
		v1.Use(r.rateLimiter.Middleware())
	}
	{
		v1.GET("/catalog/categories", r.roomHandler.Categories)

		v1.POST("/rooms", r.roomHandler.Create)
		v1.POST("/rooms/:code/join", r.roomHandler.Join)
		v1.GET("/rooms/:code/qr", r.qrHandler.RoomQR)
		v1.GET("/rooms/:code/results", r.roomHandler.Results)

		v1.POST("/session/resume", r.authMiddleware.RequireSession(), r.roomHandler.Resume)

		// 需要会话令牌且令牌房间与路径一致
		room := v1.Group("/rooms/:code")
		room.Use(r.authMiddleware.RequireSession(), r.authMiddleware.RequireRoomMatch("code"))
		{
			room.GET("", r.roomHandler.Get)
			room.GET("/doc/*path", r.roomHandler.Document)
			room.POST("/leave", r.roomHandler.Leave)

			room.POST("/ready", r.roomHandler.SetReady)
			room.POST("/open", r.roomHandler.SetOpen)
			room.POST("/mode", r.roomHandler.SetGameMode)
			room.POST("/dubito", r.roomHandler.SetDubito)
			room.POST("/max-points", r.roomHandler.SetMaxPoints)
			room.POST("/categories", r.roomHandler.SetCategories)
			room.POST("/order/swap", r.roomHandler.SwapOrder)
			room.POST("/start", r.roomHandler.Start)
			room.POST("/reset", r.roomHandler.Reset)

			turn := room.Group("/turn")
			turn.POST("/guess", r.roomHandler.Guess)
			turn.POST("/answer", r.roomHandler.Answer)
			turn.POST("/decision", r.roomHandler.Decide)
			turn.POST("/vote", r.roomHandler.Vote)
			turn.POST("/tally", r.roomHandler.Tally)
			turn.POST("/next", r.roomHandler.Next)

			room.POST("/cards/discard", r.roomHandler.Discard)
		}

		v1.GET("/ws/online", r.wsHandler.OnlineCount)
	}

	// WebSocket路由
	wsPath := r.config.WebSocket.Path
	if wsPath == "" {
		wsPath = "/ws"
	}
	r.engine.GET(wsPath, r.authMiddleware.RequireSession(), r.wsHandler.RoomWebSocket)

	// 404处理
	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "NOT_FOUND",
			"message": "接口不存在",
		})
	})
}

// healthCheck 健康检查
func (r *Router) healthCheck(c *gin.Context) {
	if r.db != nil {
		sqlDB, err := r.db.DB()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"message": "数据库连接失败",
			})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := sqlDB.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"message": "数据库ping失败",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"message": "服务运行正常",
		"online":  r.wsHandler.hub.GetOnlineCount(),
	})
}

// RateLimiter 返回限流器，未启用时为 nil
func (r *Router) RateLimiter() *middleware.RateLimiter {
	return r.rateLimiter
}

// GetEngine 获取Gin引擎（用于测试）
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
