package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/bias-game/internal/api"
	"github.com/wfunc/bias-game/internal/catalog"
	"github.com/wfunc/bias-game/internal/config"
	"github.com/wfunc/bias-game/internal/database"
	"github.com/wfunc/bias-game/internal/errors"
	"github.com/wfunc/bias-game/internal/game"
	"github.com/wfunc/bias-game/internal/logger"
	"github.com/wfunc/bias-game/internal/repository"
	"github.com/wfunc/bias-game/internal/service"
	"github.com/wfunc/bias-game/internal/session"
	"github.com/wfunc/bias-game/internal/store"
	ws "github.com/wfunc/bias-game/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Server 服务器实例
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	db         *gorm.DB
	store      *store.RoomStore
	services   *service.Services
	hub        *ws.Hub
	router     *api.Router
	httpServer *http.Server

	// 关闭控制
	shutdownCh chan struct{}
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewServer 创建服务器实例
func NewServer(cfg *config.Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		cfg:        cfg,
		logger:     logger.GetLogger(),
		shutdownCh: make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start 启动服务器
func (s *Server) Start() error {
	s.logger.Info("正在启动 Bias 游戏服务器...",
		zap.String("version", Version),
		zap.String("mode", s.cfg.Server.Mode),
	)

	if err := s.initComponents(); err != nil {
		return errors.Wrap(err, errors.ErrUnknown, "初始化组件失败")
	}

	if err := s.startServices(); err != nil {
		return errors.Wrap(err, errors.ErrUnknown, "启动服务失败")
	}

	// 监听配置变化
	config.Watch(func(newCfg *config.Config) {
		s.logger.Info("配置已更新，正在重新加载...")
		s.reloadConfig(newCfg)
	})

	s.logger.Info("服务器启动成功",
		zap.String("http", s.httpServer.Addr),
		zap.String("public_url", s.cfg.Server.PublicURL),
	)
	return nil
}

// initComponents 初始化组件
func (s *Server) initComponents() error {
	s.logger.Info("初始化组件...")

	if err := s.initStore(); err != nil {
		return err
	}

	rules := game.RulesFromConfig(&s.cfg.Game)
	library := catalog.NewLibrary(
		s.cfg.Game.CatalogDir,
		s.cfg.Game.LegacyCatalogFile,
		s.cfg.Game.Categories,
		s.logger.Named("catalog"),
		catalog.WithCardsPerPlayer(rules.CardsPerPlayer),
	)
	// 启动时加载默认分类，目录有问题时尽早失败
	if _, err := library.Get(nil); err != nil {
		return err
	}

	deps := service.Dependencies{
		Store:   s.store,
		Library: library,
		Tokens:  session.NewTokenManager(s.cfg.Session),
	}
	if s.db != nil {
		deps.Results = repository.NewManager(s.db).GameResult()
	}
	s.services = service.NewServices(deps, &service.Config{
		Rules:           rules,
		RoomIdleTimeout: s.cfg.Game.RoomIdleTimeout,
	}, s.logger.Named("service"))

	s.hub = ws.NewHub(s.services.Room, s.store, ws.OptionsFromConfig(&s.cfg.WebSocket), s.logger.Named("websocket"))

	if s.cfg.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = api.NewRouter(api.Dependencies{
		Config:   s.cfg,
		Services: s.services,
		Hub:      s.hub,
		Tokens:   deps.Tokens,
		DB:       s.db,
	}, s.logger.Named("api"))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:      s.router.GetEngine(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	s.logger.Info("所有组件初始化完成")
	return nil
}

// initStore 初始化房间存储。memory 驱动只用内存，重启后房间丢失。
func (s *Server) initStore() error {
	if s.cfg.Database.Driver == "memory" {
		s.logger.Warn("使用内存存储，房间与对局记录不会持久化")
		s.store = store.NewMemoryStore(s.logger.Named("store"))
		return nil
	}

	s.logger.Info("初始化数据库...")
	if err := database.Init(&s.cfg.Database); err != nil {
		return errors.Wrap(err, errors.ErrDatabaseConnect, "初始化数据库连接失败")
	}

	if s.cfg.Database.AutoMigrate {
		s.logger.Info("执行数据库自动迁移...")
		if err := database.AutoMigrate(); err != nil {
			return errors.Wrap(err, errors.ErrDatabaseConnect, "数据库迁移失败")
		}
	}

	if !database.IsConnected() {
		return errors.New(errors.ErrDatabaseConnect, "数据库连接检查失败")
	}

	s.db = database.GetDB()
	s.store = store.NewGormStore(s.db, s.logger.Named("store"))
	s.logger.Info("数据库初始化完成")
	return nil
}

// startServices 启动服务
func (s *Server) startServices() error {
	s.logger.Info("启动服务...")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run(s.ctx)
	}()

	if s.cfg.Game.RoomIdleTimeout > 0 && s.cfg.Game.CleanupInterval > 0 {
		s.services.Room.StartCleanupTask(s.ctx, s.cfg.Game.CleanupInterval)
	}

	if rl := s.router.RateLimiter(); rl != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ticker := time.NewTicker(5 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-s.ctx.Done():
					return
				case <-ticker.C:
					if n := rl.Cleanup(); n > 0 {
						s.logger.Debug("清理限流记录", zap.Int("count", n))
					}
				}
			}
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP服务异常退出", zap.Error(err))
			s.requestShutdown()
		}
	}()

	s.logger.Info("所有服务启动完成")
	return nil
}

// requestShutdown 由内部错误触发关闭
func (s *Server) requestShutdown() {
	select {
	case <-s.shutdownCh:
	default:
		close(s.shutdownCh)
	}
}

// WaitForShutdown 等待关闭信号
func (s *Server) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh,
		syscall.SIGINT,  // Ctrl+C
		syscall.SIGTERM, // kill命令
	)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		s.logger.Info("收到退出信号", zap.String("signal", sig.String()))
		s.requestShutdown()
	case <-s.shutdownCh:
	}
}

// Shutdown 优雅关闭服务器
func (s *Server) Shutdown() error {
	s.logger.Info("正在优雅关闭服务器...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	// 停止接收新请求
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("HTTP服务关闭失败", zap.Error(err))
	}

	// 取消主上下文，触发所有goroutine退出
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("所有服务已正常关闭")
	case <-shutdownCtx.Done():
		s.logger.Warn("关闭超时，强制退出")
		return errors.New(errors.ErrTimeout, "关闭超时")
	}

	s.closeComponents()
	return nil
}

// closeComponents 关闭组件
func (s *Server) closeComponents() {
	if s.db != nil {
		if err := database.Close(); err != nil {
			s.logger.Error("关闭数据库失败", zap.Error(err))
		}
	}
	s.logger.Info("所有组件已关闭")
}

// reloadConfig 重新加载配置，只有日志级别可以热更新
func (s *Server) reloadConfig(newCfg *config.Config) {
	logger.SetLevel(newCfg.Log.Level)
	s.logger.Info("配置重新加载完成", zap.String("log_level", newCfg.Log.Level))
}
