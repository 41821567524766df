package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/wfunc/bias-game/internal/config"
	"github.com/wfunc/bias-game/internal/logger"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var (
	mu sync.RWMutex
	db *gorm.DB
)

// dialectors 支持的驱动。memory 不在其中，由调用方改用内存存储。
var dialectors = map[string]func(dsn string) (gorm.Dialector, error){
	"mysql":    func(dsn string) (gorm.Dialector, error) { return mysql.Open(dsn), nil },
	"postgres": func(dsn string) (gorm.Dialector, error) { return postgres.Open(dsn), nil },
	"sqlite": func(dsn string) (gorm.Dialector, error) {
		if err := ensureSQLiteDir(dsn); err != nil {
			return nil, err
		}
		return sqlite.Open(dsn), nil
	},
}

func normalizeDriver(driver string) string {
	switch d := strings.ToLower(driver); d {
	case "postgresql", "pg":
		return "postgres"
	case "sqlite3":
		return "sqlite"
	default:
		return d
	}
}

// Init 初始化全局数据库连接
func Init(cfg *config.DatabaseConfig) error {
	conn, err := Open(cfg, logger.Module("database"))
	if err != nil {
		return err
	}
	mu.Lock()
	db = conn
	mu.Unlock()
	return nil
}

// Open 按配置打开数据库
func Open(cfg *config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	open, ok := dialectors[normalizeDriver(cfg.Driver)]
	if !ok {
		return nil, fmt.Errorf("不支持的数据库驱动: %s", cfg.Driver)
	}
	dialector, err := open(cfg.DSN)
	if err != nil {
		return nil, err
	}

	gl := NewGormLogger(log, parseLogLevel(cfg.LogLevel))
	if cfg.SlowThreshold > 0 {
		gl.SlowThreshold = cfg.SlowThreshold
	}
	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gl,
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("获取数据库实例失败: %w", err)
	}
	if conn.Dialector.Name() == "sqlite" {
		// SQLite 单写者，WAL 下读写互不阻塞
		conn.Exec("PRAGMA journal_mode = WAL")
		conn.Exec("PRAGMA busy_timeout = 5000")
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	log.Info("数据库连接成功",
		zap.String("driver", conn.Dialector.Name()),
		zap.Int("max_open", cfg.MaxOpenConns),
	)
	return conn, nil
}

// ensureSQLiteDir 文件库的目录不存在时创建
func ensureSQLiteDir(dsn string) error {
	path, _, _ := strings.Cut(dsn, "?")
	path = strings.TrimPrefix(path, "file:")
	if path == "" || strings.Contains(path, ":memory:") {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("创建数据库目录失败: %w", err)
	}
	return nil
}

// Close 关闭全局数据库连接
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	db = nil
	return sqlDB.Close()
}

// GetDB 获取全局数据库实例，未初始化时为 nil
func GetDB() *gorm.DB {
	mu.RLock()
	defer mu.RUnlock()
	return db
}

// IsConnected 全局连接是否可用
func IsConnected() bool {
	conn := GetDB()
	if conn == nil {
		return false
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return false
	}
	return sqlDB.Ping() == nil
}
