package database

import (
	"context"
	"fmt"

	"github.com/wfunc/bias-game/internal/logger"
	"github.com/wfunc/bias-game/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// migrationModels 需要迁移的模型
var migrationModels = []any{
	&models.RoomDocument{},
	&models.GameResult{},
}

// AutoMigrate 迁移全局数据库
func AutoMigrate() error {
	conn := GetDB()
	if conn == nil {
		return fmt.Errorf("数据库未初始化")
	}
	return Migrate(conn, logger.Module("database"))
}

// Migrate 迁移房间文档与对局归档表。SQLite 文件库在迁移期间持有进程间锁。
func Migrate(db *gorm.DB, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}

	if path := sqliteFilePath(db); path != "" {
		cleanupStaleLock(path, log)
		lockFile, err := acquireMigrationLock(path, log)
		if err != nil {
			log.Error("无法获取迁移锁", zap.Error(err))
			return fmt.Errorf("获取迁移锁失败: %w", err)
		}
		defer releaseMigrationLock(lockFile, log)
	}

	log.Info("开始数据库迁移...")
	for _, model := range migrationModels {
		if err := db.AutoMigrate(model); err != nil {
			log.Error("迁移失败",
				zap.String("model", fmt.Sprintf("%T", model)),
				zap.Error(err),
			)
			return err
		}
		log.Debug("迁移成功", zap.String("model", fmt.Sprintf("%T", model)))
	}
	log.Info("数据库迁移完成")
	return nil
}

// DropAllTables 删除所有表，仅用于测试与重建
func DropAllTables(db *gorm.DB) error {
	tx := unprepared(db)
	for i := len(migrationModels) - 1; i >= 0; i-- {
		if err := tx.Migrator().DropTable(migrationModels[i]); err != nil {
			return err
		}
	}
	return nil
}

// unprepared 返回绕过预编译缓存的会话。
// SQLite 中未释放的预编译语句会让 DROP TABLE 报 table is locked，先同步关闭缓存的语句。
func unprepared(db *gorm.DB) *gorm.DB {
	pdb, ok := db.ConnPool.(*gorm.PreparedStmtDB)
	if !ok {
		return db
	}

	pdb.Mux.Lock()
	for query, stmt := range pdb.Stmts {
		if stmt != nil && stmt.Stmt != nil {
			_ = stmt.Close()
		}
		delete(pdb.Stmts, query)
	}
	pdb.PreparedSQL = pdb.PreparedSQL[:0]
	pdb.Mux.Unlock()

	// WithContext 复制 Statement，替换连接池不影响原会话
	tx := db.WithContext(context.Background())
	tx.Statement.ConnPool = pdb.ConnPool
	return tx
}
