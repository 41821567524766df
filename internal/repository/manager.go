package repository

import (
	"context"
	"sync"

	"gorm.io/gorm"
)

// Manager 仓储管理器，提供所有仓储的统一访问接口
type Manager struct {
	db *gorm.DB

	// 仓储实例（使用懒加载）
	roomOnce sync.Once
	room     RoomRepository

	gameResultOnce sync.Once
	gameResult     GameResultRepository
}

// NewManager 创建仓储管理器
func NewManager(db *gorm.DB) *Manager {
	return &Manager{db: db}
}

// GetDB 获取数据库实例
func (m *Manager) GetDB() *gorm.DB {
	return m.db
}

// Room 获取房间文档仓储
func (m *Manager) Room() RoomRepository {
	m.roomOnce.Do(func() {
		m.room = NewRoomRepository(m.db)
	})
	return m.room
}

// GameResult 获取对局归档仓储
func (m *Manager) GameResult() GameResultRepository {
	m.gameResultOnce.Do(func() {
		m.gameResult = NewGameResultRepository(m.db)
	})
	return m.gameResult
}

// WithTx 在事务中执行，fn 收到绑定到该事务的管理器
func (m *Manager) WithTx(ctx context.Context, fn func(tx *Manager) error) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewManager(tx))
	})
}
