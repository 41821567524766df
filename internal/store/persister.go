package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	apperrors "github.com/wfunc/bias-game/internal/errors"
	"github.com/wfunc/bias-game/internal/models"
	"github.com/wfunc/bias-game/internal/repository"
)

// Persister 房间文档的底层读写，带版本号
type Persister interface {
	Load(ctx context.Context, roomID string) (*models.Room, error)
	Insert(ctx context.Context, room *models.Room) error
	// CompareAndSwap 仅当存储中的版本等于 room.Version 时写入，成功后 room.Version 递增
	CompareAndSwap(ctx context.Context, room *models.Room) error
	Remove(ctx context.Context, roomID string) error
	Exists(ctx context.Context, roomID string) (bool, error)
	ListIdle(ctx context.Context, before time.Time) ([]string, error)
}

func encodeRoom(room *models.Room) ([]byte, error) {
	data, err := json.Marshal(room)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternal, "序列化房间失败")
	}
	return data, nil
}

func decodeRoom(data []byte) (*models.Room, error) {
	var room models.Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternal, "反序列化房间失败")
	}
	if room.Players == nil {
		room.Players = map[string]*models.Player{}
	}
	return &room, nil
}

// MemoryPersister 内存持久化，用于测试和 memory 驱动
type MemoryPersister struct {
	mu    sync.RWMutex
	rooms map[string]memoryEntry
}

type memoryEntry struct {
	data      []byte
	version   int64
	updatedAt time.Time
}

// NewMemoryPersister 创建内存持久化器
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{rooms: make(map[string]memoryEntry)}
}

// Load 加载房间
func (p *MemoryPersister) Load(_ context.Context, roomID string) (*models.Room, error) {
	p.mu.RLock()
	e, ok := p.rooms[roomID]
	p.mu.RUnlock()
	if !ok {
		return nil, apperrors.New(apperrors.ErrDocumentNotFound, roomID)
	}
	room, err := decodeRoom(e.data)
	if err != nil {
		return nil, err
	}
	room.Version = e.version
	return room, nil
}

// Insert 插入新房间
func (p *MemoryPersister) Insert(_ context.Context, room *models.Room) error {
	room.Version = 1
	data, err := encodeRoom(room)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.rooms[room.ID]; ok {
		return apperrors.New(apperrors.ErrRoomExists, room.ID)
	}
	p.rooms[room.ID] = memoryEntry{data: data, version: 1, updatedAt: time.Now()}
	return nil
}

// CompareAndSwap 版本校验后写入
func (p *MemoryPersister) CompareAndSwap(_ context.Context, room *models.Room) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.rooms[room.ID]
	if !ok {
		return apperrors.New(apperrors.ErrDocumentNotFound, room.ID)
	}
	if e.version != room.Version {
		return apperrors.Newf(apperrors.ErrVersionConflict, "房间 %s 期望版本 %d，实际 %d", room.ID, room.Version, e.version)
	}
	room.Version++
	data, err := encodeRoom(room)
	if err != nil {
		room.Version--
		return err
	}
	p.rooms[room.ID] = memoryEntry{data: data, version: room.Version, updatedAt: time.Now()}
	return nil
}

// Remove 删除房间
func (p *MemoryPersister) Remove(_ context.Context, roomID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.rooms, roomID)
	return nil
}

// Exists 房间是否存在
func (p *MemoryPersister) Exists(_ context.Context, roomID string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.rooms[roomID]
	return ok, nil
}

// ListIdle 最后更新早于 before 的房间
func (p *MemoryPersister) ListIdle(_ context.Context, before time.Time) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var ids []string
	for id, e := range p.rooms {
		if e.updatedAt.Before(before) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// touch 修改更新时间，测试用
func (p *MemoryPersister) touch(roomID string, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.rooms[roomID]; ok {
		e.updatedAt = at
		p.rooms[roomID] = e
	}
}

// DatabasePersister 基于房间文档仓储的持久化
type DatabasePersister struct {
	repo repository.RoomRepository
}

// NewDatabasePersister 创建数据库持久化器
func NewDatabasePersister(repo repository.RoomRepository) *DatabasePersister {
	return &DatabasePersister{repo: repo}
}

// Load 加载房间
func (p *DatabasePersister) Load(ctx context.Context, roomID string) (*models.Room, error) {
	doc, err := p.repo.FindByRoomID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	room, err := decodeRoom(doc.Document)
	if err != nil {
		return nil, err
	}
	room.Version = doc.Version
	return room, nil
}

// Insert 插入新房间
func (p *DatabasePersister) Insert(ctx context.Context, room *models.Room) error {
	room.Version = 1
	data, err := encodeRoom(room)
	if err != nil {
		return err
	}
	return p.repo.Create(ctx, &models.RoomDocument{
		RoomID:   room.ID,
		Status:   string(room.Config.Status),
		Version:  1,
		Document: data,
	})
}

// CompareAndSwap 版本校验后写入
func (p *DatabasePersister) CompareAndSwap(ctx context.Context, room *models.Room) error {
	expect := room.Version
	room.Version = expect + 1
	data, err := encodeRoom(room)
	if err != nil {
		room.Version = expect
		return err
	}
	if _, err := p.repo.CompareAndSwap(ctx, room.ID, expect, string(room.Config.Status), data); err != nil {
		room.Version = expect
		return err
	}
	return nil
}

// Remove 删除房间
func (p *DatabasePersister) Remove(ctx context.Context, roomID string) error {
	return p.repo.Delete(ctx, roomID)
}

// Exists 房间是否存在
func (p *DatabasePersister) Exists(ctx context.Context, roomID string) (bool, error) {
	return p.repo.Exists(ctx, roomID)
}

// ListIdle 最后更新早于 before 的房间
func (p *DatabasePersister) ListIdle(ctx context.Context, before time.Time) ([]string, error) {
	return p.repo.ListIdle(ctx, before, 0)
}
