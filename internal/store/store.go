// Package store 提供房间文档的路径寻址存储：原子读-改-写、乐观版本校验与变更订阅。
package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	apperrors "github.com/wfunc/bias-game/internal/errors"
	"github.com/wfunc/bias-game/internal/models"
	"github.com/wfunc/bias-game/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MaxConflictRetries 版本冲突时的最大重试次数
const MaxConflictRetries = 3

// Listener 房间变更回调，房间被删除时 room 为 nil。
// 回调在房间锁内按提交顺序调用，不能阻塞，也不能回调同一房间的写操作。
type Listener func(roomID string, room *models.Room)

// Store 房间文档存储
type Store interface {
	GetDoc(ctx context.Context, path string) (json.RawMessage, error)
	SetDoc(ctx context.Context, path string, value any) error
	PatchDoc(ctx context.Context, path string, fields map[string]any) error
	AppendToList(ctx context.Context, path string, value any) error
	Exists(ctx context.Context, path string) (bool, error)
	Delete(ctx context.Context, path string) error
	Subscribe(roomID string, fn Listener) (unsubscribe func())

	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
	CreateRoom(ctx context.Context, room *models.Room) error
	UpdateRoom(ctx context.Context, roomID string, fn func(room *models.Room) error) (*models.Room, error)
	DeleteRoom(ctx context.Context, roomID string) error
	ListIdle(ctx context.Context, before time.Time) ([]string, error)
}

// RoomStore Store 的实现，底层由 Persister 决定
type RoomStore struct {
	persister Persister
	logger    *zap.Logger
	locks     *keyedMutex

	subMu  sync.RWMutex
	subs   map[string]map[uint64]Listener
	nextID uint64
}

var _ Store = (*RoomStore)(nil)

// NewRoomStore 创建房间存储
func NewRoomStore(p Persister, logger *zap.Logger) *RoomStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoomStore{
		persister: p,
		logger:    logger,
		locks:     newKeyedMutex(),
		subs:      make(map[string]map[uint64]Listener),
	}
}

// NewMemoryStore 内存存储
func NewMemoryStore(logger *zap.Logger) *RoomStore {
	return NewRoomStore(NewMemoryPersister(), logger)
}

// NewGormStore 数据库存储
func NewGormStore(db *gorm.DB, logger *zap.Logger) *RoomStore {
	return NewRoomStore(NewDatabasePersister(repository.NewRoomRepository(db)), logger)
}

func roomNotFound(roomID string, cause error) error {
	if apperrors.Is(cause, apperrors.ErrDocumentNotFound) {
		return apperrors.New(apperrors.ErrRoomNotFound, roomID).WithCause(cause)
	}
	return cause
}

// GetRoom 读取房间，不存在时返回 ErrRoomNotFound
func (s *RoomStore) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	room, err := s.persister.Load(ctx, roomID)
	if err != nil {
		return nil, roomNotFound(roomID, err)
	}
	return room, nil
}

// CreateRoom 创建房间，房间号已存在时返回 ErrRoomExists
func (s *RoomStore) CreateRoom(ctx context.Context, room *models.Room) error {
	unlock := s.locks.lock(room.ID)
	defer unlock()

	if err := s.persister.Insert(ctx, room); err != nil {
		return err
	}
	s.logger.Debug("房间已创建", zap.String("room_id", room.ID))
	s.notify(room.ID, room)
	return nil
}

// UpdateRoom 原子地读取-修改-写回房间。fn 返回错误时文档保持不变；
// 修改后没有玩家时删除房间并返回 nil。
func (s *RoomStore) UpdateRoom(ctx context.Context, roomID string, fn func(room *models.Room) error) (*models.Room, error) {
	unlock := s.locks.lock(roomID)
	defer unlock()
	return s.updateLocked(ctx, roomID, fn)
}

func (s *RoomStore) updateLocked(ctx context.Context, roomID string, fn func(room *models.Room) error) (*models.Room, error) {
	var lastErr error
	for attempt := 0; attempt <= MaxConflictRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCanceled)
		}

		room, err := s.persister.Load(ctx, roomID)
		if err != nil {
			return nil, roomNotFound(roomID, err)
		}
		if err := fn(room); err != nil {
			return nil, err
		}

		if len(room.Players) == 0 {
			if err := s.persister.Remove(ctx, roomID); err != nil {
				return nil, err
			}
			s.logger.Info("房间已无玩家，删除房间", zap.String("room_id", roomID))
			s.notify(roomID, nil)
			return nil, nil
		}

		err = s.persister.CompareAndSwap(ctx, room)
		if err == nil {
			s.notify(roomID, room)
			return room, nil
		}
		if !apperrors.Is(err, apperrors.ErrVersionConflict) {
			return nil, roomNotFound(roomID, err)
		}
		lastErr = err
		s.logger.Warn("房间版本冲突，重试",
			zap.String("room_id", roomID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return nil, lastErr
}

// DeleteRoom 删除房间
func (s *RoomStore) DeleteRoom(ctx context.Context, roomID string) error {
	unlock := s.locks.lock(roomID)
	defer unlock()

	if err := s.persister.Remove(ctx, roomID); err != nil {
		return err
	}
	s.notify(roomID, nil)
	return nil
}

// ListIdle 最后更新早于 before 的房间
func (s *RoomStore) ListIdle(ctx context.Context, before time.Time) ([]string, error) {
	return s.persister.ListIdle(ctx, before)
}

// GetDoc 读取路径上的值
func (s *RoomStore) GetDoc(ctx context.Context, path string) (json.RawMessage, error) {
	roomID, segs, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	tree, err := toTree(room)
	if err != nil {
		return nil, err
	}
	node, ok := lookup(tree, segs)
	if !ok {
		return nil, apperrors.New(apperrors.ErrDocumentNotFound, path)
	}
	data, err := json.Marshal(node)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternal)
	}
	return data, nil
}

// Exists 路径是否存在
func (s *RoomStore) Exists(ctx context.Context, path string) (bool, error) {
	roomID, segs, err := parsePath(path)
	if err != nil {
		return false, err
	}
	if len(segs) == 0 {
		return s.persister.Exists(ctx, roomID)
	}
	_, err = s.GetDoc(ctx, path)
	switch {
	case err == nil:
		return true, nil
	case apperrors.Is(err, apperrors.ErrDocumentNotFound), apperrors.Is(err, apperrors.ErrRoomNotFound):
		return false, nil
	default:
		return false, err
	}
}

// SetDoc 写入路径上的值。写房间根且房间不存在时创建房间。
func (s *RoomStore) SetDoc(ctx context.Context, path string, value any) error {
	roomID, segs, err := parsePath(path)
	if err != nil {
		return err
	}
	tv, err := toTree(value)
	if err != nil {
		return err
	}

	if len(segs) == 0 {
		obj, ok := tv.(map[string]any)
		if !ok {
			return apperrors.New(apperrors.ErrValidation, "房间文档必须是对象")
		}
		obj["id"] = roomID
		room, err := roomFromTree(obj)
		if err != nil {
			return err
		}
		unlock := s.locks.lock(roomID)
		defer unlock()
		exists, err := s.persister.Exists(ctx, roomID)
		if err != nil {
			return err
		}
		if !exists {
			if err := s.persister.Insert(ctx, room); err != nil {
				return err
			}
			s.notify(roomID, room)
			return nil
		}
		_, err = s.updateLocked(ctx, roomID, func(cur *models.Room) error {
			room.Version = cur.Version
			*cur = *room
			return nil
		})
		return err
	}

	return s.mutateTree(ctx, roomID, func(tree map[string]any) error {
		return setAt(tree, segs, tv)
	})
}

// PatchDoc 合并字段到路径上的对象
func (s *RoomStore) PatchDoc(ctx context.Context, path string, fields map[string]any) error {
	roomID, segs, err := parsePath(path)
	if err != nil {
		return err
	}
	return s.mutateTree(ctx, roomID, func(tree map[string]any) error {
		return patchAt(tree, segs, fields)
	})
}

// AppendToList 原子地向路径上的列表追加一个值
func (s *RoomStore) AppendToList(ctx context.Context, path string, value any) error {
	roomID, segs, err := parsePath(path)
	if err != nil {
		return err
	}
	tv, err := toTree(value)
	if err != nil {
		return err
	}
	return s.mutateTree(ctx, roomID, func(tree map[string]any) error {
		return appendAt(tree, segs, tv)
	})
}

// Delete 删除路径。路径为房间根时删除整个房间。
func (s *RoomStore) Delete(ctx context.Context, path string) error {
	roomID, segs, err := parsePath(path)
	if err != nil {
		return err
	}
	if len(segs) == 0 {
		return s.DeleteRoom(ctx, roomID)
	}
	return s.mutateTree(ctx, roomID, func(tree map[string]any) error {
		return deleteAt(tree, segs)
	})
}

// mutateTree 以 JSON 树形式修改房间，并保持 UpdateRoom 的原子性与删除规则
func (s *RoomStore) mutateTree(ctx context.Context, roomID string, fn func(tree map[string]any) error) error {
	_, err := s.UpdateRoom(ctx, roomID, func(room *models.Room) error {
		version := room.Version
		t, err := toTree(room)
		if err != nil {
			return err
		}
		tree := t.(map[string]any)
		if err := fn(tree); err != nil {
			return err
		}
		tree["id"] = roomID
		updated, err := roomFromTree(tree)
		if err != nil {
			return err
		}
		updated.Version = version
		*room = *updated
		return nil
	})
	return err
}

// Subscribe 订阅房间变更，返回取消函数
func (s *RoomStore) Subscribe(roomID string, fn Listener) func() {
	s.subMu.Lock()
	s.nextID++
	id := s.nextID
	if s.subs[roomID] == nil {
		s.subs[roomID] = make(map[uint64]Listener)
	}
	s.subs[roomID][id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			delete(s.subs[roomID], id)
			if len(s.subs[roomID]) == 0 {
				delete(s.subs, roomID)
			}
		})
	}
}

// SubscriberCount 房间订阅者数量
func (s *RoomStore) SubscriberCount(roomID string) int {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	return len(s.subs[roomID])
}

func (s *RoomStore) notify(roomID string, room *models.Room) {
	s.subMu.RLock()
	listeners := make([]Listener, 0, len(s.subs[roomID]))
	for _, fn := range s.subs[roomID] {
		listeners = append(listeners, fn)
	}
	s.subMu.RUnlock()

	for _, fn := range listeners {
		fn(roomID, room.Clone())
	}
}

// keyedMutex 按房间号加锁，无人使用时回收
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
