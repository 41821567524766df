package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	apperrors "github.com/wfunc/bias-game/internal/errors"
	"github.com/wfunc/bias-game/internal/game"
)

// StoredIdentity 客户端保存的身份与令牌
type StoredIdentity struct {
	game.Identity
	Token string `json:"token"`
}

// IdentityStore 客户端本地身份存储。没有身份时 Get 返回 nil。
type IdentityStore interface {
	Get() (*StoredIdentity, error)
	Set(id StoredIdentity) error
	Clear() error
}

// FileIdentityStore 以 JSON 文件保存身份，供非浏览器客户端使用
type FileIdentityStore struct {
	mu   sync.Mutex
	path string
}

// NewFileIdentityStore 创建文件身份存储
func NewFileIdentityStore(path string) *FileIdentityStore {
	return &FileIdentityStore{path: path}
}

// Get 读取身份
func (s *FileIdentityStore) Get() (*StoredIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternal, "读取身份文件失败")
	}
	var id StoredIdentity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrSessionInvalid, "身份文件损坏")
	}
	if id.Empty() {
		return nil, nil
	}
	return &id, nil
}

// Set 保存身份，先写临时文件再改名
func (s *FileIdentityStore) Set(id StoredIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrInternal)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return apperrors.Wrap(err, apperrors.ErrInternal, "创建身份目录失败")
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return apperrors.Wrap(err, apperrors.ErrInternal, "写入身份文件失败")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return apperrors.Wrap(err, apperrors.ErrInternal, "写入身份文件失败")
	}
	return nil
}

// Clear 清除身份
func (s *FileIdentityStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return apperrors.Wrap(err, apperrors.ErrInternal, "删除身份文件失败")
	}
	return nil
}

// MemoryIdentityStore 内存身份存储
type MemoryIdentityStore struct {
	mu sync.Mutex
	id *StoredIdentity
}

// Get 读取身份
func (s *MemoryIdentityStore) Get() (*StoredIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id == nil {
		return nil, nil
	}
	id := *s.id
	return &id, nil
}

// Set 保存身份
func (s *MemoryIdentityStore) Set(id StoredIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = &id
	return nil
}

// Clear 清除身份
func (s *MemoryIdentityStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = nil
	return nil
}

var (
	_ IdentityStore = (*FileIdentityStore)(nil)
	_ IdentityStore = (*MemoryIdentityStore)(nil)
)
