package repository

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/wfunc/bias-game/internal/errors"
	"github.com/wfunc/bias-game/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RoomRepository 房间文档仓储接口
type RoomRepository interface {
	BaseRepository
	FindByRoomID(ctx context.Context, roomID string) (*models.RoomDocument, error)
	Create(ctx context.Context, doc *models.RoomDocument) error
	CompareAndSwap(ctx context.Context, roomID string, expectVersion int64, status string, document []byte) (int64, error)
	Delete(ctx context.Context, roomID string) error
	Exists(ctx context.Context, roomID string) (bool, error)
	ListIdle(ctx context.Context, before time.Time, limit int) ([]string, error)
	Count(ctx context.Context) (int64, error)
}

// roomRepo 房间文档仓储实现
type roomRepo struct {
	*BaseRepo
}

// NewRoomRepository 创建房间文档仓储
func NewRoomRepository(db *gorm.DB) RoomRepository {
	return &roomRepo{
		BaseRepo: NewBaseRepo(db),
	}
}

// FindByRoomID 根据房间号查找文档
func (r *roomRepo) FindByRoomID(ctx context.Context, roomID string) (*models.RoomDocument, error) {
	var doc models.RoomDocument
	err := r.conn(ctx).Where("room_id = ?", roomID).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.New(apperrors.ErrDocumentNotFound, roomID)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	return &doc, nil
}

// Create 创建房间文档，房间号已存在时返回 ErrRoomExists
func (r *roomRepo) Create(ctx context.Context, doc *models.RoomDocument) error {
	return r.Transaction(ctx, func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.RoomDocument{}).Where("room_id = ?", doc.RoomID).Count(&count).Error; err != nil {
			return apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
		}
		if count > 0 {
			return apperrors.New(apperrors.ErrRoomExists, doc.RoomID)
		}
		if err := tx.Create(doc).Error; err != nil {
			return apperrors.Wrap(err, apperrors.ErrDatabaseInsert)
		}
		return nil
	})
}

// CompareAndSwap 版本号匹配时写入新文档并递增版本，返回新版本号。
// 版本不匹配返回 ErrVersionConflict，文档不存在返回 ErrDocumentNotFound。
func (r *roomRepo) CompareAndSwap(ctx context.Context, roomID string, expectVersion int64, status string, document []byte) (int64, error) {
	newVersion := expectVersion + 1
	err := r.Transaction(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&models.RoomDocument{}).
			Where("room_id = ? AND version = ?", roomID, expectVersion).
			Updates(map[string]interface{}{
				"version":    newVersion,
				"status":     status,
				"document":   datatypes.JSON(document),
				"updated_at": time.Now(),
			})
		if res.Error != nil {
			return apperrors.Wrap(res.Error, apperrors.ErrDatabaseUpdate)
		}
		if res.RowsAffected > 0 {
			return nil
		}

		var count int64
		if err := tx.Model(&models.RoomDocument{}).Where("room_id = ?", roomID).Count(&count).Error; err != nil {
			return apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
		}
		if count == 0 {
			return apperrors.New(apperrors.ErrDocumentNotFound, roomID)
		}
		return apperrors.Newf(apperrors.ErrVersionConflict, "房间 %s 期望版本 %d", roomID, expectVersion)
	})
	if err != nil {
		return 0, err
	}
	return newVersion, nil
}

// Delete 删除房间文档，不存在时不报错
func (r *roomRepo) Delete(ctx context.Context, roomID string) error {
	if err := r.conn(ctx).Where("room_id = ?", roomID).Delete(&models.RoomDocument{}).Error; err != nil {
		return apperrors.Wrap(err, apperrors.ErrDatabaseDelete)
	}
	return nil
}

// Exists 房间文档是否存在
func (r *roomRepo) Exists(ctx context.Context, roomID string) (bool, error) {
	var count int64
	if err := r.conn(ctx).Model(&models.RoomDocument{}).Where("room_id = ?", roomID).Count(&count).Error; err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	return count > 0, nil
}

// ListIdle 最后更新时间早于 before 的房间号
func (r *roomRepo) ListIdle(ctx context.Context, before time.Time, limit int) ([]string, error) {
	var ids []string
	q := r.conn(ctx).Model(&models.RoomDocument{}).
		Where("updated_at < ?", before).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Pluck("room_id", &ids).Error; err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	return ids, nil
}

// Count 房间总数
func (r *roomRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.conn(ctx).Model(&models.RoomDocument{}).Count(&count).Error; err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	return count, nil
}
