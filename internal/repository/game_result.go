package repository

import (
	"context"

	apperrors "github.com/wfunc/bias-game/internal/errors"
	"github.com/wfunc/bias-game/internal/models"
	"gorm.io/gorm"
)

// GameResultRepository 对局归档仓储接口
type GameResultRepository interface {
	BaseRepository
	Create(ctx context.Context, result *models.GameResult) error
	ListByRoom(ctx context.Context, roomID string, p *Pagination) ([]*models.GameResult, error)
	Recent(ctx context.Context, limit int) ([]*models.GameResult, error)
}

// gameResultRepo 对局归档仓储实现
type gameResultRepo struct {
	*BaseRepo
}

// NewGameResultRepository 创建对局归档仓储
func NewGameResultRepository(db *gorm.DB) GameResultRepository {
	return &gameResultRepo{
		BaseRepo: NewBaseRepo(db),
	}
}

// Create 保存对局结果
func (r *gameResultRepo) Create(ctx context.Context, result *models.GameResult) error {
	if err := r.conn(ctx).Create(result).Error; err != nil {
		return apperrors.Wrap(err, apperrors.ErrDatabaseInsert)
	}
	return nil
}

// ListByRoom 房间的历史对局，最新在前
func (r *gameResultRepo) ListByRoom(ctx context.Context, roomID string, p *Pagination) ([]*models.GameResult, error) {
	if p == nil {
		p = NewPagination(1, DefaultPageSize)
	}
	var results []*models.GameResult
	query := func() *gorm.DB {
		return r.conn(ctx).Model(&models.GameResult{}).Where("room_id = ?", roomID)
	}
	if err := query().Count(&p.Total).Error; err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	if err := query().Order("ended_at DESC").Order("id DESC").Scopes(Paginate(p)).Find(&results).Error; err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	return results, nil
}

// Recent 最近结束的对局
func (r *gameResultRepo) Recent(ctx context.Context, limit int) ([]*models.GameResult, error) {
	if limit <= 0 {
		limit = 10
	}
	var results []*models.GameResult
	if err := r.conn(ctx).Order("ended_at DESC").Order("id DESC").Limit(limit).Find(&results).Error; err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	return results, nil
}
