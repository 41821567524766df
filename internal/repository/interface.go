package repository

import (
	"context"

	"gorm.io/gorm"
)

// 分页默认值
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// BaseRepository 所有仓储共有的能力
type BaseRepository interface {
	GetDB() *gorm.DB
}

// Pagination 分页参数，查询后 Total 为总条数
type Pagination struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

// NewPagination 创建分页参数，越界值收敛到合法范围
func NewPagination(page, pageSize int) *Pagination {
	page = max(page, 1)
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Pagination{Page: page, PageSize: min(pageSize, MaxPageSize)}
}

// Offset 计算偏移量
func (p *Pagination) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// Pages 总页数
func (p *Pagination) Pages() int {
	if p.PageSize == 0 {
		return 0
	}
	return int((p.Total + int64(p.PageSize) - 1) / int64(p.PageSize))
}

// Paginate 分页 scope
func Paginate(p *Pagination) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Offset(p.Offset()).Limit(p.PageSize)
	}
}

// BaseRepo 仓储公共实现
type BaseRepo struct {
	db *gorm.DB
}

// NewBaseRepo 创建基础仓储
func NewBaseRepo(db *gorm.DB) *BaseRepo {
	return &BaseRepo{db: db}
}

// GetDB 获取数据库实例
func (r *BaseRepo) GetDB() *gorm.DB {
	return r.db
}

// conn 绑定请求上下文的会话
func (r *BaseRepo) conn(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}

// Transaction 在事务中执行 fn，fn 返回错误时回滚
func (r *BaseRepo) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.conn(ctx).Transaction(fn)
}
