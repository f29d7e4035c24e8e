// Package repository 媒体请求数据仓库
package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/smysle/mediarequest-go/internal/database/models"
	"github.com/smysle/mediarequest-go/pkg/utils"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("记录不存在")
	// ErrStatusChanged 当前状态不满足更新条件
	ErrStatusChanged = errors.New("请求状态已变更")
)

// RequestFilter 请求查询条件，空值表示不过滤
type RequestFilter struct {
	RequesterID string
	Status      models.RequestStatus
}

func (f RequestFilter) apply(db *gorm.DB) *gorm.DB {
	if f.RequesterID != "" {
		db = db.Where("requester_id = ?", f.RequesterID)
	}
	if f.Status != "" {
		db = db.Where("status = ?", f.Status)
	}
	return db
}

// newestFirst 按创建时间倒序，时间相同按 ID 倒序
func newestFirst(db *gorm.DB) *gorm.DB {
	return db.Order("created_at DESC").Order("id DESC")
}

// RequestRepository 请求仓库
type RequestRepository struct {
	db *gorm.DB
}

// NewRequestRepository 创建请求仓库
func NewRequestRepository(db *gorm.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Transaction 在同一事务中执行 fn，fn 返回错误时回滚
func (r *RequestRepository) Transaction(ctx context.Context, fn func(tx *RequestRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&RequestRepository{db: tx})
	})
}

// Insert 创建请求记录，写入 ID 与时间戳
func (r *RequestRepository) Insert(ctx context.Context, req *models.Request) (*models.Request, error) {
	if err := r.db.WithContext(ctx).Create(req).Error; err != nil {
		return nil, err
	}
	return req, nil
}

// Get 根据 ID 获取请求
func (r *RequestRepository) Get(ctx context.Context, id uint) (*models.Request, error) {
	var reqs []models.Request
	err := r.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&reqs).Error
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, ErrNotFound
	}
	return &reqs[0], nil
}

// Find 分页查询请求，返回当前页与总数
func (r *RequestRepository) Find(ctx context.Context, filter RequestFilter, page, pageSize int) ([]models.Request, int64, error) {
	var reqs []models.Request
	var total int64

	base := func() *gorm.DB {
		return r.db.WithContext(ctx).Model(&models.Request{}).Scopes(filter.apply)
	}

	if err := base().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := base().Scopes(newestFirst).Offset(utils.Offset(page, pageSize)).Limit(pageSize).Find(&reqs).Error
	return reqs, total, err
}

// FindActive 查找用户对同一媒体未被拒绝的最新请求，不存在返回 nil。
// 在事务中调用时加锁读，InnoDB 的间隙锁可阻止并发插入同一去重键。
func (r *RequestRepository) FindActive(ctx context.Context, requesterID string, catalogID int64, kind models.MediaKind) (*models.Request, error) {
	var reqs []models.Request
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("requester_id = ? AND catalog_id = ? AND media_kind = ? AND status <> ?",
			requesterID, catalogID, kind, models.StatusDenied).
		Scopes(newestFirst).
		Limit(1).
		Find(&reqs).Error
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, nil
	}
	return &reqs[0], nil
}

// LatestStatus 获取用户对同一媒体最近一次请求的状态，没有请求返回空字符串
func (r *RequestRepository) LatestStatus(ctx context.Context, catalogID int64, kind models.MediaKind, requesterID string) (models.RequestStatus, error) {
	var reqs []models.Request
	err := r.db.WithContext(ctx).
		Select("id", "status", "created_at").
		Where("catalog_id = ? AND media_kind = ? AND requester_id = ?", catalogID, kind, requesterID).
		Scopes(newestFirst).
		Limit(1).
		Find(&reqs).Error
	if err != nil || len(reqs) == 0 {
		return "", err
	}
	return reqs[0].Status, nil
}

// ListOpen 获取所有待审核或已批准的请求
func (r *RequestRepository) ListOpen(ctx context.Context) ([]models.Request, error) {
	var reqs []models.Request
	err := r.db.WithContext(ctx).
		Where("status IN ?", models.OpenStatuses).
		Order("id ASC").
		Find(&reqs).Error
	return reqs, err
}

// UpdateStatus 更新请求状态并追加一条历史记录，两者在同一事务中完成
func (r *RequestRepository) UpdateStatus(ctx context.Context, id uint, newStatus models.RequestStatus, changedBy string, note *string, now time.Time) (*models.Request, error) {
	return r.UpdateStatusIf(ctx, id, nil, newStatus, changedBy, note, now)
}

// UpdateStatusIf 与 UpdateStatus 相同，但仅在锁定后的当前状态满足 guard 时才写入，
// 否则返回 ErrStatusChanged。guard 为 nil 表示不限制。
func (r *RequestRepository) UpdateStatusIf(ctx context.Context, id uint, guard func(models.RequestStatus) bool, newStatus models.RequestStatus, changedBy string, note *string, now time.Time) (*models.Request, error) {
	var updated models.Request

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.Request
		// 行锁串行化同一请求的并发变更（SQLite 下由单连接保证）
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&current).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if guard != nil && !guard(current.Status) {
			return ErrStatusChanged
		}

		err = tx.Model(&models.Request{}).Where("id = ?", id).Updates(map[string]interface{}{
			"status":     newStatus,
			"admin_note": note,
			"updated_at": now,
		}).Error
		if err != nil {
			return err
		}

		entry := &models.RequestHistory{
			RequestID: id,
			OldStatus: current.Status,
			NewStatus: newStatus,
			ChangedBy: changedBy,
			Note:      note,
			CreatedAt: now,
		}
		if err := tx.Create(entry).Error; err != nil {
			return err
		}

		return tx.Where("id = ?", id).First(&updated).Error
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// Delete 删除请求
func (r *RequestRepository) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&models.Request{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// History 获取请求的状态变更记录，按写入顺序排列
func (r *RequestRepository) History(ctx context.Context, requestID uint) ([]models.RequestHistory, error) {
	var entries []models.RequestHistory
	err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}

type statusCount struct {
	Status models.RequestStatus
	Count  int64
}

// CountByStatus 按状态统计请求数量
func (r *RequestRepository) CountByStatus(ctx context.Context) (map[models.RequestStatus]int64, error) {
	var rows []statusCount
	err := r.db.WithContext(ctx).
		Model(&models.Request{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[models.RequestStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// CountRequesters 统计提交过请求的不同用户数
func (r *RequestRepository) CountRequesters(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Request{}).
		Distinct("requester_id").
		Count(&count).Error
	return count, err
}

// Snapshot 读取全部请求与历史，用于备份
func (r *RequestRepository) Snapshot(ctx context.Context) ([]models.Request, []models.RequestHistory, error) {
	var reqs []models.Request
	var entries []models.RequestHistory
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Order("id ASC").Find(&reqs).Error; err != nil {
			return err
		}
		return tx.Order("id ASC").Find(&entries).Error
	})
	return reqs, entries, err
}

// Restore 按 ID 写回请求与历史：已存在的请求被覆盖，已存在的历史保持不变
func (r *RequestRepository) Restore(ctx context.Context, reqs []models.Request, entries []models.RequestHistory) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(reqs) > 0 {
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&reqs).Error; err != nil {
				return err
			}
		}
		if len(entries) > 0 {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Omit("Request").Create(&entries).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
