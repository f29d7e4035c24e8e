// Package service 媒体请求服务
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smysle/mediarequest-go/internal/database/models"
	"github.com/smysle/mediarequest-go/internal/database/repository"
	"github.com/smysle/mediarequest-go/pkg/logger"
	"github.com/smysle/mediarequest-go/pkg/utils"
)

const (
	// SystemActor 系统自动操作的执行者
	SystemActor = "system"
	// AutoFulfillNote 自动入库备注
	AutoFulfillNote = "Auto-fulfilled: found in library"
)

// Notifier 请求事件通知
type Notifier interface {
	RequestCreated(req *models.Request)
	StatusChanged(req *models.Request, changedBy string)
}

type nopNotifier struct{}

func (nopNotifier) RequestCreated(*models.Request)        {}
func (nopNotifier) StatusChanged(*models.Request, string) {}

// CreateInput 创建请求参数
type CreateInput struct {
	RequesterID   string
	RequesterName string
	CatalogID     int64
	MediaKind     models.MediaKind
	Title         string
	PosterRef     *string
}

// Page 分页结果
type Page struct {
	Items      []models.Request `json:"items"`
	Total      int64            `json:"total"`
	Page       int              `json:"page"`
	PageSize   int              `json:"page_size"`
	TotalPages int              `json:"total_pages"`
}

// Stats 请求统计
type Stats struct {
	Total            int64 `json:"total"`
	Pending          int64 `json:"pending"`
	Approved         int64 `json:"approved"`
	Denied           int64 `json:"denied"`
	Fulfilled        int64 `json:"fulfilled"`
	UniqueRequesters int64 `json:"unique_users"`
}

// RequestService 请求服务
type RequestService struct {
	repo     *repository.RequestRepository
	notifier Notifier
	now      func() time.Time
}

// NewRequestService 创建请求服务
func NewRequestService(repo *repository.RequestRepository) *RequestService {
	return &RequestService{
		repo:     repo,
		notifier: nopNotifier{},
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// SetNotifier 设置事件通知（nil 表示不通知）
func (s *RequestService) SetNotifier(n Notifier) {
	if n == nil {
		n = nopNotifier{}
	}
	s.notifier = n
}

// SetClock 设置时钟（用于测试）
func (s *RequestService) SetClock(now func() time.Time) {
	s.now = now
}

// Create 创建请求，同一用户对同一媒体只能有一个未被拒绝的请求
func (s *RequestService) Create(ctx context.Context, in CreateInput) (*models.Request, error) {
	if err := validateCreate(in); err != nil {
		return nil, err
	}

	var created *models.Request
	err := s.repo.Transaction(ctx, func(tx *repository.RequestRepository) error {
		existing, err := tx.FindActive(ctx, in.RequesterID, in.CatalogID, in.MediaKind)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: 您已有一个 %s 状态的该媒体请求", ErrConflict, existing.Status)
		}

		now := s.now()
		created, err = tx.Insert(ctx, &models.Request{
			RequesterID:   in.RequesterID,
			RequesterName: in.RequesterName,
			CatalogID:     in.CatalogID,
			MediaKind:     in.MediaKind,
			Title:         strings.TrimSpace(in.Title),
			PosterRef:     in.PosterRef,
			Status:        models.StatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		return err
	})
	if err != nil {
		return nil, translate(err)
	}

	logger.Info().
		Uint("request_id", created.ID).
		Str("requester", created.RequesterID).
		Int64("catalog_id", created.CatalogID).
		Str("kind", string(created.MediaKind)).
		Msg("新建媒体请求")

	s.notifier.RequestCreated(created)
	return created, nil
}

func validateCreate(in CreateInput) error {
	switch {
	case in.RequesterID == "":
		return fmt.Errorf("%w: 缺少请求用户", ErrInvalidArgument)
	case in.CatalogID <= 0:
		return fmt.Errorf("%w: catalog_id 必须为正整数", ErrInvalidArgument)
	case in.MediaKind != models.KindMovie && in.MediaKind != models.KindShow:
		return fmt.Errorf("%w: 不支持的媒体类型 %q", ErrInvalidArgument, in.MediaKind)
	case strings.TrimSpace(in.Title) == "":
		return fmt.Errorf("%w: 标题不能为空", ErrInvalidArgument)
	}
	return nil
}

// Transition 变更请求状态并记录历史。状态之间不设跳转限制。
func (s *RequestService) Transition(ctx context.Context, id uint, status models.RequestStatus, actorID string, note *string) (*models.Request, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: 无效的状态 %q", ErrInvalidArgument, status)
	}
	if actorID == "" {
		return nil, fmt.Errorf("%w: 缺少操作者", ErrInvalidArgument)
	}

	updated, err := s.repo.UpdateStatus(ctx, id, status, actorID, note, s.now())
	if err != nil {
		return nil, translate(err)
	}

	logger.Info().
		Uint("request_id", id).
		Str("status", string(status)).
		Str("changed_by", actorID).
		Msg("请求状态变更")

	s.notifier.StatusChanged(updated, actorID)
	return updated, nil
}

// FulfillOpen 将仍处于打开状态的请求标记为 fulfilled。
// 请求在此期间已被处理（不再是 pending/approved）时返回 ErrInvalidState，不写入任何记录。
func (s *RequestService) FulfillOpen(ctx context.Context, id uint, actorID string, note *string) (*models.Request, error) {
	if actorID == "" {
		return nil, fmt.Errorf("%w: 缺少操作者", ErrInvalidArgument)
	}

	updated, err := s.repo.UpdateStatusIf(ctx, id, models.RequestStatus.IsOpen, models.StatusFulfilled, actorID, note, s.now())
	if err != nil {
		return nil, translate(err)
	}

	logger.Info().
		Uint("request_id", id).
		Str("status", string(models.StatusFulfilled)).
		Str("changed_by", actorID).
		Msg("请求状态变更")

	s.notifier.StatusChanged(updated, actorID)
	return updated, nil
}

// Cancel 用户取消自己的待审核请求
func (s *RequestService) Cancel(ctx context.Context, id uint, requesterID string) error {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return translate(err)
	}
	// 不属于该用户的请求与不存在的请求返回同样的错误
	if !req.IsOwnedBy(requesterID) {
		return ErrNotFound
	}
	if req.Status != models.StatusPending {
		return fmt.Errorf("%w: 只有待审核（pending）的请求可以取消", ErrInvalidState)
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return translate(err)
	}

	logger.Info().Uint("request_id", id).Str("requester", requesterID).Msg("用户取消请求")
	return nil
}

// Get 获取请求
func (s *RequestService) Get(ctx context.Context, id uint) (*models.Request, error) {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	return req, nil
}

// History 获取请求的状态变更记录
func (s *RequestService) History(ctx context.Context, id uint) ([]models.RequestHistory, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, translate(err)
	}
	entries, err := s.repo.History(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	if entries == nil {
		entries = []models.RequestHistory{}
	}
	return entries, nil
}

// ListForRequester 分页获取用户自己的请求
func (s *RequestService) ListForRequester(ctx context.Context, requesterID string, status models.RequestStatus, page, pageSize int) (*Page, error) {
	if requesterID == "" {
		return nil, fmt.Errorf("%w: 缺少请求用户", ErrInvalidArgument)
	}
	return s.list(ctx, repository.RequestFilter{RequesterID: requesterID, Status: status}, page, pageSize)
}

// ListAll 分页获取所有请求，可按状态与用户过滤
func (s *RequestService) ListAll(ctx context.Context, status models.RequestStatus, requesterID string, page, pageSize int) (*Page, error) {
	return s.list(ctx, repository.RequestFilter{RequesterID: requesterID, Status: status}, page, pageSize)
}

func (s *RequestService) list(ctx context.Context, filter repository.RequestFilter, page, pageSize int) (*Page, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: 无效的状态 %q", ErrInvalidArgument, filter.Status)
	}
	page, pageSize = utils.NormalizePage(page, pageSize, 0)

	items, total, err := s.repo.Find(ctx, filter, page, pageSize)
	if err != nil {
		return nil, translate(err)
	}
	if items == nil {
		items = []models.Request{}
	}

	return &Page{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: utils.TotalPages(total, pageSize),
	}, nil
}

// Stats 按状态统计请求
func (s *RequestService) Stats(ctx context.Context) (*Stats, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, translate(err)
	}
	users, err := s.repo.CountRequesters(ctx)
	if err != nil {
		return nil, translate(err)
	}

	stats := &Stats{
		Pending:          counts[models.StatusPending],
		Approved:         counts[models.StatusApproved],
		Denied:           counts[models.StatusDenied],
		Fulfilled:        counts[models.StatusFulfilled],
		UniqueRequesters: users,
	}
	stats.Total = stats.Pending + stats.Approved + stats.Denied + stats.Fulfilled
	return stats, nil
}

// ExistingStatusFor 获取用户对某个媒体最近一次请求的状态，没有请求返回空字符串
func (s *RequestService) ExistingStatusFor(ctx context.Context, catalogID int64, kind models.MediaKind, requesterID string) (models.RequestStatus, error) {
	status, err := s.repo.LatestStatus(ctx, catalogID, kind, requesterID)
	if err != nil {
		return "", translate(err)
	}
	return status, nil
}

// OpenRequests 获取所有待审核或已批准的请求（对账候选）
func (s *RequestService) OpenRequests(ctx context.Context) ([]models.Request, error) {
	reqs, err := s.repo.ListOpen(ctx)
	if err != nil {
		return nil, translate(err)
	}
	return reqs, nil
}
