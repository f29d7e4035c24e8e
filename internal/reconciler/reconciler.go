// Package reconciler 将待处理请求与 Jellyfin 媒体库对账，已入库的请求自动标记为 fulfilled
package reconciler

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/smysle/mediarequest-go/internal/config"
	"github.com/smysle/mediarequest-go/internal/database/models"
	"github.com/smysle/mediarequest-go/internal/jellyfin"
	"github.com/smysle/mediarequest-go/internal/service"
	"github.com/smysle/mediarequest-go/pkg/logger"
)

// Library 媒体库搜索
type Library interface {
	SearchItems(ctx context.Context, term string, kind jellyfin.ItemKind, limit int) ([]jellyfin.Item, error)
}

// Requests 对账所需的请求操作
type Requests interface {
	OpenRequests(ctx context.Context) ([]models.Request, error)
	FulfillOpen(ctx context.Context, id uint, actorID string, note *string) (*models.Request, error)
}

// CycleResult 单次对账结果
type CycleResult struct {
	CycleID   string        `json:"cycle_id"`
	Checked   int           `json:"checked"`
	Matched   int           `json:"matched"`
	Unmatched int           `json:"unmatched"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"duration"`
}

// Reconciler 媒体库对账器
type Reconciler struct {
	library     Library
	requests    Requests
	concurrency int
	timeout     time.Duration
	searchLimit int

	// 同一时间只运行一个对账周期
	running sync.Mutex
}

// New 创建对账器
func New(library Library, requests Requests, cfg config.ReconcilerConfig) *Reconciler {
	r := &Reconciler{
		library:     library,
		requests:    requests,
		concurrency: cfg.Concurrency,
		timeout:     cfg.RequestTimeout(),
		searchLimit: cfg.SearchLimit,
	}
	if r.concurrency < 1 {
		r.concurrency = 1
	}
	if r.timeout <= 0 {
		r.timeout = 30 * time.Second
	}
	return r
}

type outcome int

const (
	unmatched outcome = iota
	matched
	failed
	skipped
)

// RunCycle 执行一次对账。获取请求列表失败时返回错误；单个请求的失败只计数，不影响其它请求。
func (r *Reconciler) RunCycle(ctx context.Context) (*CycleResult, error) {
	r.running.Lock()
	defer r.running.Unlock()

	start := time.Now()
	result := &CycleResult{CycleID: uuid.NewString()}
	log := logger.With("cycle_id", result.CycleID)

	open, err := r.requests.OpenRequests(ctx)
	if err != nil {
		log.Error().Err(err).Msg("获取待对账请求失败")
		return result, err
	}
	if len(open) == 0 {
		log.Debug().Msg("没有待对账的请求")
		return result, nil
	}

	var nMatched, nUnmatched, nFailed, nSkipped, nChecked int64

	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)
	for i := range open {
		if ctx.Err() != nil {
			break
		}
		req := open[i]
		g.Go(func() error {
			atomic.AddInt64(&nChecked, 1)
			switch r.evaluate(ctx, &log, &req) {
			case matched:
				atomic.AddInt64(&nMatched, 1)
			case failed:
				atomic.AddInt64(&nFailed, 1)
			case skipped:
				atomic.AddInt64(&nSkipped, 1)
			default:
				atomic.AddInt64(&nUnmatched, 1)
			}
			return nil
		})
	}
	_ = g.Wait()

	result.Checked = int(nChecked)
	result.Matched = int(nMatched)
	result.Unmatched = int(nUnmatched)
	result.Failed = int(nFailed)
	result.Skipped = int(nSkipped)
	result.Duration = time.Since(start)

	log.Info().
		Int("checked", result.Checked).
		Int("matched", result.Matched).
		Int("unmatched", result.Unmatched).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Dur("duration", result.Duration).
		Msg("媒体库对账完成")

	return result, nil
}

// evaluate 检查单个请求是否已入库。超时只约束媒体库搜索，状态写入使用周期的 ctx。
func (r *Reconciler) evaluate(ctx context.Context, log *zerolog.Logger, req *models.Request) outcome {
	found, err := r.search(ctx, req)
	if err != nil {
		log.Warn().Err(err).Uint("request_id", req.ID).Str("title", req.Title).Msg("媒体库搜索失败")
		return failed
	}
	if !found {
		return unmatched
	}

	note := service.AutoFulfillNote
	if _, err := r.requests.FulfillOpen(ctx, req.ID, service.SystemActor, &note); err != nil {
		if errors.Is(err, service.ErrInvalidState) {
			log.Debug().Uint("request_id", req.ID).Msg("请求已被处理，跳过自动标记")
			return skipped
		}
		log.Warn().Err(err).Uint("request_id", req.ID).Msg("自动标记入库失败")
		return failed
	}

	log.Info().
		Uint("request_id", req.ID).
		Int64("catalog_id", req.CatalogID).
		Str("title", req.Title).
		Msg("请求的媒体已入库，自动标记为 fulfilled")
	return matched
}

func (r *Reconciler) search(ctx context.Context, req *models.Request) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	items, err := r.library.SearchItems(ctx, req.Title, jellyfin.KindFor(req.MediaKind), r.searchLimit)
	if err != nil {
		return false, err
	}
	return containsCatalogID(items, req.CatalogID), nil
}

// containsCatalogID 判断搜索结果中是否有 TMDB ID 等于 catalogID 的条目
func containsCatalogID(items []jellyfin.Item, catalogID int64) bool {
	want := strconv.FormatInt(catalogID, 10)
	for _, item := range items {
		if strings.EqualFold(item.TmdbID(), want) {
			return true
		}
	}
	return false
}
