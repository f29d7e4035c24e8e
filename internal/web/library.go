package web

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/sync/errgroup"

	"github.com/smysle/mediarequest-go/internal/database/models"
	"github.com/smysle/mediarequest-go/internal/jellyfin"
	"github.com/smysle/mediarequest-go/internal/service"
	"github.com/smysle/mediarequest-go/pkg/utils"
)

const (
	defaultLibraryPageSize = 50
	maxLibraryPageSize     = 100
	defaultRecentLimit     = 20
	maxRecentLimit         = 50
)

// LibraryItem 媒体库条目
type LibraryItem struct {
	JellyfinID string           `json:"jellyfin_id"`
	Title      string           `json:"title"`
	Year       *int             `json:"year"`
	PosterURL  string           `json:"poster_url"`
	MediaType  models.MediaKind `json:"media_type"`
	CatalogID  string           `json:"catalog_id,omitempty"`
}

// LibraryPage 分页浏览结果
type LibraryPage struct {
	Items []LibraryItem `json:"items"`
	Total int           `json:"total"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
}

// LibraryStats 用户可见的媒体库统计
type LibraryStats struct {
	TotalMovies   int `json:"total_movies"`
	TotalShows    int `json:"total_shows"`
	TotalEpisodes int `json:"total_episodes"`
}

// browseKind 按类型分页浏览媒体库
func (s *Server) browseKind(kind jellyfin.ItemKind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		page := c.QueryInt("page", utils.DefaultPage)
		limit := c.QueryInt("limit", defaultLibraryPageSize)
		if page < 1 {
			return fmt.Errorf("%w: page 必须大于 0", service.ErrInvalidArgument)
		}
		if limit < 1 || limit > maxLibraryPageSize {
			return fmt.Errorf("%w: limit 必须在 1 到 %d 之间", service.ErrInvalidArgument, maxLibraryPageSize)
		}
		sortOrder := c.Query("sort_order", jellyfin.DefaultSortOrder)
		if sortOrder != "Ascending" && sortOrder != "Descending" {
			return fmt.Errorf("%w: sort_order 只能是 Ascending 或 Descending", service.ErrInvalidArgument)
		}

		result, err := s.deps.Browser.BrowseItems(c.UserContext(), callerToken(c), identity(c).UserID, jellyfin.BrowseQuery{
			Kind:       kind,
			Search:     strings.TrimSpace(c.Query("search")),
			StartIndex: utils.Offset(page, limit),
			Limit:      limit,
			SortBy:     c.Query("sort_by", jellyfin.DefaultSortBy),
			SortOrder:  sortOrder,
		})
		if err != nil {
			return s.libraryError(c, err)
		}

		return c.JSON(LibraryPage{
			Items: s.toLibraryItems(result.Items),
			Total: result.Total,
			Page:  page,
			Limit: limit,
		})
	}
}

// recentItems 最近入库
func (s *Server) recentItems(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultRecentLimit)
	if limit < 1 || limit > maxRecentLimit {
		return fmt.Errorf("%w: limit 必须在 1 到 %d 之间", service.ErrInvalidArgument, maxRecentLimit)
	}

	items, err := s.deps.Browser.LatestItems(c.UserContext(), callerToken(c), identity(c).UserID, limit)
	if err != nil {
		return s.libraryError(c, err)
	}
	return c.JSON(s.toLibraryItems(items))
}

// libraryStats 并发统计电影、剧集与单集数量
func (s *Server) libraryStats(c *fiber.Ctx) error {
	token, userID := callerToken(c), identity(c).UserID

	var stats LibraryStats
	g, ctx := errgroup.WithContext(c.UserContext())
	count := func(kind jellyfin.ItemKind, dst *int) {
		g.Go(func() error {
			page, err := s.deps.Browser.BrowseItems(ctx, token, userID, jellyfin.BrowseQuery{Kind: kind})
			if err != nil {
				return err
			}
			*dst = page.Total
			return nil
		})
	}
	count(jellyfin.KindMovie, &stats.TotalMovies)
	count(jellyfin.KindSeries, &stats.TotalShows)
	count(jellyfin.KindEpisode, &stats.TotalEpisodes)

	if err := g.Wait(); err != nil {
		return s.libraryError(c, err)
	}
	return c.JSON(stats)
}

// libraryError Jellyfin 拒绝令牌时清除身份缓存
func (s *Server) libraryError(c *fiber.Ctx, err error) error {
	if errors.Is(err, jellyfin.ErrUnauthorized) {
		s.deps.Auth.Forget(callerToken(c))
	}
	return err
}

func (s *Server) toLibraryItems(items []jellyfin.Item) []LibraryItem {
	out := make([]LibraryItem, 0, len(items))
	for _, item := range items {
		li := LibraryItem{
			JellyfinID: item.ID,
			Title:      item.Name,
			PosterURL:  s.deps.Browser.ImageURL(item.ID),
			MediaType:  models.KindMovie,
			CatalogID:  item.TmdbID(),
		}
		if item.Type == string(jellyfin.KindSeries) {
			li.MediaType = models.KindShow
		}
		if item.ProductionYear > 0 {
			year := item.ProductionYear
			li.Year = &year
		}
		out = append(out, li)
	}
	return out
}
