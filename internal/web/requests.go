package web

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/smysle/mediarequest-go/internal/auth"
	"github.com/smysle/mediarequest-go/internal/database/models"
	"github.com/smysle/mediarequest-go/internal/service"
	"github.com/smysle/mediarequest-go/pkg/utils"
)

const (
	maxUserPageSize  = 100
	maxAdminPageSize = 500
)

type createRequestBody struct {
	CatalogID  int64   `json:"catalog_id"`
	TmdbID     int64   `json:"tmdb_id"`
	MediaType  string  `json:"media_type"`
	Title      string  `json:"title"`
	PosterPath *string `json:"poster_path"`
}

type updateRequestBody struct {
	Status    string  `json:"status"`
	AdminNote *string `json:"admin_note"`
}

// createRequest 提交媒体请求
func (s *Server) createRequest(c *fiber.Ctx) error {
	var body createRequestBody
	if err := c.BodyParser(&body); err != nil {
		return fmt.Errorf("%w: 请求体格式错误", service.ErrInvalidArgument)
	}

	kind, ok := models.ParseMediaKind(body.MediaType)
	if !ok {
		return fmt.Errorf("%w: 不支持的媒体类型 %q", service.ErrInvalidArgument, body.MediaType)
	}
	catalogID := body.CatalogID
	if catalogID == 0 {
		catalogID = body.TmdbID
	}

	id := identity(c)
	req, err := s.deps.Requests.Create(c.UserContext(), service.CreateInput{
		RequesterID:   id.UserID,
		RequesterName: id.DisplayName,
		CatalogID:     catalogID,
		MediaKind:     kind,
		Title:         body.Title,
		PosterRef:     body.PosterPath,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(req)
}

// listMyRequests 当前用户的请求
func (s *Server) listMyRequests(c *fiber.Ctx) error {
	status, err := statusQuery(c)
	if err != nil {
		return err
	}
	page, limit, err := pageQuery(c, maxUserPageSize)
	if err != nil {
		return err
	}

	result, err := s.deps.Requests.ListForRequester(c.UserContext(), identity(c).UserID, status, page, limit)
	if err != nil {
		return err
	}
	return c.JSON(result)
}

// lookupRequest 查询当前用户对某个媒体的请求状态，未请求过时 status 为 null
func (s *Server) lookupRequest(c *fiber.Ctx) error {
	catalogID, err := strconv.ParseInt(c.Query("catalog_id"), 10, 64)
	if err != nil || catalogID <= 0 {
		return fmt.Errorf("%w: catalog_id 必须为正整数", service.ErrInvalidArgument)
	}
	kind, ok := models.ParseMediaKind(c.Query("media_type"))
	if !ok {
		return fmt.Errorf("%w: 不支持的媒体类型 %q", service.ErrInvalidArgument, c.Query("media_type"))
	}

	status, err := s.deps.Requests.ExistingStatusFor(c.UserContext(), catalogID, kind, identity(c).UserID)
	if err != nil {
		return err
	}

	var existing *models.RequestStatus
	if status != "" {
		existing = &status
	}
	return c.JSON(fiber.Map{
		"catalog_id": catalogID,
		"media_type": kind,
		"status":     existing,
	})
}

// getRequest 获取单个请求，仅本人或管理员可见
func (s *Server) getRequest(c *fiber.Ctx) error {
	req, err := s.visibleRequest(c)
	if err != nil {
		return err
	}
	return c.JSON(req)
}

// requestHistory 请求的状态变更记录
func (s *Server) requestHistory(c *fiber.Ctx) error {
	req, err := s.visibleRequest(c)
	if err != nil {
		return err
	}
	entries, err := s.deps.Requests.History(c.UserContext(), req.ID)
	if err != nil {
		return err
	}
	return c.JSON(entries)
}

// cancelRequest 取消自己的待审核请求
func (s *Server) cancelRequest(c *fiber.Ctx) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	if err := s.deps.Requests.Cancel(c.UserContext(), id, identity(c).UserID); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Request cancelled"})
}

func (s *Server) visibleRequest(c *fiber.Ctx) (*models.Request, error) {
	id, err := idParam(c)
	if err != nil {
		return nil, err
	}
	req, err := s.deps.Requests.Get(c.UserContext(), id)
	if err != nil {
		return nil, err
	}
	caller := identity(c)
	if !req.IsOwnedBy(caller.UserID) && !caller.IsAdmin {
		return nil, auth.ErrForbidden
	}
	return req, nil
}

func idParam(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: 无效的请求 ID", service.ErrInvalidArgument)
	}
	return uint(id), nil
}

// statusQuery 解析 status 查询参数，为空表示不过滤
func statusQuery(c *fiber.Ctx) (models.RequestStatus, error) {
	raw := strings.TrimSpace(c.Query("status"))
	if raw == "" {
		return "", nil
	}
	status, ok := models.ParseStatus(raw)
	if !ok {
		return "", fmt.Errorf("%w: 无效的状态 %q", service.ErrInvalidArgument, raw)
	}
	return status, nil
}

// pageQuery 解析 page 与 limit，limit 超出 [1, max] 时报错
func pageQuery(c *fiber.Ctx, max int) (int, int, error) {
	page := c.QueryInt("page", utils.DefaultPage)
	limit := c.QueryInt("limit", utils.DefaultPageSize)
	if page < 1 {
		return 0, 0, fmt.Errorf("%w: page 必须大于 0", service.ErrInvalidArgument)
	}
	if limit < 1 || limit > max {
		return 0, 0, fmt.Errorf("%w: limit 必须在 1 到 %d 之间", service.ErrInvalidArgument, max)
	}
	return page, limit, nil
}
