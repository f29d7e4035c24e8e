package web

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/smysle/mediarequest-go/internal/database/models"
	"github.com/smysle/mediarequest-go/internal/service"
)

// listAllRequests 所有请求，可按状态和用户过滤
func (s *Server) listAllRequests(c *fiber.Ctx) error {
	status, err := statusQuery(c)
	if err != nil {
		return err
	}
	page, limit, err := pageQuery(c, maxAdminPageSize)
	if err != nil {
		return err
	}

	result, err := s.deps.Requests.ListAll(c.UserContext(), status, strings.TrimSpace(c.Query("user_id")), page, limit)
	if err != nil {
		return err
	}
	return c.JSON(result)
}

// updateRequest 管理员变更请求状态
func (s *Server) updateRequest(c *fiber.Ctx) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}

	var body updateRequestBody
	if err := c.BodyParser(&body); err != nil {
		return fmt.Errorf("%w: 请求体格式错误", service.ErrInvalidArgument)
	}
	status, ok := models.ParseStatus(body.Status)
	if !ok {
		return fmt.Errorf("%w: 无效的状态 %q", service.ErrInvalidArgument, body.Status)
	}

	req, err := s.deps.Requests.Transition(c.UserContext(), id, status, identity(c).UserID, body.AdminNote)
	if err != nil {
		return err
	}
	return c.JSON(req)
}

// getStats 请求统计
func (s *Server) getStats(c *fiber.Ctx) error {
	stats, err := s.deps.Requests.Stats(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(stats)
}

// runReconcile 立即执行一次媒体库对账
func (s *Server) runReconcile(c *fiber.Ctx) error {
	if s.deps.Reconciler == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "媒体库对账未启用")
	}
	result, err := s.deps.Reconciler.RunCycle(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(result)
}
