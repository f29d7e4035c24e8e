package web

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/smysle/mediarequest-go/internal/auth"
	pkglogger "github.com/smysle/mediarequest-go/pkg/logger"
)

const (
	identityKey = "identity"
	tokenKey    = "token"
)

// requireAuth 校验 Bearer 令牌并把身份写入上下文
func (s *Server) requireAuth(c *fiber.Ctx) error {
	token := auth.BearerToken(c.Get(fiber.HeaderAuthorization))
	if token == "" {
		return auth.ErrUnauthenticated
	}

	id, err := s.deps.Auth.Verify(c.UserContext(), token)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) {
			return err
		}
		pkglogger.Warn().Err(err).Msg("身份校验失败")
		return fiber.NewError(fiber.StatusBadGateway, "无法校验身份，请稍后重试")
	}

	c.Locals(identityKey, id)
	c.Locals(tokenKey, token)
	return c.Next()
}

// requireAdmin 仅允许管理员访问
func (s *Server) requireAdmin(c *fiber.Ctx) error {
	if !identity(c).IsAdmin {
		return auth.ErrForbidden
	}
	return c.Next()
}

// identity 当前调用者，只在 requireAuth 之后调用
func identity(c *fiber.Ctx) *auth.Identity {
	id, _ := c.Locals(identityKey).(*auth.Identity)
	if id == nil {
		return &auth.Identity{}
	}
	return id
}

// requireBrowser 未配置媒体库浏览时返回 503
func (s *Server) requireBrowser(c *fiber.Ctx) error {
	if s.deps.Browser == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "媒体库浏览未启用")
	}
	return c.Next()
}

// callerToken 当前调用者的访问令牌
func callerToken(c *fiber.Ctx) string {
	token, _ := c.Locals(tokenKey).(string)
	return token
}
