package web

import (
	"github.com/gofiber/fiber/v2"
)

// me 当前登录用户
func (s *Server) me(c *fiber.Ctx) error {
	return c.JSON(identity(c))
}

// logout 丢弃该令牌的身份缓存，下次请求重新向 Jellyfin 校验
func (s *Server) logout(c *fiber.Ctx) error {
	s.deps.Auth.Forget(callerToken(c))
	return c.JSON(fiber.Map{"message": "Logged out"})
}
