// Package auth 基于 Jellyfin 访问令牌的身份校验
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smysle/mediarequest-go/internal/jellyfin"
	"github.com/smysle/mediarequest-go/pkg/logger"
	"github.com/smysle/mediarequest-go/pkg/utils"
)

var (
	// ErrUnauthenticated 缺少令牌或令牌无效
	ErrUnauthenticated = errors.New("未登录或登录已失效")
	// ErrForbidden 需要管理员权限
	ErrForbidden = errors.New("需要管理员权限")
)

// Identity 已认证的调用者
type Identity struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	IsAdmin     bool   `json:"is_admin"`
}

// UserLookup 通过令牌获取 Jellyfin 用户
type UserLookup interface {
	GetCurrentUser(ctx context.Context, token string) (*jellyfin.User, error)
}

// Authenticator 令牌校验器
type Authenticator struct {
	users   UserLookup
	isAdmin func(userID string) bool
	cache   *utils.Cache
}

// NewAuthenticator 创建令牌校验器，isAdmin 为额外的管理员判定（可为 nil）
func NewAuthenticator(users UserLookup, isAdmin func(userID string) bool, ttl time.Duration) *Authenticator {
	if isAdmin == nil {
		isAdmin = func(string) bool { return false }
	}
	return &Authenticator{
		users:   users,
		isAdmin: isAdmin,
		cache:   utils.NewCache(ttl, 2*ttl),
	}
}

// Verify 校验令牌并返回调用者身份，结果按令牌哈希缓存
func (a *Authenticator) Verify(ctx context.Context, token string) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrUnauthenticated
	}

	v, err := a.cache.GetOrSet(utils.HashToken(token), 0, func() (interface{}, error) {
		user, err := a.users.GetCurrentUser(ctx, token)
		if err != nil {
			return nil, err
		}
		return &Identity{
			UserID:      user.ID,
			DisplayName: user.Name,
			IsAdmin:     user.IsAdmin || a.isAdmin(user.ID),
		}, nil
	})
	if err != nil {
		if errors.Is(err, jellyfin.ErrUnauthorized) {
			return nil, ErrUnauthenticated
		}
		logger.Warn().Err(err).Msg("令牌校验失败")
		return nil, fmt.Errorf("校验令牌失败: %w", err)
	}

	id := *v.(*Identity)
	return &id, nil
}

// Forget 清除令牌的缓存结果
func (a *Authenticator) Forget(token string) {
	a.cache.Delete(utils.HashToken(strings.TrimSpace(token)))
}

// BearerToken 从 Authorization 头中取出 Bearer 令牌
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
