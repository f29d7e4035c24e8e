// Package service 错误定义
package service

import (
	"errors"
	"fmt"

	"github.com/smysle/mediarequest-go/internal/database/repository"
)

var (
	ErrNotFound        = errors.New("请求不存在")
	ErrConflict        = errors.New("请求冲突")
	ErrInvalidArgument = errors.New("参数无效")
	ErrInvalidState    = errors.New("当前状态不允许该操作")
	ErrUpstream        = errors.New("上游服务错误")
)

// translate 将仓库层错误转换为服务层错误
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repository.ErrStatusChanged):
		return fmt.Errorf("%w: 请求已不在待处理状态", ErrInvalidState)
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrUpstream):
		return err
	default:
		return fmt.Errorf("数据库操作失败: %w", err)
	}
}
