// Package utils 工具函数
package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// 分页默认值
const (
	DefaultPage     = 1
	DefaultPageSize = 20
)

// NormalizePage 规范化分页参数：page 最小为 1，pageSize 落在 [1, maxSize] 区间
func NormalizePage(page, pageSize, maxSize int) (int, int) {
	if page < 1 {
		page = DefaultPage
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if maxSize > 0 && pageSize > maxSize {
		pageSize = maxSize
	}
	return page, pageSize
}

// TotalPages 计算总页数，total 为 0 时返回 1
func TotalPages(total int64, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 1
	}
	return int((total + int64(pageSize) - 1) / int64(pageSize))
}

// Offset 计算分页偏移量
func Offset(page, pageSize int) int {
	if page < 1 {
		return 0
	}
	return (page - 1) * pageSize
}

// HashToken 对令牌做 SHA-256 摘要，用作缓存键
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
