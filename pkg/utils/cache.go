// Package utils 缓存工具
package utils

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// Cache 带过期时间的内存缓存
type Cache struct {
	c *cache.Cache
}

// NewCache 创建缓存，cleanup 为过期条目清理间隔
func NewCache(ttl, cleanup time.Duration) *Cache {
	return &Cache{c: cache.New(ttl, cleanup)}
}

// Get 获取缓存
func (c *Cache) Get(key string) (interface{}, bool) {
	return c.c.Get(key)
}

// Set 设置缓存，duration 为 0 时使用默认过期时间
func (c *Cache) Set(key string, value interface{}, duration time.Duration) {
	if duration == 0 {
		duration = cache.DefaultExpiration
	}
	c.c.Set(key, value, duration)
}

// Delete 删除缓存
func (c *Cache) Delete(key string) {
	c.c.Delete(key)
}

// GetOrSet 获取或设置缓存，fn 出错时不写入缓存
func (c *Cache) GetOrSet(key string, duration time.Duration, fn func() (interface{}, error)) (interface{}, error) {
	if val, found := c.c.Get(key); found {
		return val, nil
	}

	val, err := fn()
	if err != nil {
		return nil, err
	}

	c.Set(key, val, duration)
	return val, nil
}
