// Package testsupport 测试辅助
package testsupport

import (
	"context"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/smysle/mediarequest-go/internal/config"
	"github.com/smysle/mediarequest-go/internal/database"
	"github.com/smysle/mediarequest-go/internal/database/models"
	"github.com/smysle/mediarequest-go/internal/database/repository"
)

// MustOpenDB 打开一个已迁移的内存 SQLite 库，测试结束自动关闭
func MustOpenDB(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := database.Open(&config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	t.Cleanup(func() {
		database.Close(db)
	})
	return db
}

// MustInsertRequest 直接写入一条请求记录
func MustInsertRequest(t testing.TB, repo *repository.RequestRepository, req models.Request) *models.Request {
	t.Helper()

	if req.Status == "" {
		req.Status = models.StatusPending
	}
	if req.MediaKind == "" {
		req.MediaKind = models.KindMovie
	}
	if req.RequesterName == "" {
		req.RequesterName = req.RequesterID
	}
	if req.Title == "" {
		req.Title = "Untitled"
	}
	out, err := repo.Insert(context.Background(), &req)
	if err != nil {
		t.Fatalf("repo.Insert: %v", err)
	}
	return out
}

// FixedClock 返回固定时间的时钟，每次调用前进 step，可并发调用
func FixedClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current := now
		now = now.Add(step)
		return current
	}
}
