// Package web Web API 服务
package web

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/smysle/mediarequest-go/internal/auth"
	"github.com/smysle/mediarequest-go/internal/config"
	"github.com/smysle/mediarequest-go/internal/database"
	"github.com/smysle/mediarequest-go/internal/jellyfin"
	"github.com/smysle/mediarequest-go/internal/reconciler"
	"github.com/smysle/mediarequest-go/internal/service"
	pkglogger "github.com/smysle/mediarequest-go/pkg/logger"
)

const version = "1.0.0"

// Verifier 校验请求令牌
type Verifier interface {
	Verify(ctx context.Context, token string) (*auth.Identity, error)
	Forget(token string)
}

// CycleRunner 执行一次媒体库对账
type CycleRunner interface {
	RunCycle(ctx context.Context) (*reconciler.CycleResult, error)
}

// MediaCounter 获取媒体库统计
type MediaCounter interface {
	GetMediaCounts(ctx context.Context) (*jellyfin.MediaCounts, error)
}

// Browser 以用户身份浏览媒体库
type Browser interface {
	BrowseItems(ctx context.Context, token, userID string, q jellyfin.BrowseQuery) (*jellyfin.ItemPage, error)
	LatestItems(ctx context.Context, token, userID string, limit int) ([]jellyfin.Item, error)
	ImageURL(itemID string) string
}

// Deps 服务依赖，Reconciler、Library 与 Browser 可为 nil
type Deps struct {
	DB         *gorm.DB
	Requests   *service.RequestService
	Auth       Verifier
	Reconciler CycleRunner
	Library    MediaCounter
	Browser    Browser
}

// Server Web 服务器
type Server struct {
	app       *fiber.App
	cfg       *config.APIConfig
	deps      Deps
	startTime time.Time
}

// New 创建 Web 服务器
func New(cfg *config.APIConfig, deps Deps) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	// 中间件
	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	app.Use(logger.New(logger.Config{
		Format: "${status} | ${latency} | ${locals:requestid} | ${method} ${path}\n",
		Output: pkglogger.Logger,
	}))
	origins := strings.Join(cfg.AllowOrigins, ",")
	if origins == "" {
		origins = "*"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     "GET,POST,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: origins != "*",
	}))

	server := &Server{
		app:       app,
		cfg:       cfg,
		deps:      deps,
		startTime: time.Now(),
	}

	// 注册路由
	server.registerRoutes()

	return server
}

// registerRoutes 注册路由
func (s *Server) registerRoutes() {
	// 健康检查
	s.app.Get("/health", s.healthCheck)

	// 详细状态
	s.app.Get("/status", s.detailedStatus)

	api := s.app.Group("/api", s.requireAuth)

	// 会话
	session := api.Group("/auth")
	session.Get("/me", s.me)
	session.Post("/logout", s.logout)

	// 媒体库浏览
	library := api.Group("/library", s.requireBrowser)
	library.Get("/movies", s.browseKind(jellyfin.KindMovie))
	library.Get("/tvshows", s.browseKind(jellyfin.KindSeries))
	library.Get("/recent", s.recentItems)
	library.Get("/stats", s.libraryStats)

	// 用户请求
	requests := api.Group("/requests")
	requests.Post("/", s.createRequest)
	requests.Get("/", s.listMyRequests)
	requests.Get("/lookup", s.lookupRequest)
	requests.Get("/:id", s.getRequest)
	requests.Delete("/:id", s.cancelRequest)
	requests.Get("/:id/history", s.requestHistory)

	// 管理员
	admin := api.Group("/admin", s.requireAdmin)
	admin.Get("/requests", s.listAllRequests)
	admin.Patch("/requests/:id", s.updateRequest)
	admin.Get("/stats", s.getStats)
	admin.Post("/reconcile", s.runReconcile)
}

// App 返回底层 fiber 应用
func (s *Server) App() *fiber.App {
	return s.app
}

// Start 启动服务器
func (s *Server) Start() error {
	if !s.cfg.Enabled {
		pkglogger.Info().Msg("【API服务】未启用，跳过...")
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	pkglogger.Info().Str("addr", addr).Msg("【API服务】启动中...")

	return s.app.Listen(addr)
}

// Stop 停止服务器
func (s *Server) Stop() error {
	if !s.cfg.Enabled {
		return nil
	}
	return s.app.ShutdownWithTimeout(10 * time.Second)
}

// errorHandler 将错误映射为 HTTP 状态码，响应体为 {"error": "..."}
func errorHandler(c *fiber.Ctx, err error) error {
	code := statusFor(err)
	if code == fiber.StatusInternalServerError {
		pkglogger.Error().Err(err).
			Str("path", c.Path()).
			Interface("request_id", c.Locals("requestid")).
			Msg("请求处理失败")
	}
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}

func statusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, service.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, service.ErrConflict):
		return fiber.StatusConflict
	case errors.Is(err, service.ErrInvalidArgument), errors.Is(err, service.ErrInvalidState):
		return fiber.StatusBadRequest
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, jellyfin.ErrUnauthorized):
		return fiber.StatusUnauthorized
	case errors.Is(err, auth.ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, service.ErrUpstream), errors.Is(err, jellyfin.ErrRequestFailed):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Uptime    string `json:"uptime"`
}

// healthCheck 健康检查
func (s *Server) healthCheck(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().Format(time.RFC3339),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
	})
}

// StatusResponse 详细状态响应
type StatusResponse struct {
	Status   string         `json:"status"`
	Version  string         `json:"version"`
	Uptime   string         `json:"uptime"`
	System   SystemInfo     `json:"system"`
	Database DatabaseStatus `json:"database"`
	Jellyfin JellyfinStatus `json:"jellyfin"`
}

// SystemInfo 系统信息
type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	NumCPU       int    `json:"num_cpu"`
	NumGoroutine int    `json:"num_goroutine"`
	MemAlloc     string `json:"mem_alloc"`
}

// DatabaseStatus 数据库状态
type DatabaseStatus struct {
	Connected bool           `json:"connected"`
	Requests  *service.Stats `json:"requests,omitempty"`
}

// JellyfinStatus Jellyfin 状态
type JellyfinStatus struct {
	Connected bool                  `json:"connected"`
	Counts    *jellyfin.MediaCounts `json:"counts,omitempty"`
}

// detailedStatus 详细状态
func (s *Server) detailedStatus(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	// 系统信息
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	// 数据库状态
	var dbStatus DatabaseStatus
	if s.deps.DB != nil && database.Ping(ctx, s.deps.DB) == nil {
		dbStatus.Connected = true
		if stats, err := s.deps.Requests.Stats(ctx); err == nil {
			dbStatus.Requests = stats
		}
	}

	// Jellyfin 状态
	var jfStatus JellyfinStatus
	if s.deps.Library != nil {
		if counts, err := s.deps.Library.GetMediaCounts(ctx); err == nil {
			jfStatus.Connected = true
			jfStatus.Counts = counts
		}
	}

	status := "ok"
	if !dbStatus.Connected {
		status = "degraded"
	}

	return c.JSON(StatusResponse{
		Status:  status,
		Version: version,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
		System: SystemInfo{
			GoVersion:    runtime.Version(),
			NumCPU:       runtime.NumCPU(),
			NumGoroutine: runtime.NumGoroutine(),
			MemAlloc:     service.FormatSize(int64(memStats.Alloc)),
		},
		Database: dbStatus,
		Jellyfin: jfStatus,
	})
}
