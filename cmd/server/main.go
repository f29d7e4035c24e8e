// MediaRequest - 媒体请求服务
// 用户提交媒体请求，管理员审核，入库后自动完成
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smysle/mediarequest-go/internal/auth"
	"github.com/smysle/mediarequest-go/internal/config"
	"github.com/smysle/mediarequest-go/internal/database"
	"github.com/smysle/mediarequest-go/internal/database/repository"
	"github.com/smysle/mediarequest-go/internal/jellyfin"
	"github.com/smysle/mediarequest-go/internal/notify"
	"github.com/smysle/mediarequest-go/internal/reconciler"
	"github.com/smysle/mediarequest-go/internal/scheduler"
	"github.com/smysle/mediarequest-go/internal/service"
	"github.com/smysle/mediarequest-go/internal/web"
	"github.com/smysle/mediarequest-go/pkg/logger"
)

const (
	reconcileJob = "reconcile"
	backupJob    = "backup"
)

var (
	configPath = flag.String("config", "config.json", "配置文件路径")
	debug      = flag.Bool("debug", false, "调试模式")
	once       = flag.Bool("reconcile-once", false, "执行一次媒体库对账后退出")
	restore    = flag.String("restore", "", "从指定备份文件恢复数据后退出")
)

func main() {
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", *configPath).Msg("加载配置失败")
	}

	// 初始化日志
	err = logger.Init(logger.Options{
		Dir:      cfg.Log.Dir,
		File:     cfg.Log.File,
		Timezone: cfg.Log.Timezone,
		Debug:    *debug,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("日志文件不可用，仅输出到控制台")
	}
	logger.Info().Msg("🎬 MediaRequest 启动中...")

	// 初始化数据库
	db, err := database.Open(&cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化数据库失败")
	}
	defer database.Close(db)
	logger.Info().Str("driver", cfg.Database.Driver).Msg("✅ 数据库连接成功")

	repo := repository.NewRequestRepository(db)
	requests := service.NewRequestService(repo)
	backups := service.NewBackupService(repo, cfg.Backup)

	if *restore != "" {
		if err := backups.Restore(context.Background(), *restore); err != nil {
			logger.Fatal().Err(err).Str("file", *restore).Msg("恢复备份失败")
		}
		return
	}

	// Telegram 通知
	var tg *notify.Telegram
	if cfg.Telegram.Enabled {
		tg, err = notify.NewTelegram(cfg.Telegram)
		if err != nil {
			logger.Fatal().Err(err).Msg("初始化 Telegram 通知失败")
		}
		requests.SetNotifier(tg)
		defer tg.Close(5 * time.Second)
		logger.Info().Int64("chat_id", cfg.Telegram.ChatID).Msg("✅ Telegram 通知已启用")
	}

	jf := jellyfin.NewClient(cfg.Jellyfin)
	rec := reconciler.New(jf, requests, cfg.Reconciler)

	// 定时任务
	sched := scheduler.New(cfg.Log.Timezone)
	if cfg.Reconciler.IsEnabled() || *once {
		err = sched.Register(reconcileJob, cfg.Reconciler.Interval(), func(ctx context.Context) error {
			_, err := rec.RunCycle(ctx)
			return err
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("注册对账任务失败")
		}
	}

	if *once {
		if err := sched.RunNow(reconcileJob); err != nil {
			logger.Error().Err(err).Msg("媒体库对账失败")
		}
		sched.Stop()
		return
	}

	if cfg.Backup.Enabled {
		if err := sched.Register(backupJob, cfg.Backup.Interval(), backups.Run); err != nil {
			logger.Fatal().Err(err).Msg("注册备份任务失败")
		}
		logger.Info().Str("dir", cfg.Backup.Dir).Dur("interval", cfg.Backup.Interval()).Msg("✅ 定时备份已启用")
	}

	if jobs := sched.Jobs(); len(jobs) > 0 {
		sched.Start()
		logger.Info().Strs("jobs", jobs).Msg("✅ 定时任务已启动")
	}
	defer sched.Stop()

	// 初始化 Web API 服务
	authenticator := auth.NewAuthenticator(jf, cfg.IsAdmin, cfg.Auth.CacheTTL())
	webServer := web.New(&cfg.API, web.Deps{
		DB:         db,
		Requests:   requests,
		Auth:       authenticator,
		Reconciler: rec,
		Library:    jf,
		Browser:    jf,
	})
	go func() {
		if err := webServer.Start(); err != nil {
			logger.Error().Err(err).Msg("Web API 服务启动失败")
		}
	}()
	defer func() {
		if err := webServer.Stop(); err != nil {
			logger.Warn().Err(err).Msg("关闭 Web API 服务失败")
		}
	}()

	// 监听系统信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	logger.Info().Msg("🚀 MediaRequest 启动成功!")
	logger.Info().Msg("按 Ctrl+C 停止...")

	// 等待退出信号
	<-quit

	logger.Info().Msg("正在关闭服务...")
}
