// Package scheduler 定时任务调度
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/smysle/mediarequest-go/pkg/logger"
)

// ErrUnknownJob 任务未注册
var ErrUnknownJob = errors.New("任务不存在")

// JobFunc 定时任务，ctx 在调度器停止时取消
type JobFunc func(ctx context.Context) error

type job struct {
	name string
	fn   JobFunc
	// 同一任务的定时执行与手动执行互斥
	mu sync.Mutex
}

// Scheduler 定时任务调度器
type Scheduler struct {
	cron   *gocron.Scheduler
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.RWMutex
	jobs map[string]*job
}

// New 创建调度器，timezone 无效时使用 UTC
func New(timezone string) *Scheduler {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	s := gocron.NewScheduler(loc)
	s.SetMaxConcurrentJobs(5, gocron.RescheduleMode)

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   s,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*job),
	}
}

// Register 注册按固定间隔执行的任务，首次执行在一个间隔之后
func (s *Scheduler) Register(name string, interval time.Duration, fn JobFunc) error {
	if interval <= 0 {
		return fmt.Errorf("任务 %s 的间隔无效: %v", name, interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("任务 %s 已注册", name)
	}

	j := &job{name: name, fn: fn}
	_, err := s.cron.Every(interval).
		WaitForSchedule().
		SingletonMode().
		Tag(name).
		Do(func() {
			if err := s.run(j); err != nil {
				logger.Error().Err(err).Str("job", name).Msg("定时任务执行失败")
			}
		})
	if err != nil {
		return fmt.Errorf("注册任务 %s 失败: %w", name, err)
	}

	s.jobs[name] = j
	logger.Info().Str("job", name).Dur("interval", interval).Msg("已注册定时任务")
	return nil
}

func (s *Scheduler) run(j *job) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if s.ctx.Err() != nil {
		return s.ctx.Err()
	}
	logger.Debug().Str("job", j.name).Msg("执行定时任务")
	return j.fn(s.ctx)
}

// RunNow 立即同步执行任务，若该任务正在执行则等待其完成后再执行
func (s *Scheduler) RunNow(name string) error {
	s.mu.RLock()
	j, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(j)
}

// Jobs 已注册的任务名，按名称排序
func (s *Scheduler) Jobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start 启动调度器
func (s *Scheduler) Start() {
	logger.Info().Msg("启动定时任务调度器")
	s.cron.StartAsync()
}

// Stop 停止调度器，正在执行的任务会收到 ctx 取消
func (s *Scheduler) Stop() {
	logger.Info().Msg("停止定时任务调度器")
	s.cancel()
	s.cron.Stop()
}
