// Package service 数据库备份服务
package service

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/smysle/mediarequest-go/internal/config"
	"github.com/smysle/mediarequest-go/internal/database/models"
	"github.com/smysle/mediarequest-go/internal/database/repository"
	"github.com/smysle/mediarequest-go/pkg/logger"
)

const (
	backupVersion = "1"
	backupPrefix  = "backup_"
)

// BackupService 备份服务
type BackupService struct {
	repo      *repository.RequestRepository
	backupDir string
	compress  bool
	keepDays  int
	now       func() time.Time
}

// BackupData 备份数据结构
type BackupData struct {
	Version   string                  `json:"version"`
	CreatedAt time.Time               `json:"created_at"`
	Requests  []models.Request        `json:"requests"`
	History   []models.RequestHistory `json:"history"`
}

// BackupResult 备份结果
type BackupResult struct {
	Filename   string
	FilePath   string
	Size       int64
	Duration   time.Duration
	Records    int
	Compressed bool
}

// BackupInfo 备份信息
type BackupInfo struct {
	Filename  string
	Size      int64
	CreatedAt time.Time
}

// NewBackupService 创建备份服务
func NewBackupService(repo *repository.RequestRepository, cfg config.BackupConfig) *BackupService {
	return &BackupService{
		repo:      repo,
		backupDir: cfg.Dir,
		compress:  cfg.Compress,
		keepDays:  cfg.KeepDays,
		now:       time.Now,
	}
}

// SetClock 设置时钟（用于测试）
func (s *BackupService) SetClock(now func() time.Time) {
	s.now = now
}

// Run 执行一次备份并清理过期备份，供定时任务调用
func (s *BackupService) Run(ctx context.Context) error {
	if _, err := s.Backup(ctx); err != nil {
		return err
	}
	if _, err := s.CleanOldBackups(); err != nil {
		logger.Warn().Err(err).Msg("清理旧备份失败")
	}
	return nil
}

// Backup 执行备份
func (s *BackupService) Backup(ctx context.Context) (*BackupResult, error) {
	start := time.Now()

	reqs, history, err := s.repo.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取备份数据失败: %w", err)
	}
	data := BackupData{
		Version:   backupVersion,
		CreatedAt: s.now(),
		Requests:  reqs,
		History:   history,
	}

	if err := os.MkdirAll(s.backupDir, 0755); err != nil {
		return nil, fmt.Errorf("创建备份目录失败: %w", err)
	}

	// 生成文件名
	filename := backupPrefix + data.CreatedAt.Format("20060102_150405") + ".json"
	if s.compress {
		filename += ".gz"
	}
	filePath := filepath.Join(s.backupDir, filename)

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("序列化失败: %w", err)
	}

	if err := writeBackup(filePath, jsonData, s.compress); err != nil {
		return nil, err
	}
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, err
	}

	records := len(reqs) + len(history)
	logger.Info().
		Str("file", filename).
		Str("size", FormatSize(info.Size())).
		Int("records", records).
		Msg("数据库备份完成")

	return &BackupResult{
		Filename:   filename,
		FilePath:   filePath,
		Size:       info.Size(),
		Duration:   time.Since(start),
		Records:    records,
		Compressed: s.compress,
	}, nil
}

// writeBackup 先写临时文件再改名，避免留下半个备份
func writeBackup(path string, data []byte, compress bool) error {
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("创建文件失败: %w", err)
	}

	var w io.Writer = file
	var gz *gzip.Writer
	if compress {
		gz = gzip.NewWriter(file)
		w = gz
	}

	_, err = w.Write(data)
	if err == nil && gz != nil {
		err = gz.Close()
	}
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("写入备份失败: %w", err)
	}
	return os.Rename(tmp, path)
}

// Restore 从备份恢复
func (s *BackupService) Restore(ctx context.Context, filePath string) error {
	data, err := readBackup(filePath)
	if err != nil {
		return fmt.Errorf("读取备份文件失败: %w", err)
	}

	var backup BackupData
	if err := json.Unmarshal(data, &backup); err != nil {
		return fmt.Errorf("解析备份数据失败: %w", err)
	}
	if backup.Version != backupVersion {
		return fmt.Errorf("不支持的备份版本: %q", backup.Version)
	}

	if err := s.repo.Restore(ctx, backup.Requests, backup.History); err != nil {
		return fmt.Errorf("恢复数据失败: %w", err)
	}

	logger.Info().
		Int("requests", len(backup.Requests)).
		Int("history", len(backup.History)).
		Msg("数据库恢复完成")
	return nil
}

func readBackup(path string) ([]byte, error) {
	if filepath.Ext(path) != ".gz" {
		return os.ReadFile(path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	return io.ReadAll(gz)
}

// ListBackups 列出所有备份，按时间倒序
func (s *BackupService) ListBackups() ([]BackupInfo, error) {
	entries, err := os.ReadDir(s.backupDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var backups []BackupInfo
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, backupPrefix) || strings.HasSuffix(name, ".tmp") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, BackupInfo{
			Filename:  name,
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}

// CleanOldBackups 删除超过保留天数的备份，返回删除数量
func (s *BackupService) CleanOldBackups() (int, error) {
	keepDays := s.keepDays
	if keepDays <= 0 {
		keepDays = 7
	}

	backups, err := s.ListBackups()
	if err != nil {
		return 0, err
	}

	cutoff := s.now().AddDate(0, 0, -keepDays)
	deleted := 0
	for _, backup := range backups {
		if !backup.CreatedAt.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.backupDir, backup.Filename)); err != nil {
			logger.Warn().Err(err).Str("file", backup.Filename).Msg("删除旧备份失败")
			continue
		}
		deleted++
		logger.Debug().Str("file", backup.Filename).Msg("已删除旧备份")
	}
	return deleted, nil
}

// FormatSize 格式化文件大小
func FormatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
