// Package config 配置模块测试
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig_IsAdmin(t *testing.T) {
	cfg := &Config{
		Jellyfin: JellyfinConfig{AdminIDs: []string{"u-admin", "u-owner"}},
	}

	tests := []struct {
		name     string
		userID   string
		expected bool
	}{
		{"Admin 是管理员", "u-admin", true},
		{"Owner 是管理员", "u-owner", true},
		{"普通用户不是管理员", "u-guest", false},
		{"空 ID 不是管理员", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cfg.IsAdmin(tt.userID); got != tt.expected {
				t.Errorf("IsAdmin(%q) = %v, want %v", tt.userID, got, tt.expected)
			}
		})
	}
}

func TestConfig_SetDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.setDefaults()

	if cfg.Database.Driver != "sqlite" {
		t.Errorf("默认数据库驱动应该是 sqlite，实际是 '%s'", cfg.Database.Driver)
	}

	if cfg.Database.Path != "mediamanager.db" {
		t.Errorf("默认数据库路径应该是 mediamanager.db，实际是 '%s'", cfg.Database.Path)
	}

	if cfg.Reconciler.Interval() != 5*time.Minute {
		t.Errorf("默认对账周期应该是 5 分钟，实际是 %s", cfg.Reconciler.Interval())
	}

	if cfg.Reconciler.Concurrency != 4 {
		t.Errorf("默认并发数应该是 4，实际是 %d", cfg.Reconciler.Concurrency)
	}

	if cfg.Reconciler.RequestTimeout() != 30*time.Second {
		t.Errorf("默认查询超时应该是 30 秒，实际是 %s", cfg.Reconciler.RequestTimeout())
	}

	if cfg.Auth.CacheTTL() != 5*time.Minute {
		t.Errorf("默认令牌缓存时间应该是 5 分钟，实际是 %s", cfg.Auth.CacheTTL())
	}

	if cfg.API.Port != 8000 {
		t.Errorf("默认 API 端口应该是 8000，实际是 %d", cfg.API.Port)
	}

	if cfg.Backup.Interval() != 24*time.Hour || cfg.Backup.KeepDays != 7 {
		t.Errorf("默认备份周期应该是 24 小时并保留 7 天，实际是 %s / %d", cfg.Backup.Interval(), cfg.Backup.KeepDays)
	}
}

func TestConfig_SetDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := &Config{
		Database:   DatabaseConfig{Driver: "mysql", Port: 3307},
		Reconciler: ReconcilerConfig{IntervalSeconds: 60, Concurrency: 1},
	}
	cfg.setDefaults()

	if cfg.Database.Path != "" {
		t.Errorf("mysql 驱动不应该设置 sqlite 路径，实际是 '%s'", cfg.Database.Path)
	}
	if cfg.Database.Port != 3307 {
		t.Errorf("显式端口不应该被覆盖，实际是 %d", cfg.Database.Port)
	}
	if cfg.Reconciler.Interval() != time.Minute || cfg.Reconciler.Concurrency != 1 {
		t.Error("显式对账配置不应该被覆盖")
	}
}

func TestReconcilerEnabled(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected bool
	}{
		{"未配置时默认开启", `{}`, true},
		{"未写 enabled 时默认开启", `{"reconciler": {"interval_seconds": 60}}`, true},
		{"显式开启", `{"reconciler": {"enabled": true}}`, true},
		{"显式关闭", `{"reconciler": {"enabled": false}}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.json")
			if err := os.WriteFile(path, []byte(tt.raw), 0644); err != nil {
				t.Fatal(err)
			}
			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if got := cfg.Reconciler.IsEnabled(); got != tt.expected {
				t.Errorf("IsEnabled() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestLoadAndSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	raw := `{"jellyfin": {"url": "http://jf:8096", "api_key": "k"}, "reconciler": {"enabled": true}}`
	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Jellyfin.URL != "http://jf:8096" || !cfg.Reconciler.IsEnabled() {
		t.Errorf("配置解析不正确: %+v", cfg)
	}
	if cfg.Reconciler.SearchLimit != 20 {
		t.Errorf("加载后应该填充默认值，SearchLimit = %d", cfg.Reconciler.SearchLimit)
	}

	out := filepath.Join(dir, "saved.json")
	if err := cfg.Save(out); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	again, err := Load(out)
	if err != nil {
		t.Fatalf("重新加载失败: %v", err)
	}
	if again.Jellyfin.APIKey != "k" {
		t.Errorf("保存后 api_key 丢失")
	}

	if _, err := Load(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("加载不存在的文件应该返回错误")
	}
}
