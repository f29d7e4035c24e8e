// Package config 配置管理模块
package config

import (
	"encoding/json"
	"os"
	"time"
)

// Config 全局配置结构
type Config struct {
	Log        LogConfig        `json:"log"`
	Jellyfin   JellyfinConfig   `json:"jellyfin"`
	Database   DatabaseConfig   `json:"database"`
	API        APIConfig        `json:"api"`
	Reconciler ReconcilerConfig `json:"reconciler"`
	Auth       AuthConfig       `json:"auth"`
	Telegram   TelegramConfig   `json:"telegram"`
	Backup     BackupConfig     `json:"backup"`
}

// LogConfig 日志配置
type LogConfig struct {
	Dir      string `json:"dir"`
	File     string `json:"file"`
	Timezone string `json:"timezone"`
}

// JellyfinConfig Jellyfin 服务器配置
type JellyfinConfig struct {
	URL            string   `json:"url"`
	APIKey         string   `json:"api_key"`
	AdminIDs       []string `json:"admin_ids"`
	TimeoutSeconds int      `json:"timeout_seconds"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver       string `json:"driver"` // sqlite / mysql
	Path         string `json:"path"`   // sqlite 文件路径，":memory:" 为内存库
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Password     string `json:"password"`
	Name         string `json:"name"`
	MaxOpenConns int    `json:"max_open_conns"`
}

// APIConfig Web API 配置
type APIConfig struct {
	Enabled      bool     `json:"enabled"`
	Host         string   `json:"host"`
	Port         int      `json:"port"`
	AllowOrigins []string `json:"allow_origins"`
}

// ReconcilerConfig 媒体库对账配置
type ReconcilerConfig struct {
	Enabled         *bool `json:"enabled"` // 未配置时默认开启
	IntervalSeconds int   `json:"interval_seconds"`
	Concurrency     int   `json:"concurrency"`
	TimeoutSeconds  int   `json:"timeout_seconds"`
	SearchLimit     int   `json:"search_limit"`
}

// AuthConfig 认证配置
type AuthConfig struct {
	CacheTTLSeconds int `json:"cache_ttl_seconds"`
}

// TelegramConfig Telegram 通知配置
type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   int64  `json:"chat_id"`
}

// BackupConfig 定时备份配置
type BackupConfig struct {
	Enabled       bool   `json:"enabled"`
	Dir           string `json:"dir"`
	IntervalHours int    `json:"interval_hours"`
	KeepDays      int    `json:"keep_days"`
	Compress      bool   `json:"compress"`
}

// Load 加载配置文件
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, err
	}

	// 设置默认值
	config.setDefaults()

	return &config, nil
}

// Save 保存配置到文件
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// setDefaults 设置默认值
func (c *Config) setDefaults() {
	if c.Log.Timezone == "" {
		c.Log.Timezone = "UTC"
	}
	if c.Jellyfin.URL == "" {
		c.Jellyfin.URL = "http://localhost:8096"
	}
	if c.Jellyfin.TimeoutSeconds == 0 {
		c.Jellyfin.TimeoutSeconds = 10
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "mediamanager.db"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 100
	}
	if c.API.Port == 0 {
		c.API.Port = 8000
	}
	if len(c.API.AllowOrigins) == 0 {
		c.API.AllowOrigins = []string{"http://localhost:5173"}
	}
	if c.Reconciler.Enabled == nil {
		enabled := true
		c.Reconciler.Enabled = &enabled
	}
	if c.Reconciler.IntervalSeconds == 0 {
		c.Reconciler.IntervalSeconds = 300
	}
	if c.Reconciler.Concurrency == 0 {
		c.Reconciler.Concurrency = 4
	}
	if c.Reconciler.TimeoutSeconds == 0 {
		c.Reconciler.TimeoutSeconds = 30
	}
	if c.Reconciler.SearchLimit == 0 {
		c.Reconciler.SearchLimit = 20
	}
	if c.Auth.CacheTTLSeconds == 0 {
		c.Auth.CacheTTLSeconds = 300
	}
	if c.Backup.Dir == "" {
		c.Backup.Dir = "./backups"
	}
	if c.Backup.IntervalHours == 0 {
		c.Backup.IntervalHours = 24
	}
	if c.Backup.KeepDays == 0 {
		c.Backup.KeepDays = 7
	}
}

// IsAdmin 判断 Jellyfin 用户是否在配置的管理员列表中
func (c *Config) IsAdmin(userID string) bool {
	for _, admin := range c.Jellyfin.AdminIDs {
		if admin == userID {
			return true
		}
	}
	return false
}

// Timeout Jellyfin 请求超时时间
func (c JellyfinConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// IsEnabled 是否启用定时对账
func (c ReconcilerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Interval 对账周期
func (c ReconcilerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// RequestTimeout 单个请求的媒体库查询超时
func (c ReconcilerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CacheTTL 令牌校验结果缓存时间
func (c AuthConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// Interval 备份周期
func (c BackupConfig) Interval() time.Duration {
	return time.Duration(c.IntervalHours) * time.Hour
}
