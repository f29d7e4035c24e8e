// Package logger 日志模块
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultFile = "mediarequest.log"
	timeFormat  = "2006-01-02 15:04:05"
)

// Logger 全局日志实例，Init 之前输出 JSON 到标准输出
var Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Options 日志初始化参数
type Options struct {
	Dir      string // 日志目录，为空则只输出到控制台
	File     string // 日志文件名
	Timezone string // 时间戳时区
	Debug    bool
}

// Init 初始化日志：控制台 + 可选日志文件。
// 日志文件打开失败时仍使用控制台输出，并返回错误供调用方记录。
func Init(opts Options) error {
	if opts.Timezone != "" {
		if loc, err := time.LoadLocation(opts.Timezone); err == nil {
			zerolog.TimestampFunc = func() time.Time {
				return time.Now().In(loc)
			}
		}
	}

	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: timeFormat}}

	file, fileErr := openLogFile(opts.Dir, opts.File)
	if file != nil {
		writers = append(writers, file)
	}

	level := zerolog.InfoLevel
	if opts.Debug {
		level = zerolog.DebugLevel
	}
	SetOutput(zerolog.MultiLevelWriter(writers...), level)
	return fileErr
}

func openLogFile(dir, name string) (*os.File, error) {
	if dir == "" {
		return nil, nil
	}
	if name == "" {
		name = defaultFile
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建日志目录失败: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("打开日志文件失败: %w", err)
	}
	return f, nil
}

// SetOutput 替换日志输出与级别，测试中用于捕获日志
func SetOutput(w io.Writer, level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
	Logger = zerolog.New(w).With().Timestamp().Caller().Logger()
	log.Logger = Logger
}

// With 带固定字段的子日志，如 With("cycle_id", id)
func With(key, value string) zerolog.Logger {
	return Logger.With().Str(key, value).Logger()
}

// Debug 调试日志
func Debug() *zerolog.Event {
	return Logger.Debug()
}

// Info 信息日志
func Info() *zerolog.Event {
	return Logger.Info()
}

// Warn 警告日志
func Warn() *zerolog.Event {
	return Logger.Warn()
}

// Error 错误日志
func Error() *zerolog.Event {
	return Logger.Error()
}

// Fatal 致命错误日志
func Fatal() *zerolog.Event {
	return Logger.Fatal()
}
