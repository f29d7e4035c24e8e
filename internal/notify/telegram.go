// Package notify 请求事件通知
package notify

import (
	"errors"
	"fmt"
	"html"
	"sync"
	"time"

	tele "gopkg.in/telebot.v3"

	"github.com/smysle/mediarequest-go/internal/config"
	"github.com/smysle/mediarequest-go/internal/database/models"
	"github.com/smysle/mediarequest-go/pkg/logger"
)

const queueSize = 64

// Sender 发送 Telegram 消息，*tele.Bot 实现了该接口
type Sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Telegram 向管理群发送请求事件，发送在后台进行，失败只记录日志
type Telegram struct {
	sender Sender
	chat   tele.Recipient
	queue  chan string

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewTelegram 根据配置创建 Telegram 通知，不联网校验 Token
func NewTelegram(cfg config.TelegramConfig) (*Telegram, error) {
	if cfg.BotToken == "" || cfg.ChatID == 0 {
		return nil, errors.New("telegram 通知需要 bot_token 与 chat_id")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.BotToken,
		Offline: true,
		OnError: func(err error, c tele.Context) {
			logger.Error().Err(err).Msg("Bot 错误")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("创建 Telegram Bot 失败: %w", err)
	}
	return NewTelegramWithSender(b, cfg.ChatID), nil
}

// NewTelegramWithSender 使用指定的 Sender 创建通知并启动发送协程
func NewTelegramWithSender(sender Sender, chatID int64) *Telegram {
	t := &Telegram{
		sender: sender,
		chat:   tele.ChatID(chatID),
		queue:  make(chan string, queueSize),
		done:   make(chan struct{}),
	}
	go t.loop()
	return t
}

func (t *Telegram) loop() {
	defer close(t.done)
	for text := range t.queue {
		if _, err := t.sender.Send(t.chat, text, tele.ModeHTML, tele.NoPreview); err != nil {
			logger.Warn().Err(err).Msg("发送 Telegram 通知失败")
		}
	}
}

func (t *Telegram) enqueue(text string) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.queue <- text:
	default:
		logger.Warn().Msg("通知队列已满，丢弃消息")
	}
}

// RequestCreated 新请求通知
func (t *Telegram) RequestCreated(req *models.Request) {
	t.enqueue(FormatCreated(req))
}

// StatusChanged 状态变更通知
func (t *Telegram) StatusChanged(req *models.Request, changedBy string) {
	t.enqueue(FormatStatusChanged(req, changedBy))
}

// Close 停止接收新消息并等待队列发送完毕，最多等待 timeout
func (t *Telegram) Close(timeout time.Duration) {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.queue)
	}
	t.mu.Unlock()
	select {
	case <-t.done:
	case <-time.After(timeout):
		logger.Warn().Msg("等待通知发送超时")
	}
}

var statusEmoji = map[models.RequestStatus]string{
	models.StatusPending:   "⏳",
	models.StatusApproved:  "✅",
	models.StatusDenied:    "❌",
	models.StatusFulfilled: "🎉",
}

var kindLabel = map[models.MediaKind]string{
	models.KindMovie: "电影",
	models.KindShow:  "剧集",
}

// FormatCreated 新请求消息
func FormatCreated(req *models.Request) string {
	return fmt.Sprintf(
		"📥 <b>新的媒体请求</b> #%d\n\n"+
			"%s：%s\n"+
			"TMDB：%d\n"+
			"请求人：%s",
		req.ID,
		kindLabel[req.MediaKind], html.EscapeString(req.Title),
		req.CatalogID,
		html.EscapeString(req.RequesterName),
	)
}

// FormatStatusChanged 状态变更消息
func FormatStatusChanged(req *models.Request, changedBy string) string {
	text := fmt.Sprintf(
		"%s <b>请求状态变更</b> #%d\n\n"+
			"%s：%s\n"+
			"状态：%s\n"+
			"操作人：%s",
		statusEmoji[req.Status], req.ID,
		kindLabel[req.MediaKind], html.EscapeString(req.Title),
		req.Status,
		html.EscapeString(changedBy),
	)
	if req.AdminNote != nil && *req.AdminNote != "" {
		text += "\n备注：" + html.EscapeString(*req.AdminNote)
	}
	return text
}
