package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"btc_trader/internal/models"
	"btc_trader/pkg/logger"
)

// Telegram — уведомления в один чат, подтверждения кнопками и команды владельца.
type Telegram struct {
	bot    *tgbot.BotAPI
	chatID int64

	mu       sync.Mutex
	pendings map[string]*pending
	commands map[string]CommandFunc
}

type pending struct {
	ch     chan bool
	msgID  int
	prompt string
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram init: %w", err)
	}
	return &Telegram{
		bot:      b,
		chatID:   chatID,
		pendings: make(map[string]*pending),
		commands: make(map[string]CommandFunc),
	}, nil
}

// Handle регистрирует команду без слеша: Handle("status", fn).
func (t *Telegram) Handle(cmd string, fn CommandFunc) {
	t.mu.Lock()
	t.commands[strings.TrimPrefix(cmd, "/")] = fn
	t.mu.Unlock()
}

func (t *Telegram) Send(_ context.Context, msg string, p models.Priority) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	if p == models.PriorityHigh {
		msg = "🚨 " + msg
	}
	m := tgbot.NewMessage(t.chatID, msg)
	m.DisableNotification = p == models.PriorityLow
	if _, err := t.bot.Send(m); err != nil {
		logger.Error("[TG] send: %v", err)
	}
}

func (t *Telegram) Sendf(ctx context.Context, p models.Priority, format string, args ...any) {
	t.Send(ctx, fmt.Sprintf(format, args...), p)
}

// HandleCallback разбирает нажатие CONF::token / REJ::token.
func (t *Telegram) HandleCallback(cb *tgbot.CallbackQuery) {
	if t == nil || t.bot == nil || cb == nil {
		return
	}

	// ответ Telegram для остановки спиннера
	_, _ = t.bot.Request(tgbot.NewCallback(cb.ID, ""))

	verb, token, ok := parseCallback(cb.Data)
	if !ok {
		return
	}

	t.mu.Lock()
	p, ok := t.pendings[token]
	if ok {
		delete(t.pendings, token)
	}
	t.mu.Unlock()
	if !ok {
		return
	}

	accepted := verb == "CONF"
	p.ch <- accepted

	status := "❌ Отклонено"
	if accepted {
		status = "✅ Подтверждено"
	}
	t.finish(p, status)
}

func parseCallback(data string) (verb, token string, ok bool) {
	verb, token, found := strings.Cut(data, "::")
	if !found || verb == "" || token == "" {
		return "", "", false
	}
	if verb != "CONF" && verb != "REJ" {
		return "", "", false
	}
	return verb, token, true
}

func (t *Telegram) finish(p *pending, status string) {
	rm := tgbot.InlineKeyboardMarkup{InlineKeyboard: [][]tgbot.InlineKeyboardButton{}}
	_, _ = t.bot.Request(tgbot.NewEditMessageReplyMarkup(t.chatID, p.msgID, rm))
	_, _ = t.bot.Request(tgbot.NewEditMessageText(t.chatID, p.msgID, fmt.Sprintf("%s\n\n%s", p.prompt, status)))
}

// Confirm — сообщение с кнопками и ожиданием callback. Таймаут и отмена = отказ.
func (t *Telegram) Confirm(ctx context.Context, prompt string, timeout time.Duration) bool {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return true
	}

	token := fmt.Sprintf("%d", time.Now().UnixNano())
	p := &pending{
		ch:     make(chan bool, 1),
		prompt: prompt,
	}

	btnYes := tgbot.NewInlineKeyboardButtonData("✅ Выполнить", "CONF::"+token)
	btnNo := tgbot.NewInlineKeyboardButtonData("❌ Пропустить", "REJ::"+token)
	msg := tgbot.NewMessage(t.chatID, prompt)
	msg.ReplyMarkup = tgbot.NewInlineKeyboardMarkup(tgbot.NewInlineKeyboardRow(btnYes, btnNo))

	sent, err := t.bot.Send(msg)
	if err != nil {
		logger.Error("[TG] confirm send: %v", err)
		return false
	}
	p.msgID = sent.MessageID

	t.mu.Lock()
	t.pendings[token] = p
	t.mu.Unlock()

	tmr := time.NewTimer(timeout)
	defer tmr.Stop()

	drop := func(status string) bool {
		t.mu.Lock()
		_, still := t.pendings[token]
		delete(t.pendings, token)
		t.mu.Unlock()
		if still {
			t.finish(p, status)
		}
		return false
	}

	select {
	case ok := <-p.ch:
		return ok
	case <-tmr.C:
		return drop("⏳ Таймаут")
	case <-ctx.Done():
		return drop("⛔️ Отменено")
	}
}

// Start: long-polling для messages + callback_query.
func (t *Telegram) Start(ctx context.Context) error {
	if t == nil || t.bot == nil {
		return nil
	}

	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message", "callback_query"}

	updates := t.bot.GetUpdatesChan(u)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case upd := <-updates:
				if upd.CallbackQuery != nil {
					t.HandleCallback(upd.CallbackQuery)
				}
				if upd.Message != nil && upd.Message.Chat != nil &&
					upd.Message.Chat.ID == t.chatID && upd.Message.IsCommand() {
					go t.handleCommand(ctx, upd.Message.Command())
				}
			}
		}
	}()
	return nil
}

func (t *Telegram) handleCommand(ctx context.Context, cmd string) {
	t.mu.Lock()
	fn, ok := t.commands[cmd]
	t.mu.Unlock()
	if !ok {
		t.Send(ctx, "🤷 Неизвестная команда. Доступно: /status /lots /profit", models.PriorityLow)
		return
	}
	t.Send(ctx, fn(ctx), models.PriorityLow)
}

func (t *Telegram) Stop() {
	if t == nil || t.bot == nil {
		return
	}
	t.bot.StopReceivingUpdates()
}
