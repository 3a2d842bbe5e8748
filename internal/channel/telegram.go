package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"shopbot/internal/domain"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// Telegram implements domain.Channel for Telegram bots, used mostly for
// staging: same dialogue as WhatsApp without a Business API account.
type Telegram struct {
	token  string
	bot    *tgbotapi.BotAPI
	bus    domain.MessageBus
	logger *slog.Logger
}

type TelegramChannelConfig struct {
	Token  string
	Logger *slog.Logger
}

func NewTelegram(cfg TelegramChannelConfig) *Telegram {
	return &Telegram{
		token:  cfg.Token,
		logger: cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and polls for updates until ctx is cancelled.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)

	bus.OnOutbound("telegram", func(reply domain.OutboundReply) {
		chatID, err := strconv.ParseInt(reply.ChatID, 10, 64)
		if err != nil {
			t.logger.Error("invalid chat ID for telegram outbound", "chatID", reply.ChatID, "err", err)
			return
		}
		t.sendReply(chatID, reply.Body, reply.QuickReplies)
	})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update)
		}
	}
}

// Stop is a no-op: the bot stops when Start's context is cancelled, and
// StopReceivingUpdates panics when called twice.
func (t *Telegram) Stop() error { return nil }

func (t *Telegram) Send(ctx context.Context, chatID string, content string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}
	t.sendReply(id, content, nil)
	return nil
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}

	msg := update.Message
	chatID := msg.Chat.ID

	if msg.IsCommand() {
		t.handleCommand(chatID, msg)
		return
	}

	in := domain.InboundMessage{
		ID:        strconv.Itoa(msg.MessageID),
		Channel:   "telegram",
		ChatID:    strconv.FormatInt(chatID, 10),
		SenderID:  strconv.FormatInt(msg.From.ID, 10),
		Timestamp: time.Unix(int64(msg.Date), 0),
		IsGroup:   msg.Chat.IsGroup() || msg.Chat.IsSuperGroup(),
	}

	switch {
	case msg.Text != "":
		in.Kind = domain.KindText
		in.Body = strings.TrimSpace(msg.Text)
	case msg.Photo != nil:
		in.Kind = domain.KindImage
		in.Caption = msg.Caption
	case msg.Voice != nil || msg.Audio != nil:
		in.Kind = domain.KindAudio
	case msg.Video != nil:
		in.Kind = domain.KindVideo
	case msg.Document != nil:
		in.Kind = domain.KindDocument
	case msg.Location != nil:
		in.Kind = domain.KindLocation
	case msg.Contact != nil:
		in.Kind = domain.KindContact
	default:
		return
	}

	t.logger.Info("telegram message received", "chat_id", chatID, "kind", in.Kind)

	typing := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	_, _ = t.bot.Send(typing)

	t.bus.Publish(in)
}

func (t *Telegram) handleCommand(chatID int64, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		t.sendReply(chatID, "👋 Hi! I can show you our products, take your order, and track deliveries. What would you like?",
			[]string{"Show products", "Place order", "Order status"})
	case "help":
		t.sendReply(chatID, "Send me a message like:\n• \"show products\"\n• \"I want to order pulled pork\"\n• \"where is my order\"\n• \"cancel my order\"", nil)
	default:
		t.sendReply(chatID, "Unknown command. Type /help for what I can do.", nil)
	}
}

// sendReply chunks long messages and attaches quick replies as a one-time
// reply keyboard on the final chunk.
func (t *Telegram) sendReply(chatID int64, text string, quickReplies []string) {
	for len(text) > 0 {
		chunk := text
		if len(chunk) > telegramMaxMsgLen {
			cutAt := strings.LastIndex(chunk[:telegramMaxMsgLen], "\n")
			if cutAt < telegramMaxMsgLen/2 {
				cutAt = telegramMaxMsgLen
			}
			chunk = text[:cutAt]
			text = text[cutAt:]
		} else {
			text = ""
		}

		var markup any
		if text == "" && len(quickReplies) > 0 {
			rows := make([][]tgbotapi.KeyboardButton, 0, len(quickReplies))
			for _, qr := range quickReplies {
				rows = append(rows, tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(qr)))
			}
			kb := tgbotapi.NewOneTimeReplyKeyboard(rows...)
			kb.ResizeKeyboard = true
			markup = kb
		}

		t.sendChunk(chatID, chunk, markup)
	}
}

// sendChunk sends one message with rate-limit and transient-error retry.
func (t *Telegram) sendChunk(chatID int64, text string, markup any) {
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if markup != nil {
			msg.ReplyMarkup = markup
		}

		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}

		errStr := err.Error()
		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off", "retry_after", retryAfter, "attempt", attempt+1)
			time.Sleep(retryAfter)
			continue
		}

		if attempt < telegramMaxSendRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}

		t.logger.Error("telegram send failed after retries", "err", err, "attempts", telegramMaxSendRetries+1)
	}
}
