package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tetsuhou/iv-rhash-bot/session"
)

// TelegramBot is the Telegram Bot API transport.
type TelegramBot struct {
	api         *tgbotapi.BotAPI
	pollTimeout int
	logger      *slog.Logger
}

// TelegramOption configures a TelegramBot.
type TelegramOption func(*telegramOptions)

type telegramOptions struct {
	proxy       string
	pollTimeout int
	logger      *slog.Logger
}

// WithProxy routes API traffic through the proxy at rawURL.
func WithProxy(rawURL string) TelegramOption {
	return func(o *telegramOptions) {
		o.proxy = rawURL
	}
}

// WithPollTimeout sets the long-poll timeout in seconds.
func WithPollTimeout(secs int) TelegramOption {
	return func(o *telegramOptions) {
		o.pollTimeout = secs
	}
}

// WithTelegramLogger sets the transport logger.
func WithTelegramLogger(logger *slog.Logger) TelegramOption {
	return func(o *telegramOptions) {
		o.logger = logger
	}
}

// NewTelegramBot connects to the Bot API with token.
func NewTelegramBot(token string, opts ...TelegramOption) (*TelegramBot, error) {
	if token == "" {
		return nil, errors.New("telegram token required")
	}
	o := telegramOptions{pollTimeout: 60, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	client, err := newHTTPClient(o.proxy, o.pollTimeout)
	if err != nil {
		return nil, err
	}
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("connect to telegram: %w", err)
	}

	return &TelegramBot{api: api, pollTimeout: o.pollTimeout, logger: o.logger}, nil
}

// newHTTPClient builds the API client. Its timeout outlasts a long poll.
func newHTTPClient(proxy string, pollTimeout int) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxy != "" {
		u, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(u)
	}
	return &http.Client{
		Transport: transport,
		Timeout:   time.Duration(pollTimeout+10) * time.Second,
	}, nil
}

// Username returns the bot's username.
func (b *TelegramBot) Username() string {
	return b.api.Self.UserName
}

// Run long-polls for updates and dispatches each one on its own goroutine
// until ctx is cancelled. In-flight updates are waited for before Run
// returns.
func (b *TelegramBot) Run(ctx context.Context, h *Handler) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.pollTimeout
	u.AllowedUpdates = []string{"message", "inline_query", "callback_query"}

	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("polling for updates", "username", b.api.Self.UserName, "timeout", b.pollTimeout)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("stopping update polling")
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				h.Dispatch(ctx, update)
			}()
		}
	}
}

// SendText sends reply as a new message.
func (b *TelegramBot) SendText(ctx context.Context, chatID int64, reply session.Reply) error {
	msg := tgbotapi.NewMessage(chatID, reply.Text)
	if reply.Markdown {
		msg.ParseMode = tgbotapi.ModeMarkdownV2
	}
	if len(reply.Controls) > 0 {
		msg.ReplyMarkup = keyboard(reply.Controls)
	}
	_, err := b.api.Send(msg)
	return err
}

// EditText replaces a message's text. A reply without controls removes
// the message's keyboard.
func (b *TelegramBot) EditText(ctx context.Context, chatID int64, messageID int, reply session.Reply) error {
	var edit tgbotapi.EditMessageTextConfig
	if len(reply.Controls) > 0 {
		edit = tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, reply.Text, keyboard(reply.Controls))
	} else {
		edit = tgbotapi.NewEditMessageText(chatID, messageID, reply.Text)
	}
	if reply.Markdown {
		edit.ParseMode = tgbotapi.ModeMarkdownV2
	}
	_, err := b.api.Request(edit)
	return err
}

// AnswerCallback acknowledges a control activation, showing notice if set.
func (b *TelegramBot) AnswerCallback(ctx context.Context, callbackID, notice string) error {
	_, err := b.api.Request(tgbotapi.NewCallback(callbackID, notice))
	return err
}

// AnswerInline answers an inline query with personal, uncached results.
func (b *TelegramBot) AnswerInline(ctx context.Context, queryID string, results []InlineResult) error {
	items := make([]interface{}, 0, len(results))
	for _, r := range results {
		var article tgbotapi.InlineQueryResultArticle
		if r.Reply.Markdown {
			article = tgbotapi.NewInlineQueryResultArticleMarkdownV2(r.ID, r.Title, r.Reply.Text)
		} else {
			article = tgbotapi.NewInlineQueryResultArticle(r.ID, r.Title, r.Reply.Text)
		}
		article.Description = r.Description
		items = append(items, article)
	}

	_, err := b.api.Request(tgbotapi.InlineConfig{
		InlineQueryID: queryID,
		Results:       items,
		CacheTime:     0,
		IsPersonal:    true,
	})
	return err
}

func keyboard(controls []session.Control) tgbotapi.InlineKeyboardMarkup {
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(controls))
	for _, c := range controls {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(c.Label, string(c.Action)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row)
}
