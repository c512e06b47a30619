// Package bot turns chat updates into resolutions, browsing steps and
// replies.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/tetsuhou/iv-rhash-bot/browse"
	"github.com/tetsuhou/iv-rhash-bot/link"
	"github.com/tetsuhou/iv-rhash-bot/prefkey"
	"github.com/tetsuhou/iv-rhash-bot/resolver"
	"github.com/tetsuhou/iv-rhash-bot/session"
)

// ErrTransport marks failures talking to the chat platform.
var ErrTransport = errors.New("transport failed")

// Sender delivers replies to the chat platform.
type Sender interface {
	SendText(ctx context.Context, chatID int64, reply session.Reply) error
	EditText(ctx context.Context, chatID int64, messageID int, reply session.Reply) error
	AnswerCallback(ctx context.Context, callbackID, notice string) error
	AnswerInline(ctx context.Context, queryID string, results []InlineResult) error
}

// Resolver resolves a classified link for a user.
type Resolver interface {
	Resolve(ctx context.Context, c link.Classification, userID int64) resolver.Outcome
}

// Browser interprets browsing control activations.
type Browser interface {
	Activate(ctx context.Context, a browse.Activation) browse.Result
}

// PreferenceDeleter removes a pinned token.
type PreferenceDeleter interface {
	Delete(ctx context.Context, key string) (string, bool, error)
}

// TitleFetcher looks up an article's title.
type TitleFetcher interface {
	Title(ctx context.Context, rawURL string) (string, error)
}

// InlineResult is one entry of an inline query answer.
type InlineResult struct {
	ID          string
	Title       string
	Description string
	Reply       session.Reply
}

// Callback is a control activation on a message sent by the bot.
type Callback struct {
	ID          string
	UserID      int64
	ChatID      int64
	MessageID   int
	MessageText string
	Data        string
}

// Handler handles every kind of update the bot accepts.
type Handler struct {
	sender      Sender
	classifier  *link.Classifier
	codec       *session.Codec
	resolver    Resolver
	browser     Browser
	preferences PreferenceDeleter
	titles      TitleFetcher
	deriveKey   func(userID int64, host string) (string, error)
	logger      *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithTitleFetcher enables article titles in inline results.
func WithTitleFetcher(f TitleFetcher) Option {
	return func(h *Handler) {
		h.titles = f
	}
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// NewHandler creates a Handler.
func NewHandler(
	sender Sender,
	classifier *link.Classifier,
	codec *session.Codec,
	resolver Resolver,
	browser Browser,
	preferences PreferenceDeleter,
	opts ...Option,
) *Handler {
	h := &Handler{
		sender:      sender,
		classifier:  classifier,
		codec:       codec,
		resolver:    resolver,
		browser:     browser,
		preferences: preferences,
		deriveKey:   prefkey.Derive,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleText resolves a plain text message and replies in the same chat.
func (h *Handler) HandleText(ctx context.Context, chatID, userID int64, text string) error {
	c := h.classifier.Classify(strings.TrimSpace(text))
	outcome := h.resolver.Resolve(ctx, c, userID)
	h.log(ctx).Debug("resolved message", "kind", outcome.Kind.String(), "host", outcome.Host)

	return h.send(ctx, chatID, h.replyFor(outcome))
}

// HandleInline answers an inline query. Queries that are not URLs get no
// answer at all.
func (h *Handler) HandleInline(ctx context.Context, queryID string, userID int64, query string) error {
	c := h.classifier.Classify(strings.TrimSpace(query))
	if c.Kind == link.NotAURL {
		return nil
	}
	outcome := h.resolver.Resolve(ctx, c, userID)
	h.log(ctx).Debug("resolved inline query", "kind", outcome.Kind.String(), "host", outcome.Host)

	results := h.inlineResults(ctx, outcome)
	if err := h.sender.AnswerInline(ctx, queryID, results); err != nil {
		return fmt.Errorf("answer inline query: %w: %w", ErrTransport, err)
	}
	return nil
}

// HandleCallback runs a browsing control activation. The activation is
// always answered, even when the message is left unchanged.
func (h *Handler) HandleCallback(ctx context.Context, cb Callback) error {
	var result browse.Result
	if cb.MessageID != 0 {
		result = h.browser.Activate(ctx, browse.Activation{
			Data:        cb.Data,
			UserID:      cb.UserID,
			MessageText: cb.MessageText,
		})
	}

	var editErr error
	if result.Edit != nil {
		if err := h.sender.EditText(ctx, cb.ChatID, cb.MessageID, *result.Edit); err != nil {
			editErr = fmt.Errorf("edit message: %w: %w", ErrTransport, err)
		}
	}
	if err := h.sender.AnswerCallback(ctx, cb.ID, result.Notice); err != nil {
		return errors.Join(editErr, fmt.Errorf("answer callback: %w: %w", ErrTransport, err))
	}
	return editErr
}

// HandleDeleteDefault removes the caller's pinned token for the host of
// the URL in args. An argument that is not a URL is ignored.
func (h *Handler) HandleDeleteDefault(ctx context.Context, chatID, userID int64, args string) error {
	host, ok := link.Host(strings.TrimSpace(args))
	if !ok {
		h.log(ctx).Debug("ignoring delete default with bad argument")
		return nil
	}

	key, err := h.deriveKey(userID, host)
	if err != nil {
		h.log(ctx).Warn("failed to derive preference key", "host", host, "error", err)
		return h.send(ctx, chatID, session.Reply{Text: MsgDefaultDeleteErr})
	}

	_, found, err := h.preferences.Delete(ctx, key)
	switch {
	case err != nil:
		h.log(ctx).Warn("failed to delete default token", "host", host, "error", err)
		return h.send(ctx, chatID, session.Reply{Text: MsgDefaultDeleteErr})
	case !found:
		return h.send(ctx, chatID, session.Reply{Text: MsgDefaultNotFound})
	default:
		h.log(ctx).Info("deleted default token", "host", host)
		return h.send(ctx, chatID, session.Reply{Text: MsgDefaultDeleted})
	}
}

// HandleStart handles the /start and /help commands.
func (h *Handler) HandleStart(ctx context.Context, chatID int64) error {
	return h.send(ctx, chatID, session.Reply{Text: usageText})
}

func (h *Handler) send(ctx context.Context, chatID int64, reply session.Reply) error {
	if err := h.sender.SendText(ctx, chatID, reply); err != nil {
		return fmt.Errorf("send message: %w: %w", ErrTransport, err)
	}
	return nil
}

// replyFor renders an outcome as the reply to a chat message.
func (h *Handler) replyFor(o resolver.Outcome) session.Reply {
	switch o.Kind {
	case resolver.Direct, resolver.Pinned:
		return h.codec.Direct(o.ArticleURL, o.Token)
	case resolver.Browsable:
		return h.codec.Browsing(session.State{
			ArticleURL: o.ArticleURL,
			Host:       o.Host,
			Token:      o.Candidates[0],
			Ordinal:    1,
			Total:      len(o.Candidates),
		})
	default:
		return session.Reply{Text: failureText(o.Err)}
	}
}

func (h *Handler) inlineResults(ctx context.Context, o resolver.Outcome) []InlineResult {
	switch o.Kind {
	case resolver.Direct, resolver.Pinned:
		return []InlineResult{{
			ID:          uuid.NewString(),
			Title:       inlineTitleDirect,
			Description: h.articleTitle(ctx, o.ArticleURL),
			Reply:       h.codec.Direct(o.ArticleURL, o.Token),
		}}
	case resolver.Browsable:
		description := h.articleTitle(ctx, o.ArticleURL)
		results := make([]InlineResult, 0, len(o.Candidates))
		for _, token := range o.Candidates {
			results = append(results, InlineResult{
				ID:          uuid.NewString(),
				Title:       token,
				Description: description,
				Reply:       h.codec.Direct(o.ArticleURL, token),
			})
		}
		return results
	default:
		text := failureText(o.Err)
		return []InlineResult{{
			ID:          uuid.NewString(),
			Title:       inlineTitleFailure,
			Description: text,
			Reply:       session.Reply{Text: text},
		}}
	}
}

// articleTitle returns the article's title, or "" when titles are off or
// the lookup fails.
func (h *Handler) articleTitle(ctx context.Context, articleURL string) string {
	if h.titles == nil || articleURL == "" {
		return ""
	}
	title, err := h.titles.Title(ctx, articleURL)
	if err != nil {
		h.log(ctx).Debug("failed to fetch article title", "url", articleURL, "error", err)
		return ""
	}
	return title
}

func failureText(err error) string {
	switch {
	case errors.Is(err, resolver.ErrNotAURL):
		return MsgNotAURL
	case errors.Is(err, resolver.ErrKeyDerivation):
		return MsgKeyDerivation
	default:
		return MsgNoCandidates
	}
}

type loggerKey struct{}

// withLogger attaches a per-update logger to ctx.
func withLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

func (h *Handler) log(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return h.logger
}
