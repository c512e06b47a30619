package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
)

// Command names accepted in private chats and groups.
const (
	CommandStart         = "start"
	CommandHelp          = "help"
	CommandDeleteDefault = "deleteDefaultRhash"
)

// Dispatch routes one update to its handler. Each update is handled on
// its own; an error is logged and returned but never affects other updates.
func (h *Handler) Dispatch(ctx context.Context, update tgbotapi.Update) error {
	logger := h.logger.With("update_id", update.UpdateID, "trace", uuid.NewString())
	ctx = withLogger(ctx, logger)

	var err error
	switch {
	case update.Message != nil:
		err = h.dispatchMessage(ctx, update.Message)
	case update.InlineQuery != nil:
		q := update.InlineQuery
		err = h.HandleInline(ctx, q.ID, userID(q.From), q.Query)
	case update.CallbackQuery != nil:
		err = h.HandleCallback(ctx, callbackFrom(update.CallbackQuery))
	default:
		return nil
	}

	if err != nil {
		logger.Warn("failed to handle update", "error", err)
	}
	return err
}

func (h *Handler) dispatchMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.Chat == nil || msg.Text == "" {
		return nil
	}
	chatID := msg.Chat.ID

	if msg.IsCommand() {
		switch msg.Command() {
		case CommandStart, CommandHelp:
			return h.HandleStart(ctx, chatID)
		case CommandDeleteDefault:
			return h.HandleDeleteDefault(ctx, chatID, userID(msg.From), msg.CommandArguments())
		default:
			h.log(ctx).Debug("ignoring unknown command", "command", msg.Command())
			return nil
		}
	}

	return h.HandleText(ctx, chatID, userID(msg.From), msg.Text)
}

// callbackFrom flattens a callback query. Activations on inline messages
// carry no chat message and leave MessageID zero.
func callbackFrom(q *tgbotapi.CallbackQuery) Callback {
	cb := Callback{
		ID:     q.ID,
		UserID: userID(q.From),
		Data:   q.Data,
	}
	if q.Message != nil && q.Message.Chat != nil {
		cb.ChatID = q.Message.Chat.ID
		cb.MessageID = q.Message.MessageID
		cb.MessageText = q.Message.Text
	}
	return cb
}

// userID returns 0 for updates without a sender, which makes key
// derivation fail.
func userID(u *tgbotapi.User) int64 {
	if u == nil {
		return 0
	}
	return u.ID
}
