// Package browse steps through a host's candidate tokens in response to
// control activations on a browsing reply.
package browse

import (
	"context"
	"log/slog"

	"github.com/tetsuhou/iv-rhash-bot/prefkey"
	"github.com/tetsuhou/iv-rhash-bot/session"
)

// Boundary notices shown when stepping past either end of the list.
const (
	NoticeNoEarlier = "没有更靠前的模板"
	NoticeNoLater   = "没有更靠后的模板"
)

// CandidateSource re-reads a host's candidate list.
type CandidateSource interface {
	List(ctx context.Context, host string) ([]string, error)
	Refresh(ctx context.Context) error
}

// PreferenceWriter pins a token for a preference key.
type PreferenceWriter interface {
	Set(ctx context.Context, key, token string) error
}

// Activation is one press of a browsing control.
type Activation struct {
	// Data is the control's payload.
	Data string
	// UserID identifies who pressed the control.
	UserID int64
	// MessageText is the current text of the message the control belongs to.
	MessageText string
}

// Result tells the transport what to do with the message and the
// activation. A nil Edit leaves the message untouched; the activation is
// always answered, with Notice if set.
type Result struct {
	Edit     *session.Reply
	Notice   string
	Terminal bool
}

// Machine interprets activations. It holds no per-session state.
type Machine struct {
	codec       *session.Codec
	candidates  CandidateSource
	preferences PreferenceWriter
	deriveKey   func(userID int64, host string) (string, error)
	logger      *slog.Logger
}

// NewMachine creates a Machine.
func NewMachine(codec *session.Codec, candidates CandidateSource, preferences PreferenceWriter, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		codec:       codec,
		candidates:  candidates,
		preferences: preferences,
		deriveKey:   prefkey.Derive,
		logger:      logger,
	}
}

// Activate computes the transition for a. Messages that do not decode as
// browsing replies, and unknown payloads, produce an empty Result.
func (m *Machine) Activate(ctx context.Context, a Activation) Result {
	action, ok := session.ParseAction(a.Data)
	if !ok {
		return Result{}
	}
	state, ok := m.codec.Decode(a.MessageText)
	if !ok {
		m.logger.Debug("ignoring activation on undecodable message", "action", a.Data)
		return Result{}
	}

	switch action {
	case session.ActionSelected:
		return m.finish(state)
	case session.ActionSetDefault:
		m.pin(ctx, a.UserID, state)
		return m.finish(state)
	case session.ActionPrev:
		if state.Ordinal == 1 {
			return Result{Notice: NoticeNoEarlier}
		}
		return m.step(ctx, state, state.Ordinal-1)
	case session.ActionNext:
		if state.Ordinal == state.Total {
			return Result{Notice: NoticeNoLater}
		}
		return m.step(ctx, state, state.Ordinal+1)
	}
	return Result{}
}

func (m *Machine) finish(state session.State) Result {
	reply := m.codec.Direct(state.ArticleURL, state.Token)
	return Result{Edit: &reply, Terminal: true}
}

// pin stores the current token as the user's default for the host. A
// failure is logged and the terminal reply is still shown.
func (m *Machine) pin(ctx context.Context, userID int64, state session.State) {
	key, err := m.deriveKey(userID, state.Host)
	if err != nil {
		m.logger.Warn("failed to derive preference key", "host", state.Host, "error", err)
		return
	}
	if err := m.preferences.Set(ctx, key, state.Token); err != nil {
		m.logger.Warn("failed to save default token", "host", state.Host, "error", err)
		return
	}
	m.logger.Info("saved default token", "host", state.Host, "token", state.Token)
}

// step moves to ordinal against a freshly read list. When the list has
// shrunk under the message the target is gone and the message is left as is.
func (m *Machine) step(ctx context.Context, state session.State, ordinal int) Result {
	if err := m.candidates.Refresh(ctx); err != nil {
		m.logger.Warn("failed to reload candidates", "error", err)
	}
	tokens, err := m.candidates.List(ctx, state.Host)
	if err != nil {
		m.logger.Warn("failed to read candidates", "host", state.Host, "error", err)
		return Result{}
	}
	if len(tokens) < 2 || ordinal < 1 || ordinal > len(tokens) {
		return Result{}
	}

	next := session.State{
		ArticleURL: state.ArticleURL,
		Host:       state.Host,
		Token:      tokens[ordinal-1],
		Ordinal:    ordinal,
		Total:      len(tokens),
	}
	reply := m.codec.Browsing(next)
	return Result{Edit: &reply}
}
