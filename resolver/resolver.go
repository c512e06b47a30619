// Package resolver turns a classified link into a resolution outcome,
// harvesting tokens from ready-made reader-view links on the way.
package resolver

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tetsuhou/iv-rhash-bot/link"
	"github.com/tetsuhou/iv-rhash-bot/prefkey"
)

// Failure reasons carried by a Failed outcome.
var (
	ErrNotAURL       = errors.New("not a url")
	ErrKeyDerivation = errors.New("unable to derive per-user key")
	ErrNoCandidates  = errors.New("no candidate token")
)

// CandidateRegistry is the per-host token list.
type CandidateRegistry interface {
	AppendIfAbsent(ctx context.Context, host, token string) (bool, error)
	List(ctx context.Context, host string) ([]string, error)
}

// PreferenceRegistry is the per-user pinned token.
type PreferenceRegistry interface {
	Get(ctx context.Context, key string) (string, bool, error)
}

// KeyFunc derives a preference key; prefkey.Derive in production.
type KeyFunc func(userID int64, host string) (string, error)

// Kind enumerates outcome variants.
type Kind int

const (
	// Failed carries Err and nothing else.
	Failed Kind = iota
	// Direct answers a ready-made link with its own token.
	Direct
	// Pinned answers with the user's default token for the host.
	Pinned
	// Browsable offers the host's candidate list starting at the first entry.
	Browsable
)

func (k Kind) String() string {
	switch k {
	case Direct:
		return "direct"
	case Pinned:
		return "pinned"
	case Browsable:
		return "browsable"
	default:
		return "failed"
	}
}

// Outcome is the result of Resolve.
type Outcome struct {
	Kind       Kind
	ArticleURL string
	Host       string
	// Token is set for Direct and Pinned.
	Token string
	// Candidates is set for Browsable and is never empty there.
	Candidates []string
	// Err is set for Failed.
	Err error
}

// Engine resolves classifications against the registries.
type Engine struct {
	candidates  CandidateRegistry
	preferences PreferenceRegistry
	deriveKey   KeyFunc
	logger      *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithKeyFunc replaces the preference key derivation.
func WithKeyFunc(fn KeyFunc) Option {
	return func(e *Engine) {
		e.deriveKey = fn
	}
}

// WithLogger sets the logger used for store warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates a resolution engine.
func NewEngine(candidates CandidateRegistry, preferences PreferenceRegistry, opts ...Option) *Engine {
	e := &Engine{
		candidates:  candidates,
		preferences: preferences,
		deriveKey:   prefkey.Derive,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resolve produces the outcome for c on behalf of userID. A ready link is
// harvested into the candidate registry before anything else happens.
func (e *Engine) Resolve(ctx context.Context, c link.Classification, userID int64) Outcome {
	switch c.Kind {
	case link.ReadyLink:
		e.Harvest(ctx, c.Host, c.Token)
		return Outcome{Kind: Direct, ArticleURL: c.ArticleURL, Host: c.Host, Token: c.Token}
	case link.NeedsResolution:
		return e.resolveHost(ctx, c, userID)
	default:
		return Outcome{Kind: Failed, Err: ErrNotAURL}
	}
}

// Harvest records token as a candidate for host. Store failures are logged
// and otherwise ignored; harvesting never blocks a reply.
func (e *Engine) Harvest(ctx context.Context, host, token string) {
	added, err := e.candidates.AppendIfAbsent(ctx, host, token)
	if err != nil {
		e.logger.Warn("failed to register candidate", "host", host, "error", err)
		return
	}
	if added {
		e.logger.Info("registered new candidate", "host", host, "token", token)
	}
}

func (e *Engine) resolveHost(ctx context.Context, c link.Classification, userID int64) Outcome {
	key, err := e.deriveKey(userID, c.Host)
	if err != nil {
		e.logger.Debug("failed to derive preference key", "host", c.Host, "error", err)
		return Outcome{Kind: Failed, ArticleURL: c.ArticleURL, Host: c.Host, Err: ErrKeyDerivation}
	}

	token, ok, err := e.preferences.Get(ctx, key)
	if err != nil {
		e.logger.Warn("failed to read preference", "host", c.Host, "error", err)
		// Never fall back to the list when a pin may exist.
		return Outcome{Kind: Failed, ArticleURL: c.ArticleURL, Host: c.Host, Err: ErrNoCandidates}
	}
	if ok {
		return Outcome{Kind: Pinned, ArticleURL: c.ArticleURL, Host: c.Host, Token: token}
	}

	tokens, err := e.candidates.List(ctx, c.Host)
	if err != nil {
		e.logger.Warn("failed to read candidates", "host", c.Host, "error", err)
		return Outcome{Kind: Failed, ArticleURL: c.ArticleURL, Host: c.Host, Err: ErrNoCandidates}
	}
	if len(tokens) == 0 {
		return Outcome{Kind: Failed, ArticleURL: c.ArticleURL, Host: c.Host, Err: ErrNoCandidates}
	}
	return Outcome{Kind: Browsable, ArticleURL: c.ArticleURL, Host: c.Host, Candidates: tokens}
}
