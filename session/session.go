// Package session renders replies and recovers browsing state from them.
//
// Browsing state is never stored server-side. A browsing reply spells out
// the article, the current token and its position in plain text, and each
// control carries only its action name; activating a control re-parses the
// message it is attached to.
package session

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/tetsuhou/iv-rhash-bot/link"
)

// TokenLength is the length of tokens that fit the browsing layout.
const TokenLength = 14

// Action is the payload of a browsing control.
type Action string

const (
	ActionPrev       Action = "prev"
	ActionSelected   Action = "selected"
	ActionSetDefault Action = "set as default"
	ActionNext       Action = "next"
)

// ParseAction maps callback data to a known Action.
func ParseAction(data string) (Action, bool) {
	switch a := Action(data); a {
	case ActionPrev, ActionSelected, ActionSetDefault, ActionNext:
		return a, true
	}
	return "", false
}

// Control is one button attached to a reply.
type Control struct {
	Label  string
	Action Action
}

// BrowsingControls is the fixed single row attached to browsing replies.
var BrowsingControls = []Control{
	{Label: "<", Action: ActionPrev},
	{Label: "选定", Action: ActionSelected},
	{Label: "设为默认", Action: ActionSetDefault},
	{Label: ">", Action: ActionNext},
}

// Reply is a rendered message ready for the transport.
type Reply struct {
	Text string
	// Markdown marks Text as MarkdownV2.
	Markdown bool
	Controls []Control
}

// State is the browsing position embedded in a browsing reply.
type State struct {
	ArticleURL string
	Host       string
	Token      string
	Ordinal    int
	Total      int
}

var browsingPattern = regexp.MustCompile(
	`\AIV: (\S+)\n` +
		`原文: (\S+)\n` +
		`rhash: (\w{14})    \((\d+)/(\d+)\)\z`,
)

// Codec renders and parses replies for one reader-view host.
type Codec struct {
	readerHost string
}

// NewCodec returns a Codec that builds links on readerHost.
func NewCodec(readerHost string) *Codec {
	if readerHost == "" {
		readerHost = link.DefaultReaderHost
	}
	return &Codec{readerHost: readerHost}
}

// ReaderLink builds the reader-view link for article and token.
func (c *Codec) ReaderLink(articleURL, token string) string {
	return fmt.Sprintf("https://%s%s?url=%s&rhash=%s",
		c.readerHost, link.ReaderPath, url.QueryEscape(articleURL), url.QueryEscape(token))
}

// Browsing renders state as a browsing reply with controls.
func (c *Codec) Browsing(state State) Reply {
	text := fmt.Sprintf("IV: %s\n原文: %s\nrhash: %s    (%d/%d)",
		c.ReaderLink(state.ArticleURL, state.Token),
		state.ArticleURL,
		state.Token,
		state.Ordinal,
		state.Total,
	)
	return Reply{Text: text, Controls: BrowsingControls}
}

// Direct renders the terminal reply for a resolved token: the reader-view
// link next to the article link, with no controls.
func (c *Codec) Direct(articleURL, token string) Reply {
	text := fmt.Sprintf("[IV](%s) from [原文](%s)",
		escapeLinkTarget(c.ReaderLink(articleURL, token)),
		escapeLinkTarget(articleURL),
	)
	return Reply{Text: text, Markdown: true}
}

// Decode recovers the browsing state from a browsing reply's text. It
// reports false for any text not laid out exactly as Browsing renders it.
func (c *Codec) Decode(text string) (State, bool) {
	m := browsingPattern.FindStringSubmatch(text)
	if m == nil {
		return State{}, false
	}

	host, ok := link.Host(m[2])
	if !ok {
		return State{}, false
	}
	ordinal, err := strconv.Atoi(m[4])
	if err != nil {
		return State{}, false
	}
	total, err := strconv.Atoi(m[5])
	if err != nil {
		return State{}, false
	}
	if ordinal < 1 || total < ordinal {
		return State{}, false
	}

	return State{
		ArticleURL: m[2],
		Host:       host,
		Token:      m[3],
		Ordinal:    ordinal,
		Total:      total,
	}, true
}

var linkTargetEscaper = strings.NewReplacer(`\`, `\\`, `)`, `\)`)

// escapeLinkTarget escapes the characters MarkdownV2 reserves inside the
// (...) part of an inline link.
func escapeLinkTarget(s string) string {
	return linkTargetEscaper.Replace(s)
}
