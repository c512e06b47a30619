// Package link classifies user-submitted text into reader-view links and
// plain article URLs.
package link

import (
	"net/url"
	"strings"
)

// DefaultReaderHost is the host serving reader-view links.
const DefaultReaderHost = "t.me"

// ReaderPath is the reader-view endpoint on the reader host.
const ReaderPath = "/iv"

// Kind is the result category of Classify.
type Kind int

const (
	// NotAURL means the text is not an absolute URL with a host.
	NotAURL Kind = iota
	// ReadyLink means the text is a complete reader-view link.
	ReadyLink
	// NeedsResolution means the text is an article URL lacking a token.
	NeedsResolution
)

func (k Kind) String() string {
	switch k {
	case ReadyLink:
		return "ready_link"
	case NeedsResolution:
		return "needs_resolution"
	default:
		return "not_a_url"
	}
}

// Classification is the typed intent behind a piece of text.
type Classification struct {
	Kind Kind
	// ArticleURL is the normalized article URL (embedded one for ReadyLink).
	ArticleURL string
	// Host is the lowercase host of ArticleURL.
	Host string
	// Token is the rhash carried by a ReadyLink.
	Token string
}

// Classifier recognizes reader-view links for a configured reader host.
type Classifier struct {
	readerHost string
}

// NewClassifier returns a Classifier for readerHost, or DefaultReaderHost
// when readerHost is empty.
func NewClassifier(readerHost string) *Classifier {
	if readerHost == "" {
		readerHost = DefaultReaderHost
	}
	return &Classifier{readerHost: strings.ToLower(readerHost)}
}

// ReaderHost returns the reader-view host this classifier matches.
func (c *Classifier) ReaderHost() string {
	return c.readerHost
}

// Classify parses text into a Classification. It has no side effects.
func (c *Classifier) Classify(text string) Classification {
	u, host, ok := parseAbsolute(strings.TrimSpace(text))
	if !ok {
		return Classification{Kind: NotAURL}
	}

	if host != c.readerHost || u.Path != ReaderPath {
		return Classification{Kind: NeedsResolution, ArticleURL: u.String(), Host: host}
	}

	query := u.Query()
	rawArticle := query.Get("url")
	token := query.Get("rhash")
	if rawArticle == "" || token == "" {
		// A reader link missing its parameters is still a URL on the reader host.
		return Classification{Kind: NeedsResolution, ArticleURL: u.String(), Host: host}
	}

	article, articleHost, ok := parseAbsolute(rawArticle)
	if !ok {
		return Classification{Kind: NotAURL}
	}
	return Classification{
		Kind:       ReadyLink,
		ArticleURL: article.String(),
		Host:       articleHost,
		Token:      token,
	}
}

// Host returns the lowercase host of raw, or false if raw is not an
// absolute URL with a host.
func Host(raw string) (string, bool) {
	_, host, ok := parseAbsolute(strings.TrimSpace(raw))
	return host, ok
}

func parseAbsolute(raw string) (*url.URL, string, bool) {
	if raw == "" || strings.ContainsAny(raw, " \t\r\n") {
		return nil, "", false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Opaque != "" {
		return nil, "", false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, "", false
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return u, host, true
}
