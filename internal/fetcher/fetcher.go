package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/pbaille/triage/internal/logging"
)

const (
	maxBody     = 2 * 1024 * 1024
	maxTitleLen = 200
)

// ErrNoTitle means the page had no usable title.
var ErrNoTitle = errors.New("no usable title")

// Titles served by bot walls and error pages instead of the real page.
var blockedTitles = []string{
	"just a moment",
	"attention required",
	"access denied",
	"403 forbidden",
	"404 not found",
	"page not found",
	"are you a robot",
	"security check",
}

// Site names appended to titles that add nothing to a task.
var siteSuffixes = []string{
	" - YouTube",
	" / X",
	" / Twitter",
	" on X",
	" - Wikipedia",
	" | LinkedIn",
	" - Medium",
}

// Fetcher retrieves page titles.
type Fetcher struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger
}

// New creates a Fetcher with the given request timeout.
func New(timeout time.Duration, userAgent string, logger *zap.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if userAgent == "" {
		userAgent = "Mozilla/5.0 (compatible; triage/1.0)"
	}
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		logger:    logging.OrNop(logger),
	}
}

// FetchTitle returns the cleaned page title, or false on any failure.
func (f *Fetcher) FetchTitle(ctx context.Context, rawURL string) (string, bool) {
	title, err := f.Fetch(ctx, rawURL)
	if err != nil {
		f.logger.Warn("title fetch failed", zap.String("url", rawURL), zap.Error(err))
		return "", false
	}
	return title, true
}

// Fetch retrieves a page and extracts its title.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	title, err := ExtractTitle(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", err
	}
	return title, nil
}

// ExtractTitle parses HTML and returns the cleaned <title>, falling back to
// the og:title meta tag.
func ExtractTitle(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	var title, ogTitle string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if title == "" && n.FirstChild != nil {
					title = textOf(n)
				}
			case "meta":
				if ogTitle == "" && (attr(n, "property") == "og:title" || attr(n, "name") == "twitter:title") {
					ogTitle = attr(n, "content")
				}
			case "script", "style", "svg":
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	for _, candidate := range []string{title, ogTitle} {
		if cleaned, ok := Clean(candidate); ok {
			return cleaned, nil
		}
	}
	return "", ErrNoTitle
}

// Clean collapses whitespace, drops known site suffixes and rejects titles
// of bot walls and error pages.
func Clean(title string) (string, bool) {
	title = strings.Join(strings.Fields(title), " ")
	for _, s := range siteSuffixes {
		title = strings.TrimSuffix(title, s)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return "", false
	}

	lower := strings.ToLower(title)
	for _, b := range blockedTitles {
		if strings.HasPrefix(lower, b) {
			return "", false
		}
	}

	if utf8.RuneCountInString(title) > maxTitleLen {
		title = string([]rune(title)[:maxTitleLen-3]) + "..."
	}
	// Brackets would break the markdown link the title ends up in.
	title = strings.NewReplacer("[", "(", "]", ")").Replace(title)
	return title, true
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return sb.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}
