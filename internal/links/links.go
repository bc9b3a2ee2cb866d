// Package links finds URLs in task text and classifies them by platform.
package links

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/pbaille/triage/internal/domain"
)

// LinkLabel marks tasks that are passive references to a page.
const LinkLabel = "link"

var (
	markdownLink = regexp.MustCompile(`\[([^\]]*)\]\((https?://[^)\s]+)\)`)
	bareURL      = regexp.MustCompile(`https?://\S+`)
	plainURL     = regexp.MustCompile(`^https?://\S+$`)
)

// platforms maps a canonical host to its platform label.
var platforms = map[string]string{
	"youtube.com":          "youtube",
	"m.youtube.com":        "youtube",
	"youtu.be":             "youtube",
	"twitter.com":          "twitter",
	"x.com":                "twitter",
	"mobile.twitter.com":   "twitter",
	"github.com":           "github",
	"gist.github.com":      "github",
	"reddit.com":           "reddit",
	"old.reddit.com":       "reddit",
	"news.ycombinator.com": "hackernews",
	"medium.com":           "medium",
	"substack.com":         "substack",
	"linkedin.com":         "linkedin",
	"instagram.com":        "instagram",
	"tiktok.com":           "tiktok",
	"vimeo.com":            "vimeo",
	"stackoverflow.com":    "stackoverflow",
	"wikipedia.org":        "wikipedia",
	"en.wikipedia.org":     "wikipedia",
	"amazon.com":           "amazon",
	"arxiv.org":            "arxiv",
}

// DomainLabel maps a URL to a platform label by exact host lookup.
// Malformed URLs and unknown hosts yield false.
func DomainLabel(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	label, ok := platforms[host]
	return label, ok
}

// ExtractAll returns every URL in text. Markdown links are taken first and
// removed, so a URL inside one is not reported again as plain.
func ExtractAll(text string) []domain.Link {
	var out []domain.Link
	for _, m := range markdownLink.FindAllStringSubmatch(text, -1) {
		out = append(out, domain.Link{URL: m[2], OriginalText: m[0], Kind: domain.LinkMarkdown})
	}
	rest := markdownLink.ReplaceAllString(text, " ")
	for _, m := range bareURL.FindAllString(rest, -1) {
		out = append(out, domain.Link{URL: m, OriginalText: m, Kind: domain.LinkPlain})
	}
	return out
}

// HasURL reports whether text contains any http(s) URL.
func HasURL(text string) bool {
	return bareURL.MatchString(text)
}

// IsPlainURL reports whether the whole text is a single URL, ignoring
// spaces and line breaks.
func IsPlainURL(text string) bool {
	return plainURL.MatchString(CompactURL(text))
}

// CompactURL returns text with whitespace removed, as IsPlainURL sees it.
func CompactURL(text string) string {
	return strings.NewReplacer(" ", "", "\n", "", "\r", "", "\t", "").Replace(strings.TrimSpace(text))
}

// Markdown renders a titled link.
func Markdown(title, u string) string {
	return "[" + title + "](" + u + ")"
}
