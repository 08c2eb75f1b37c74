package textextract

import (
	"bytes"
	"context"
	"html"
	"net/url"
	"strings"
	"sync"

	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicyOnce sync.Once
	strictPolicy     *bluemonday.Policy

	placeholderURL = &url.URL{Scheme: "https", Host: "document.local", Path: "/"}
)

func strictHTMLPolicy() *bluemonday.Policy {
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

// HTML extracts the readable article text of a page, falling back to the
// tag-stripped body when readability finds no article.
func HTML(_ context.Context, data []byte, _ string) (string, error) {
	article, err := readability.FromReader(bytes.NewReader(data), placeholderURL)
	if err == nil {
		if text := collapseSpace(article.TextContent); text != "" {
			if title := strings.TrimSpace(article.Title); title != "" && !strings.HasPrefix(text, title) {
				return title + "\n\n" + text, nil
			}
			return text, nil
		}
	}
	return StripTags(string(data)), nil
}

// StripTags removes every element (and script/style bodies) from s and
// returns the remaining text with entities decoded.
func StripTags(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return collapseSpace(html.UnescapeString(strictHTMLPolicy().Sanitize(s)))
}

func collapseSpace(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
