// Package extract pulls page metadata out of raw HTML.
//
// Extraction is deliberately syntactic: everything is regular-expression
// pattern matching over the raw markup, with no document parse. This keeps
// the extractor tolerant of malformed HTML at the cost of fidelity on
// pathological markup. It never fails; missing elements yield sentinels.
package extract

import (
	"net/url"
	"regexp"
	"strings"
)

// Sentinels returned when the page carries no usable metadata.
const (
	NoTitle       = "No title found"
	NoDescription = "No description found"
)

// Storage-size bounds applied before a result is embedded in a report.
// Both are lossy: links beyond MaxLinks and markup beyond SnippetBytes
// are dropped.
const (
	MaxLinks     = 50
	SnippetBytes = 10 * 1024
)

// Link is one outbound anchor found in the page, in document order.
type Link struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

// Result is the structured metadata extracted from one page.
type Result struct {
	Title       string
	Description string
	Links       []Link
}

var (
	titleRe           = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	metaNameContentRe = regexp.MustCompile(`(?is)<meta\s[^>]*name\s*=\s*["']description["'][^>]*content\s*=\s*["']([^"']*)["']`)
	metaContentNameRe = regexp.MustCompile(`(?is)<meta\s[^>]*content\s*=\s*["']([^"']*)["'][^>]*name\s*=\s*["']description["']`)
	anchorRe          = regexp.MustCompile(`(?is)<a\s[^>]*href\s*=\s*["']([^"']*)["'][^>]*>(.*?)</a>`)
	innerTagRe        = regexp.MustCompile(`(?s)<[^>]*>`)
)

// Page extracts title, description and outbound links from raw HTML.
// Relative hrefs are resolved against baseURL; a href that cannot be
// resolved is kept verbatim rather than failing the extraction.
func Page(html string, baseURL string) Result {
	result := Result{
		Title:       NoTitle,
		Description: NoDescription,
	}

	if m := titleRe.FindStringSubmatch(html); m != nil {
		if title := strings.TrimSpace(m[1]); title != "" {
			result.Title = title
		}
	}

	if m := metaNameContentRe.FindStringSubmatch(html); m != nil {
		result.Description = strings.TrimSpace(m[1])
	} else if m := metaContentNameRe.FindStringSubmatch(html); m != nil {
		result.Description = strings.TrimSpace(m[1])
	}
	if result.Description == "" {
		result.Description = NoDescription
	}

	base, baseErr := url.Parse(baseURL)
	for _, m := range anchorRe.FindAllStringSubmatch(html, -1) {
		if len(result.Links) >= MaxLinks {
			break
		}
		href := strings.TrimSpace(m[1])
		if skipHref(href) {
			continue
		}
		resolved := href
		if baseErr == nil {
			if ref, err := url.Parse(href); err == nil {
				resolved = base.ResolveReference(ref).String()
			}
		}
		text := strings.TrimSpace(innerTagRe.ReplaceAllString(m[2], ""))
		if text == "" {
			text = resolved
		}
		result.Links = append(result.Links, Link{URL: resolved, Text: text})
	}

	return result
}

// Snippet returns the first SnippetBytes bytes of the raw markup.
func Snippet(html string) string {
	if len(html) <= SnippetBytes {
		return html
	}
	return html[:SnippetBytes]
}

func skipHref(href string) bool {
	if href == "" || strings.HasPrefix(href, "#") {
		return true
	}
	return strings.HasPrefix(strings.ToLower(href), "javascript:")
}
