// Package extract pulls title and plain text out of an arbitrary web page
// by fetching it directly and stripping markup. It is the no-credentials
// fallback for the reader API.
package extract

import (
	"context"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

// maxTextLen bounds extracted text so a single huge page cannot blow up
// the downstream analysis context.
const maxTextLen = 8000

// Content is the extraction result.
type Content struct {
	Title string
	Text  string
}

// Extractor fetches a URL and extracts its title and visible text.
type Extractor struct {
	client *http.Client
}

// New wires an HTTP client; a nil client gets a 20s-timeout default.
func New(client *http.Client) *Extractor {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &Extractor{client: client}
}

// Extract fetches the page at targetURL and returns its title and text.
func (e *Extractor) Extract(ctx context.Context, targetURL string) (*Content, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "extract: build request")
	}
	req.Header.Set("User-Agent", "research-engine/1.0")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "extract: fetch")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("extract: unexpected status %d for %s", resp.StatusCode, targetURL)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "extract: parse document")
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = "Untitled Article"
	}

	doc.Find("script, style, noscript, iframe").Remove()
	text := truncate(collapseWhitespace(doc.Find("body").Text()), maxTextLen)

	return &Content{Title: title, Text: text}, nil
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate cuts s to at most max bytes without splitting a UTF-8 rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
