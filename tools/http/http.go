// Package http gives workers an http_fetch tool that downloads a page and
// extracts its readable text.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"golang.org/x/net/html"

	"github.com/nevindra/tandem"
)

const (
	maxBodyBytes    = 2 << 20
	maxContentBytes = 12_000
	userAgent       = "Mozilla/5.0 (compatible; TandemBot/1.0)"
)

// Tool fetches URLs and extracts readable content.
type Tool struct {
	client *http.Client
}

var _ tandem.Tool = (*Tool)(nil)

// New creates a fetch tool. A nil client gets a 20-second timeout.
func New(client *http.Client) *Tool {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &Tool{client: client}
}

func (t *Tool) Definitions() []tandem.ToolDefinition {
	return []tandem.ToolDefinition{{
		Name:        "http_fetch",
		Description: "Fetch a URL and extract its readable text. Use for reading web pages, articles and documentation.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"url":{"type":"string","description":"http or https URL to fetch"}},"required":["url"]}`),
	}}
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (tandem.ToolResult, error) {
	var params struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return tandem.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	content, err := t.Fetch(ctx, params.URL)
	if err != nil {
		return tandem.ToolResult{Error: err.Error()}, nil
	}
	if len(content) > maxContentBytes {
		content = content[:maxContentBytes] + fmt.Sprintf("\n... (truncated, %d bytes total)", len(content))
	}
	return tandem.ToolResult{Content: content}, nil
}

// Fetch downloads rawURL and returns its readable text. HTML goes through
// readability, falling back to plain tag stripping; other text types are
// returned as is.
func (t *Tool) Fetch(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("invalid URL: %q", rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch error: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read error: %w", err)
	}

	ctype := resp.Header.Get("Content-Type")
	if ctype != "" && !strings.Contains(ctype, "html") {
		return strings.TrimSpace(string(body)), nil
	}
	article, err := readability.FromReader(strings.NewReader(string(body)), u)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		text := strings.TrimSpace(article.TextContent)
		if article.Title != "" {
			text = "# " + article.Title + "\n\n" + text
		}
		return text, nil
	}
	return stripHTML(string(body)), nil
}

// stripHTML returns the visible text of an HTML document, skipping script
// and style contents.
func stripHTML(doc string) string {
	z := html.NewTokenizer(strings.NewReader(doc))
	var (
		b    strings.Builder
		skip int
	)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.StartTagToken:
			if name, _ := z.TagName(); isHidden(name) {
				skip++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); isHidden(name) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
				b.WriteByte(' ')
			}
		}
	}
}

func isHidden(tag []byte) bool {
	switch string(tag) {
	case "script", "style", "noscript", "template":
		return true
	}
	return false
}
