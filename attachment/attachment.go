// Package attachment downloads message attachments and converts them into
// content parts an LLM can read.
package attachment

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/nevindra/tandem"
)

// MaxInlineBytes caps inlined text content.
const MaxInlineBytes = 50_000

// maxDownloadBytes bounds a single download.
const maxDownloadBytes = 20 << 20

var imageTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

var textTypes = []string{
	"text/", "application/json", "application/xml", "application/javascript",
	"application/typescript", "application/toml", "application/yaml",
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHTTPClient sets the client used for downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) { r.client = c }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// Resolver implements tandem.AttachmentResolver over HTTP downloads.
type Resolver struct {
	client *http.Client
	logger *slog.Logger
}

var _ tandem.AttachmentResolver = (*Resolver)(nil)

// New creates a Resolver with a 30s download timeout.
func New(opts ...Option) *Resolver {
	r := &Resolver{client: &http.Client{Timeout: 30 * time.Second}}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	return r
}

// Resolve converts each attachment into one content part, in order.
func (r *Resolver) Resolve(ctx context.Context, attachments []tandem.Attachment) []tandem.ContentPart {
	parts := make([]tandem.ContentPart, 0, len(attachments))
	for _, a := range attachments {
		parts = append(parts, r.resolve(ctx, a))
	}
	return parts
}

func (r *Resolver) resolve(ctx context.Context, a tandem.Attachment) tandem.ContentPart {
	switch {
	case hasPrefix(a.MimeType, imageTypes):
		data, err := r.download(ctx, a.URL)
		if err != nil {
			r.logger.Warn("failed to download image attachment", "filename", a.Filename, "error", err)
			return text("[Failed to download image: %s]", a.Filename)
		}
		r.logger.Info("downloaded image attachment", "filename", a.Filename, "mime", a.MimeType, "size", len(data))
		return tandem.ContentPart{Image: &tandem.ImageData{
			MimeType: a.MimeType,
			Base64:   base64.StdEncoding.EncodeToString(data),
		}}

	case hasPrefix(a.MimeType, textTypes):
		data, err := r.download(ctx, a.URL)
		if err != nil {
			r.logger.Warn("failed to download text attachment", "filename", a.Filename, "error", err)
			return text("[Failed to download file: %s]", a.Filename)
		}
		return inline(a, string(data))

	case a.MimeType == "application/pdf":
		data, err := r.download(ctx, a.URL)
		if err != nil {
			r.logger.Warn("failed to download pdf attachment", "filename", a.Filename, "error", err)
			return text("[Failed to download file: %s]", a.Filename)
		}
		content, err := extractPDF(data)
		if err != nil {
			r.logger.Warn("failed to read pdf attachment", "filename", a.Filename, "error", err)
			return text("[Failed to read file: %s]", a.Filename)
		}
		return inline(a, content)

	default:
		return text("[Attachment: %s (%s, %s)]", a.Filename, a.MimeType, sizeString(a.Size))
	}
}

func (r *Resolver) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
}

func inline(a tandem.Attachment, content string) tandem.ContentPart {
	if len(content) > MaxInlineBytes {
		content = fmt.Sprintf("%s...\n[truncated, %d bytes total]", content[:MaxInlineBytes], len(content))
	}
	return text("<file name=%q mime=%q>\n%s\n</file>", a.Filename, a.MimeType, content)
}

func extractPDF(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty PDF content")
	}
	rd, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	var sb strings.Builder
	for i := 1; i <= rd.NumPage(); i++ {
		page := rd.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pageText = strings.TrimSpace(pageText)
		if pageText == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(pageText)
	}
	return sb.String(), nil
}

func sizeString(n int64) string {
	if n <= 0 {
		return "unknown size"
	}
	return fmt.Sprintf("%.1f KB", float64(n)/1024)
}

func hasPrefix(mime string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(mime, p) {
			return true
		}
	}
	return false
}

func text(format string, args ...any) tandem.ContentPart {
	return tandem.ContentPart{Text: fmt.Sprintf(format, args...)}
}
