package attachment

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nevindra/tandem"
)

func fileServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/cat.png", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte{0x89, 'P', 'N', 'G'})
	})
	mux.HandleFunc("/notes.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello notes"))
	})
	mux.HandleFunc("/big.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", MaxInlineBytes+10)))
	})
	mux.HandleFunc("/broken.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not a pdf"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestResolveImage(t *testing.T) {
	srv := fileServer(t)
	parts := New().Resolve(context.Background(), []tandem.Attachment{
		{Filename: "cat.png", MimeType: "image/png", URL: srv.URL + "/cat.png"},
	})
	if len(parts) != 1 || parts[0].Image == nil {
		t.Fatalf("parts = %+v, want one image", parts)
	}
	want := base64.StdEncoding.EncodeToString([]byte{0x89, 'P', 'N', 'G'})
	if parts[0].Image.Base64 != want || parts[0].Image.MimeType != "image/png" {
		t.Errorf("image = %+v", parts[0].Image)
	}
}

func TestResolveTextInlined(t *testing.T) {
	srv := fileServer(t)
	parts := New().Resolve(context.Background(), []tandem.Attachment{
		{Filename: "notes.txt", MimeType: "text/plain", URL: srv.URL + "/notes.txt"},
	})
	want := "<file name=\"notes.txt\" mime=\"text/plain\">\nhello notes\n</file>"
	if parts[0].Text != want {
		t.Errorf("text = %q, want %q", parts[0].Text, want)
	}
}

func TestResolveTextTruncated(t *testing.T) {
	srv := fileServer(t)
	parts := New().Resolve(context.Background(), []tandem.Attachment{
		{Filename: "big.json", MimeType: "application/json", URL: srv.URL + "/big.json"},
	})
	got := parts[0].Text
	if !strings.Contains(got, "[truncated, 50010 bytes total]") {
		t.Errorf("missing truncation marker: %q", got[len(got)-80:])
	}
	if len(got) > MaxInlineBytes+200 {
		t.Errorf("inlined %d bytes", len(got))
	}
}

func TestResolveFailures(t *testing.T) {
	srv := fileServer(t)
	parts := New().Resolve(context.Background(), []tandem.Attachment{
		{Filename: "gone.png", MimeType: "image/jpeg", URL: srv.URL + "/missing"},
		{Filename: "gone.txt", MimeType: "text/plain", URL: srv.URL + "/missing"},
		{Filename: "broken.pdf", MimeType: "application/pdf", URL: srv.URL + "/broken.pdf"},
	})
	want := []string{
		"[Failed to download image: gone.png]",
		"[Failed to download file: gone.txt]",
		"[Failed to read file: broken.pdf]",
	}
	for i, w := range want {
		if parts[i].Text != w {
			t.Errorf("parts[%d] = %q, want %q", i, parts[i].Text, w)
		}
	}
}

func TestResolveOtherDescribed(t *testing.T) {
	parts := New().Resolve(context.Background(), []tandem.Attachment{
		{Filename: "song.mp3", MimeType: "audio/mpeg", Size: 2048},
		{Filename: "blob", MimeType: "application/octet-stream"},
	})
	if parts[0].Text != "[Attachment: song.mp3 (audio/mpeg, 2.0 KB)]" {
		t.Errorf("parts[0] = %q", parts[0].Text)
	}
	if parts[1].Text != "[Attachment: blob (application/octet-stream, unknown size)]" {
		t.Errorf("parts[1] = %q", parts[1].Text)
	}
}
