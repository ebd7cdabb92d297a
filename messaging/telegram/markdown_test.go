package telegram

import (
	"strings"
	"testing"
)

func TestMarkdownToHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"bold", "This is **bold** text", []string{"<b>bold</b>"}},
		{"italic", "This is *italic* text", []string{"<i>italic</i>"}},
		{"strike", "~~gone~~", []string{"<s>gone</s>"}},
		{"code span", "Use `go vet` here", []string{"<code>go vet</code>"}},
		{"fenced", "```go\nfunc main() {}\n```", []string{`<pre><code class="language-go">`, "func main() {}", "</code></pre>"}},
		{"link", "[docs](https://example.com)", []string{`<a href="https://example.com">docs</a>`}},
		{"heading", "### Section", []string{"<b>Section</b>"}},
		{"escape", "1 < 2 & 3 > 0", []string{"1 &lt; 2 &amp; 3 &gt; 0"}},
		{"raw html escaped", "hi <script>x</script>", []string{"&lt;script&gt;"}},
		{"quote", "> quoted", []string{"<blockquote>quoted", "</blockquote>"}},
		{"bullets", "- a\n- b", []string{"• a\n", "• b"}},
		{"ordered", "3. x\n4. y", []string{"3. x\n", "4. y"}},
		{"image as link", "![cat](https://c.at/1.png)", []string{`<a href="https://c.at/1.png">cat</a>`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MarkdownToHTML(tt.in)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("MarkdownToHTML(%q) = %q, missing %q", tt.in, got, w)
				}
			}
		})
	}
}

func TestMarkdownNestedListsKeepNumbering(t *testing.T) {
	got := MarkdownToHTML("1. one\n   - sub\n2. two")
	if !strings.Contains(got, "1. one") || !strings.Contains(got, "2. two") {
		t.Errorf("numbering lost across nested list: %q", got)
	}
	if !strings.Contains(got, "  • sub") {
		t.Errorf("nested bullet not indented: %q", got)
	}
}

func TestSplitMessage(t *testing.T) {
	if got := splitMessage("short"); len(got) != 1 {
		t.Fatalf("chunks = %d, want 1", len(got))
	}
	line := strings.Repeat("a", 100) + "\n"
	text := strings.Repeat(line, 50) // 5050 bytes
	chunks := splitMessage(text)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	if len(chunks[0]) > maxMessageLength || !strings.HasSuffix(chunks[0], "\n") {
		t.Errorf("first chunk should end on a line boundary within the limit (len %d)", len(chunks[0]))
	}
	if strings.Join(chunks, "") != text {
		t.Error("chunks do not reassemble to the original text")
	}
}
