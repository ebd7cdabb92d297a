package telegram

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
)

// MarkdownToHTML converts LLM markdown into the HTML subset Telegram accepts
// (<b>, <i>, <s>, <code>, <pre>, <a>, <blockquote>). Headings become bold
// lines and raw HTML in the source is escaped.
func MarkdownToHTML(md string) string {
	gm := goldmark.New(
		goldmark.WithExtensions(extension.Strikethrough),
		goldmark.WithRenderer(renderer.NewRenderer(
			renderer.WithNodeRenderers(util.Prioritized(&htmlRenderer{}, 1)),
		)),
	)
	var buf bytes.Buffer
	if err := gm.Convert([]byte(md), &buf); err != nil {
		return escape(md)
	}
	return strings.TrimSpace(buf.String())
}

var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

func escape(s string) string { return escaper.Replace(s) }

type htmlRenderer struct {
	// next item number per open list; 0 for bullet lists
	counters []int
}

func (r *htmlRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindDocument, skip)
	reg.Register(ast.KindHeading, wrap("\n<b>", "</b>\n"))
	reg.Register(ast.KindParagraph, wrap("", "\n"))
	reg.Register(ast.KindBlockquote, wrap("<blockquote>", "</blockquote>"))
	reg.Register(ast.KindCodeSpan, wrap("<code>", "</code>"))
	reg.Register(extast.KindStrikethrough, wrap("<s>", "</s>"))
	reg.Register(ast.KindThematicBreak, wrap("\n---\n", ""))
	reg.Register(ast.KindFencedCodeBlock, r.renderCode)
	reg.Register(ast.KindCodeBlock, r.renderCode)
	reg.Register(ast.KindHTMLBlock, r.renderLines)
	reg.Register(ast.KindList, r.renderList)
	reg.Register(ast.KindListItem, r.renderListItem)
	reg.Register(ast.KindTextBlock, r.renderTextBlock)
	reg.Register(ast.KindText, r.renderText)
	reg.Register(ast.KindString, r.renderString)
	reg.Register(ast.KindEmphasis, r.renderEmphasis)
	reg.Register(ast.KindLink, r.renderLink)
	reg.Register(ast.KindImage, r.renderLink)
	reg.Register(ast.KindAutoLink, r.renderAutoLink)
	reg.Register(ast.KindRawHTML, r.renderRawHTML)
}

func skip(util.BufWriter, []byte, ast.Node, bool) (ast.WalkStatus, error) {
	return ast.WalkContinue, nil
}

func wrap(open, close string) renderer.NodeRendererFunc {
	return func(w util.BufWriter, _ []byte, _ ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering {
			_, _ = w.WriteString(open)
		} else {
			_, _ = w.WriteString(close)
		}
		return ast.WalkContinue, nil
	}
}

func (r *htmlRenderer) renderCode(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	if fenced, ok := node.(*ast.FencedCodeBlock); ok && len(fenced.Language(source)) > 0 {
		_, _ = fmt.Fprintf(w, `<pre><code class="language-%s">`, escape(string(fenced.Language(source))))
	} else {
		_, _ = w.WriteString("<pre><code>")
	}
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		_, _ = w.WriteString(escape(string(seg.Value(source))))
	}
	_, _ = w.WriteString("</code></pre>\n")
	return ast.WalkSkipChildren, nil
}

func (r *htmlRenderer) renderLines(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		_, _ = w.WriteString(escape(string(seg.Value(source))))
	}
	return ast.WalkSkipChildren, nil
}

func (r *htmlRenderer) renderList(w util.BufWriter, _ []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	list := node.(*ast.List)
	if entering {
		start := 0
		if list.IsOrdered() {
			start = list.Start
		}
		r.counters = append(r.counters, start)
	} else if len(r.counters) > 0 {
		r.counters = r.counters[:len(r.counters)-1]
	}
	return ast.WalkContinue, nil
}

func (r *htmlRenderer) renderListItem(w util.BufWriter, _ []byte, _ ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		_, _ = w.WriteString("\n")
		return ast.WalkContinue, nil
	}
	depth := len(r.counters)
	if depth > 1 {
		_, _ = w.WriteString(strings.Repeat("  ", depth-1))
	}
	if depth == 0 || r.counters[depth-1] == 0 {
		_, _ = w.WriteString("• ")
		return ast.WalkContinue, nil
	}
	_, _ = fmt.Fprintf(w, "%d. ", r.counters[depth-1])
	r.counters[depth-1]++
	return ast.WalkContinue, nil
}

func (r *htmlRenderer) renderTextBlock(w util.BufWriter, _ []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering && node.Parent() != nil && node.Parent().Kind() != ast.KindListItem {
		_, _ = w.WriteString("\n")
	}
	return ast.WalkContinue, nil
}

func (r *htmlRenderer) renderText(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*ast.Text)
	_, _ = w.WriteString(escape(string(n.Segment.Value(source))))
	if n.SoftLineBreak() || n.HardLineBreak() {
		_, _ = w.WriteString("\n")
	}
	return ast.WalkContinue, nil
}

func (r *htmlRenderer) renderString(w util.BufWriter, _ []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering {
		_, _ = w.WriteString(escape(string(node.(*ast.String).Value)))
	}
	return ast.WalkContinue, nil
}

func (r *htmlRenderer) renderEmphasis(w util.BufWriter, _ []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	tag := "i"
	if node.(*ast.Emphasis).Level == 2 {
		tag = "b"
	}
	if entering {
		_, _ = fmt.Fprintf(w, "<%s>", tag)
	} else {
		_, _ = fmt.Fprintf(w, "</%s>", tag)
	}
	return ast.WalkContinue, nil
}

// renderLink handles links and images; Telegram has no inline images so
// images render as links to their source.
func (r *htmlRenderer) renderLink(w util.BufWriter, _ []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		_, _ = w.WriteString("</a>")
		return ast.WalkContinue, nil
	}
	var dest []byte
	switch n := node.(type) {
	case *ast.Link:
		dest = n.Destination
	case *ast.Image:
		dest = n.Destination
	}
	_, _ = fmt.Fprintf(w, `<a href="%s">`, escape(string(dest)))
	return ast.WalkContinue, nil
}

func (r *htmlRenderer) renderAutoLink(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering {
		url := escape(string(node.(*ast.AutoLink).URL(source)))
		_, _ = fmt.Fprintf(w, `<a href="%s">%s</a>`, url, url)
	}
	return ast.WalkContinue, nil
}

func (r *htmlRenderer) renderRawHTML(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	segs := node.(*ast.RawHTML).Segments
	for i := 0; i < segs.Len(); i++ {
		seg := segs.At(i)
		_, _ = w.WriteString(escape(string(seg.Value(source))))
	}
	return ast.WalkContinue, nil
}
