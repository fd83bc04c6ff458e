// Package mdast extracts the few structural facts rulebook needs from
// markdown: headings with their section bodies and GFM task checkboxes.
package mdast

import (
	"bytes"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

var (
	parserOnce sync.Once
	markdown   goldmark.Markdown
)

func getParser() goldmark.Markdown {
	parserOnce.Do(func() {
		markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return markdown
}

func parse(src []byte) ast.Node {
	return getParser().Parser().Parse(text.NewReader(src))
}

// Heading is an ATX or setext heading and the text of its section.
type Heading struct {
	Level int
	Text  string
	Line  int
	// Body is the source between this heading and the next heading of the
	// same or a higher level, trimmed.
	Body string
}

type headingPos struct {
	level      int
	text       string
	start, end int
}

// Headings returns every heading in src in document order.
func Headings(src []byte) []Heading {
	doc := parse(src)

	var found []headingPos
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		lines := h.Lines()
		if lines.Len() == 0 {
			return ast.WalkSkipChildren, nil
		}
		seg := lines.At(0)
		start := bytes.LastIndexByte(src[:seg.Start], '\n') + 1
		end := bytes.IndexByte(src[seg.Stop:], '\n')
		if end < 0 {
			end = len(src)
		} else {
			end += seg.Stop + 1
		}
		atx := strings.HasPrefix(strings.TrimLeft(string(src[start:seg.Start]), " "), "#")
		if !atx && end < len(src) && isSetextUnderline(src[end:]) {
			if nl := bytes.IndexByte(src[end:], '\n'); nl >= 0 {
				end += nl + 1
			} else {
				end = len(src)
			}
		}
		found = append(found, headingPos{level: h.Level, text: strings.TrimSpace(nodeText(h, src)), start: start, end: end})
		return ast.WalkSkipChildren, nil
	})

	out := make([]Heading, 0, len(found))
	for i, h := range found {
		bodyEnd := len(src)
		for _, next := range found[i+1:] {
			if next.level <= h.level {
				bodyEnd = next.start
				break
			}
		}
		if bodyEnd < h.end {
			bodyEnd = h.end
		}
		out = append(out, Heading{
			Level: h.level,
			Text:  h.text,
			Line:  bytes.Count(src[:h.start], []byte("\n")) + 1,
			Body:  strings.TrimSpace(string(src[h.end:bodyEnd])),
		})
	}
	return out
}

func isSetextUnderline(rest []byte) bool {
	line := rest
	if nl := bytes.IndexByte(rest, '\n'); nl >= 0 {
		line = rest[:nl]
	}
	trimmed := strings.TrimSpace(string(line))
	return trimmed != "" && (strings.Trim(trimmed, "=") == "" || strings.Trim(trimmed, "-") == "")
}

// Find returns the first heading of the given level whose text has prefix.
func Find(headings []Heading, level int, prefix string) (Heading, bool) {
	for _, h := range headings {
		if h.Level == level && strings.HasPrefix(h.Text, prefix) {
			return h, true
		}
	}
	return Heading{}, false
}

// Checkbox is a GFM task list item.
type Checkbox struct {
	Checked bool
	Text    string
	Line    int
}

// Checkboxes returns every task list item in src.
func Checkboxes(src []byte) []Checkbox {
	doc := parse(src)

	var out []Checkbox
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		cb, ok := n.(*extast.TaskCheckBox)
		if !ok {
			return ast.WalkContinue, nil
		}
		parent := cb.Parent()
		var b strings.Builder
		for c := cb.NextSibling(); c != nil; c = c.NextSibling() {
			b.WriteString(nodeText(c, src))
		}
		line := 0
		if parent != nil && parent.Lines().Len() > 0 {
			line = bytes.Count(src[:parent.Lines().At(0).Start], []byte("\n")) + 1
		}
		out = append(out, Checkbox{Checked: cb.IsChecked, Text: strings.TrimSpace(b.String()), Line: line})
		return ast.WalkSkipChildren, nil
	})
	return out
}

// HasContent reports whether src contains anything besides headings,
// HTML comments and blank lines.
func HasContent(src []byte) bool {
	doc := parse(src)
	for c := doc.FirstChild(); c != nil; c = c.NextSibling() {
		switch n := c.(type) {
		case *ast.Heading:
			continue
		case *ast.HTMLBlock:
			if n.HTMLBlockType == ast.HTMLBlockType2 {
				continue
			}
		}
		return true
	}
	return false
}

// StripComments removes HTML comments from src.
func StripComments(src string) string {
	for {
		start := strings.Index(src, "<!--")
		if start < 0 {
			return src
		}
		end := strings.Index(src[start:], "-->")
		if end < 0 {
			return src[:start]
		}
		src = src[:start] + src[start+end+3:]
	}
}

// nodeText concatenates the text segments under n.
func nodeText(n ast.Node, src []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}
