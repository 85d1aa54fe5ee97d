package whatsapp

import (
	"strconv"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

var (
	markdownOnce   sync.Once
	markdownParser goldmark.Markdown
)

func getMarkdownParser() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdownParser = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return markdownParser
}

// FormatMarkdown rewrites model Markdown into WhatsApp's chat markup:
// *bold*, _italic_, ~strike~, ``` monospace blocks and "•" bullets. Links
// keep their label and show the URL in parentheses.
func FormatMarkdown(input string) string {
	if strings.TrimSpace(input) == "" {
		return ""
	}
	source := []byte(input)
	doc := getMarkdownParser().Parser().Parse(text.NewReader(source))

	r := &markupRenderer{source: source}
	_ = ast.Walk(doc, r.walk)
	return strings.TrimSpace(r.out.String())
}

type listState struct {
	ordered bool
	counter int
}

type markupRenderer struct {
	source []byte
	out    strings.Builder
	lists  []listState
}

func (r *markupRenderer) trailingNewlines() int {
	s := r.out.String()
	n := 0
	for i := len(s) - 1; i >= 0 && s[i] == '\n'; i-- {
		n++
	}
	return n
}

// block separates a new block from whatever was written before it.
func (r *markupRenderer) block() {
	if r.out.Len() == 0 {
		return
	}
	for n := r.trailingNewlines(); n < 2; n++ {
		r.out.WriteByte('\n')
	}
}

func (r *markupRenderer) newline() {
	if r.out.Len() > 0 && r.trailingNewlines() == 0 {
		r.out.WriteByte('\n')
	}
}

// leadsContainer reports whether node is the first child of a list item or
// quote, whose marker has already been written.
func leadsContainer(node ast.Node) bool {
	parent := node.Parent()
	if parent == nil || node.PreviousSibling() != nil {
		return false
	}
	switch parent.Kind() {
	case ast.KindListItem, ast.KindBlockquote:
		return true
	}
	return false
}

func (r *markupRenderer) walk(node ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node.Kind() {
	case ast.KindParagraph, ast.KindTextBlock:
		if entering && !leadsContainer(node) {
			if node.Parent() != nil && node.Parent().Kind() == ast.KindListItem {
				r.newline()
			} else {
				r.block()
			}
		}

	case ast.KindHeading:
		if entering {
			r.block()
		}
		r.out.WriteByte('*')

	case ast.KindBlockquote:
		if entering {
			r.block()
			r.out.WriteString("> ")
		}

	case ast.KindThematicBreak:
		if entering {
			r.block()
		}

	case ast.KindFencedCodeBlock, ast.KindCodeBlock:
		if entering {
			r.block()
			r.out.WriteString("```\n")
			lines := node.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				r.out.Write(seg.Value(r.source))
			}
			r.newline()
			r.out.WriteString("```")
			return ast.WalkSkipChildren, nil
		}

	case ast.KindHTMLBlock:
		return ast.WalkSkipChildren, nil

	case ast.KindList:
		if entering {
			list := node.(*ast.List)
			start := list.Start
			if start <= 0 {
				start = 1
			}
			r.lists = append(r.lists, listState{ordered: list.IsOrdered(), counter: start})
			if node.Parent() == nil || node.Parent().Kind() != ast.KindListItem {
				r.block()
			}
		} else {
			r.lists = r.lists[:len(r.lists)-1]
		}

	case ast.KindListItem:
		if entering && len(r.lists) > 0 {
			r.newline()
			depth := len(r.lists)
			r.out.WriteString(strings.Repeat("  ", depth-1))
			state := &r.lists[depth-1]
			if state.ordered {
				r.out.WriteString(strconv.Itoa(state.counter) + ". ")
				state.counter++
			} else {
				r.out.WriteString("• ")
			}
		}

	case ast.KindText:
		if entering {
			t := node.(*ast.Text)
			r.out.Write(t.Segment.Value(r.source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				r.out.WriteByte('\n')
			}
		}

	case ast.KindString:
		if entering {
			r.out.Write(node.(*ast.String).Value)
		}

	case ast.KindEmphasis:
		if node.(*ast.Emphasis).Level >= 2 {
			r.out.WriteByte('*')
		} else {
			r.out.WriteByte('_')
		}

	case extast.KindStrikethrough:
		r.out.WriteByte('~')

	case ast.KindCodeSpan:
		if entering {
			r.out.WriteByte('`')
			for c := node.FirstChild(); c != nil; c = c.NextSibling() {
				if t, ok := c.(*ast.Text); ok {
					r.out.Write(t.Segment.Value(r.source))
				}
			}
			r.out.WriteByte('`')
			return ast.WalkSkipChildren, nil
		}

	case ast.KindLink:
		if !entering {
			dest := string(node.(*ast.Link).Destination)
			if dest != "" {
				r.out.WriteString(" (" + dest + ")")
			}
		}

	case ast.KindAutoLink:
		if entering {
			r.out.Write(node.(*ast.AutoLink).URL(r.source))
		}

	case ast.KindRawHTML:
		return ast.WalkSkipChildren, nil

	case extast.KindTableHeader, extast.KindTableRow:
		if entering {
			r.newline()
		}

	case extast.KindTableCell:
		if entering && node.PreviousSibling() != nil {
			r.out.WriteString(" | ")
		}

	case extast.KindTable:
		if entering {
			r.block()
		}

	case extast.KindTaskCheckBox:
		if entering {
			if node.(*extast.TaskCheckBox).IsChecked {
				r.out.WriteString("☑ ")
			} else {
				r.out.WriteString("☐ ")
			}
		}
	}
	return ast.WalkContinue, nil
}
