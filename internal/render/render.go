// render draws a view as styled terminal text. Block elements start new
// lines and highlighted runs get the background colour of their innermost
// highlight.
package render

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/remram44/taguette/internal/dom"
	"github.com/remram44/taguette/internal/overlay"
	"github.com/remram44/taguette/internal/view"

	"github.com/charmbracelet/lipgloss"
)

func ac(light, dark string) lipgloss.AdaptiveColor {
	return lipgloss.AdaptiveColor{Light: light, Dark: dark}
}

var palette = []lipgloss.AdaptiveColor{
	ac("#FFE08A", "#7A5C00"),
	ac("#B8E6B8", "#2E5E2E"),
	ac("#BFD7FF", "#25406E"),
	ac("#F5C2E7", "#6B2D5C"),
	ac("#FFD0B0", "#7A3E12"),
	ac("#D6C8FF", "#45307A"),
}

var blockTags = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true,
	"dd": true, "div": true, "dl": true, "dt": true, "figcaption": true,
	"figure": true, "footer": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true, "header": true, "hr": true,
	"li": true, "ol": true, "p": true, "pre": true, "section": true,
	"table": true, "tr": true, "ul": true,
}

// Theme holds the styles used to draw a view.
type Theme struct {
	Highlights []lipgloss.Style
	Heading    lipgloss.Style
	Label      lipgloss.Style
	Muted      lipgloss.Style
}

// NewTheme builds the default theme on r.
func NewTheme(r *lipgloss.Renderer) Theme {
	t := Theme{
		Heading: r.NewStyle().Bold(true).Foreground(ac("#1F2937", "#E5E7EB")),
		Label:   r.NewStyle().Italic(true),
		Muted:   r.NewStyle().Foreground(ac("#6B7280", "#9CA3AF")),
	}
	for _, c := range palette {
		t.Highlights = append(t.Highlights, r.NewStyle().Background(c))
	}
	return t
}

// HighlightStyle returns the style of the highlight id.
func (t Theme) HighlightStyle(id int) lipgloss.Style {
	if id < 0 {
		id = -id
	}
	return t.Highlights[id%len(t.Highlights)]
}

type Options struct {
	// Renderer defaults to lipgloss.DefaultRenderer().
	Renderer *lipgloss.Renderer
	// Legend appends one line per highlight with its label.
	Legend bool
}

// View writes v to w.
func View(w io.Writer, v *view.View, opts Options) error {
	r := opts.Renderer
	if r == nil {
		r = lipgloss.DefaultRenderer()
	}
	p := &printer{theme: NewTheme(r), lineStart: true}

	root := v.Root()
	if root == nil {
		return view.ErrClosed
	}

	switch v.Mode() {
	case view.EntriesMode:
		entries := make(map[string]view.Entry)
		for _, e := range v.Entries() {
			entries[view.EntryIDPrefix+strconv.Itoa(e.ID)] = e
		}
		for c := root.FirstChild; c != nil; c = c.NextSibling {
			if e, ok := entries[c.ID()]; ok {
				title, _ := c.Attr("title")
				p.entryHeading(e, title)
			}
			p.node(c)
			p.breakLine()
		}
	default:
		p.node(root)
		p.breakLine()
		if opts.Legend {
			p.legend(v)
		}
	}

	_, err := io.WriteString(w, p.sb.String())
	return err
}

// String renders v to a string.
func String(v *view.View, opts Options) string {
	var sb strings.Builder
	if err := View(&sb, v, opts); err != nil {
		return ""
	}
	return sb.String()
}

type printer struct {
	theme     Theme
	sb        strings.Builder
	lineStart bool
}

func (p *printer) node(n *dom.Node) {
	switch n.Type {
	case dom.TextNode:
		p.text(n)
		return
	case dom.ElementNode:
		if n.Tag == "br" {
			p.newline()
			return
		}
	}

	block := n.Type == dom.ElementNode && blockTags[n.Tag]
	if block {
		p.breakLine()
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		p.node(c)
	}
	if block {
		p.breakLine()
	}
}

func (p *printer) text(n *dom.Node) {
	if n.Data == "" {
		return
	}
	ids := overlay.WrapperIDs(n)
	if len(ids) == 0 {
		p.write(n.Data, nil)
		return
	}
	style := p.theme.HighlightStyle(ids[len(ids)-1])
	p.write(n.Data, &style)
}

// write styles every line separately so lipgloss does not pad them to a
// common width.
func (p *printer) write(s string, style *lipgloss.Style) {
	for i, line := range strings.Split(s, "\n") {
		if i > 0 {
			p.newline()
		}
		if line == "" {
			continue
		}
		if style != nil {
			line = style.Render(line)
		}
		p.sb.WriteString(line)
		p.lineStart = false
	}
}

func (p *printer) newline() {
	p.sb.WriteByte('\n')
	p.lineStart = true
}

func (p *printer) breakLine() {
	if !p.lineStart {
		p.newline()
	}
}

func (p *printer) entryHeading(e view.Entry, label string) {
	p.breakLine()
	heading := p.theme.Heading.Render(e.DocumentName)
	if label != "" {
		heading += " " + p.theme.Label.Render("("+label+")")
	}
	p.sb.WriteString(heading)
	p.newline()
}

func (p *printer) legend(v *view.View) {
	hls := v.Highlights()
	if len(hls) == 0 {
		return
	}
	p.newline()
	for _, h := range hls {
		swatch := p.theme.HighlightStyle(h.ID).Render(fmt.Sprintf("#%d", h.ID))
		fmt.Fprintf(&p.sb, "%s %s %s\n",
			swatch,
			p.theme.Muted.Render(fmt.Sprintf("[%d, %d)", h.Start, h.End)),
			p.theme.Label.Render(v.Label(h.ID)),
		)
	}
	p.lineStart = true
}
