// markup turns stored document HTML into dom trees using the tree-sitter
// HTML grammar.
package markup

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/remram44/taguette/internal/dom"

	sitter "github.com/smacker/go-tree-sitter"
	sitterhtml "github.com/smacker/go-tree-sitter/html"
	"github.com/tliron/commonlog"
	"golang.org/x/net/html"
)

var log = commonlog.GetLogger("taglight.markup")

var lang = sitterhtml.GetLanguage()

// ErrPoolClosed is returned by Parse after the pool has been closed.
var ErrPoolClosed = errors.New("parser pool closed")

// Parser wraps a single tree-sitter parser. It is not safe for concurrent use.
type Parser struct {
	parser *sitter.Parser
}

func NewParser() *Parser {
	p := sitter.NewParser()
	p.SetLanguage(lang)
	return &Parser{parser: p}
}

// Parse converts src into detached dom nodes, in source order.
func (p *Parser) Parse(ctx context.Context, src []byte) ([]*dom.Node, error) {
	tree, err := p.parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("failed to parse markup: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		log.Warningf("markup has syntax errors, recovering: %.40q", src)
	}

	holder := dom.NewDocument()
	b := builder{src: src}
	if err := b.children(holder, root, 0, uint32(len(src))); err != nil {
		return nil, err
	}

	var nodes []*dom.Node
	for c := holder.FirstChild; c != nil; {
		next := c.NextSibling
		holder.RemoveChild(c)
		nodes = append(nodes, c)
		c = next
	}
	return nodes, nil
}

func (p *Parser) Close() error {
	if p.parser != nil {
		p.parser.Close()
		p.parser = nil
	}
	return nil
}

// ParserPool maintains a fixed set of parsers shared between goroutines.
type ParserPool struct {
	pool chan *Parser
}

// NewParserPool creates a pool of n parsers.
func NewParserPool(n int) *ParserPool {
	pp := &ParserPool{pool: make(chan *Parser, n)}
	for i := 0; i < n; i++ {
		pp.pool <- NewParser()
	}
	return pp
}

// Parse borrows a parser from the pool for a single parse.
func (pp *ParserPool) Parse(ctx context.Context, src []byte) ([]*dom.Node, error) {
	var p *Parser
	select {
	case p = <-pp.pool:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if p == nil {
		return nil, ErrPoolClosed
	}
	defer func() { pp.pool <- p }()
	return p.Parse(ctx, src)
}

// ParseInto parses src and appends the result to parent.
func (pp *ParserPool) ParseInto(ctx context.Context, parent *dom.Node, src []byte) error {
	nodes, err := pp.Parse(ctx, src)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		if err := parent.AppendChild(n); err != nil {
			return err
		}
	}
	return nil
}

// Close releases all parsers in the pool.
func (pp *ParserPool) Close() error {
	close(pp.pool)
	for p := range pp.pool {
		p.Close()
	}
	return nil
}

type builder struct {
	src []byte
}

// children appends the content of n between the byte offsets from and to
// onto parent. Child elements recurse; the bytes between them become text.
func (b builder) children(parent *dom.Node, n *sitter.Node, from, to uint32) error {
	pos := from
	count := int(n.NamedChildCount())
	for i := 0; i < count; i++ {
		c := n.NamedChild(i)
		if c.StartByte() < from || c.EndByte() > to {
			continue
		}
		switch c.Type() {
		case "element":
			if err := b.text(parent, pos, c.StartByte()); err != nil {
				return err
			}
			el, err := b.element(c)
			if err != nil {
				return err
			}
			if err := parent.AppendChild(el); err != nil {
				return err
			}
			pos = c.EndByte()
		case "comment", "doctype", "script_element", "style_element", "erroneous_end_tag":
			if err := b.text(parent, pos, c.StartByte()); err != nil {
				return err
			}
			pos = c.EndByte()
		}
	}
	return b.text(parent, pos, to)
}

func (b builder) text(parent *dom.Node, from, to uint32) error {
	if to <= from {
		return nil
	}
	data := html.UnescapeString(string(b.src[from:to]))
	if data == "" {
		return nil
	}
	return parent.AppendChild(dom.NewText(data))
}

func (b builder) element(n *sitter.Node) (*dom.Node, error) {
	var tag *sitter.Node
	from, to := n.EndByte(), n.EndByte()
	count := int(n.NamedChildCount())
	for i := 0; i < count; i++ {
		c := n.NamedChild(i)
		switch c.Type() {
		case "start_tag", "self_closing_tag":
			tag = c
			from = c.EndByte()
		case "end_tag":
			to = c.StartByte()
		}
	}
	if to < from {
		to = from
	}

	el := dom.NewElement("span")
	if tag != nil {
		b.tag(el, tag)
	}
	if err := b.children(el, n, from, to); err != nil {
		return nil, err
	}
	return el, nil
}

func (b builder) tag(el *dom.Node, n *sitter.Node) {
	count := int(n.NamedChildCount())
	for i := 0; i < count; i++ {
		c := n.NamedChild(i)
		switch c.Type() {
		case "tag_name":
			el.Tag = strings.ToLower(c.Content(b.src))
		case "attribute":
			key, val := b.attribute(c)
			if key != "" {
				el.SetAttr(key, val)
			}
		}
	}
}

func (b builder) attribute(n *sitter.Node) (key, val string) {
	count := int(n.NamedChildCount())
	for i := 0; i < count; i++ {
		c := n.NamedChild(i)
		switch c.Type() {
		case "attribute_name":
			key = strings.ToLower(c.Content(b.src))
		case "attribute_value":
			val = html.UnescapeString(c.Content(b.src))
		case "quoted_attribute_value":
			if v := c.NamedChild(0); v != nil {
				val = html.UnescapeString(v.Content(b.src))
			}
		}
	}
	return key, val
}
