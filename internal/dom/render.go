package dom

import (
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Render writes n as HTML. A document node renders its children only.
func Render(w io.Writer, n *Node) error {
	if n.Type == DocumentNode {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if err := html.Render(w, toHTML(c)); err != nil {
				return err
			}
		}
		return nil
	}
	return html.Render(w, toHTML(n))
}

// RenderString is Render into a string.
func RenderString(n *Node) string {
	var sb strings.Builder
	if err := Render(&sb, n); err != nil {
		return ""
	}
	return sb.String()
}

func toHTML(n *Node) *html.Node {
	switch n.Type {
	case TextNode:
		return &html.Node{Type: html.TextNode, Data: n.Data}
	case DocumentNode:
		out := &html.Node{Type: html.DocumentNode}
		appendChildren(out, n)
		return out
	}
	out := &html.Node{
		Type:     html.ElementNode,
		Data:     n.Tag,
		DataAtom: atom.Lookup([]byte(n.Tag)),
	}
	for _, a := range n.Attrs {
		out.Attr = append(out.Attr, html.Attribute{Key: a.Key, Val: a.Val})
	}
	appendChildren(out, n)
	return out
}

func appendChildren(out *html.Node, n *Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out.AppendChild(toHTML(c))
	}
}
