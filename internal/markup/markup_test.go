package markup_test

import (
	"context"
	"testing"

	"github.com/remram44/taguette/internal/dom"
	"github.com/remram44/taguette/internal/markup"
)

func parse(t *testing.T, src string) []*dom.Node {
	t.Helper()
	p := markup.NewParser()
	defer p.Close()
	nodes, err := p.Parse(context.Background(), []byte(src))
	if err != nil {
		t.Fatalf("Parse(%q): %v", src, err)
	}
	return nodes
}

func TestParseStructure(t *testing.T) {
	nodes := parse(t, `<p class="x">Hello <b>wörld</b> &amp; more</p><p>second</p>`)
	if len(nodes) != 2 {
		t.Fatalf("got %d top-level nodes, want 2", len(nodes))
	}

	p := nodes[0]
	if p.Tag != "p" {
		t.Errorf("tag = %q, want p", p.Tag)
	}
	if class, _ := p.Attr("class"); class != "x" {
		t.Errorf("class = %q, want x", class)
	}
	if got := p.TextContent(); got != "Hello wörld & more" {
		t.Errorf("TextContent = %q", got)
	}

	leaves := dom.Leaves(p)
	var texts []string
	for _, l := range leaves {
		texts = append(texts, l.Data)
	}
	if len(texts) != 3 || texts[0] != "Hello " || texts[1] != "wörld" || texts[2] != " & more" {
		t.Errorf("leaves = %q", texts)
	}

	if got := nodes[1].TextContent(); got != "second" {
		t.Errorf("second paragraph = %q", got)
	}
}

func TestParseDropsComments(t *testing.T) {
	nodes := parse(t, `<p>a<!-- note -->b</p>`)
	if len(nodes) != 1 {
		t.Fatalf("got %d nodes, want 1", len(nodes))
	}
	if got := nodes[0].TextContent(); got != "ab" {
		t.Errorf("TextContent = %q, want %q", got, "ab")
	}
}

func TestParseVoidAndAttributes(t *testing.T) {
	nodes := parse(t, `<p>line<br>next <a href='/x?a=1&amp;b=2' title=plain>link</a></p>`)
	if len(nodes) != 1 {
		t.Fatalf("got %d nodes, want 1", len(nodes))
	}
	if got := nodes[0].TextContent(); got != "linenext link" {
		t.Errorf("TextContent = %q", got)
	}
	links := dom.Find(nodes[0], func(n *dom.Node) bool { return n.Tag == "a" })
	if len(links) != 1 {
		t.Fatalf("found %d links, want 1", len(links))
	}
	if href, _ := links[0].Attr("href"); href != "/x?a=1&b=2" {
		t.Errorf("href = %q", href)
	}
	if title, _ := links[0].Attr("title"); title != "plain" {
		t.Errorf("title = %q", title)
	}
}

func TestPoolParseInto(t *testing.T) {
	pp := markup.NewParserPool(2)
	defer pp.Close()

	root := dom.NewElement("div", "id", "doc-offset-0")
	if err := pp.ParseInto(context.Background(), root, []byte("<p>one</p>\n<p>two</p>")); err != nil {
		t.Fatalf("ParseInto: %v", err)
	}
	if got := root.TextContent(); got != "one\ntwo" {
		t.Errorf("TextContent = %q", got)
	}
}
