// dom is a minimal mutable document tree: elements with attributes and text
// leaves, linked through parent and sibling pointers so that splitting and
// unwrapping are constant-time pointer surgery.
package dom

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotChild is returned when a reference node is not a child of the
	// node being operated on.
	ErrNotChild = errors.New("node is not a child")

	// ErrHasParent is returned when inserting a node that is still attached.
	ErrHasParent = errors.New("node already has a parent")

	// ErrNotText is returned when a text operation is applied to an element.
	ErrNotText = errors.New("node is not a text node")

	// ErrSplitRange is returned when a split index falls outside the text or
	// not on a rune boundary.
	ErrSplitRange = errors.New("split index out of range")
)

type NodeType int

const (
	DocumentNode NodeType = iota
	ElementNode
	TextNode
)

func (t NodeType) String() string {
	switch t {
	case DocumentNode:
		return "document"
	case ElementNode:
		return "element"
	case TextNode:
		return "text"
	default:
		return fmt.Sprintf("NodeType(%d)", int(t))
	}
}

type Attr struct {
	Key string
	Val string
}

// Node is a single tree node. Tag and Attrs are only meaningful for
// elements; Data only for text nodes.
type Node struct {
	Type  NodeType
	Tag   string
	Attrs []Attr
	Data  string

	Parent      *Node
	FirstChild  *Node
	LastChild   *Node
	PrevSibling *Node
	NextSibling *Node
}

func NewDocument() *Node {
	return &Node{Type: DocumentNode}
}

// NewElement creates an element. attrs are key, value pairs.
func NewElement(tag string, attrs ...string) *Node {
	n := &Node{Type: ElementNode, Tag: strings.ToLower(tag)}
	for i := 0; i+1 < len(attrs); i += 2 {
		n.Attrs = append(n.Attrs, Attr{Key: attrs[i], Val: attrs[i+1]})
	}
	return n
}

func NewText(data string) *Node {
	return &Node{Type: TextNode, Data: data}
}

// Attr returns the value of the attribute key.
func (n *Node) Attr(key string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr sets or replaces the attribute key.
func (n *Node) SetAttr(key, val string) {
	for i := range n.Attrs {
		if n.Attrs[i].Key == key {
			n.Attrs[i].Val = val
			return
		}
	}
	n.Attrs = append(n.Attrs, Attr{Key: key, Val: val})
}

// ID returns the element's id attribute, or "".
func (n *Node) ID() string {
	if n.Type != ElementNode {
		return ""
	}
	id, _ := n.Attr("id")
	return id
}

// HasClass reports whether the element's class list contains class.
func (n *Node) HasClass(class string) bool {
	classes, ok := n.Attr("class")
	if !ok {
		return false
	}
	for _, c := range strings.Fields(classes) {
		if c == class {
			return true
		}
	}
	return false
}

// AppendChild adds c as the last child of n.
func (n *Node) AppendChild(c *Node) error {
	if c.Parent != nil || c.PrevSibling != nil || c.NextSibling != nil {
		return ErrHasParent
	}
	last := n.LastChild
	if last != nil {
		last.NextSibling = c
	} else {
		n.FirstChild = c
	}
	n.LastChild = c
	c.Parent = n
	c.PrevSibling = last
	return nil
}

// InsertBefore inserts c as a child of n immediately before ref. A nil ref
// appends.
func (n *Node) InsertBefore(c, ref *Node) error {
	if ref == nil {
		return n.AppendChild(c)
	}
	if ref.Parent != n {
		return ErrNotChild
	}
	if c.Parent != nil || c.PrevSibling != nil || c.NextSibling != nil {
		return ErrHasParent
	}
	prev := ref.PrevSibling
	if prev != nil {
		prev.NextSibling = c
	} else {
		n.FirstChild = c
	}
	c.PrevSibling = prev
	c.NextSibling = ref
	ref.PrevSibling = c
	c.Parent = n
	return nil
}

// RemoveChild detaches c from n.
func (n *Node) RemoveChild(c *Node) error {
	if c.Parent != n {
		return ErrNotChild
	}
	if n.FirstChild == c {
		n.FirstChild = c.NextSibling
	}
	if c.NextSibling != nil {
		c.NextSibling.PrevSibling = c.PrevSibling
	}
	if n.LastChild == c {
		n.LastChild = c.PrevSibling
	}
	if c.PrevSibling != nil {
		c.PrevSibling.NextSibling = c.NextSibling
	}
	c.Parent = nil
	c.PrevSibling = nil
	c.NextSibling = nil
	return nil
}

// Wrap replaces n in its parent with wrapper and moves n inside it.
func (n *Node) Wrap(wrapper *Node) error {
	parent := n.Parent
	if parent == nil {
		return ErrNotChild
	}
	if err := parent.InsertBefore(wrapper, n); err != nil {
		return err
	}
	if err := parent.RemoveChild(n); err != nil {
		return err
	}
	return wrapper.AppendChild(n)
}

// Unwrap moves the children of n into its parent, in place, and detaches n.
func (n *Node) Unwrap() error {
	parent := n.Parent
	if parent == nil {
		return ErrNotChild
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if err := n.RemoveChild(c); err != nil {
			return err
		}
		if err := parent.InsertBefore(c, n); err != nil {
			return err
		}
		c = next
	}
	return parent.RemoveChild(n)
}

// SplitText splits a text node at byte index i, keeping [0, i) in n and
// moving [i, len) into a new sibling that is returned.
func (n *Node) SplitText(i int) (*Node, error) {
	if n.Type != TextNode {
		return nil, ErrNotText
	}
	if i < 0 || i > len(n.Data) || !runeStart(n.Data, i) {
		return nil, fmt.Errorf("%w: %d of %d", ErrSplitRange, i, len(n.Data))
	}
	right := NewText(n.Data[i:])
	n.Data = n.Data[:i]
	if n.Parent != nil {
		if err := n.Parent.InsertBefore(right, n.NextSibling); err != nil {
			return nil, err
		}
	}
	return right, nil
}

func runeStart(s string, i int) bool {
	return i == len(s) || s[i]&0xC0 != 0x80
}

// TextContent returns the concatenated text of n and its descendants.
func (n *Node) TextContent() string {
	if n.Type == TextNode {
		return n.Data
	}
	var sb strings.Builder
	n.writeText(&sb)
	return sb.String()
}

func (n *Node) writeText(sb *strings.Builder) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == TextNode {
			sb.WriteString(c.Data)
		} else {
			c.writeText(sb)
		}
	}
}

// TextLen returns the UTF-8 length of n's text content without building it.
func (n *Node) TextLen() int {
	if n.Type == TextNode {
		return len(n.Data)
	}
	total := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		total += c.TextLen()
	}
	return total
}

// Contains reports whether d is n or one of its descendants.
func (n *Node) Contains(d *Node) bool {
	for ; d != nil; d = d.Parent {
		if d == n {
			return true
		}
	}
	return false
}
