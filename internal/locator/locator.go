// locator maps document byte offsets to positions in a chunked dom tree and
// back.
//
// A document is rendered as a sequence of chunk roots, elements whose id is
// ChunkIDPrefix followed by the byte offset at which the chunk starts. All
// offsets are UTF-8 byte counts of the plain text.
package locator

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/remram44/taguette/internal/dom"
	"github.com/remram44/taguette/internal/textmetric"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("taglight.locator")

const ChunkIDPrefix = "doc-offset-"

var (
	// ErrUnresolvableOffset is returned when an offset does not fall in any
	// loaded chunk.
	ErrUnresolvableOffset = errors.New("unresolvable offset")

	// ErrStaleOffset is returned when an offset runs past the text reachable
	// from its chunk, usually because the document was reloaded since the
	// offset was computed.
	ErrStaleOffset = errors.New("stale offset")

	// ErrChunkOrder is returned when chunks are not added in strictly
	// ascending order.
	ErrChunkOrder = errors.New("chunk starts must be strictly ascending")
)

// Side says which end of a range a split is for.
type Side int

const (
	Left Side = iota
	Right
)

func (s Side) String() string {
	if s == Right {
		return "right"
	}
	return "left"
}

// Position is a point in the tree: a leaf and a byte offset inside it.
type Position struct {
	Leaf   *dom.Node
	Offset int
}

// Compare orders two positions in document order.
func (p Position) Compare(o Position) int {
	if p.Leaf == o.Leaf {
		switch {
		case p.Offset < o.Offset:
			return -1
		case p.Offset > o.Offset:
			return 1
		}
		return 0
	}
	return dom.Compare(p.Leaf, o.Leaf)
}

type chunk struct {
	start int
	root  *dom.Node
}

// Locator holds the chunk index of the loaded document.
type Locator struct {
	chunks []chunk
}

func New() *Locator {
	return &Locator{}
}

// ChunkID returns the id attribute of the chunk root starting at start.
func ChunkID(start int) string {
	return ChunkIDPrefix + strconv.Itoa(start)
}

// ParseChunkID extracts the start offset from a chunk root id.
func ParseChunkID(id string) (int, bool) {
	rest, ok := strings.CutPrefix(id, ChunkIDPrefix)
	if !ok {
		return 0, false
	}
	start, err := strconv.Atoi(rest)
	if err != nil || start < 0 {
		return 0, false
	}
	return start, true
}

// AddChunk registers a chunk root. Chunks must be added in ascending order
// of start.
func (l *Locator) AddChunk(start int, root *dom.Node) error {
	if n := len(l.chunks); n > 0 && start <= l.chunks[n-1].start {
		return fmt.Errorf("%w: %d after %d", ErrChunkOrder, start, l.chunks[n-1].start)
	}
	if start < 0 {
		return fmt.Errorf("%w: negative start %d", ErrChunkOrder, start)
	}
	l.chunks = append(l.chunks, chunk{start: start, root: root})
	return nil
}

// Reset drops every chunk.
func (l *Locator) Reset() {
	l.chunks = nil
}

// ChunkStarts returns the registered chunk starts in ascending order.
func (l *Locator) ChunkStarts() []int {
	starts := make([]int, len(l.chunks))
	for i, c := range l.chunks {
		starts[i] = c.start
	}
	return starts
}

// Len returns the byte length of the document, the end of the last chunk.
func (l *Locator) Len() int {
	if len(l.chunks) == 0 {
		return 0
	}
	last := l.chunks[len(l.chunks)-1]
	return last.start + last.root.TextLen()
}

// DescribePosition converts a point given as a node and a UTF-16 offset
// into its text into an absolute byte offset. ok is false when the node has
// no chunk root ancestor. Elements with other ids are walked past.
func (l *Locator) DescribePosition(node *dom.Node, units int) (offset int, ok bool) {
	if node == nil {
		return 0, false
	}
	offset = textmetric.UTF16ToByte(node.TextContent(), units)
	for {
		if start, isChunk := ParseChunkID(node.ID()); isChunk {
			return start + offset, true
		}
		if node.PrevSibling != nil {
			node = node.PrevSibling
			if _, isChunk := ParseChunkID(node.ID()); isChunk {
				return 0, false
			}
			offset += node.TextLen()
		} else if node.Parent != nil {
			node = node.Parent
		} else {
			return 0, false
		}
	}
}

// LocatePosition finds the leaf holding the byte at offset. An offset equal
// to the end of a leaf stays in that leaf.
func (l *Locator) LocatePosition(offset int) (Position, error) {
	c, err := l.chunkFor(offset)
	if err != nil {
		return Position{}, err
	}
	rem := offset - c.start
	leaf := dom.FirstLeaf(c.root)
	for rem > 0 {
		n := leaf.TextLen()
		if n >= rem {
			break
		}
		rem -= n
		leaf = dom.NextLeaf(leaf)
		if leaf == nil {
			return Position{}, fmt.Errorf("%w: %d is past the end of the document", ErrStaleOffset, offset)
		}
	}
	return Position{Leaf: leaf, Offset: rem}, nil
}

// LeafAt returns the text leaf containing the byte at offset, together with
// the byte offset inside that leaf. Unlike LocatePosition it skips to the
// next leaf when offset falls on a leaf's end.
func (l *Locator) LeafAt(offset int) (Position, error) {
	pos, err := l.LocatePosition(offset)
	if err != nil {
		return Position{}, err
	}
	for pos.Leaf != nil && pos.Offset >= pos.Leaf.TextLen() {
		pos = Position{Leaf: dom.NextLeaf(pos.Leaf)}
	}
	if pos.Leaf == nil {
		return Position{}, fmt.Errorf("%w: no text at %d", ErrStaleOffset, offset)
	}
	return pos, nil
}

func (l *Locator) chunkFor(offset int) (chunk, error) {
	if offset < 0 {
		return chunk{}, fmt.Errorf("%w: negative offset %d", ErrUnresolvableOffset, offset)
	}
	if len(l.chunks) == 0 {
		return chunk{}, fmt.Errorf("%w: no document loaded", ErrUnresolvableOffset)
	}
	found := -1
	for i, c := range l.chunks {
		if c.start > offset {
			break
		}
		found = i
	}
	if found < 0 {
		return chunk{}, fmt.Errorf("%w: %d precedes the first chunk", ErrUnresolvableOffset, offset)
	}
	return l.chunks[found], nil
}

// SplitAt returns a node beginning exactly at pos, splitting the leaf's text
// when pos falls strictly inside it. It returns nil when pos is the end of
// the document.
func (l *Locator) SplitAt(pos Position, side Side) *dom.Node {
	leaf := pos.Leaf
	if pos.Offset == 0 {
		return leaf
	}
	if pos.Offset >= leaf.TextLen() {
		return dom.NextLeaf(leaf)
	}
	idx, exact := textmetric.SplitIndex(leaf.Data, pos.Offset)
	if !exact {
		log.Errorf("error computing character position: %s boundary at byte %d of %q, splitting at %d",
			side, pos.Offset, leaf.Data, idx)
	}
	right, err := leaf.SplitText(idx)
	if err != nil {
		log.Errorf("could not split leaf at %d: %s", idx, err)
		return leaf
	}
	return right
}
