// overlay materializes highlights over a chunked dom tree as wrapper
// elements, one wrapper per text leaf covered, and removes them again by
// unwrapping.
package overlay

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/remram44/taguette/internal/dom"
	"github.com/remram44/taguette/internal/locator"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("taglight.overlay")

const (
	WrapperTag     = "a"
	WrapperClass   = "highlight"
	HighlightIDKey = "data-highlight-id"
)

// ErrInvalidRange is returned for a highlight whose start is not before its
// end. It is a caller error, not a rendering failure.
var ErrInvalidRange = errors.New("invalid highlight range")

// Highlight is a tagged byte range [Start, End) of a document.
type Highlight struct {
	ID    int   `json:"id"`
	Start int   `json:"start_offset"`
	End   int   `json:"end_offset"`
	Tags  []int `json:"tags"`
}

// Handler is invoked when a highlight's wrapper is activated.
type Handler func(id int)

type entry struct {
	highlight Highlight
	label     string
	handler   Handler
	wrappers  []*dom.Node
}

// Engine keeps the live highlight index and the wrapper elements of each
// highlight.
type Engine struct {
	loc     *locator.Locator
	entries map[int]*entry
}

func New(loc *locator.Locator) *Engine {
	return &Engine{
		loc:     loc,
		entries: make(map[int]*entry),
	}
}

// Apply renders h, removing any earlier rendering of the same id first. If
// an offset cannot be resolved against the loaded document, nothing is
// changed and the returned error wraps locator.ErrUnresolvableOffset or
// locator.ErrStaleOffset; the highlight is then absent.
func (e *Engine) Apply(h Highlight, onActivate Handler, label string) error {
	if h.Start >= h.End {
		return fmt.Errorf("%w: highlight %d is [%d, %d)", ErrInvalidRange, h.ID, h.Start, h.End)
	}
	e.Remove(h.ID)

	startPos, err := e.loc.LocatePosition(h.Start)
	if err != nil {
		return e.unappliable(h, err)
	}
	if _, err := e.loc.LocatePosition(h.End); err != nil {
		return e.unappliable(h, err)
	}

	start := e.loc.SplitAt(startPos, locator.Left)
	// The start split may have cut the leaf holding the end; locate again.
	endPos, err := e.loc.LocatePosition(h.End)
	if err != nil {
		return e.unappliable(h, err)
	}
	end := e.loc.SplitAt(endPos, locator.Right)

	id := strconv.Itoa(h.ID)
	var wrappers []*dom.Node
	for node := start; node != nil && node != end; {
		next := dom.NextLeaf(node)
		if node.Type == dom.TextNode && node.Data != "" {
			w := dom.NewElement(WrapperTag,
				"class", WrapperClass+" "+WrapperClass+"-"+id,
				HighlightIDKey, id,
				"title", label,
			)
			if err := node.Wrap(w); err != nil {
				unwrapAll(wrappers)
				return fmt.Errorf("failed to wrap highlight %d: %w", h.ID, err)
			}
			wrappers = append(wrappers, w)
		}
		node = next
	}

	h.Tags = append([]int(nil), h.Tags...)
	e.entries[h.ID] = &entry{
		highlight: h,
		label:     label,
		handler:   onActivate,
		wrappers:  wrappers,
	}
	return nil
}

func (e *Engine) unappliable(h Highlight, err error) error {
	log.Errorf("cannot apply highlight %d [%d, %d): %s", h.ID, h.Start, h.End, err)
	return fmt.Errorf("highlight %d: %w", h.ID, err)
}

// Remove unwraps every wrapper of the highlight id. It reports whether the
// highlight was present.
func (e *Engine) Remove(id int) bool {
	ent, ok := e.entries[id]
	if !ok {
		return false
	}
	unwrapAll(ent.wrappers)
	delete(e.entries, id)
	return true
}

func unwrapAll(wrappers []*dom.Node) {
	for _, w := range wrappers {
		if w.Parent == nil {
			continue
		}
		if err := w.Unwrap(); err != nil {
			log.Warningf("could not unwrap highlight element: %s", err)
		}
	}
}

// Get returns the applied highlight id.
func (e *Engine) Get(id int) (Highlight, bool) {
	ent, ok := e.entries[id]
	if !ok {
		return Highlight{}, false
	}
	return ent.highlight, true
}

// Label returns the label the highlight id was applied with.
func (e *Engine) Label(id int) string {
	if ent, ok := e.entries[id]; ok {
		return ent.label
	}
	return ""
}

// Highlights returns the applied highlights ordered by start, then id.
func (e *Engine) Highlights() []Highlight {
	list := make([]Highlight, 0, len(e.entries))
	for _, ent := range e.entries {
		list = append(list, ent.highlight)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Start != list[j].Start {
			return list[i].Start < list[j].Start
		}
		return list[i].ID < list[j].ID
	})
	return list
}

func (e *Engine) Len() int {
	return len(e.entries)
}

// Wrappers returns the wrapper elements of the highlight id.
func (e *Engine) Wrappers(id int) []*dom.Node {
	if ent, ok := e.entries[id]; ok {
		return append([]*dom.Node(nil), ent.wrappers...)
	}
	return nil
}

// Activate invokes the handler registered for the highlight id. It reports
// whether a handler ran.
func (e *Engine) Activate(id int) bool {
	ent, ok := e.entries[id]
	if !ok || ent.handler == nil {
		return false
	}
	ent.handler(id)
	return true
}

// Relabel changes the label of an applied highlight in place.
func (e *Engine) Relabel(id int, label string) bool {
	ent, ok := e.entries[id]
	if !ok {
		return false
	}
	ent.label = label
	for _, w := range ent.wrappers {
		w.SetAttr("title", label)
	}
	return true
}

// SetTags replaces the tags recorded for an applied highlight.
func (e *Engine) SetTags(id int, tags []int) bool {
	ent, ok := e.entries[id]
	if !ok {
		return false
	}
	ent.highlight.Tags = append([]int(nil), tags...)
	return true
}

// Covering returns the ids of the highlights covering the byte at offset,
// outermost first.
func (e *Engine) Covering(offset int) []int {
	pos, err := e.loc.LeafAt(offset)
	if err != nil {
		return nil
	}
	return WrapperIDs(pos.Leaf)
}

// WrapperIDs returns the highlight ids of the wrappers enclosing n,
// outermost first.
func WrapperIDs(n *dom.Node) []int {
	var ids []int
	for p := n; p != nil; p = p.Parent {
		if p.Type != dom.ElementNode {
			continue
		}
		v, ok := p.Attr(HighlightIDKey)
		if !ok {
			continue
		}
		if id, err := strconv.Atoi(v); err == nil {
			ids = append(ids, id)
		}
	}
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	return ids
}

// Clear forgets every highlight without touching the tree. It is used when
// the tree itself is discarded.
func (e *Engine) Clear() {
	e.entries = make(map[int]*entry)
}
