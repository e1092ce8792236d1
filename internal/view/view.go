// view holds everything about the currently displayed document: the tree
// built from its chunks, the offset locator, the highlight overlay and the
// current selection. A View is built by Load and discarded on the next load.
//
// A View is not safe for concurrent use; callers serialize access.
package view

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/remram44/taguette/internal/dom"
	"github.com/remram44/taguette/internal/locator"
	"github.com/remram44/taguette/internal/overlay"
	"github.com/remram44/taguette/internal/textmetric"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("taglight.view")

const (
	ContentsID    = "document-contents"
	EntryIDPrefix = "highlight-entry-"
)

// ErrClosed is returned by operations on a View after Close.
var ErrClosed = errors.New("view is closed")

// Parser turns stored markup into dom nodes.
type Parser interface {
	Parse(ctx context.Context, src []byte) ([]*dom.Node, error)
}

// Chunk is a piece of document markup starting at a byte offset.
type Chunk struct {
	Offset   int    `json:"offset"`
	Contents string `json:"contents"`
}

// Entry is a highlight rendered on its own in a tag listing.
type Entry struct {
	ID           int    `json:"id"`
	DocumentID   int    `json:"document_id"`
	DocumentName string `json:"document_name"`
	Content      string `json:"content"`
	Tags         []int  `json:"tags"`
}

// Mode is what a View displays.
type Mode int

const (
	DocumentMode Mode = iota
	EntriesMode
)

// Labeler builds the label shown on a highlight from its tags.
type Labeler func(tags []int) string

// Options configure a View.
type Options struct {
	// Labeler defaults to the comma-joined tag ids.
	Labeler Labeler
	// OnActivate is invoked with the highlight id when a wrapper is
	// activated.
	OnActivate overlay.Handler
	// Direction is the server's text_direction, LEFT_TO_RIGHT or
	// RIGHT_TO_LEFT.
	Direction string
}

// View is the displayed document.
type View struct {
	mode      Mode
	doc       *dom.Node
	contents  *dom.Node
	loc       *locator.Locator
	overlay   *overlay.Engine
	selection *Range
	entries   []Entry
	opts      Options
}

func newView(mode Mode, opts Options) *View {
	if opts.Labeler == nil {
		opts.Labeler = IDLabel
	}
	v := &View{
		mode: mode,
		doc:  dom.NewDocument(),
		loc:  locator.New(),
		opts: opts,
	}
	v.overlay = overlay.New(v.loc)
	v.contents = dom.NewElement("div", "id", ContentsID)
	if opts.Direction == "RIGHT_TO_LEFT" {
		v.contents.SetAttr("dir", "rtl")
	}
	v.doc.AppendChild(v.contents)
	return v
}

// Load builds a document view from its chunks and applies the initial
// highlights in order. Highlights that cannot be applied are logged and
// skipped.
func Load(ctx context.Context, p Parser, chunks []Chunk, highlights []overlay.Highlight, opts Options) (*View, error) {
	v := newView(DocumentMode, opts)
	for _, c := range chunks {
		root := dom.NewElement("div", "id", locator.ChunkID(c.Offset))
		nodes, err := p.Parse(ctx, []byte(c.Contents))
		if err != nil {
			return nil, fmt.Errorf("failed to parse chunk at %d: %w", c.Offset, err)
		}
		for _, n := range nodes {
			if err := root.AppendChild(n); err != nil {
				return nil, err
			}
		}
		if err := v.contents.AppendChild(root); err != nil {
			return nil, err
		}
		if err := v.loc.AddChunk(c.Offset, root); err != nil {
			return nil, err
		}
	}
	for _, h := range highlights {
		if err := v.SetHighlight(h); err != nil {
			log.Warningf("skipping highlight %d: %s", h.ID, err)
		}
	}
	log.Infof("loaded %d chunks, %d highlights", len(chunks), v.overlay.Len())
	return v, nil
}

// LoadEntries builds a view listing highlight entries independently. There
// are no chunk roots, so offsets are meaningless and selections never
// describe.
func LoadEntries(ctx context.Context, p Parser, entries []Entry, opts Options) (*View, error) {
	v := newView(EntriesMode, opts)
	for _, e := range entries {
		el := dom.NewElement("div",
			"id", EntryIDPrefix+strconv.Itoa(e.ID),
			"class", "highlight-entry",
			"title", v.opts.Labeler(e.Tags),
		)
		nodes, err := p.Parse(ctx, []byte(e.Content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse highlight %d: %w", e.ID, err)
		}
		for _, n := range nodes {
			if err := el.AppendChild(n); err != nil {
				return nil, err
			}
		}
		if err := v.contents.AppendChild(el); err != nil {
			return nil, err
		}
	}
	v.entries = append([]Entry(nil), entries...)
	return v, nil
}

// IDLabel labels a highlight with its sorted tag ids.
func IDLabel(tags []int) string {
	sorted := append([]int(nil), tags...)
	sort.Ints(sorted)
	parts := make([]string, len(sorted))
	for i, t := range sorted {
		parts[i] = strconv.Itoa(t)
	}
	return strings.Join(parts, ", ")
}

func (v *View) Mode() Mode {
	return v.mode
}

// Entries returns the entries of a tag listing.
func (v *View) Entries() []Entry {
	return v.entries
}

// SetHighlight applies h, replacing any earlier rendering of the same id.
func (v *View) SetHighlight(h overlay.Highlight) error {
	if v.doc == nil {
		return ErrClosed
	}
	if v.mode != DocumentMode {
		return fmt.Errorf("highlight %d: %w", h.ID, locator.ErrUnresolvableOffset)
	}
	return v.overlay.Apply(h, v.opts.OnActivate, v.opts.Labeler(h.Tags))
}

// RemoveHighlight unwraps the highlight id. Unknown ids are ignored.
func (v *View) RemoveHighlight(id int) bool {
	return v.overlay.Remove(id)
}

// SetHighlightTags changes the tags of an applied highlight and its label.
func (v *View) SetHighlightTags(id int, tags []int) bool {
	if !v.overlay.SetTags(id, tags) {
		return false
	}
	return v.overlay.Relabel(id, v.opts.Labeler(tags))
}

// Relabel recomputes the label of every highlight, after tags changed.
func (v *View) Relabel() {
	for _, h := range v.overlay.Highlights() {
		v.overlay.Relabel(h.ID, v.opts.Labeler(h.Tags))
	}
	for _, e := range v.entries {
		if el := dom.GetElementByID(v.contents, EntryIDPrefix+strconv.Itoa(e.ID)); el != nil {
			el.SetAttr("title", v.opts.Labeler(e.Tags))
		}
	}
}

// Highlight returns the applied highlight id.
func (v *View) Highlight(id int) (overlay.Highlight, bool) {
	return v.overlay.Get(id)
}

// Highlights returns the applied highlights in document order.
func (v *View) Highlights() []overlay.Highlight {
	return v.overlay.Highlights()
}

// Label returns the current label of the highlight id.
func (v *View) Label(id int) string {
	return v.overlay.Label(id)
}

// Covering returns the ids of highlights covering the byte at offset.
func (v *View) Covering(offset int) []int {
	return v.overlay.Covering(offset)
}

// Activate simulates a click on a wrapper of the highlight id.
func (v *View) Activate(id int) bool {
	return v.overlay.Activate(id)
}

// Text returns the plain text of the view. In document mode, byte offsets
// into it are document offsets when the chunks are contiguous from zero.
func (v *View) Text() string {
	if v.contents == nil {
		return ""
	}
	return v.contents.TextContent()
}

// PointAtUTF16 finds the text leaf holding the position units UTF-16 code
// units into Text, and the offset inside that leaf in the same unit. A
// position at the end of a leaf stays in that leaf.
func (v *View) PointAtUTF16(units int) (*dom.Node, int, bool) {
	if v.contents == nil || units < 0 {
		return nil, 0, false
	}
	for _, leaf := range dom.Leaves(v.contents) {
		if leaf.Type != dom.TextNode {
			continue
		}
		n := textmetric.UTF16Len(leaf.Data)
		if units <= n {
			return leaf, units, true
		}
		units -= n
	}
	return nil, 0, false
}

// Len returns the byte length of the document.
func (v *View) Len() int {
	return v.loc.Len()
}

// Root returns the element holding the rendered chunks or entries.
func (v *View) Root() *dom.Node {
	return v.contents
}

// Render writes the view as HTML.
func (v *View) Render(w io.Writer) error {
	if v.contents == nil {
		return ErrClosed
	}
	return dom.Render(w, v.contents)
}

// Close discards the tree and all highlights.
func (v *View) Close() {
	v.overlay.Clear()
	v.loc.Reset()
	v.selection = nil
	v.entries = nil
	v.doc = nil
	v.contents = nil
}

// Range is a selection on the tree. Offsets count UTF-16 code units into
// the text content of their container.
type Range struct {
	StartContainer *dom.Node
	StartOffset    int
	EndContainer   *dom.Node
	EndOffset      int
}

// Collapsed reports whether the range is empty.
func (r Range) Collapsed() bool {
	return r.StartContainer == r.EndContainer && r.StartOffset == r.EndOffset
}

// Select sets the current selection.
func (v *View) Select(r Range) {
	v.selection = &r
}

// ClearSelection drops the current selection.
func (v *View) ClearSelection() {
	v.selection = nil
}

// Selection returns the current selection, if any.
func (v *View) Selection() (Range, bool) {
	if v.selection == nil {
		return Range{}, false
	}
	return *v.selection, true
}

// DescribeSelection returns the document byte offsets of the current
// selection. ok is false when there is no selection, when it is collapsed,
// or when either end lies outside the document.
func (v *View) DescribeSelection() (start, end int, ok bool) {
	if v.selection == nil || v.selection.Collapsed() {
		return 0, 0, false
	}
	start, ok = v.loc.DescribePosition(v.selection.StartContainer, v.selection.StartOffset)
	if !ok {
		return 0, 0, false
	}
	end, ok = v.loc.DescribePosition(v.selection.EndContainer, v.selection.EndOffset)
	if !ok {
		return 0, 0, false
	}
	return start, end, true
}

// RestoreSelection selects the document byte range saved. A nil saved
// clears the selection.
func (v *View) RestoreSelection(saved *[2]int) error {
	v.selection = nil
	if saved == nil {
		return nil
	}
	start, err := v.loc.LocatePosition(saved[0])
	if err != nil {
		return err
	}
	end, err := v.loc.LocatePosition(saved[1])
	if err != nil {
		return err
	}
	v.selection = &Range{
		StartContainer: start.Leaf,
		StartOffset:    utf16Offset(start),
		EndContainer:   end.Leaf,
		EndOffset:      utf16Offset(end),
	}
	return nil
}

func utf16Offset(p locator.Position) int {
	return textmetric.ByteToUTF16(p.Leaf.TextContent(), p.Offset)
}
