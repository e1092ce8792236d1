package view_test

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/remram44/taguette/internal/dom"
	"github.com/remram44/taguette/internal/markup"
	"github.com/remram44/taguette/internal/overlay"
	"github.com/remram44/taguette/internal/view"
)

// plain parses markup as a single text node.
type plain struct{}

func (plain) Parse(_ context.Context, src []byte) ([]*dom.Node, error) {
	return []*dom.Node{dom.NewText(string(src))}, nil
}

func load(t *testing.T, chunks []view.Chunk, hls []overlay.Highlight, opts view.Options) *view.View {
	t.Helper()
	v, err := view.Load(context.Background(), plain{}, chunks, hls, opts)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return v
}

func TestLoadAppliesHighlights(t *testing.T) {
	v := load(t,
		[]view.Chunk{{Offset: 0, Contents: "first chunk "}, {Offset: 12, Contents: "second"}},
		[]overlay.Highlight{
			{ID: 1, Start: 6, End: 15, Tags: []int{2, 1}},
			{ID: 2, Start: 40, End: 50},
		},
		view.Options{},
	)
	defer v.Close()

	if got := v.Text(); got != "first chunk second" {
		t.Errorf("Text = %q", got)
	}
	if v.Len() != 18 {
		t.Errorf("Len = %d", v.Len())
	}
	hls := v.Highlights()
	if len(hls) != 1 || hls[0].ID != 1 {
		t.Fatalf("Highlights = %+v", hls)
	}
	if got := v.Label(1); got != "1, 2" {
		t.Errorf("Label = %q", got)
	}
	if got := v.Covering(13); !reflect.DeepEqual(got, []int{1}) {
		t.Errorf("Covering(13) = %v", got)
	}
}

func TestSelectionNull(t *testing.T) {
	v := load(t, []view.Chunk{{Offset: 0, Contents: "some text"}}, nil, view.Options{})

	if _, _, ok := v.DescribeSelection(); ok {
		t.Errorf("no selection described as non-null")
	}

	leaf := dom.FirstLeaf(v.Root())
	v.Select(view.Range{StartContainer: leaf, StartOffset: 3, EndContainer: leaf, EndOffset: 3})
	if _, _, ok := v.DescribeSelection(); ok {
		t.Errorf("collapsed selection described as non-null")
	}

	outside := dom.NewText("elsewhere")
	v.Select(view.Range{StartContainer: leaf, StartOffset: 0, EndContainer: outside, EndOffset: 2})
	if _, _, ok := v.DescribeSelection(); ok {
		t.Errorf("selection ending outside the document described as non-null")
	}

	v.Select(view.Range{StartContainer: leaf, StartOffset: 1, EndContainer: leaf, EndOffset: 4})
	start, end, ok := v.DescribeSelection()
	if !ok || start != 1 || end != 4 {
		t.Errorf("DescribeSelection = %d, %d, %v", start, end, ok)
	}
}

func TestRestoreSelection(t *testing.T) {
	v := load(t,
		[]view.Chunk{{Offset: 0, Contents: "naïve "}, {Offset: 7, Contents: "😀 text"}},
		[]overlay.Highlight{{ID: 4, Start: 2, End: 12}},
		view.Options{},
	)

	for _, saved := range [][2]int{{0, 4}, {4, 11}, {7, 12}, {1, 16}} {
		if err := v.RestoreSelection(&saved); err != nil {
			t.Fatalf("RestoreSelection(%v): %v", saved, err)
		}
		start, end, ok := v.DescribeSelection()
		if !ok || start != saved[0] || end != saved[1] {
			t.Errorf("RestoreSelection(%v) then DescribeSelection = %d, %d, %v", saved, start, end, ok)
		}
	}

	// The selection counts UTF-16 units: after "😀 " is three units.
	saved := [2]int{7, 12}
	v.RestoreSelection(&saved)
	sel, _ := v.Selection()
	if sel.EndContainer.Data != "😀 " || sel.EndOffset != 3 {
		t.Errorf("end = %q@%d", sel.EndContainer.Data, sel.EndOffset)
	}

	if err := v.RestoreSelection(nil); err != nil {
		t.Fatal(err)
	}
	if _, ok := v.Selection(); ok {
		t.Errorf("nil restore kept a selection")
	}
}

func TestPointAtUTF16(t *testing.T) {
	v := load(t,
		[]view.Chunk{{Offset: 0, Contents: "ab"}, {Offset: 2, Contents: "cé😀d"}},
		nil,
		view.Options{},
	)
	defer v.Close()

	tests := []struct {
		units  int
		leaf   string
		offset int
		ok     bool
	}{
		{0, "ab", 0, true},
		{2, "ab", 2, true},
		{3, "cé😀d", 1, true},
		{7, "cé😀d", 5, true},
		{8, "", 0, false},
		{-1, "", 0, false},
	}
	for _, tt := range tests {
		leaf, offset, ok := v.PointAtUTF16(tt.units)
		if ok != tt.ok {
			t.Errorf("PointAtUTF16(%d) ok = %v", tt.units, ok)
			continue
		}
		if ok && (leaf.Data != tt.leaf || offset != tt.offset) {
			t.Errorf("PointAtUTF16(%d) = %q@%d, want %q@%d", tt.units, leaf.Data, offset, tt.leaf, tt.offset)
		}
	}

	start, so, _ := v.PointAtUTF16(1)
	end, eo, _ := v.PointAtUTF16(4)
	v.Select(view.Range{StartContainer: start, StartOffset: so, EndContainer: end, EndOffset: eo})
	if s, e, ok := v.DescribeSelection(); !ok || s != 1 || e != 5 {
		t.Errorf("DescribeSelection = %d, %d, %v, want 1, 5, true", s, e, ok)
	}
}

func TestLoadEntries(t *testing.T) {
	labels := map[int]string{1: "interesting", 2: "people"}
	labeler := func(tags []int) string {
		var parts []string
		for _, tag := range tags {
			parts = append(parts, labels[tag])
		}
		return strings.Join(parts, ", ")
	}
	v, err := view.LoadEntries(context.Background(), plain{}, []view.Entry{
		{ID: 10, DocumentID: 1, Content: "first entry", Tags: []int{1}},
		{ID: 11, DocumentID: 2, Content: "second entry", Tags: []int{1, 2}},
	}, view.Options{Labeler: labeler})
	if err != nil {
		t.Fatal(err)
	}

	if v.Mode() != view.EntriesMode {
		t.Errorf("Mode = %v", v.Mode())
	}
	leaf := dom.FirstLeaf(v.Root())
	v.Select(view.Range{StartContainer: leaf, StartOffset: 0, EndContainer: leaf, EndOffset: 5})
	if _, _, ok := v.DescribeSelection(); ok {
		t.Errorf("selection in an entry listing described as non-null")
	}
	if err := v.SetHighlight(overlay.Highlight{ID: 1, Start: 0, End: 2}); err == nil {
		t.Errorf("SetHighlight in entries mode succeeded")
	}

	entry := dom.GetElementByID(v.Root(), "highlight-entry-11")
	if entry == nil {
		t.Fatal("entry element missing")
	}
	if title, _ := entry.Attr("title"); title != "interesting, people" {
		t.Errorf("title = %q", title)
	}
	labels[2] = "persons"
	v.Relabel()
	if title, _ := entry.Attr("title"); title != "interesting, persons" {
		t.Errorf("title after relabel = %q", title)
	}
}

func TestActivationHandler(t *testing.T) {
	var got []int
	v := load(t, []view.Chunk{{Offset: 0, Contents: "click here"}},
		[]overlay.Highlight{{ID: 3, Start: 0, End: 5}},
		view.Options{OnActivate: func(id int) { got = append(got, id) }},
	)
	v.Activate(3)
	if !reflect.DeepEqual(got, []int{3}) {
		t.Errorf("activated %v", got)
	}
}

func TestSetHighlightTags(t *testing.T) {
	v := load(t, []view.Chunk{{Offset: 0, Contents: "tagged text"}},
		[]overlay.Highlight{{ID: 3, Start: 0, End: 6, Tags: []int{5}}}, view.Options{})
	if !v.SetHighlightTags(3, []int{7, 6}) {
		t.Fatal("SetHighlightTags = false")
	}
	h, _ := v.Highlight(3)
	if !reflect.DeepEqual(h.Tags, []int{7, 6}) || v.Label(3) != "6, 7" {
		t.Errorf("tags %v label %q", h.Tags, v.Label(3))
	}
}

func TestLoadMarkupRender(t *testing.T) {
	pool := markup.NewParserPool(1)
	defer pool.Close()

	v, err := view.Load(context.Background(), pool,
		[]view.Chunk{{Offset: 0, Contents: "<p>Hello <b>world</b></p>"}},
		[]overlay.Highlight{{ID: 1, Start: 3, End: 8, Tags: []int{1}}},
		view.Options{Direction: "RIGHT_TO_LEFT"},
	)
	if err != nil {
		t.Fatal(err)
	}
	var sb strings.Builder
	if err := v.Render(&sb); err != nil {
		t.Fatal(err)
	}
	want := `<div id="document-contents" dir="rtl"><div id="doc-offset-0"><p>Hel` +
		`<a class="highlight highlight-1" data-highlight-id="1" title="1">lo </a>` +
		`<b><a class="highlight highlight-1" data-highlight-id="1" title="1">wo</a>rld</b></p></div></div>`
	if got := sb.String(); got != want {
		t.Errorf("Render =\n%s\nwant\n%s", got, want)
	}

	v.Close()
	if err := v.Render(&sb); err == nil {
		t.Errorf("Render after Close succeeded")
	}
}
