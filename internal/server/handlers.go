package server

import (
	"fmt"
	"sort"
	"strings"

	"github.com/remram44/taguette/internal/textmetric"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

// maxTagActions bounds the "highlight as" code actions offered at once.
const maxTagActions = 30

const maxSymbols = 128

func (s *Server) textDocumentHover(
	context *glsp.Context,
	params *protocol.HoverParams,
) (*protocol.Hover, error) {
	if _, ok := s.open(params.TextDocument.URI); !ok {
		return nil, nil
	}
	snap, err := s.withView(params.TextDocument.URI)
	if err != nil {
		return nil, err
	}
	offset := textmetric.OffsetAt(snap.text, params.Position)
	covering := snap.covering(offset)
	if len(covering) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	for i, h := range covering {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		label := snap.labels[h.ID]
		if label == "" {
			label = "_no tags_"
		}
		fmt.Fprintf(&sb, "**highlight %d** `[%d, %d)`\n\n%s", h.ID, h.Start, h.End, label)
	}
	innermost := covering[len(covering)-1]
	r := textmetric.RangeAt(snap.text, innermost.Start, innermost.End)
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: sb.String(),
		},
		Range: &r,
	}, nil
}

// textDocumentDocumentHighlight marks every highlight under the cursor.
func (s *Server) textDocumentDocumentHighlight(
	context *glsp.Context,
	params *protocol.DocumentHighlightParams,
) ([]protocol.DocumentHighlight, error) {
	if _, ok := s.open(params.TextDocument.URI); !ok {
		return nil, nil
	}
	snap, err := s.withView(params.TextDocument.URI)
	if err != nil {
		return nil, err
	}
	offset := textmetric.OffsetAt(snap.text, params.Position)
	kind := protocol.DocumentHighlightKindText

	var out []protocol.DocumentHighlight
	for _, h := range snap.covering(offset) {
		out = append(out, protocol.DocumentHighlight{
			Range: textmetric.RangeAt(snap.text, h.Start, h.End),
			Kind:  &kind,
		})
	}
	return out, nil
}

func (s *Server) textDocumentCodeAction(
	context *glsp.Context,
	params *protocol.CodeActionParams,
) (any, error) {
	uri := params.TextDocument.URI
	if _, ok := s.open(uri); !ok {
		return nil, nil
	}
	snap, err := s.withView(uri)
	if err != nil {
		return nil, err
	}
	sess, _ := s.state()
	start := textmetric.OffsetAt(snap.text, params.Range.Start)
	end := textmetric.OffsetAt(snap.text, params.Range.End)
	kind := protocol.CodeActionKind(protocol.CodeActionKindQuickFix)

	var actions []protocol.CodeAction
	if start < end {
		tags := sess.Tags()
		if len(tags) > maxTagActions {
			tags = tags[:maxTagActions]
		}
		actions = append(actions, protocol.CodeAction{
			Title: "Highlight selection",
			Kind:  &kind,
			Command: &protocol.Command{
				Title:     "Highlight selection",
				Command:   CommandHighlight,
				Arguments: []any{highlightArgs{URI: uri, Start: &start, End: &end, Tags: []string{}}},
			},
		})
		for _, t := range tags {
			title := "Highlight as " + t.Path
			actions = append(actions, protocol.CodeAction{
				Title: title,
				Kind:  &kind,
				Command: &protocol.Command{
					Title:     title,
					Command:   CommandHighlight,
					Arguments: []any{highlightArgs{URI: uri, Start: &start, End: &end, Tags: []string{t.Path}}},
				},
			})
		}
	}

	for _, h := range snap.covering(start) {
		title := fmt.Sprintf("Delete highlight %d", h.ID)
		if label := snap.labels[h.ID]; label != "" {
			title += " (" + label + ")"
		}
		actions = append(actions, protocol.CodeAction{
			Title: title,
			Kind:  &kind,
			Command: &protocol.Command{
				Title:     title,
				Command:   CommandDeleteHighlight,
				Arguments: []any{deleteArgs{URI: uri, ID: h.ID}},
			},
		})
	}
	return actions, nil
}

// workspaceSymbol lists the documents of the project, fetched or not,
// fuzzy-matched against the query.
func (s *Server) workspaceSymbol(
	context *glsp.Context,
	params *protocol.WorkspaceSymbolParams,
) ([]protocol.SymbolInformation, error) {
	sess, res := s.state()
	if sess == nil {
		return nil, nil
	}
	names := sess.Meta().Documents
	for id, name := range s.fetchedDocuments() {
		if _, ok := names[id]; !ok {
			names[id] = name
		}
	}

	ids := make([]int, 0, len(names))
	for id := range names {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	query := strings.ToLower(params.Query)
	var symbols []protocol.SymbolInformation
	for _, id := range ids {
		name := names[id]
		if name == "" {
			name = fmt.Sprintf("document %d", id)
		}
		if !isSubsequence(query, strings.ToLower(name)) {
			continue
		}
		doc := res.ForDocument(sess.Project(), id)
		symbols = append(symbols, protocol.SymbolInformation{
			Name:     name,
			Kind:     protocol.SymbolKindFile,
			Location: protocol.Location{URI: doc.URI},
		})
		if len(symbols) == maxSymbols {
			break
		}
	}
	return symbols, nil
}
