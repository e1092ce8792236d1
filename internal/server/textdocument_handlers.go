package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"

	"github.com/remram44/taguette/internal/overlay"
	"github.com/remram44/taguette/internal/resolver"
	"github.com/remram44/taguette/internal/textmetric"
	"github.com/remram44/taguette/internal/view"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

var errNotOpen = errors.New("document is not open")

func (s *Server) textDocumentDidOpen(
	context *glsp.Context,
	params *protocol.DidOpenTextDocumentParams,
) error {
	sess, res := s.state()
	if sess == nil {
		return nil
	}
	doc, err := res.Resolve(params.TextDocument.URI)
	if err != nil {
		log.Debugf("ignoring %s: %s", params.TextDocument.URI, err.Error())
		return nil
	}
	if doc.Project != sess.Project() {
		s.showMessage(protocol.MessageTypeWarning, fmt.Sprintf(
			"%s belongs to project %d, the server is configured for project %d",
			doc.RelativePath, doc.Project, sess.Project()))
		return nil
	}

	s.mu.Lock()
	s.docs[params.TextDocument.URI] = &openDoc{doc: doc, text: params.TextDocument.Text}
	s.mu.Unlock()

	if err := s.activate(params.TextDocument.URI); err != nil {
		s.showMessage(protocol.MessageTypeError, fmt.Sprintf("cannot load %s: %s", doc.RelativePath, err.Error()))
		return nil
	}
	return s.publish(params.TextDocument.URI)
}

func (s *Server) textDocumentDidChange(
	context *glsp.Context,
	params *protocol.DidChangeTextDocumentParams,
) error {
	s.mu.Lock()
	d, ok := s.docs[params.TextDocument.URI]
	if ok {
		for _, raw := range params.ContentChanges {
			switch change := raw.(type) {
			case protocol.TextDocumentContentChangeEventWhole:
				d.text = change.Text
			case protocol.TextDocumentContentChangeEvent:
				start := textmetric.OffsetAt(d.text, change.Range.Start)
				end := textmetric.OffsetAt(d.text, change.Range.End)
				d.text = d.text[:start] + change.Text + d.text[end:]
			default:
				s.mu.Unlock()
				return fmt.Errorf("unexpected change event type %T", raw)
			}
		}
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.publish(params.TextDocument.URI)
}

func (s *Server) textDocumentDidClose(
	context *glsp.Context,
	params *protocol.DidCloseTextDocumentParams,
) error {
	s.mu.Lock()
	delete(s.docs, params.TextDocument.URI)
	delete(s.published, params.TextDocument.URI)
	if s.active == params.TextDocument.URI {
		s.active = ""
	}
	s.mu.Unlock()
	return nil
}

// activate makes the document at uri the current view of the session,
// unless it already is.
func (s *Server) activate(uri protocol.DocumentUri) error {
	sess, _ := s.state()
	d, ok := s.open(uri)
	if sess == nil || !ok {
		return errNotOpen
	}
	ctx := s.baseContext()

	cur, err := sess.Current(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active == uri && cur.Open && cur.Document == d.doc.Document {
		return nil
	}

	if err := sess.OpenDocument(ctx, d.doc.Document); err != nil {
		return err
	}
	s.mu.Lock()
	s.active = uri
	s.mu.Unlock()
	return nil
}

func (s *Server) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// snapshot is what the handlers need from the view.
type snapshot struct {
	text       string
	highlights []overlay.Highlight
	labels     map[int]string
}

// withView activates the document at uri and copies its text and
// highlights off the loop.
func (s *Server) withView(uri protocol.DocumentUri) (snapshot, error) {
	if err := s.activate(uri); err != nil {
		return snapshot{}, err
	}
	return s.currentView()
}

// currentView copies the text and highlights of the view shown by the
// session, whichever it is.
func (s *Server) currentView() (snapshot, error) {
	sess, _ := s.state()
	if sess == nil {
		return snapshot{}, errNotOpen
	}
	var snap snapshot
	err := sess.Do(s.baseContext(), func(v *view.View) error {
		if v == nil || v.Mode() != view.DocumentMode {
			return errNotOpen
		}
		snap.text = v.Text()
		snap.highlights = v.Highlights()
		snap.labels = make(map[int]string, len(snap.highlights))
		for _, h := range snap.highlights {
			snap.labels[h.ID] = v.Label(h.ID)
		}
		return nil
	})
	return snap, err
}

// covering returns the highlights containing byte offset, innermost last.
func (snap snapshot) covering(offset int) []overlay.Highlight {
	var out []overlay.Highlight
	for _, h := range snap.highlights {
		if h.Start <= offset && offset < h.End {
			out = append(out, h)
		}
	}
	return out
}

// publish sends the highlights of the document at uri as diagnostics.
func (s *Server) publish(uri protocol.DocumentUri) error {
	if err := s.activate(uri); err != nil {
		return err
	}
	return s.publishView(uri)
}

// publishView publishes the current view for the buffer at uri, which
// must show the same document.
func (s *Server) publishView(uri protocol.DocumentUri) error {
	d, ok := s.open(uri)
	if !ok {
		return nil
	}
	snap, err := s.currentView()
	if err != nil {
		return err
	}

	if d.text != snap.text {
		s.materialize(uri, d, snap.text)
	}

	diagnostics := highlightDiagnostics(snap)
	if d.text != snap.text && d.text != "" {
		severity := protocol.DiagnosticSeverityWarning
		diagnostics = append(diagnostics, protocol.Diagnostic{
			Range:    protocol.Range{},
			Severity: &severity,
			Source:   &sourceName,
			Message:  "buffer differs from the Taguette document; highlight positions follow the server text",
		})
	}
	s.publishDiagnostics(uri, diagnostics)
	return nil
}

// shownURI returns the open buffer of the document shown by the session,
// preferring the active one.
func (s *Server) shownURI() protocol.DocumentUri {
	sess, _ := s.state()
	if sess == nil {
		return ""
	}
	cur, err := sess.Current(s.baseContext())
	if err != nil || !cur.Open || cur.Document == 0 {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.docs[s.active]; ok && d.doc.Document == cur.Document {
		return s.active
	}
	for uri, d := range s.docs {
		if d.doc.Document == cur.Document {
			return uri
		}
	}
	return ""
}

var sourceName = Name

func highlightDiagnostics(snap snapshot) []protocol.Diagnostic {
	diagnostics := make([]protocol.Diagnostic, 0, len(snap.highlights))
	severity := protocol.DiagnosticSeverityInformation
	for _, h := range snap.highlights {
		label := snap.labels[h.ID]
		if label == "" {
			label = "(no tags)"
		}
		diagnostics = append(diagnostics, protocol.Diagnostic{
			Range:    textmetric.RangeAt(snap.text, h.Start, h.End),
			Severity: &severity,
			Code:     &protocol.IntegerOrString{Value: strconv.Itoa(h.ID)},
			Source:   &sourceName,
			Message:  label,
			Data:     h.ID,
		})
	}
	return diagnostics
}

func (s *Server) publishDiagnostics(uri protocol.DocumentUri, diagnostics []protocol.Diagnostic) {
	s.mu.Lock()
	notify := s.notify
	if previous, ok := s.published[uri]; ok && reflect.DeepEqual(previous, diagnostics) {
		s.mu.Unlock()
		return
	}
	s.published[uri] = diagnostics
	s.mu.Unlock()

	if notify == nil {
		return
	}
	notify("textDocument/publishDiagnostics", protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

// materialize writes the server text of a document whose file is missing
// or empty, and asks the editor to load it into the open buffer.
func (s *Server) materialize(uri protocol.DocumentUri, d openDoc, text string) {
	if d.text != "" {
		return
	}
	if err := writeDocument(d.doc, text); err != nil {
		log.Warningf("cannot write %s: %s", d.doc.AbsolutePath, err.Error())
	}

	s.mu.Lock()
	call := s.call
	if buf, ok := s.docs[uri]; ok && call != nil {
		buf.text = text
	}
	s.mu.Unlock()
	if call == nil {
		return
	}
	edit := protocol.ApplyWorkspaceEditParams{
		Edit: protocol.WorkspaceEdit{
			Changes: map[protocol.DocumentUri][]protocol.TextEdit{
				uri: {{Range: protocol.Range{}, NewText: text}},
			},
		},
	}
	// the reply only arrives once this handler returns
	go func() {
		var result protocol.ApplyWorkspaceEditResponse
		call("workspace/applyEdit", edit, &result)
		if !result.Applied {
			log.Warningf("editor did not load the text of %s", d.doc.RelativePath)
		}
	}()
}

// writeDocument writes text at the workspace path of doc if the file is
// missing or empty.
func writeDocument(doc resolver.Doc, text string) error {
	if info, err := os.Stat(doc.AbsolutePath); err == nil && info.Size() > 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(doc.AbsolutePath), 0755); err != nil {
		return err
	}
	return os.WriteFile(doc.AbsolutePath, []byte(text), 0644)
}
