package server

import (
	"bytes"
	"context"
	"fmt"

	"github.com/remram44/taguette/internal/session"
	"github.com/remram44/taguette/internal/textmetric"
	"github.com/remram44/taguette/internal/view"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

// showPreview starts the preview server on first use and opens it in the
// browser.
func (s *Server) showPreview(context *glsp.Context) (string, error) {
	s.mu.Lock()
	prev, addr := s.preview, s.config.PreviewAddr
	s.mu.Unlock()
	if prev == nil {
		return "", errNotOpen
	}

	url, err := prev.Start(addr)
	if err != nil {
		return "", fmt.Errorf("failed to start preview: %w", err)
	}
	context.Notify("window/showDocument", protocol.ShowDocumentParams{
		URI:      protocol.URI(url),
		External: &protocol.True,
	})
	s.renderPreview()
	return url, nil
}

// renderPreview pushes the current view to the preview page.
func (s *Server) renderPreview() {
	s.mu.Lock()
	sess, prev := s.session, s.preview
	s.mu.Unlock()
	if sess == nil || prev == nil || prev.URL() == "" {
		return
	}

	var buf bytes.Buffer
	var title string
	err := sess.Do(s.baseContext(), func(v *view.View) error {
		if v == nil {
			return nil
		}
		return v.Render(&buf)
	})
	if err != nil {
		log.Warningf("cannot render preview: %s", err.Error())
		return
	}
	if buf.Len() == 0 {
		prev.Clear()
		return
	}

	cur, err := sess.Current(s.baseContext())
	if err != nil {
		return
	}
	if cur.Document != 0 {
		title = sess.Meta().Documents[cur.Document]
	} else {
		title = cur.TagPath
		if cur.Pages > 1 {
			title = fmt.Sprintf("%s (%d/%d)", cur.TagPath, cur.Page, cur.Pages)
		}
	}
	if err := prev.Render(title, buf.String()); err != nil {
		log.Warningf("cannot push preview: %s", err.Error())
	}
}

// watch republishes diagnostics and the preview when the session changes.
func (s *Server) watch(ctx context.Context, sess *session.Session) {
	for change := range sess.Subscribe(ctx) {
		log.Debugf("session change: %s %d", change.Kind, change.Document)

		switch change.Kind {
		case session.ViewLoaded, session.ViewChanged, session.TagsChanged:
			if uri := s.shownURI(); uri != "" {
				if err := s.publishView(uri); err != nil {
					log.Warningf("cannot publish %s: %s", uri, err.Error())
				}
			}
			s.renderPreview()
		case session.ViewClosed:
			s.mu.Lock()
			active := s.active
			s.active = ""
			s.mu.Unlock()
			if active != "" {
				s.publishDiagnostics(active, []protocol.Diagnostic{})
				s.showMessage(protocol.MessageTypeWarning, "The document was deleted on the server.")
			}
			s.renderPreview()
		}
	}
}

// activateFromPreview handles a click on a highlight in the preview page.
func (s *Server) activateFromPreview(id int) {
	sess, _ := s.state()
	if sess == nil {
		return
	}
	err := sess.Do(s.baseContext(), func(v *view.View) error {
		if v != nil {
			v.Activate(id)
		}
		return nil
	})
	if err != nil {
		log.Warningf("cannot activate highlight %d: %s", id, err.Error())
	}
}

// onActivate runs on the session loop when a highlight is activated. It
// reveals the highlight in the editor.
func (s *Server) onActivate(id int) {
	go s.reveal(id)
}

func (s *Server) reveal(id int) {
	s.mu.Lock()
	notify := s.notify
	s.mu.Unlock()
	uri := s.shownURI()
	if uri == "" || notify == nil {
		return
	}
	snap, err := s.currentView()
	if err != nil {
		return
	}
	for _, h := range snap.highlights {
		if h.ID != id {
			continue
		}
		r := textmetric.RangeAt(snap.text, h.Start, h.End)
		notify("window/showDocument", protocol.ShowDocumentParams{
			URI:       uri,
			TakeFocus: &protocol.True,
			Selection: &r,
		})
		return
	}
}
