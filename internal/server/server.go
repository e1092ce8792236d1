// server is the taglight language server. Opening
// <workspace>/project-<p>/document-<d>.txt in an editor loads the document
// from Taguette and shows its highlights as diagnostics. Commands and code
// actions create and delete highlights.
package server

import (
	"context"
	"sync"

	"github.com/remram44/taguette/internal/config"
	"github.com/remram44/taguette/internal/markup"
	"github.com/remram44/taguette/internal/preview"
	"github.com/remram44/taguette/internal/resolver"
	"github.com/remram44/taguette/internal/session"
	"github.com/remram44/taguette/internal/store"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"
)

var log = commonlog.GetLogger("taglight.server")

const Name = "taglight"

// openDoc is a document buffer open in the editor.
type openDoc struct {
	doc  resolver.Doc
	text string
}

type Server struct {
	handler *protocol.Handler
	version string
	base    config.Config

	mu       sync.Mutex
	config   config.Config
	resolver *resolver.Resolver
	db       *store.SQLiteDB
	parsers  *markup.ParserPool
	session  *session.Session
	preview  *preview.Server
	notify   glsp.NotifyFunc
	call     glsp.CallFunc
	ctx      context.Context
	cancel   context.CancelFunc
	polling  bool
	docs     map[protocol.DocumentUri]*openDoc
	active   protocol.DocumentUri
	// last published diagnostics per document
	published map[protocol.DocumentUri][]protocol.Diagnostic
}

// New returns a server whose configuration starts from base and is
// overlaid with the client's initialization options.
func New(base config.Config, version string) *Server {
	s := &Server{
		version:   version,
		base:      base,
		docs:      map[protocol.DocumentUri]*openDoc{},
		published: map[protocol.DocumentUri][]protocol.Diagnostic{},
	}
	s.handler = &protocol.Handler{
		Initialize:                    s.initialize,
		Initialized:                   s.initialized,
		Shutdown:                      s.shutdown,
		SetTrace:                      s.setTrace,
		TextDocumentDidOpen:           s.textDocumentDidOpen,
		TextDocumentDidChange:         s.textDocumentDidChange,
		TextDocumentDidClose:          s.textDocumentDidClose,
		TextDocumentHover:             s.textDocumentHover,
		TextDocumentDocumentHighlight: s.textDocumentDocumentHighlight,
		TextDocumentCodeAction:        s.textDocumentCodeAction,
		WorkspaceExecuteCommand:       s.workspaceExecuteCommand,
		WorkspaceSymbol:               s.workspaceSymbol,
	}
	return s
}

// Handler returns the protocol handler, for tests and custom transports.
func (s *Server) Handler() *protocol.Handler {
	return s.handler
}

// RunStdio serves the protocol on stdin and stdout until the client exits.
func (s *Server) RunStdio() error {
	return glspserver.NewServer(s.handler, Name, false).RunStdio()
}

func (s *Server) state() (*session.Session, *resolver.Resolver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session, s.resolver
}

// open returns a copy of the buffer at uri.
func (s *Server) open(uri protocol.DocumentUri) (openDoc, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[uri]
	if !ok {
		return openDoc{}, false
	}
	return *d, true
}
