package server

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/remram44/taguette/internal/config"
	"github.com/remram44/taguette/internal/markup"
	"github.com/remram44/taguette/internal/preview"
	"github.com/remram44/taguette/internal/resolver"
	"github.com/remram44/taguette/internal/session"
	"github.com/remram44/taguette/internal/store"
	"github.com/remram44/taguette/internal/taguette"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

func (s *Server) initialize(
	context *glsp.Context,
	params *protocol.InitializeParams,
) (any, error) {
	cfg, err := config.Load(params.InitializationOptions)
	if err != nil {
		return nil, err
	}
	cfg = mergeConfig(s.base, cfg, params.InitializationOptions)
	if cfg.Workspace == "" || cfg.Workspace == "." {
		if root := rootPath(params); root != "" {
			cfg.Workspace = root
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Infof("project %d on %s, workspace %s", cfg.Project, cfg.Server, cfg.Workspace)

	res, err := resolver.New(cfg.Workspace)
	if err != nil {
		return nil, err
	}

	dbPath, err := cfg.DatabasePath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := store.Open(dbPath)
	if err != nil {
		// the cache is optional
		log.Errorf("running without cache: %s", err.Error())
		db = nil
	}

	client, err := taguette.NewClient(cfg.Server, cfg.Project)
	if err != nil {
		return nil, err
	}
	client.Cookie = cfg.Cookie
	client.XSRFToken = cfg.XSRFToken
	client.Version = cfg.ClientVersion

	parsers := markup.NewParserPool(cfg.Parsers)
	sess, err := session.New(session.Options{
		Client:     client,
		Store:      db,
		Parser:     parsers,
		PollRetry:  time.Duration(cfg.PollRetry),
		OnActivate: s.onActivate,
	})
	if err != nil {
		parsers.Close()
		if db != nil {
			db.Close()
		}
		return nil, err
	}

	ctx, cancel := contextWithCancel()

	s.mu.Lock()
	s.config = cfg
	s.resolver = res
	s.db = db
	s.parsers = parsers
	s.session = sess
	s.preview = preview.New(s.activateFromPreview)
	s.notify = context.Notify
	s.call = context.Call
	s.ctx, s.cancel = ctx, cancel
	s.mu.Unlock()

	go s.watch(ctx, sess)
	s.startPolling(ctx)

	capabilities := s.handler.CreateServerCapabilities()
	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: &protocol.True,
		Change:    &syncKind,
	}
	capabilities.ExecuteCommandProvider = &protocol.ExecuteCommandOptions{
		Commands: commandNames(),
	}

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    Name,
			Version: &s.version,
		},
	}, nil
}

// mergeConfig fills the fields the initialization options left out with the
// values of base, which come from the command line.
func mergeConfig(base, cfg config.Config, options any) config.Config {
	set := map[string]bool{}
	if m, ok := options.(map[string]any); ok {
		for k := range m {
			set[k] = true
		}
	}
	def := config.Default()
	pick := func(field string, dst *string, b, d string) {
		if !set[field] && b != d {
			*dst = b
		}
	}
	pick("server", &cfg.Server, base.Server, def.Server)
	pick("cookie", &cfg.Cookie, base.Cookie, def.Cookie)
	pick("xsrf_token", &cfg.XSRFToken, base.XSRFToken, def.XSRFToken)
	pick("client_version", &cfg.ClientVersion, base.ClientVersion, def.ClientVersion)
	pick("workspace", &cfg.Workspace, base.Workspace, def.Workspace)
	pick("database", &cfg.Database, base.Database, def.Database)
	pick("preview_addr", &cfg.PreviewAddr, base.PreviewAddr, def.PreviewAddr)
	if !set["project"] && base.Project != def.Project {
		cfg.Project = base.Project
	}
	if !set["poll_retry"] && base.PollRetry != def.PollRetry {
		cfg.PollRetry = base.PollRetry
	}
	if !set["parsers"] && base.Parsers != def.Parsers {
		cfg.Parsers = base.Parsers
	}
	return cfg
}

func rootPath(params *protocol.InitializeParams) string {
	if params.RootURI != nil {
		if u, err := url.Parse(*params.RootURI); err == nil && u.Path != "" {
			return filepath.FromSlash(u.Path)
		}
	}
	if params.RootPath != nil {
		return *params.RootPath
	}
	return ""
}

func contextWithCancel() (context.Context, context.CancelFunc) {
	return context.WithCancel(context.Background())
}

// startPolling runs the event loop of the session unless it is already
// running. Polling stops for good on authentication errors; a reload
// starts it again.
func (s *Server) startPolling(ctx context.Context) {
	s.mu.Lock()
	sess := s.session
	if s.polling || sess == nil {
		s.mu.Unlock()
		return
	}
	s.polling = true
	s.mu.Unlock()

	go func() {
		err := sess.Poll(ctx)
		s.mu.Lock()
		s.polling = false
		s.mu.Unlock()
		if errors.Is(err, session.ErrPaused) {
			s.showMessage(protocol.MessageTypeWarning, "Taguette refused access, event polling stopped. Log in again and run taglight.reload.")
		}
		log.Infof("polling ended: %v", err)
	}()
}

func (s *Server) initialized(
	context *glsp.Context,
	params *protocol.InitializedParams,
) error {
	log.Info("client initialized")
	return nil
}

func (s *Server) shutdown(context *glsp.Context) error {
	s.mu.Lock()
	sess, db, parsers, prev, cancel := s.session, s.db, s.parsers, s.preview, s.cancel
	s.session, s.db, s.parsers, s.preview, s.cancel = nil, nil, nil, nil, nil
	s.docs = map[protocol.DocumentUri]*openDoc{}
	s.active = ""
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sess != nil {
		sess.Close()
	}
	if prev != nil {
		prev.Close()
	}
	if parsers != nil {
		parsers.Close()
	}
	if db != nil {
		return db.Close()
	}
	return nil
}

func (s *Server) setTrace(context *glsp.Context, params *protocol.SetTraceParams) error {
	protocol.SetTraceValue(params.Value)
	return nil
}

func (s *Server) showMessage(kind protocol.MessageType, message string) {
	s.mu.Lock()
	notify := s.notify
	s.mu.Unlock()
	if notify == nil {
		return
	}
	notify("window/showMessage", protocol.ShowMessageParams{
		Type:    kind,
		Message: message,
	})
}
