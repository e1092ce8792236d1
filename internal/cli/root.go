package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/remram44/taguette/internal/config"
	"github.com/remram44/taguette/internal/markup"
	"github.com/remram44/taguette/internal/session"
	"github.com/remram44/taguette/internal/store"
	"github.com/remram44/taguette/internal/taguette"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("taglight.cli")

type App struct {
	ConfigPath string
	Server     string
	Project    int
	Cookie     string
	LogFile    string
	Verbose    int
	Version    string
}

func NewRootCmd(version string) *cobra.Command {
	app := &App{Version: version}

	cmd := &cobra.Command{
		Use:          "taglight",
		Short:        "Read and highlight Taguette documents from the terminal or an editor",
		Version:      version,
		SilenceUsage: true,
		Example: strings.TrimSpace(`
  # Show document 3 of project 1 with its highlights
  taglight --server https://app.taguette.org --project 1 show 3

  # List the highlights of a tag and its children
  taglight tag people --page 2

  # Run the language server for an editor
  taglight lsp
`),
	}

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if app.LogFile != "" {
			commonlog.Configure(app.Verbose, &app.LogFile)
		} else {
			commonlog.Configure(app.Verbose, nil)
		}
		return nil
	}

	cmd.PersistentFlags().StringVar(&app.ConfigPath, "config", envOr("TAGLIGHT_CONFIG", ""), "Path to a TOML configuration file")
	cmd.PersistentFlags().StringVar(&app.Server, "server", envOr("TAGLIGHT_SERVER", ""), "Base url of the Taguette server")
	cmd.PersistentFlags().IntVar(&app.Project, "project", 0, "Project id")
	cmd.PersistentFlags().StringVar(&app.Cookie, "cookie", envOr("TAGLIGHT_COOKIE", ""), "Value of the Taguette login cookie")
	cmd.PersistentFlags().StringVar(&app.LogFile, "log-file", "", "Write logs to this file instead of stderr")
	cmd.PersistentFlags().CountVarP(&app.Verbose, "verbose", "v", "Log more (repeat for debug output)")

	cmd.AddCommand(newLSPCmd(app))
	cmd.AddCommand(newShowCmd(app))
	cmd.AddCommand(newTagCmd(app))
	cmd.AddCommand(newTagsCmd(app))
	cmd.AddCommand(newFetchCmd(app))
	cmd.AddCommand(newWatchCmd(app))
	cmd.AddCommand(newDumpCmd(app))

	return cmd
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

// config reads the configuration file, then applies the flags.
func (app *App) config() (config.Config, error) {
	cfg := config.Default()
	if app.ConfigPath != "" {
		var err error
		if cfg, err = config.LoadFile(app.ConfigPath); err != nil {
			return config.Config{}, err
		}
	}
	if app.Server != "" {
		cfg.Server = app.Server
	}
	if app.Project != 0 {
		cfg.Project = app.Project
	}
	if app.Cookie != "" {
		cfg.Cookie = app.Cookie
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// env is everything a command needs to talk to the project.
type env struct {
	cfg     config.Config
	db      *store.SQLiteDB
	parsers *markup.ParserPool
	session *session.Session
}

func (e *env) Close() {
	if e.session != nil {
		e.session.Close()
	}
	if e.parsers != nil {
		e.parsers.Close()
	}
	if e.db != nil {
		e.db.Close()
	}
}

// openStore opens the local cache, creating its directory.
func openStore(cfg config.Config) (*store.SQLiteDB, error) {
	path, err := cfg.DatabasePath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	return store.Open(path)
}

// open starts a session on the configured project and loads its tags and
// documents.
func (app *App) open(ctx context.Context, onActivate func(id int)) (*env, error) {
	cfg, err := app.config()
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg}

	if e.db, err = openStore(cfg); err != nil {
		log.Warningf("running without cache: %s", err.Error())
		e.db = nil
	}

	client, err := taguette.NewClient(cfg.Server, cfg.Project)
	if err != nil {
		e.Close()
		return nil, err
	}
	client.Cookie = cfg.Cookie
	client.XSRFToken = cfg.XSRFToken
	client.Version = cfg.ClientVersion

	e.parsers = markup.NewParserPool(cfg.Parsers)
	e.session, err = session.New(session.Options{
		Client:     client,
		Store:      e.db,
		Parser:     e.parsers,
		PollRetry:  time.Duration(cfg.PollRetry),
		OnActivate: onActivate,
	})
	if err != nil {
		e.Close()
		return nil, err
	}

	if err := e.session.Bootstrap(ctx); err != nil {
		if errors.Is(err, taguette.ErrForbidden) || errors.Is(err, taguette.ErrNoSnapshot) {
			e.Close()
			return nil, fmt.Errorf("cannot read project %d, check the login cookie: %w", cfg.Project, err)
		}
		// tags and documents from the cache are still usable
		log.Warningf("bootstrap failed: %s", err.Error())
	}
	return e, nil
}

// documentArg parses a document id, or looks it up by exact name.
func documentArg(s *session.Session, arg string) (int, error) {
	if id, err := strconv.Atoi(arg); err == nil {
		return id, nil
	}
	for id, name := range s.Meta().Documents {
		if name == arg {
			return id, nil
		}
	}
	return 0, fmt.Errorf("no document %q in project %d", arg, s.Project())
}
