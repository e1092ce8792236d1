package cli

import (
	"encoding/json"
	"io/fs"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/remram44/taguette/internal/resolver"
	"github.com/remram44/taguette/internal/scanner"
	"github.com/remram44/taguette/internal/store"

	"github.com/spf13/cobra"
)

type dumpDocument struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Direction string    `json:"direction"`
	FetchedAt time.Time `json:"fetched_at"`
}

type dumpFile struct {
	Path     string `json:"path"`
	Document int    `json:"document"`
	Bytes    int    `json:"bytes"`
	Runes    int    `json:"runes"`
}

type dump struct {
	Project   int            `json:"project"`
	Cursor    int            `json:"cursor"`
	Documents []dumpDocument `json:"documents"`
	Tags      []store.Tag    `json:"tags"`
	Workspace []dumpFile     `json:"workspace"`
}

func newDumpCmd(app *App) *cobra.Command {
	var workspace string
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the local cache and the workspace files as JSON",
		Long: `Print the local cache and the workspace files as JSON.

Nothing is read from the server.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.config()
			if err != nil {
				return err
			}
			db, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			d := dump{Project: cfg.Project, Documents: []dumpDocument{}, Workspace: []dumpFile{}}
			if d.Cursor, err = db.Cursor(cfg.Project); err != nil {
				return err
			}
			docs, err := db.Documents(cfg.Project)
			if err != nil {
				return err
			}
			for _, doc := range docs {
				d.Documents = append(d.Documents, dumpDocument{
					ID:        doc.ID,
					Name:      doc.Name,
					Direction: doc.TextDirection,
					FetchedAt: doc.FetchedAt,
				})
			}
			if d.Tags, err = db.Tags(cfg.Project); err != nil {
				return err
			}

			if workspace == "" {
				workspace = cfg.Workspace
			}
			r, err := resolver.New(workspace)
			if err != nil {
				return err
			}
			var mu sync.Mutex
			skip := func(doc resolver.Doc, info fs.FileInfo) bool {
				return doc.Project != cfg.Project
			}
			scanner.Scan(r, skip, func(doc resolver.Doc, text []byte) {
				mu.Lock()
				defer mu.Unlock()
				d.Workspace = append(d.Workspace, dumpFile{
					Path:     doc.RelativePath,
					Document: doc.Document,
					Bytes:    len(text),
					Runes:    utf8.RuneCount(text),
				})
			})
			sort.Slice(d.Workspace, func(i, j int) bool {
				return d.Workspace[i].Document < d.Workspace[j].Document
			})

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(d)
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace directory (default from the configuration)")
	return cmd
}
