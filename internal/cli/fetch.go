package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/remram44/taguette/internal/resolver"
	"github.com/remram44/taguette/internal/view"

	"github.com/spf13/cobra"
)

func newFetchCmd(app *App) *cobra.Command {
	var all bool
	var workspace string
	cmd := &cobra.Command{
		Use:   "fetch [document...]",
		Short: "Write the text of documents into the workspace",
		Long: `Write the text of documents into the workspace, as
<workspace>/project-<p>/document-<d>.txt. Existing files are overwritten.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("no document given, use --all to fetch every document")
			}
			e, err := app.open(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer e.Close()

			if workspace == "" {
				workspace = e.cfg.Workspace
			}
			r, err := resolver.New(workspace)
			if err != nil {
				return err
			}

			var ids []int
			if all {
				for id := range e.session.Meta().Documents {
					ids = append(ids, id)
				}
				sort.Ints(ids)
			}
			for _, arg := range args {
				id, err := documentArg(e.session, arg)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}

			for _, id := range ids {
				if err := e.session.OpenDocument(cmd.Context(), id); err != nil {
					return fmt.Errorf("failed to open document %d: %w", id, err)
				}
				var text string
				err := e.session.Do(cmd.Context(), func(v *view.View) error {
					if v == nil {
						return fmt.Errorf("document %d was deleted", id)
					}
					text = v.Text()
					return nil
				})
				if err != nil {
					return err
				}

				doc := r.ForDocument(e.session.Project(), id)
				if err := os.MkdirAll(filepath.Dir(doc.AbsolutePath), 0755); err != nil {
					return err
				}
				if err := os.WriteFile(doc.AbsolutePath, []byte(text), 0644); err != nil {
					return fmt.Errorf("failed to write document %d: %w", id, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), doc.RelativePath)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Fetch every document of the project")
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace directory (default from the configuration)")
	return cmd
}
