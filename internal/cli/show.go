package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/remram44/taguette/internal/render"
	"github.com/remram44/taguette/internal/session"
	"github.com/remram44/taguette/internal/view"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

// printView writes the current view of s, as terminal text or HTML.
func printView(cmd *cobra.Command, s *session.Session, asHTML, legend bool) error {
	return s.Do(cmd.Context(), func(v *view.View) error {
		if v == nil {
			return session.ErrNoDocument
		}
		if asHTML {
			if err := v.Render(cmd.OutOrStdout()); err != nil {
				return err
			}
			_, err := io.WriteString(cmd.OutOrStdout(), "\n")
			return err
		}
		return render.View(cmd.OutOrStdout(), v, render.Options{
			Renderer: termRenderer(cmd),
			Legend:   legend,
		})
	})
}

// termRenderer picks colours for the command's output, plain text when it
// is not a terminal.
func termRenderer(cmd *cobra.Command) *lipgloss.Renderer {
	return lipgloss.NewRenderer(cmd.OutOrStdout())
}

func newShowCmd(app *App) *cobra.Command {
	var asHTML, legend bool
	cmd := &cobra.Command{
		Use:   "show <document>",
		Short: "Print a document with its highlights",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := app.open(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer e.Close()

			id, err := documentArg(e.session, args[0])
			if err != nil {
				return err
			}
			if err := e.session.OpenDocument(cmd.Context(), id); err != nil {
				return err
			}
			return printView(cmd, e.session, asHTML, legend)
		},
	}
	cmd.Flags().BoolVar(&asHTML, "html", false, "Print the highlighted HTML instead of terminal text")
	cmd.Flags().BoolVar(&legend, "legend", true, "List the highlights after the text")
	return cmd
}

func newTagCmd(app *App) *cobra.Command {
	var page int
	var asHTML bool
	cmd := &cobra.Command{
		Use:   "tag <path>",
		Short: "List the highlights of a tag and its children",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := app.open(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.session.OpenTag(cmd.Context(), args[0], page); err != nil {
				return err
			}
			if err := printView(cmd, e.session, asHTML, false); err != nil {
				return err
			}
			cur, err := e.session.Current(cmd.Context())
			if err != nil {
				return err
			}
			if cur.Pages > 1 {
				fmt.Fprintf(cmd.ErrOrStderr(), "page %d of %d\n", cur.Page, cur.Pages)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "Page to show")
	cmd.Flags().BoolVar(&asHTML, "html", false, "Print HTML instead of terminal text")
	return cmd
}

func newTagsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "tags",
		Short: "List the tags of the project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := app.open(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer e.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, t := range e.session.Tags() {
				fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", t.ID, t.Path, t.Count, t.Description)
			}
			return w.Flush()
		},
	}
}
