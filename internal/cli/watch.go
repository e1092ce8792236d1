package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/remram44/taguette/internal/preview"
	"github.com/remram44/taguette/internal/render"
	"github.com/remram44/taguette/internal/session"
	"github.com/remram44/taguette/internal/view"

	"github.com/spf13/cobra"
)

func newWatchCmd(app *App) *cobra.Command {
	var withPreview bool
	cmd := &cobra.Command{
		Use:   "watch <document>",
		Short: "Follow the highlights of a document as collaborators edit them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := app.open(ctx, nil)
			if err != nil {
				return err
			}
			defer e.Close()

			id, err := documentArg(e.session, args[0])
			if err != nil {
				return err
			}

			var prev *preview.Server
			if withPreview {
				prev = preview.New(func(hl int) {
					err := e.session.Do(ctx, func(v *view.View) error {
						if v != nil {
							v.Activate(hl)
						}
						return nil
					})
					if err != nil {
						log.Warningf("cannot activate highlight %d: %s", hl, err.Error())
					}
				})
				url, err := prev.Start(e.cfg.PreviewAddr)
				if err != nil {
					return err
				}
				defer prev.Close()
				fmt.Fprintf(cmd.ErrOrStderr(), "preview at %s\n", url)
			}

			if err := e.session.OpenDocument(ctx, id); err != nil {
				return err
			}
			if err := redraw(ctx, cmd, e.session, prev); err != nil {
				return err
			}
			changes := e.session.Subscribe(ctx)

			polled := make(chan error, 1)
			go func() {
				polled <- e.session.Poll(ctx)
			}()

			for {
				select {
				case change, ok := <-changes:
					if !ok {
						return nil
					}
					switch change.Kind {
					case session.ViewLoaded, session.ViewChanged, session.TagsChanged:
						if err := redraw(ctx, cmd, e.session, prev); err != nil {
							return err
						}
					case session.ViewClosed:
						return fmt.Errorf("document %d was deleted", id)
					}
				case err := <-polled:
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				}
			}
		},
	}
	cmd.Flags().BoolVar(&withPreview, "preview", false, "Also serve a live HTML preview")
	return cmd
}

// redraw prints the view and pushes it to the preview, if any.
func redraw(ctx context.Context, cmd *cobra.Command, s *session.Session, prev *preview.Server) error {
	var text, html bytes.Buffer
	err := s.Do(ctx, func(v *view.View) error {
		if v == nil {
			return session.ErrNoDocument
		}
		if prev != nil {
			if err := v.Render(&html); err != nil {
				return err
			}
		}
		return render.View(&text, v, render.Options{
			Renderer: termRenderer(cmd),
			Legend:   true,
		})
	})
	if err != nil {
		return err
	}

	cur, err := s.Current(ctx)
	if err != nil {
		return err
	}
	title := s.Meta().Documents[cur.Document]

	fmt.Fprintf(cmd.OutOrStdout(), "== %s ==\n", title)
	if _, err := text.WriteTo(cmd.OutOrStdout()); err != nil {
		return err
	}
	if prev != nil {
		if err := prev.Render(title, html.String()); err != nil {
			log.Warningf("cannot push preview: %s", err.Error())
		}
	}
	return nil
}
