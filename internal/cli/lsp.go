package cli

import (
	"runtime"

	"github.com/remram44/taguette/internal/config"
	"github.com/remram44/taguette/internal/server"

	"github.com/spf13/cobra"
)

func newLSPCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "lsp",
		Short: "Run the language server on stdin and stdout",
		Long: `Run the language server on stdin and stdout.

Initialization options from the editor override the configuration file and
flags. Open <workspace>/project-<p>/document-<d>.txt to load a document.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runtime.GOMAXPROCS(4)

			base := config.Default()
			if app.ConfigPath != "" || app.Server != "" || app.Project != 0 || app.Cookie != "" {
				cfg, err := app.config()
				if err != nil {
					return err
				}
				base = cfg
			}
			log.Infof("starting language server %s", app.Version)
			return server.New(base, app.Version).RunStdio()
		},
	}
}
