package cli

import (
	"github.com/spf13/cobra"

	"locterms-annotator/internal/store"
)

func newInitCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the local catalog storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(app)
			if err != nil {
				return writeErr(cmd, err)
			}
			if err := s.Init(cmd.Context()); err != nil {
				return writeErr(cmd, err)
			}

			// Remember the catalog dir so later invocations find it without --dir.
			if cfg, err := store.LoadConfig(); err == nil && cfg.CatalogDir == "" {
				cfg.CatalogDir = s.Dir
				_ = store.SaveConfig(cfg)
			}

			return writeOut(cmd, app, map[string]any{
				"data": map[string]any{
					"dir": s.Dir,
				},
			})
		},
	}
	return cmd
}
