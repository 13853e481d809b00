package cli

import (
	"os"

	"github.com/spf13/cobra"
)

func newTermsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "terms",
		Short: "Import and inspect LCSH terms",
	}
	cmd.AddCommand(newTermsImportCmd(app))
	cmd.AddCommand(newTermsShowCmd(app))
	cmd.AddCommand(newTermsStatsCmd(app))
	return cmd
}

func newTermsImportCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file.json>",
		Short: "Import LCSH terms from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(app)
			if err != nil {
				return writeErr(cmd, err)
			}
			if err := s.Init(cmd.Context()); err != nil {
				return writeErr(cmd, err)
			}

			f, err := os.Open(args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			defer f.Close()

			n, err := s.ImportTermsJSON(cmd.Context(), f)
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{
				"data": map[string]any{"imported": n},
			})
		},
	}
	return cmd
}

func newTermsShowCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <term-key>",
		Short: "Show one term with its broader and narrower terms",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(app)
			if err != nil {
				return writeErr(cmd, err)
			}
			t, err := s.GetTerm(cmd.Context(), args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": t})
		},
	}
	return cmd
}

func newTermsStatsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Report term usage across annotated entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(app)
			if err != nil {
				return writeErr(cmd, err)
			}
			counts, err := s.TermStats(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}
			if app.Format == "text" {
				return writeOut(cmd, app, map[string]any{"data": counts})
			}

			max, busiest, err := s.MaxAnnotations(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}
			summaries := make([]string, 0, len(busiest))
			for _, e := range busiest {
				summaries = append(summaries, e.Summary())
			}
			return writeOut(cmd, app, map[string]any{
				"data": map[string]any{
					"counts":         counts,
					"maxAnnotations": max,
					"mostAnnotated":  summaries,
				},
			})
		},
	}
	return cmd
}
