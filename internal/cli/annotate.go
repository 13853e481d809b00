package cli

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"locterms-annotator/internal/store"
	"locterms-annotator/internal/web"

	"github.com/CAFxX/httpcompression"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newAnnotateCmd(app *App) *cobra.Command {
	var addr string
	var open bool
	var dev bool

	cmd := &cobra.Command{
		Use:   "annotate",
		Short: "Run the annotation UI in your browser",
		Long: strings.TrimSpace(`
Run the annotation UI served from a local HTTP server.

The page shows one catalog entry at a time next to the LCSH term tree;
selections, notes, and removals are saved back through the server.
`),
		Example: strings.TrimSpace(`
# Serve the catalog on localhost
annotator annotate --addr 127.0.0.1:8080

# Annotate a fixture catalog without touching the configured one
annotator --dir ./testdata/catalog annotate --addr :8080
`),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(app)
			if err != nil {
				return writeErr(cmd, err)
			}
			if err := s.Init(cmd.Context()); err != nil {
				return writeErr(cmd, err)
			}

			listenAddr := strings.TrimSpace(addr)
			if listenAddr == "" {
				if cfg, err := store.LoadConfig(); err == nil {
					listenAddr = strings.TrimSpace(cfg.ListenAddr)
				}
			}
			if listenAddr == "" {
				listenAddr = "127.0.0.1:8080"
			}

			log := app.logger()
			if dev {
				devLog, err := zap.NewDevelopment()
				if err != nil {
					return writeErr(cmd, err)
				}
				log = devLog
			}

			srv, err := web.NewServer(web.ServerConfig{
				Addr:   listenAddr,
				Dir:    s.Dir,
				Dev:    dev,
				Logger: log,
			})
			if err != nil {
				return writeErr(cmd, err)
			}

			compress, err := httpcompression.DefaultAdapter()
			if err != nil {
				return writeErr(cmd, err)
			}
			handler := compress(srv.Handler())

			ln, err := net.Listen("tcp", listenAddr)
			if err != nil {
				return writeErr(cmd, err)
			}

			actualAddr := ln.Addr().String()
			url := "http://" + actualAddr + "/"

			opened := false
			openErr := ""
			if open {
				if err := openPath(url); err != nil {
					openErr = err.Error()
				} else {
					opened = true
				}
			}

			hints := []string{}
			if !opened {
				hints = append(hints, "open "+url)
			}

			_ = writeOut(cmd, app, map[string]any{
				"data": map[string]any{
					"addr":      actualAddr,
					"url":       url,
					"dir":       s.Dir,
					"opened":    opened,
					"openError": openErr,
					"startedAt": time.Now().UTC().Format(time.RFC3339Nano),
				},
				"_hints": hints,
			})

			fmt.Fprintf(cmd.ErrOrStderr(), "Annotator running at %s (dir=%s)\n", url, s.Dir)
			if openErr != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Failed to open browser: %s\n", openErr)
			}

			return http.Serve(ln, handler)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Bind address (host:port or :port; default from config, else 127.0.0.1:8080)")
	cmd.Flags().BoolVar(&open, "open", true, "Open the UI in your default browser")
	cmd.Flags().BoolVar(&dev, "dev", false, "Development mode (debug logging, per-request logs)")
	return cmd
}
