package cli

import (
	"fmt"
	"net/http"
	"strings"

	"locterms-annotator/internal/syncclient"

	"github.com/spf13/cobra"
)

// newRemoteCmd drives a running annotation server through the same submit
// contract the page uses. Useful for scripting and for poking at a live
// session from the terminal.
func newRemoteCmd(app *App) *cobra.Command {
	var server string
	var session string

	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Drive a running annotation server",
		Example: strings.TrimSpace(`
# Save a selection into an open page session
annotator remote --session <session-id> select sh85029552 sh85012744

# Remove an assigned kind classification
annotator remote --session <session-id> remove --facet kind sh85029505
`),
	}

	cmd.PersistentFlags().StringVar(&server, "server", "http://127.0.0.1:8080", "Base URL of the annotation server")
	cmd.PersistentFlags().StringVar(&session, "session", "", "Session id (the annotator_session cookie of an open page)")

	newClient := func(cmd *cobra.Command) (*syncclient.Client, error) {
		return syncclient.New(syncclient.Config{
			BaseURL: server,
			HTTPClient: &http.Client{
				Transport: sessionTransport{sessionID: strings.TrimSpace(session)},
			},
			Logger:    app.logger(),
			Navigator: stderrNavigator{cmd: cmd},
			Alerter:   stderrAlerter{cmd: cmd},
		})
	}

	run := func(cmd *cobra.Command, do func(c *syncclient.Client) (syncclient.Result, error)) error {
		c, err := newClient(cmd)
		if err != nil {
			return writeErr(cmd, err)
		}
		res, err := do(c)
		if err != nil {
			return writeErr(cmd, err)
		}
		return writeOut(cmd, app, map[string]any{
			"data": map[string]any{
				"reloaded":    res.Reloaded,
				"destination": res.Destination,
			},
		})
	}

	selectCmd := &cobra.Command{
		Use:   "select <term-key>...",
		Short: "Replace the session's selection with the given terms",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(c *syncclient.Client) (syncclient.Result, error) {
				return c.SubmitSelections(cmd.Context(), args)
			})
		},
	}

	notesCmd := &cobra.Command{
		Use:   "notes <text>",
		Short: "Save the session's notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(c *syncclient.Client) (syncclient.Result, error) {
				return c.SubmitNotes(cmd.Context(), args[0])
			})
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear the session's selection and notes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(c *syncclient.Client) (syncclient.Result, error) {
				return c.ClearSession(cmd.Context())
			})
		},
	}

	var facet string
	removeCmd := &cobra.Command{
		Use:   "remove <term-key>",
		Short: "Remove one assigned term from the session's entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(c *syncclient.Client) (syncclient.Result, error) {
				switch strings.TrimSpace(facet) {
				case "", "topic":
					return c.RemoveTopic(cmd.Context(), args[0])
				case "kind":
					return c.RemoveKind(cmd.Context(), args[0])
				case "interface":
					return c.RemoveInterface(cmd.Context(), args[0])
				default:
					return syncclient.Result{}, fmt.Errorf("unknown facet %q (expected topic|kind|interface)", facet)
				}
			})
		},
	}
	removeCmd.Flags().StringVar(&facet, "facet", "topic", "Facet to remove from (topic|kind|interface)")

	cmd.AddCommand(selectCmd)
	cmd.AddCommand(notesCmd)
	cmd.AddCommand(clearCmd)
	cmd.AddCommand(removeCmd)
	return cmd
}

// sessionTransport attaches the page-session cookie to every request.
type sessionTransport struct {
	sessionID string
}

func (t sessionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.sessionID != "" {
		req = req.Clone(req.Context())
		req.AddCookie(&http.Cookie{Name: "annotator_session", Value: t.sessionID})
	}
	return http.DefaultTransport.RoundTrip(req)
}

type stderrNavigator struct {
	cmd *cobra.Command
}

func (n stderrNavigator) Navigate(url string) {
	fmt.Fprintf(n.cmd.ErrOrStderr(), "-> %s\n", url)
}

type stderrAlerter struct {
	cmd *cobra.Command
}

func (a stderrAlerter) Alert(message string) {
	fmt.Fprintf(a.cmd.ErrOrStderr(), "! %s\n", message)
}
