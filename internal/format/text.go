package format

import (
	"fmt"
	"io"

	"locterms-annotator/internal/model"

	"github.com/charmbracelet/lipgloss"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true)
	keyStyle     = lipgloss.NewStyle().Faint(true)
	countStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
)

// WriteText renders the report types as human-readable terminal output.
// A `{"data": ...}` envelope is unwrapped first; anything it does not
// recognize falls back to pretty JSON.
func WriteText(w io.Writer, v any) error {
	if m, ok := v.(map[string]any); ok {
		if d, ok := m["data"]; ok {
			v = d
		}
	}
	switch v := v.(type) {
	case []model.TermCount:
		return writeTermCounts(w, v)
	case []model.AnnotatedEntry:
		return writeAnnotated(w, v)
	case []model.Entry:
		return writeEntries(w, v)
	case model.Term:
		return writeTerm(w, v)
	default:
		return WriteJSON(w, v, true)
	}
}

func writeTermCounts(w io.Writer, counts []model.TermCount) error {
	if len(counts) == 0 {
		_, err := fmt.Fprintln(w, "no terms in use")
		return err
	}
	if _, err := fmt.Fprintln(w, headingStyle.Render("term usage")); err != nil {
		return err
	}
	for _, c := range counts {
		if _, err := fmt.Fprintf(w, "  %s %s %s\n",
			countStyle.Render(fmt.Sprintf("%4d", c.Count)),
			labelStyle.Render(c.Label),
			keyStyle.Render(c.Key)); err != nil {
			return err
		}
	}
	return nil
}

func writeAnnotated(w io.Writer, entries []model.AnnotatedEntry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "no annotated entries")
		return err
	}
	for _, ae := range entries {
		if _, err := fmt.Fprintln(w, headingStyle.Render(ae.Entry.Summary())); err != nil {
			return err
		}
		for _, k := range ae.Entry.Topics {
			label := ae.Labels[k]
			if label == "" {
				label = k
			}
			if _, err := fmt.Fprintf(w, "  %s %s\n",
				labelStyle.Render(label), keyStyle.Render(k)); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeEntries(w io.Writer, entries []model.Entry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "no entries")
		return err
	}
	for _, e := range entries {
		if _, err := fmt.Fprintf(w, "%s %s\n",
			headingStyle.Render(e.Summary()), keyStyle.Render(e.ID)); err != nil {
			return err
		}
	}
	return nil
}

func writeTerm(w io.Writer, t model.Term) error {
	if _, err := fmt.Fprintf(w, "%s %s\n",
		headingStyle.Render(t.Label), keyStyle.Render(t.Key)); err != nil {
		return err
	}
	for _, b := range t.Broader {
		if _, err := fmt.Fprintf(w, "  broader  %s\n", b); err != nil {
			return err
		}
	}
	for _, n := range t.Narrower {
		if _, err := fmt.Fprintf(w, "  narrower %s\n", n); err != nil {
			return err
		}
	}
	return nil
}
