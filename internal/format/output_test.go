package format

import (
	"strings"
	"testing"

	"locterms-annotator/internal/model"
)

func TestWriteJSON(t *testing.T) {
	var b strings.Builder
	if err := Write(&b, map[string]string{"k": "v"}, "json", false); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := strings.TrimSpace(b.String()); got != `{"k":"v"}` {
		t.Fatalf("output = %q", got)
	}
}

func TestWriteUnknownFormat(t *testing.T) {
	var b strings.Builder
	if err := Write(&b, nil, "yaml", false); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

func TestWriteTextTermCounts(t *testing.T) {
	var b strings.Builder
	counts := []model.TermCount{
		{Key: "sh85012744", Label: "Binary system (Mathematics)", Count: 3},
	}
	if err := Write(&b, counts, "text", false); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := b.String()
	if !strings.Contains(out, "sh85012744") || !strings.Contains(out, "Binary system (Mathematics)") {
		t.Fatalf("output = %q", out)
	}
}

func TestWriteTextUnwrapsDataEnvelope(t *testing.T) {
	var b strings.Builder
	v := map[string]any{"data": []model.TermCount{
		{Key: "sh85012744", Label: "Binary system (Mathematics)", Count: 3},
	}}
	if err := Write(&b, v, "text", false); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := b.String()
	if strings.Contains(out, `"data"`) {
		t.Fatalf("envelope leaked into text output: %q", out)
	}
	if !strings.Contains(out, "sh85012744") {
		t.Fatalf("output = %q", out)
	}
}

func TestWriteTextFallsBackToJSON(t *testing.T) {
	var b strings.Builder
	if err := Write(&b, map[string]int{"n": 1}, "text", false); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.Contains(b.String(), `"n": 1`) {
		t.Fatalf("output = %q", b.String())
	}
}
