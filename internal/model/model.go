package model

import "time"

// Facet classifies how a term is attached to a catalog entry.
type Facet string

const (
	FacetTopic     Facet = "topic"
	FacetKind      Facet = "kind"
	FacetInterface Facet = "interface"
)

func (f Facet) Valid() bool {
	switch f {
	case FacetTopic, FacetKind, FacetInterface:
		return true
	}
	return false
}

// Term is one LCSH heading. Narrower/Broader hold heading keys, not labels;
// children are resolved lazily through the store.
type Term struct {
	Key      string   `json:"key"`
	Label    string   `json:"label"`
	Broader  []string `json:"broader,omitempty"`
	Narrower []string `json:"narrower,omitempty"`
}

// Entry is one catalog entry (a repository in the original catalog).
type Entry struct {
	ID          string    `json:"id"`
	Owner       string    `json:"owner"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	Topics      []string  `json:"topics,omitempty"`
	Kinds       []string  `json:"kinds,omitempty"`
	Interfaces  []string  `json:"interfaces,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (e Entry) Summary() string {
	if e.Owner == "" {
		return e.Name
	}
	return e.Owner + "/" + e.Name
}

func (e Entry) TermsFor(f Facet) []string {
	switch f {
	case FacetTopic:
		return e.Topics
	case FacetKind:
		return e.Kinds
	case FacetInterface:
		return e.Interfaces
	}
	return nil
}

// Session is the server-side accumulation of one page view's selections and
// notes. Its lifecycle is driven entirely by explicit client requests.
type Session struct {
	ID        string    `json:"id"`
	EntryID   string    `json:"entryId"`
	Selected  []string  `json:"selected,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TreeNode is a fancytree-compatible node as consumed by the term tree
// widget. Lazy nodes fetch children through GET /ajax.
type TreeNode struct {
	Title    string     `json:"title"`
	Key      string     `json:"key"`
	Lazy     bool       `json:"lazy,omitempty"`
	Selected bool       `json:"selected,omitempty"`
	Children []TreeNode `json:"children,omitempty"`
}

// TermCount is one row of the term-usage report.
type TermCount struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Count int    `json:"count"`
}

// AnnotatedEntry is one row of the annotated-entries report: an entry plus
// its topic terms resolved to labels.
type AnnotatedEntry struct {
	Entry  Entry             `json:"entry"`
	Labels map[string]string `json:"labels,omitempty"`
}
