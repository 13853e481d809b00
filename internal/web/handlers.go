package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"locterms-annotator/internal/model"
	"locterms-annotator/internal/selection"
	"locterms-annotator/internal/store"

	"github.com/starfederation/datastar-go/datastar"
	"go.uber.org/zap"
)

// Error codes of the submit contract. Code 1 tells the client to alert and
// navigate to the destination URL; everything else is surfaced as-is.
const (
	errCodeStaleSession = 1
	errCodeBadRequest   = 2
)

type apiErrorBody struct {
	ErrorCode           int    `json:"errorCode"`
	ErrorMessage        string `json:"errorMessage"`
	ErrorDestinationURL string `json:"errorDestinationURL"`
}

func writeAPIError(w http.ResponseWriter, status, code int, msg, dest string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiErrorBody{
		ErrorCode:           code,
		ErrorMessage:        msg,
		ErrorDestinationURL: dest,
	})
}

var errBadRequest = errors.New("bad request")

func badRequestf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errBadRequest}, args...)...)
}

func (s *Server) sessionForRequest(ctx context.Context, st store.Store, r *http.Request) (model.Session, error) {
	c, err := r.Cookie(sessionCookieName)
	if err != nil || strings.TrimSpace(c.Value) == "" {
		return model.Session{}, store.ErrSessionNotFound
	}
	return st.GetSession(ctx, strings.TrimSpace(c.Value))
}

type termVM struct {
	Key   string
	Label string
}

type assignedVM struct {
	Topics     []termVM
	Kinds      []termVM
	Interfaces []termVM
	NotesHTML  template.HTML
}

type entryVM struct {
	ID              string
	Summary         string
	DescriptionHTML template.HTML
}

type pageVM struct {
	Now          string
	HasEntry     bool
	Entry        entryVM
	SessionID    string
	SessionNotes string
	Selected     []termVM
	Assigned     assignedVM

	// TreeJSON is the initial root-node payload, injected so the widget
	// renders the first level without a round trip.
	TreeJSON template.JS
}

func (s *Server) termVMs(ctx context.Context, st store.Store, keys []string) ([]termVM, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	labels, err := st.TermLabels(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := make([]termVM, 0, len(keys))
	for _, k := range keys {
		out = append(out, termVM{Key: k, Label: labels[k]})
	}
	return out, nil
}

func (s *Server) assignedVMFor(ctx context.Context, st store.Store, entryID string) (assignedVM, error) {
	e, err := st.GetEntry(ctx, entryID)
	if err != nil {
		return assignedVM{}, err
	}
	topics, err := s.termVMs(ctx, st, e.Topics)
	if err != nil {
		return assignedVM{}, err
	}
	kinds, err := s.termVMs(ctx, st, e.Kinds)
	if err != nil {
		return assignedVM{}, err
	}
	ifaces, err := s.termVMs(ctx, st, e.Interfaces)
	if err != nil {
		return assignedVM{}, err
	}
	return assignedVM{
		Topics:     topics,
		Kinds:      kinds,
		Interfaces: ifaces,
		NotesHTML:  renderMarkdownHTML(e.Notes),
	}, nil
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	ctx := r.Context()
	st := s.store()

	vm := pageVM{Now: time.Now().Format(time.RFC3339)}

	var (
		entry model.Entry
		err   error
	)
	if id := strings.TrimSpace(r.URL.Query().Get("entry")); id != "" {
		entry, err = st.GetEntry(ctx, id)
	} else {
		entry, err = st.NextUnannotated(ctx)
	}
	switch {
	case errors.Is(err, store.ErrEntryNotFound):
		s.writeHTMLTemplate(w, "page", vm)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	sess, serr := s.sessionForRequest(ctx, st, r)
	if serr != nil || sess.EntryID != entry.ID {
		sess, err = st.CreateSession(ctx, entry.ID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookieName,
			Value:    sess.ID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}

	assigned, err := s.assignedVMFor(ctx, st, entry.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	selected, err := s.termVMs(ctx, st, sess.Selected)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	rootNodes, err := s.termChildren(ctx, st, treeRootKey, selectedSet(sess))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	treeJSON, err := json.Marshal(rootNodes)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	vm.HasEntry = true
	vm.Entry = entryVM{
		ID:              entry.ID,
		Summary:         entry.Summary(),
		DescriptionHTML: renderMarkdownHTML(entry.Description),
	}
	vm.SessionID = sess.ID
	vm.SessionNotes = sess.Notes
	vm.Selected = selected
	vm.Assigned = assigned
	vm.TreeJSON = template.JS(treeJSON)
	s.writeHTMLTemplate(w, "page", vm)
}

// handleTermChildren serves the widget's lazy-load requests:
// GET /ajax?lcsh=<key>&field=narrower&format=fancy
func (s *Server) handleTermChildren(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := strings.TrimSpace(q.Get("lcsh"))
	if key == "" {
		http.Error(w, "missing lcsh parameter", http.StatusBadRequest)
		return
	}
	if f := strings.TrimSpace(q.Get("field")); f != "" && f != "narrower" {
		http.Error(w, "unsupported field (expected narrower)", http.StatusBadRequest)
		return
	}
	if f := strings.TrimSpace(q.Get("format")); f != "" && f != "fancy" {
		http.Error(w, "unsupported format (expected fancy)", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	st := s.store()

	// Selected state comes from the page session, when one exists.
	selected := map[string]bool{}
	if sess, err := s.sessionForRequest(ctx, st, r); err == nil {
		selected = selectedSet(sess)
	}

	nodes, err := s.termChildren(ctx, st, key, selected)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(nodes)
}

// withSession runs one mutating flow against the request's session, mapping
// failures to the structured error body: a missing or stale session is
// errorCode 1 with destination "/", a rejected input is errorCode 2.
func (s *Server) withSession(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, st store.Store, sess model.Session) error) {
	if err := r.ParseForm(); err != nil {
		writeAPIError(w, http.StatusBadRequest, errCodeBadRequest, "malformed form body", "")
		return
	}
	ctx := r.Context()
	st := s.store()

	sess, err := s.sessionForRequest(ctx, st, r)
	if err != nil {
		writeAPIError(w, http.StatusConflict, errCodeStaleSession,
			"your annotation session has expired; the page will reload", "/")
		return
	}

	err = fn(ctx, st, sess)
	switch {
	case err == nil:
		s.hub.broadcast(sess.EntryID)
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, store.ErrSessionNotFound):
		writeAPIError(w, http.StatusConflict, errCodeStaleSession,
			"your annotation session has expired; the page will reload", "/")
	case errors.Is(err, errBadRequest):
		writeAPIError(w, http.StatusBadRequest, errCodeBadRequest, err.Error(), "")
	default:
		s.log.Error("mutation failed",
			zap.String("path", r.URL.Path),
			zap.String("session", sess.ID),
			zap.Error(err))
		writeAPIError(w, http.StatusInternalServerError, errCodeBadRequest, "internal error", "")
	}
}

func (s *Server) handlePostSelection(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(ctx context.Context, st store.Store, sess model.Session) error {
		// Normalize through the selection set: duplicates and blanks drop
		// out, insertion order is kept.
		set := selection.NewSet()
		for _, k := range r.PostForm["terms"] {
			k = strings.TrimSpace(k)
			if k == "" {
				continue
			}
			ok, err := st.TermExists(ctx, k)
			if err != nil {
				return err
			}
			if !ok {
				return badRequestf("unknown term %q", k)
			}
			set.Add(k)
		}

		// The entry's topics mirror the saved selection: terms dropped from
		// the set are unassigned, new ones assigned, atomically.
		return st.SetTopicTerms(ctx, sess.ID, sess.EntryID, set.Keys())
	})
}

func (s *Server) handlePostNotes(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(ctx context.Context, st store.Store, sess model.Session) error {
		notes := r.PostForm.Get("notes")
		if err := st.SetSessionNotes(ctx, sess.ID, notes); err != nil {
			return err
		}
		return st.SetEntryNotes(ctx, sess.EntryID, notes)
	})
}

func (s *Server) handlePostClearSession(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(ctx context.Context, st store.Store, sess model.Session) error {
		return st.ClearSession(ctx, sess.ID)
	})
}

func (s *Server) handlePostRemoveTopic(w http.ResponseWriter, r *http.Request) {
	s.handleRemoveTerm(w, r, model.FacetTopic)
}

func (s *Server) handlePostRemoveKind(w http.ResponseWriter, r *http.Request) {
	s.handleRemoveTerm(w, r, model.FacetKind)
}

func (s *Server) handlePostRemoveInterface(w http.ResponseWriter, r *http.Request) {
	s.handleRemoveTerm(w, r, model.FacetInterface)
}

func (s *Server) handleRemoveTerm(w http.ResponseWriter, r *http.Request, facet model.Facet) {
	s.withSession(w, r, func(ctx context.Context, st store.Store, sess model.Session) error {
		key := strings.TrimSpace(r.PostForm.Get("term"))
		if key == "" {
			return badRequestf("missing term parameter")
		}
		if err := st.RemoveTerm(ctx, sess.EntryID, facet, key); err != nil {
			return err
		}
		if facet != model.FacetTopic {
			return nil
		}
		// Keep the tree's checkboxes honest: a removed topic must not come
		// back on the next selection submit.
		set := selection.NewSet()
		for _, k := range sess.Selected {
			set.Add(k)
		}
		if !set.Has(key) {
			return nil
		}
		set.Remove(key)
		return st.ReplaceSelections(ctx, sess.ID, set.Keys())
	})
}

// handleSessionEvents streams re-renders of the assigned-terms region to the
// open page whenever its entry changes, over a Datastar SSE connection.
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st := s.store()

	sess, err := s.sessionForRequest(ctx, st, r)
	if err != nil {
		http.Error(w, "no session", http.StatusBadRequest)
		return
	}

	sse := datastar.NewSSE(w, r)

	h := s.hub.hubFor(sess.EntryID)
	ch, cancel := h.subscribe()
	defer cancel()

	patch := func() {
		vm, err := s.assignedVMFor(sse.Context(), st, sess.EntryID)
		if err != nil {
			return
		}
		html, err := s.renderTemplate("assigned", vm)
		if err != nil {
			return
		}
		_ = sse.PatchElements(html,
			datastar.WithSelector("#assigned"),
			datastar.WithMode(datastar.ElementPatchModeOuter))
	}

	// Sync the region on connect so a reconnecting page catches up.
	patch()

	keepAlive := time.NewTicker(25 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case <-sse.Context().Done():
			return
		case <-keepAlive.C:
			_ = sse.PatchSignals([]byte(`{}`))
		case <-ch:
			patch()
		}
	}
}
