package web

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"locterms-annotator/internal/model"
	"locterms-annotator/internal/store"
)

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	dir := t.TempDir()
	st := store.Store{Dir: dir}
	if err := st.Ensure(); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}

	terms := []model.Term{
		{Key: "sh85029552", Label: "Computer programs", Narrower: []string{"sh85012744", "sh99999999"}},
		{Key: "sh85012744", Label: "Binary system (Mathematics)"},
		{Key: "sh99999999", Label: "Parsers (Computer programs)", Narrower: []string{"sh85029505"}},
		{Key: "sh85029505", Label: "Compilers (Computer programs)"},
	}
	if err := st.UpsertTerms(context.Background(), terms); err != nil {
		t.Fatalf("seed terms: %v", err)
	}
	if err := st.UpsertEntry(context.Background(), model.Entry{
		ID:          "e1",
		Owner:       "casics",
		Name:        "extractor",
		Description: "Pulls **text** out of repositories.",
	}); err != nil {
		t.Fatalf("seed entry: %v", err)
	}

	srv, err := NewServer(ServerConfig{Addr: "127.0.0.1:0", Dir: dir})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv, st
}

// openPage issues GET / and returns the session cookie the page was given.
func openPage(t *testing.T, h http.Handler) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /: status = %d, want 200", rec.Code)
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookieName {
			return c
		}
	}
	t.Fatalf("GET / set no %s cookie", sessionCookieName)
	return nil
}

func postForm(h http.Handler, path string, form url.Values, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeAPIError(t *testing.T, rec *httptest.ResponseRecorder) apiErrorBody {
	t.Helper()
	var body apiErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body is not JSON: %v (body %q)", err, rec.Body.String())
	}
	return body
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHomeRendersEntryAndSetsCookie(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "casics/extractor") {
		t.Fatalf("page does not show the entry summary:\n%s", rec.Body.String())
	}
	got := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookieName && c.Value != "" {
			got = true
		}
	}
	if !got {
		t.Fatalf("no session cookie set")
	}
}

func TestTermChildrenContract(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	cases := []struct {
		name       string
		query      string
		wantStatus int
	}{
		{"missing lcsh", "", http.StatusBadRequest},
		{"wrong field", "lcsh=root&field=broader", http.StatusBadRequest},
		{"wrong format", "lcsh=root&format=plain", http.StatusBadRequest},
		{"root", "lcsh=root&field=narrower&format=fancy", http.StatusOK},
		{"unknown key", "lcsh=sh00000000&field=narrower&format=fancy", http.StatusOK},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ajax?"+tc.query, nil))
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d (body %q)", rec.Code, tc.wantStatus, rec.Body.String())
			}
		})
	}

	// Root listing: only terms without a broader term, lazily expandable when
	// they have narrower terms.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ajax?lcsh=root&field=narrower&format=fancy", nil))
	var nodes []model.TreeNode
	if err := json.Unmarshal(rec.Body.Bytes(), &nodes); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(nodes) != 1 || nodes[0].Key != "sh85029552" || !nodes[0].Lazy {
		t.Fatalf("root nodes = %+v", nodes)
	}

	// Unknown key yields an empty array, not null and not an error.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ajax?lcsh=sh00000000&field=narrower&format=fancy", nil))
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Fatalf("unknown key body = %q, want []", got)
	}
}

func TestSelectionRoundTrip(t *testing.T) {
	srv, st := newTestServer(t)
	h := srv.Handler()
	cookie := openPage(t, h)

	form := url.Values{"terms": {"sh85012744", "sh99999999"}}
	rec := postForm(h, "/post-selection", form, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("post-selection status = %d (body %q)", rec.Code, rec.Body.String())
	}

	e, err := st.GetEntry(context.Background(), "e1")
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if len(e.Topics) != 2 || e.Topics[0] != "sh85012744" || e.Topics[1] != "sh99999999" {
		t.Fatalf("topics = %v", e.Topics)
	}

	// The widget sees the saved selection on its next lazy load.
	req := httptest.NewRequest(http.MethodGet, "/ajax?lcsh=sh85029552&field=narrower&format=fancy", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var nodes []model.TreeNode
	if err := json.Unmarshal(rec.Body.Bytes(), &nodes); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, n := range nodes {
		if !n.Selected {
			t.Fatalf("node %s not marked selected: %+v", n.Key, nodes)
		}
	}

	// Resubmitting a smaller set unassigns the dropped topic.
	rec = postForm(h, "/post-selection", url.Values{"terms": {"sh99999999"}}, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("post-selection status = %d", rec.Code)
	}
	e, err = st.GetEntry(context.Background(), "e1")
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if len(e.Topics) != 1 || e.Topics[0] != "sh99999999" {
		t.Fatalf("topics after resubmit = %v", e.Topics)
	}
}

func TestStaleSessionErrorShape(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	for _, path := range []string{
		"/post-selection",
		"/post-notes",
		"/post-clear-session",
		"/post-remove-topic",
		"/post-remove-kind",
		"/post-remove-interface",
	} {
		rec := postForm(h, path, url.Values{}, nil)
		if rec.Code != http.StatusConflict {
			t.Fatalf("%s status = %d, want 409", path, rec.Code)
		}
		body := decodeAPIError(t, rec)
		if body.ErrorCode != 1 || body.ErrorDestinationURL != "/" || body.ErrorMessage == "" {
			t.Fatalf("%s error body = %+v", path, body)
		}
	}
}

func TestUnknownTermRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()
	cookie := openPage(t, h)

	rec := postForm(h, "/post-selection", url.Values{"terms": {"sh00000000"}}, cookie)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	body := decodeAPIError(t, rec)
	if body.ErrorCode != errCodeBadRequest || body.ErrorDestinationURL != "" {
		t.Fatalf("error body = %+v", body)
	}
}

func TestRemoveTopicAlsoDeselects(t *testing.T) {
	srv, st := newTestServer(t)
	h := srv.Handler()
	cookie := openPage(t, h)

	if rec := postForm(h, "/post-selection", url.Values{"terms": {"sh85012744", "sh99999999"}}, cookie); rec.Code != http.StatusOK {
		t.Fatalf("post-selection status = %d", rec.Code)
	}
	if rec := postForm(h, "/post-remove-topic", url.Values{"term": {"sh85012744"}}, cookie); rec.Code != http.StatusOK {
		t.Fatalf("post-remove-topic status = %d", rec.Code)
	}

	e, err := st.GetEntry(context.Background(), "e1")
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if len(e.Topics) != 1 || e.Topics[0] != "sh99999999" {
		t.Fatalf("topics = %v", e.Topics)
	}

	sess, err := st.GetSession(context.Background(), cookie.Value)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if len(sess.Selected) != 1 || sess.Selected[0] != "sh99999999" {
		t.Fatalf("session selection = %v", sess.Selected)
	}
}

func TestRemoveRequiresTerm(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()
	cookie := openPage(t, h)

	rec := postForm(h, "/post-remove-kind", url.Values{}, cookie)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if body := decodeAPIError(t, rec); body.ErrorCode != errCodeBadRequest {
		t.Fatalf("error body = %+v", body)
	}
}

func TestNotesFlow(t *testing.T) {
	srv, st := newTestServer(t)
	h := srv.Handler()
	cookie := openPage(t, h)

	rec := postForm(h, "/post-notes", url.Values{"notes": {"uses a custom parser"}}, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	e, err := st.GetEntry(context.Background(), "e1")
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if e.Notes != "uses a custom parser" {
		t.Fatalf("entry notes = %q", e.Notes)
	}
	sess, err := st.GetSession(context.Background(), cookie.Value)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.Notes != "uses a custom parser" {
		t.Fatalf("session notes = %q", sess.Notes)
	}
}

func TestClearSessionEmptiesSelectionAndNotes(t *testing.T) {
	srv, st := newTestServer(t)
	h := srv.Handler()
	cookie := openPage(t, h)

	if rec := postForm(h, "/post-selection", url.Values{"terms": {"sh85012744"}}, cookie); rec.Code != http.StatusOK {
		t.Fatalf("post-selection status = %d", rec.Code)
	}
	if rec := postForm(h, "/post-notes", url.Values{"notes": {"n"}}, cookie); rec.Code != http.StatusOK {
		t.Fatalf("post-notes status = %d", rec.Code)
	}
	if rec := postForm(h, "/post-clear-session", url.Values{}, cookie); rec.Code != http.StatusOK {
		t.Fatalf("post-clear-session status = %d", rec.Code)
	}

	sess, err := st.GetSession(context.Background(), cookie.Value)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if len(sess.Selected) != 0 || sess.Notes != "" {
		t.Fatalf("session after clear = %+v", sess)
	}
}

func TestSelectionSubmitDeduplicates(t *testing.T) {
	srv, st := newTestServer(t)
	h := srv.Handler()
	cookie := openPage(t, h)

	form := url.Values{"terms": {"sh85012744", "sh85012744", " ", "sh99999999"}}
	rec := postForm(h, "/post-selection", form, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("post-selection status = %d (body %q)", rec.Code, rec.Body.String())
	}

	e, err := st.GetEntry(context.Background(), "e1")
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if len(e.Topics) != 2 {
		t.Fatalf("duplicates must collapse, topics = %v", e.Topics)
	}
	sess, err := st.GetSession(context.Background(), cookie.Value)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if len(sess.Selected) != 2 {
		t.Fatalf("duplicates must collapse, selection = %v", sess.Selected)
	}
}

// openPageOverHTTP is openPage for tests that need a real listener.
func openPageOverHTTP(t *testing.T, ts *httptest.Server) *http.Cookie {
	t.Helper()
	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /: status = %d", resp.StatusCode)
	}
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookieName {
			return c
		}
	}
	t.Fatalf("GET / set no %s cookie", sessionCookieName)
	return nil
}

func postFormOverHTTP(t *testing.T, ts *httptest.Server, path string, form url.Values, cookie *http.Cookie) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+path, strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(cookie)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST %s: status = %d", path, resp.StatusCode)
	}
}

func waitForStreamLine(t *testing.T, sc *bufio.Scanner, substr string) {
	t.Helper()
	for sc.Scan() {
		if strings.Contains(sc.Text(), substr) {
			return
		}
	}
	t.Fatalf("stream ended before %q was seen: %v", substr, sc.Err())
}

func TestSessionEventsRequiresSession(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSessionEventsStreamPatchesAssignedRegion(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	cookie := openPageOverHTTP(t, ts)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/events", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.AddCookie(cookie)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /events: %v", err)
	}
	defer resp.Body.Close()

	// Watchdog: unblock the scanner if the stream stalls.
	watchdog := time.AfterFunc(10*time.Second, func() { resp.Body.Close() })
	defer watchdog.Stop()

	sc := bufio.NewScanner(resp.Body)

	// The stream syncs the region on connect.
	waitForStreamLine(t, sc, "datastar-patch-elements")
	waitForStreamLine(t, sc, "selector #assigned")

	// A mutation re-patches the region with the new state.
	postFormOverHTTP(t, ts, "/post-notes", url.Values{"notes": {"live refresh works"}}, cookie)
	waitForStreamLine(t, sc, "live refresh works")
}

func TestWebsocketActivityFeed(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	t.Run("requires a session", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})

	cookie := openPageOverHTTP(t, ts)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	hdr := http.Header{}
	hdr.Set("Cookie", sessionCookieName+"="+cookie.Value)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, hdr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Let the handler subscribe before triggering the change.
	time.Sleep(200 * time.Millisecond)

	postFormOverHTTP(t, ts, "/post-notes", url.Values{"notes": {"n"}}, cookie)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev struct {
		Type    string `json:"type"`
		EntryID string `json:"entryId"`
	}
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if ev.Type != "entry-updated" || ev.EntryID != "e1" {
		t.Fatalf("frame = %+v", ev)
	}
}

func TestRenderMarkdownEscapesRawHTML(t *testing.T) {
	out := string(renderMarkdownHTML("hello <script>alert(1)</script> **world**"))
	if strings.Contains(out, "<script>") {
		t.Fatalf("raw HTML passed through: %q", out)
	}
	if !strings.Contains(out, "<strong>world</strong>") {
		t.Fatalf("markdown not rendered: %q", out)
	}
}
