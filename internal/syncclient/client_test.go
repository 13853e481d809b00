package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNavigator struct {
	urls []string
}

func (n *recordingNavigator) Navigate(u string) { n.urls = append(n.urls, u) }

type recordingAlerter struct {
	messages []string
}

func (a *recordingAlerter) Alert(m string) { a.messages = append(a.messages, m) }

func newTestClient(t *testing.T, baseURL string) (*Client, *recordingNavigator, *recordingAlerter) {
	t.Helper()
	nav := &recordingNavigator{}
	al := &recordingAlerter{}
	c, err := New(Config{BaseURL: baseURL, Navigator: nav, Alerter: al})
	require.NoError(t, err)
	return c, nav, al
}

func TestSubmitSelectionsSuccessReloads(t *testing.T) {
	var gotPath string
	var gotTerms []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, r.ParseForm())
		gotTerms = r.PostForm["terms"]
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, nav, al := newTestClient(t, srv.URL)
	res, err := c.SubmitSelections(context.Background(), []string{"sh99999999"})
	require.NoError(t, err)

	assert.Equal(t, "/post-selection", gotPath)
	assert.Equal(t, []string{"sh99999999"}, gotTerms)
	assert.True(t, res.Reloaded)
	assert.Equal(t, []string{"/"}, nav.urls)
	assert.Empty(t, al.messages)
}

func TestErrorCodeOneAlertsAndNavigates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"errorCode":           1,
			"errorMessage":        "stale session",
			"errorDestinationURL": "/login",
		})
	}))
	defer srv.Close()

	c, nav, al := newTestClient(t, srv.URL)
	res, err := c.RemoveTopic(context.Background(), "sh85012744")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 1, apiErr.Code)
	assert.Equal(t, "stale session", apiErr.Message)

	// Must alert, navigate to the destination, and NOT take the reload path.
	assert.Equal(t, []string{"stale session"}, al.messages)
	assert.Equal(t, []string{"/login"}, nav.urls)
	assert.False(t, res.Reloaded)
	assert.Equal(t, "/login", res.Destination)
}

func TestErrorContractAcrossFlows(t *testing.T) {
	// Every flow with structured-error handling must treat errorCode 1 the
	// same way.
	flows := []struct {
		name     string
		endpoint string
		call     func(c *Client) (Result, error)
	}{
		{"selection", EndpointSelection, func(c *Client) (Result, error) {
			return c.SubmitSelections(context.Background(), []string{"sh1"})
		}},
		{"notes", EndpointNotes, func(c *Client) (Result, error) {
			return c.SubmitNotes(context.Background(), "n")
		}},
		{"remove-topic", EndpointRemoveTopic, func(c *Client) (Result, error) {
			return c.RemoveTopic(context.Background(), "sh1")
		}},
		{"remove-kind", EndpointRemoveKind, func(c *Client) (Result, error) {
			return c.RemoveKind(context.Background(), "sh1")
		}},
		{"remove-interface", EndpointRemoveInterface, func(c *Client) (Result, error) {
			return c.RemoveInterface(context.Background(), "sh1")
		}},
	}

	for _, f := range flows {
		f := f
		t.Run(f.name, func(t *testing.T) {
			var gotPath string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				w.WriteHeader(http.StatusConflict)
				_, _ = w.Write([]byte(`{"errorCode":1,"errorMessage":"boom","errorDestinationURL":"/elsewhere"}`))
			}))
			defer srv.Close()

			c, nav, al := newTestClient(t, srv.URL)
			res, err := f.call(c)

			assert.Equal(t, f.endpoint, gotPath)
			assert.Error(t, err)
			assert.Equal(t, []string{"boom"}, al.messages)
			assert.Equal(t, []string{"/elsewhere"}, nav.urls)
			assert.False(t, res.Reloaded)
		})
	}
}

func TestOtherErrorShapesAreSurfacedNotNavigated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errorCode":2,"errorMessage":"unknown term"}`))
	}))
	defer srv.Close()

	c, nav, al := newTestClient(t, srv.URL)
	_, err := c.SubmitSelections(context.Background(), []string{"sh0"})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 2, apiErr.Code)
	assert.Empty(t, nav.urls)
	assert.Empty(t, al.messages)
}

func TestUnparseableErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("<html>proxy error</html>"))
	}))
	defer srv.Close()

	c, nav, _ := newTestClient(t, srv.URL)
	_, err := c.SubmitNotes(context.Background(), "n")
	require.Error(t, err)
	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
	assert.Empty(t, nav.urls)
}

func TestClearSessionSuccessOnlyContract(t *testing.T) {
	t.Run("success reloads", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/post-clear-session", r.URL.Path)
			require.NoError(t, r.ParseForm())
			assert.Empty(t, r.PostForm.Get("terms"))
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		c, nav, _ := newTestClient(t, srv.URL)
		res, err := c.ClearSession(context.Background())
		require.NoError(t, err)
		assert.True(t, res.Reloaded)
		assert.Equal(t, []string{"/"}, nav.urls)
	})

	t.Run("code-1 failure is logged but never alerts or navigates", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"errorCode":1,"errorMessage":"x","errorDestinationURL":"/y"}`))
		}))
		defer srv.Close()

		c, nav, al := newTestClient(t, srv.URL)
		_, err := c.ClearSession(context.Background())
		assert.Error(t, err)
		assert.Empty(t, nav.urls)
		assert.Empty(t, al.messages)
	})
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestSubmitFormEncoding(t *testing.T) {
	var gotContentType string
	var gotBody url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, r.ParseForm())
		gotBody = r.PostForm
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, _, _ := newTestClient(t, srv.URL)
	_, err := c.SubmitNotes(context.Background(), "line one\nline two")
	require.NoError(t, err)
	assert.Equal(t, "application/x-www-form-urlencoded", gotContentType)
	assert.Equal(t, "line one\nline two", gotBody.Get("notes"))
}
