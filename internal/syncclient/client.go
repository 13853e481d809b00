// Package syncclient implements the annotation server's submit contract:
// form-encoded POSTs that reload the page on success and carry a structured
// error body on failure. All flows share one generic submit path.
package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

const (
	EndpointSelection       = "/post-selection"
	EndpointNotes           = "/post-notes"
	EndpointClearSession    = "/post-clear-session"
	EndpointRemoveTopic     = "/post-remove-topic"
	EndpointRemoveKind      = "/post-remove-kind"
	EndpointRemoveInterface = "/post-remove-interface"
)

// Navigator receives the navigation side effects of the contract: a reload
// to "/" on success, or a forced move to the error's destination URL.
type Navigator interface {
	Navigate(url string)
}

// Alerter surfaces a blocking error message to the user.
type Alerter interface {
	Alert(message string)
}

type nopNavigator struct{}

func (nopNavigator) Navigate(string) {}

type nopAlerter struct{}

func (nopAlerter) Alert(string) {}

// APIError is the structured error shape of the wire contract.
type APIError struct {
	Code        int
	Message     string
	Destination string
	Status      int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error %d (http %d): %s", e.Code, e.Status, e.Message)
}

// wireError matches the JSON error body.
type wireError struct {
	ErrorCode           int    `json:"errorCode"`
	ErrorMessage        string `json:"errorMessage"`
	ErrorDestinationURL string `json:"errorDestinationURL"`
}

type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
	Navigator  Navigator
	Alerter    Alerter
}

type Client struct {
	baseURL string
	hc      *http.Client
	log     *zap.Logger
	nav     Navigator
	alert   Alerter
}

func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("syncclient: base URL is empty")
	}
	c := &Client{
		baseURL: base,
		hc:      cfg.HTTPClient,
		log:     cfg.Logger,
		nav:     cfg.Navigator,
		alert:   cfg.Alerter,
	}
	if c.hc == nil {
		c.hc = http.DefaultClient
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if c.nav == nil {
		c.nav = nopNavigator{}
	}
	if c.alert == nil {
		c.alert = nopAlerter{}
	}
	return c, nil
}

// Result reports the navigation outcome of one submit.
type Result struct {
	// Reloaded is true when the success path navigated back to "/".
	Reloaded bool
	// Destination is where the client was sent ("/" on success, the error's
	// destination on a code-1 failure, empty otherwise).
	Destination string
}

// SubmitSelections posts the selection set. Keys are sent as a repeated
// `terms` form field.
func (c *Client) SubmitSelections(ctx context.Context, keys []string) (Result, error) {
	form := url.Values{}
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k != "" {
			form.Add("terms", k)
		}
	}
	return c.submit(ctx, EndpointSelection, form, true)
}

// SubmitNotes posts the free-text notes.
func (c *Client) SubmitNotes(ctx context.Context, notes string) (Result, error) {
	return c.submit(ctx, EndpointNotes, url.Values{"notes": {notes}}, true)
}

// ClearSession resets the server-side session. The observed contract for
// this flow is success-only: failures are logged and returned but trigger no
// alert or navigation.
func (c *Client) ClearSession(ctx context.Context) (Result, error) {
	return c.submit(ctx, EndpointClearSession, url.Values{}, false)
}

// RemoveTopic removes one previously assigned topic term.
func (c *Client) RemoveTopic(ctx context.Context, key string) (Result, error) {
	return c.submit(ctx, EndpointRemoveTopic, url.Values{"term": {key}}, true)
}

// RemoveKind removes one previously assigned kind classification.
func (c *Client) RemoveKind(ctx context.Context, key string) (Result, error) {
	return c.submit(ctx, EndpointRemoveKind, url.Values{"term": {key}}, true)
}

// RemoveInterface removes one previously assigned interface classification.
func (c *Client) RemoveInterface(ctx context.Context, key string) (Result, error) {
	return c.submit(ctx, EndpointRemoveInterface, url.Values{"term": {key}}, true)
}

// submit is the single request/response flow shared by every endpoint.
// One request per call; no retries, no timeout beyond the caller's context,
// no deduplication (concurrent invocation is the caller's problem).
func (c *Client) submit(ctx context.Context, endpoint string, form url.Values, handleErrorShape bool) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.hc.Do(req)
	if err != nil {
		c.log.Error("submit failed", zap.String("endpoint", endpoint), zap.Error(err))
		return Result{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, err
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// The page re-renders server-side; reloading "/" is how the client
		// observes the new state.
		c.nav.Navigate("/")
		return Result{Reloaded: true, Destination: "/"}, nil
	}

	// The error body is JSON whether or not the response advertises it, so
	// parse the raw text directly.
	var we wireError
	if jerr := json.Unmarshal(body, &we); jerr != nil {
		err := fmt.Errorf("submit %s: http %d with unparseable body", endpoint, resp.StatusCode)
		c.log.Error("submit failed with unparseable error body",
			zap.String("endpoint", endpoint),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body))
		return Result{}, err
	}

	apiErr := &APIError{
		Code:        we.ErrorCode,
		Message:     we.ErrorMessage,
		Destination: we.ErrorDestinationURL,
		Status:      resp.StatusCode,
	}

	if handleErrorShape && apiErr.Code == 1 {
		c.alert.Alert(apiErr.Message)
		c.nav.Navigate(apiErr.Destination)
		return Result{Destination: apiErr.Destination}, apiErr
	}

	// Any other shape: surface it instead of swallowing it, but take no
	// navigation action.
	c.log.Error("submit rejected",
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Int("errorCode", apiErr.Code),
		zap.String("errorMessage", apiErr.Message))
	return Result{}, apiErr
}
