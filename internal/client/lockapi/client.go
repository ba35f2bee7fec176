// Package lockapi is the client of the session-lock HTTP API. A Client
// speaks for one tab.
package lockapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/atinyakov/sessionlock/internal/lock"
	"github.com/atinyakov/sessionlock/internal/models"
)

const (
	apiState     = "/api/lock/state"
	apiSetup     = "/api/lock/setup"
	apiUnlock    = "/api/lock/unlock"
	apiLock      = "/api/lock/lock"
	apiImmediate = "/api/lock/lock/immediate"
	apiActivity  = "/api/lock/activity"
	apiTimeout   = "/api/lock/timeout"
	apiTab       = "/api/lock/tab"
	apiSignOut   = "/api/lock/signout"
	apiAudit     = "/api/lock/audit"

	tabHeader = "X-Tab-ID"
)

// APIError is a non-2xx answer of the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

// Unwrap maps the answer back to the lock error it reports, so callers can
// use errors.Is(err, lock.ErrInvalidPIN) and friends.
func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusConflict:
		return lock.ErrNotSetUp
	case e.Status == http.StatusServiceUnavailable:
		return lock.ErrStoreUnavailable
	case e.Status == http.StatusUnauthorized && e.Message == lock.Message(lock.ErrInvalidPIN):
		return lock.ErrInvalidPIN
	case e.Status == http.StatusUnauthorized:
		return lock.ErrNotAuthenticated
	case e.Status == http.StatusBadRequest && e.Message == lock.Message(lock.ErrInvalidPINFormat):
		return lock.ErrInvalidPINFormat
	case e.Status == http.StatusBadRequest && e.Message == lock.Message(lock.ErrEmptyUsername):
		return lock.ErrEmptyUsername
	}
	return nil
}

// Client calls the lock API on behalf of one tab.
type Client struct {
	http    *http.Client
	baseURL string
	tabID   string
}

// New returns a client for tabID. httpClient should carry the operator's
// client certificate, see LoadClientCertificate.
func New(httpClient *http.Client, baseURL, tabID string) *Client {
	return &Client{http: httpClient, baseURL: baseURL, tabID: tabID}
}

// TabID returns the tab this client speaks for.
func (c *Client) TabID() string { return c.tabID }

func (c *Client) State(ctx context.Context) (lock.State, error) {
	return c.state(ctx, http.MethodGet, apiState, nil)
}

func (c *Client) Setup(ctx context.Context, username, pin string) (lock.State, error) {
	return c.state(ctx, http.MethodPost, apiSetup, map[string]string{"username": username, "pin": pin})
}

func (c *Client) Unlock(ctx context.Context, pin string) (lock.State, error) {
	return c.state(ctx, http.MethodPost, apiUnlock, map[string]string{"pin": pin})
}

func (c *Client) Lock(ctx context.Context) (lock.State, error) {
	return c.state(ctx, http.MethodPost, apiLock, nil)
}

func (c *Client) LockImmediate(ctx context.Context) (lock.State, error) {
	return c.state(ctx, http.MethodPost, apiImmediate, nil)
}

func (c *Client) Activity(ctx context.Context, sig lock.Signal) (lock.State, error) {
	return c.state(ctx, http.MethodPost, apiActivity, map[string]string{"kind": sig.String()})
}

// SetTimeout stores a new idle timeout and returns the one in effect.
func (c *Client) SetTimeout(ctx context.Context, minutes int) (time.Duration, error) {
	var resp struct {
		LockAfterMs int64 `json:"lockAfterMs"`
	}
	if err := c.do(ctx, http.MethodPut, apiTimeout, map[string]int{"minutes": minutes}, &resp); err != nil {
		return 0, err
	}
	return time.Duration(resp.LockAfterMs) * time.Millisecond, nil
}

func (c *Client) CloseTab(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, apiTab, nil, nil)
}

func (c *Client) SignOut(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, apiSignOut, nil, nil)
}

func (c *Client) Audit(ctx context.Context, limit int) ([]models.AuditEvent, error) {
	q := url.Values{"limit": []string{strconv.Itoa(limit)}}
	var events []models.AuditEvent
	if err := c.do(ctx, http.MethodGet, apiAudit+"?"+q.Encode(), nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *Client) state(ctx context.Context, method, path string, body any) (lock.State, error) {
	var st lock.State
	err := c.do(ctx, method, path, body, &st)
	return st, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(tabHeader, c.tabID)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var e struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = string(bytes.TrimSpace(data))
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
