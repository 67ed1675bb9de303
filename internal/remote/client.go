// Package remote implements the client side of the sync/flush endpoint
// contract: a single POST-able JSON endpoint that accepts bulkImport
// batches, direct per-action posts, and collection pulls.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/tillworks/possync/internal/errors"
)

// Item is one queued action in a bulkImport batch.
type Item struct {
	ID      string          `json:"id"`
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
	TS      int64           `json:"ts"`
}

// Client talks to the remote sync endpoint.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client (used by tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a remote client for the given base URL. The token,
// if non-empty, is sent as a bearer Authorization header.
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether a remote endpoint has been set.
func (c *Client) Configured() bool {
	return c != nil && c.baseURL != ""
}

// post sends a JSON body and returns the raw response bytes. Non-2xx
// responses are surfaced as TRANSPORT_FAILURE (or REMOTE_AUTH_FAILED for
// 401/403) carrying the raw response text for diagnostics.
func (c *Client) post(ctx context.Context, body interface{}) ([]byte, error) {
	if !c.Configured() {
		return nil, apperrors.New(apperrors.ErrTransportFailure, "remote endpoint is not configured")
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(encoded))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrTransportFailure, "remote request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrTransportFailure, "failed to read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		code := apperrors.ErrTransportFailure
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			code = apperrors.ErrRemoteAuthFailed
		}
		return nil, apperrors.New(code,
			fmt.Sprintf("remote returned %d: %s", resp.StatusCode, string(raw)))
	}
	return raw, nil
}

// BulkImport submits a batch of queued actions and returns the ids the
// remote acknowledged. An empty ack list on a 2xx response means the
// remote does not implement bulk semantics; the caller falls back to
// per-item delivery.
func (c *Client) BulkImport(ctx context.Context, items []Item) ([]string, error) {
	raw, err := c.post(ctx, map[string]interface{}{
		"action": "bulkImport",
		"items":  items,
	})
	if err != nil {
		return nil, err
	}

	var resp struct {
		AckIDs []string `json:"ackIds"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		// A 2xx with an unparseable body is treated like an empty ack.
		return nil, nil
	}
	return resp.AckIDs, nil
}

// Post delivers a single action, merging the action name into the
// payload object: {"action": <name>, ...payload}.
func (c *Client) Post(ctx context.Context, action string, payload json.RawMessage) error {
	body := map[string]json.RawMessage{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &body); err != nil {
			return apperrors.Wrap(apperrors.ErrValidation, "payload is not a JSON object", err)
		}
	}
	actionJSON, _ := json.Marshal(action)
	body["action"] = actionJSON

	_, err := c.post(ctx, body)
	return err
}

// FetchCollection pulls an authoritative collection listing. Rows come
// back as loose field maps so the cache layer can do field-level merges.
func (c *Client) FetchCollection(ctx context.Context, action string) ([]map[string]json.RawMessage, error) {
	raw, err := c.post(ctx, map[string]interface{}{"action": action})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Items []map[string]json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrTransportFailure, "failed to decode collection", err)
	}
	return resp.Items, nil
}
