// Package browser is the gateway to the browser-agent service. It maps
// named actions ("open", "click", ...) onto the agent's HTTP contract and
// is the only component that knows the per-action argument shapes.
package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// UnknownActionError is returned for action names outside the tool set,
// before any request is made.
type UnknownActionError struct {
	Action string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown browser action: %q", e.Action)
}

// UpstreamError wraps a transport failure or non-2xx response from the
// browser-agent, with the action attached.
type UpstreamError struct {
	Action string
	Status int
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("browser %s: %v", e.Action, e.Err)
	}
	return fmt.Sprintf("browser %s: agent returned %d", e.Action, e.Status)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Client is a stateless dispatcher over the browser-agent's /v1/browser/*
// endpoints. The agent owns a single global page; the executor never
// pipelines browser actions within a task, so calls are effectively serial.
type Client struct {
	baseURL string
	client  *http.Client
}

// New creates a browser-agent client. Actions may block for the duration
// of a page load, so the timeout is the configured browser timeout.
func New(agentURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(agentURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) post(ctx context.Context, action, path string, payload map[string]interface{}) (interface{}, error) {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(action, req)
}

func (c *Client) get(ctx context.Context, action, path string) (interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", action, err)
	}
	return c.do(action, req)
}

func (c *Client) do(action string, req *http.Request) (interface{}, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &UpstreamError{Action: action, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{Action: action, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{Action: action, Status: resp.StatusCode}
	}

	var result interface{}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &UpstreamError{Action: action, Err: fmt.Errorf("invalid JSON from agent: %w", err)}
	}
	return result, nil
}

// ── Typed actions (browser-agent API contract) ───────────────

func (c *Client) Open(ctx context.Context, url string) (interface{}, error) {
	return c.post(ctx, "open", "/v1/browser/open", map[string]interface{}{"url": url})
}

func (c *Client) Navigate(ctx context.Context, url string) (interface{}, error) {
	return c.post(ctx, "navigate", "/v1/browser/navigate", map[string]interface{}{"url": url})
}

func (c *Client) Click(ctx context.Context, elementID string) (interface{}, error) {
	return c.post(ctx, "click", "/v1/browser/click", map[string]interface{}{"element_id": elementID})
}

func (c *Client) Type(ctx context.Context, elementID, text string) (interface{}, error) {
	return c.post(ctx, "type", "/v1/browser/type", map[string]interface{}{"element_id": elementID, "text": text})
}

func (c *Client) Extract(ctx context.Context, selector string) (interface{}, error) {
	return c.post(ctx, "extract", "/v1/browser/extract", map[string]interface{}{"selector": selector})
}

func (c *Client) Snapshot(ctx context.Context) (interface{}, error) {
	return c.get(ctx, "snapshot", "/v1/browser/snapshot")
}

func (c *Client) Screenshot(ctx context.Context) (interface{}, error) {
	return c.get(ctx, "screenshot", "/v1/browser/screenshot")
}

func (c *Client) Close(ctx context.Context) (interface{}, error) {
	return c.post(ctx, "close", "/v1/browser/close", nil)
}

// ── Name-based dispatch (used by the executor) ───────────────

// Dispatch resolves an action name to the matching typed call. Unknown
// actions are rejected before any HTTP request is made.
func (c *Client) Dispatch(ctx context.Context, action string, args map[string]interface{}) (interface{}, error) {
	switch action {
	case "open":
		url, err := stringArg(action, args, "url")
		if err != nil {
			return nil, err
		}
		return c.Open(ctx, url)
	case "navigate":
		url, err := stringArg(action, args, "url")
		if err != nil {
			return nil, err
		}
		return c.Navigate(ctx, url)
	case "click":
		id, err := stringArg(action, args, "element_id")
		if err != nil {
			return nil, err
		}
		return c.Click(ctx, id)
	case "type":
		id, err := stringArg(action, args, "element_id")
		if err != nil {
			return nil, err
		}
		text, err := stringArg(action, args, "text")
		if err != nil {
			return nil, err
		}
		return c.Type(ctx, id, text)
	case "extract":
		selector, err := stringArg(action, args, "selector")
		if err != nil {
			return nil, err
		}
		return c.Extract(ctx, selector)
	case "snapshot":
		return c.Snapshot(ctx)
	case "screenshot":
		return c.Screenshot(ctx)
	case "close":
		return c.Close(ctx)
	default:
		return nil, &UnknownActionError{Action: action}
	}
}

// stringArg pulls a required string argument out of the open JSON args.
func stringArg(action string, args map[string]interface{}, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("browser %s: missing argument %q", action, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("browser %s: argument %q must be a string", action, key)
	}
	return s, nil
}
