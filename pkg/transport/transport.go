// Package transport is the HTTP JSON client of the view protocol. Every request
// goes to one base URL resolved when the client is built.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/GeniusPenguin9/Anemo-Slime-UI/pkg/wire"
)

// maxResponseBody caps how much of a response is read (10 MiB).
const maxResponseBody int64 = 10 << 20

type Client struct {
	baseURL *url.URL
	http    *http.Client
	logger  *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New parses baseURL, which must be absolute (scheme and host).
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	c := &Client{baseURL: u, http: http.DefaultClient, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// Post sends in as a JSON body to the path under the base URL and decodes a
// 200 response into out.
func (c *Client) Post(ctx context.Context, op string, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", op, err)
	}
	target := c.baseURL.JoinPath(path).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: op, Cause: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	default:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Cause: fmt.Errorf("unexpected status code: %d", resp.StatusCode)}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Cause: fmt.Errorf("failed to read body: %w", err)}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Cause: ErrEmptyBody}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &DecodeError{Op: op, Cause: err}
	}
	c.logger.Debug("request done", "op", op, "url", target, "bytes", len(raw))
	return nil
}

// LoadView performs POST /api/view/{viewName}.
func (c *Client) LoadView(ctx context.Context, viewName string, in wire.ViewRequest) (*wire.ViewResponse, error) {
	var out wire.ViewResponse
	if err := c.Post(ctx, "load view", wire.ViewPath+"/"+url.PathEscape(viewName), in, &out); err != nil {
		return nil, err
	}
	if err := out.ValidateLoad(); err != nil {
		return nil, &DecodeError{Op: "load view", Cause: err}
	}
	return &out, nil
}

// PostAction performs POST /api/action. The viewmodelId of the response is
// informational; only its widgetsData matters to the caller.
func (c *Client) PostAction(ctx context.Context, in wire.ActionRequest) (*wire.ViewResponse, error) {
	var out wire.ViewResponse
	if err := c.Post(ctx, "post action", wire.ActionPath, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EventsURL is the websocket address of the push channel of a viewmodel.
func (c *Client) EventsURL(viewmodelID string) string {
	u := c.baseURL.JoinPath(wire.EventsPath, url.PathEscape(viewmodelID), "events")
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String()
}
