// Package kernel connects to kernels managed by a Jupyter Server.
//
// Client covers the REST lifecycle calls (start, restart, shut down). Session
// holds one kernel's channels websocket open; it submits execute requests and
// exposes iopub traffic as a protocol.Channel.
package kernel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultKernelName is the kernelspec started when none is given.
const DefaultKernelName = "python3"

// Client is a Jupyter Server kernels API client.
type Client struct {
	baseURL    *url.URL
	token      string
	username   string
	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     *slog.Logger
}

// Info describes a running kernel.
type Info struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ExecutionState string `json:"execution_state"`
	Connections    int    `json:"connections"`
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithToken authenticates every request with a server token.
func WithToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// WithHTTPClient replaces the HTTP client used for REST calls.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger for connection events.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithUsername sets the username stamped on message headers.
func WithUsername(name string) ClientOption {
	return func(c *Client) {
		c.username = name
	}
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server url %q: scheme must be http or https", baseURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")

	c := &Client{
		baseURL:  u,
		username: "validate-nb",
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c, nil
}

// StartKernel starts a kernel of the named kernelspec.
func (c *Client) StartKernel(ctx context.Context, name string) (*Info, error) {
	if name == "" {
		name = DefaultKernelName
	}
	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	var info Info
	if err := c.do(ctx, http.MethodPost, "/api/kernels", body, &info, http.StatusCreated, http.StatusOK); err != nil {
		return nil, fmt.Errorf("start kernel %s: %w", name, err)
	}
	if info.ID == "" {
		return nil, fmt.Errorf("start kernel %s: server returned no kernel id", name)
	}
	c.logger.Info("kernel started", "kernel_id", info.ID, "name", info.Name)
	return &info, nil
}

// Restart restarts a kernel, discarding its state.
func (c *Client) Restart(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodPost, "/api/kernels/"+url.PathEscape(id)+"/restart", nil, nil, http.StatusOK); err != nil {
		return fmt.Errorf("restart kernel %s: %w", id, err)
	}
	c.logger.Info("kernel restarted", "kernel_id", id)
	return nil
}

// Shutdown stops a kernel.
func (c *Client) Shutdown(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/api/kernels/"+url.PathEscape(id), nil, nil, http.StatusNoContent, http.StatusOK); err != nil {
		return fmt.Errorf("shut down kernel %s: %w", id, err)
	}
	c.logger.Info("kernel shut down", "kernel_id", id)
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any, want ...int) error {
	u := *c.baseURL
	u.Path += path

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(req.Header)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if !statusIn(resp.StatusCode, want) {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) authorize(h http.Header) {
	if c.token != "" {
		h.Set("Authorization", "token "+c.token)
	}
}

func (c *Client) channelsURL(kernelID, sessionID string) string {
	u := *c.baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/api/kernels/" + url.PathEscape(kernelID) + "/channels"
	u.RawQuery = url.Values{"session_id": {sessionID}}.Encode()
	return u.String()
}

func statusIn(code int, want []int) bool {
	for _, w := range want {
		if code == w {
			return true
		}
	}
	return false
}
