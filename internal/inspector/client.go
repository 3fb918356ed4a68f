// Package inspector talks to the traffic inspector's HTTP control surface.
package inspector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal inspector API client.
//
// Only /status and /configure are used; the log feed is consumed by the
// feed package over WebSocket.
type Client struct {
	BaseURL *url.URL
	HTTP    *http.Client
}

// NewClient constructs an inspector client.
func NewClient(base string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse inspector url: %w", err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		BaseURL: u,
		HTTP: &http.Client{
			Timeout: timeout,
			// /configure answers with a redirect to the dashboard page.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	return c, nil
}

// Status is the response from GET /status.
type Status struct {
	ServerStatus string `json:"serverStatus"`
	LocalhostURL string `json:"localhostURL"`
	ZrokURL      string `json:"zrokURL"`
}

// BackendActive reports whether the inspector sees its backend as up.
func (s Status) BackendActive() bool {
	return strings.EqualFold(s.ServerStatus, "active")
}

// Status fetches the inspector status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	u := c.resolve("/status")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Status{}, err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Status{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		buf, _ := ioReadAllLimit(resp.Body, 64*1024)
		return Status{}, fmt.Errorf("/status status %d: %s", resp.StatusCode, strings.TrimSpace(string(buf)))
	}

	var out Status
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Status{}, fmt.Errorf("decode /status: %w", err)
	}
	return out, nil
}

// ConfigureRequest selects the backend port the inspector proxies to and
// the optional public tunnel settings.
type ConfigureRequest struct {
	Port       int    `json:"port"`
	ZrokOption string `json:"zrok_option,omitempty"`
	ZrokToken  string `json:"zrok_token,omitempty"`
	ZrokPort   int    `json:"zrok_port,omitempty"`
}

// Validate checks the request before it is forwarded.
func (r ConfigureRequest) Validate() error {
	if r.Port < 1 || r.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if r.ZrokPort < 0 || r.ZrokPort > 65535 {
		return fmt.Errorf("zrok_port must be between 0 and 65535")
	}
	return nil
}

// Configure forwards a configuration form to POST /configure.
func (c *Client) Configure(ctx context.Context, cr ConfigureRequest) error {
	if err := cr.Validate(); err != nil {
		return err
	}

	form := url.Values{}
	form.Set("port", strconv.Itoa(cr.Port))
	if cr.ZrokOption != "" {
		form.Set("zrok_option", cr.ZrokOption)
	}
	if cr.ZrokToken != "" {
		form.Set("zrok_token", cr.ZrokToken)
	}
	if cr.ZrokPort > 0 {
		form.Set("zrok_port", strconv.Itoa(cr.ZrokPort))
	}

	u := c.resolve("/configure")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		buf, _ := ioReadAllLimit(resp.Body, 64*1024)
		return fmt.Errorf("/configure status %d: %s", resp.StatusCode, strings.TrimSpace(string(buf)))
	}
	return nil
}

func (c *Client) resolve(path string) string {
	base := *c.BaseURL
	base.Path = strings.TrimRight(base.Path, "/") + path
	return base.String()
}

func ioReadAllLimit(r io.Reader, max int64) ([]byte, error) {
	buf := &bytes.Buffer{}
	if max <= 0 {
		return io.ReadAll(r)
	}
	_, err := io.CopyN(buf, r, max+1)
	if err != nil && err != io.EOF {
		return nil, err
	}
	b := buf.Bytes()
	if int64(len(b)) > max {
		return b[:max], nil
	}
	return b, nil
}
