package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	statusTimeout = 10 * time.Second
	maxStatusBody = 1 << 20
	maxMetrics    = 4 << 20
)

// ErrNoHTTPEndpoint is returned when a target has no HTTP equivalent, as
// with a bare socket path.
var ErrNoHTTPEndpoint = errors.New("client: target has no http endpoint")

// Status mirrors the daemon's /status document.
type Status struct {
	Version   string    `json:"version"`
	Listen    string    `json:"listen"`
	Socket    string    `json:"socket"`
	StartedAt time.Time `json:"startedAt"`
	Uptime    string    `json:"uptime"`
	Peers     int       `json:"peers"`
	Languages []string  `json:"languages,omitempty"`
}

// StatusClient reads the daemon's HTTP side: /healthz, /status and /metrics.
type StatusClient struct {
	http *http.Client
	base string
}

// NewStatusClient accepts an http(s) or ws(s) URL or a bare host:port.
func NewStatusClient(target string, tlsConfig *tls.Config) (*StatusClient, error) {
	base, err := httpBaseURL(target)
	if err != nil {
		return nil, err
	}
	hc := &http.Client{Timeout: statusTimeout}
	if tlsConfig != nil {
		hc.Transport = &http.Transport{TLSClientConfig: tlsConfig}
	}
	return &StatusClient{http: hc, base: base}, nil
}

func (c *StatusClient) BaseURL() string { return c.base }

func (c *StatusClient) Health(ctx context.Context) error {
	if _, err := c.fetch(ctx, "/healthz", maxStatusBody); err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	return nil
}

func (c *StatusClient) Status(ctx context.Context) (Status, error) {
	var st Status
	body, err := c.fetch(ctx, "/status", maxStatusBody)
	if err != nil {
		return st, fmt.Errorf("fetch status: %w", err)
	}
	if err := json.Unmarshal(body, &st); err != nil {
		return st, fmt.Errorf("decode status: %w", err)
	}
	return st, nil
}

// Metrics returns the Prometheus text exposition unparsed.
func (c *StatusClient) Metrics(ctx context.Context) (string, error) {
	body, err := c.fetch(ctx, "/metrics", maxMetrics)
	if err != nil {
		return "", fmt.Errorf("fetch metrics: %w", err)
	}
	return string(body), nil
}

func (c *StatusClient) fetch(ctx context.Context, path string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		if msg := strings.TrimSpace(string(body)); msg != "" {
			return nil, fmt.Errorf("%s: %s", resp.Status, msg)
		}
		return nil, errors.New(resp.Status)
	}
	return body, nil
}

// httpBaseURL maps a daemon target onto the root of its HTTP listener.
func httpBaseURL(target string) (string, error) {
	target = strings.TrimSpace(target)
	if !strings.Contains(target, "://") {
		if strings.HasPrefix(target, "/") || !strings.Contains(target, ":") {
			return "", ErrNoHTTPEndpoint
		}
		target = "http://" + target
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("client: parse %q: %w", target, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "http":
		u.Scheme = "http"
	case "wss", "https":
		u.Scheme = "https"
	default:
		return "", ErrNoHTTPEndpoint
	}
	u.Path, u.RawQuery, u.Fragment = "", "", ""
	return u.String(), nil
}
