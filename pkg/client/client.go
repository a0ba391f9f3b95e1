// Package client is the HTTP client for a unitherd serve instance. The
// CLI uses it when --api-url is given; it is also usable on its own for
// operator tooling.
package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Client talks to a running unitherd API server.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL  string // e.g. "http://localhost:8420/unitherd"
	Timeout  time.Duration
	Logger   *slog.Logger // optional logger for client operations
	TLS      *TLSConfig
	Insecure bool // skip TLS verification
}

// TLSConfig holds TLS configuration for the client.
type TLSConfig struct {
	Enabled    bool
	CACert     string // CA certificate file path
	ClientCert string // client certificate file
	ClientKey  string // client private key file
	ServerName string // server name for verification
	SkipVerify bool
}

// DefaultBaseURL matches the serve command's default listen address and
// base path.
const DefaultBaseURL = "http://127.0.0.1:8420/unitherd"

// DefaultConfig returns a config pointed at a local serve instance.
func DefaultConfig() Config {
	return Config{
		BaseURL: DefaultBaseURL,
		Timeout: 10 * time.Second,
	}
}

// New creates a unitherd API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if (config.TLS != nil && config.TLS.Enabled) || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// IsReachable checks whether the server is running and answering.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("server unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Status returns one row per unit the server knows about.
func (c *Client) Status(ctx context.Context) ([]UnitStatus, error) {
	var rows []UnitStatus
	if err := c.getJSON(ctx, c.baseURL+"/status", &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Start starts one unit, or every declared unit when name is empty.
func (c *Client) Start(ctx context.Context, name string) error {
	return c.post(ctx, c.unitsURL("start", name))
}

// Stop stops one unit, or every unit when name is empty.
func (c *Client) Stop(ctx context.Context, name string) error {
	return c.post(ctx, c.unitsURL("stop", name))
}

// Restart restarts one unit, or every unit when name is empty.
func (c *Client) Restart(ctx context.Context, name string) error {
	return c.post(ctx, c.unitsURL("restart", name))
}

// Reload reconciles declared against live units on the server.
func (c *Client) Reload(ctx context.Context) error {
	return c.post(ctx, c.baseURL+"/reload")
}

// Logs returns the last n lines of one unit's log stream.
func (c *Client) Logs(ctx context.Context, name string, lines int) ([]string, error) {
	u := c.baseURL + "/logs?name=" + url.QueryEscape(name)
	if lines > 0 {
		u += "&lines=" + strconv.Itoa(lines)
	}
	var out LogsResponse
	if err := c.getJSON(ctx, u, &out); err != nil {
		return nil, err
	}
	return out.Lines, nil
}

func (c *Client) unitsURL(verb, name string) string {
	u := c.baseURL + "/units/" + verb
	if name != "" {
		u += "?name=" + url.QueryEscape(name)
	}
	return u
}

func (c *Client) post(ctx context.Context, u string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	return c.checkResponse(resp)
}

func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if err := c.checkResponse(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) checkResponse(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	var er ErrorResponse
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(body, &er); err != nil || er.Error == "" {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return fmt.Errorf("API error: %s", er.Error)
}

// setupClientTLS configures TLS settings for the HTTP transport.
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}

	if config.TLS != nil {
		if config.TLS.SkipVerify {
			tlsConfig.InsecureSkipVerify = true
		}
		if config.TLS.ServerName != "" {
			tlsConfig.ServerName = config.TLS.ServerName
		}
		if config.TLS.CACert != "" {
			if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
				return nil, fmt.Errorf("failed to load CA certificate: %w", err)
			}
		}
		if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("failed to load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
	}

	return tlsConfig, nil
}

func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}
	tlsConfig.RootCAs = pool
	return nil
}
