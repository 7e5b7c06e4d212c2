package ari

import (
	"bytes"
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

	"github.com/antoniostano/ivrsat/internal/reliability"
)

// ErrStatus matches every *StatusError via errors.Is.
var ErrStatus = errors.New("ari: unexpected status")

// StatusError is returned when Asterisk answers a REST call with a non-2xx code.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("ari %s %s: status %d", e.Method, e.Path, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *StatusError) Is(target error) bool { return target == ErrStatus }

// Temporary reports whether the same request may succeed later.
func (e *StatusError) Temporary() bool { return reliability.IsRetryableHTTPStatus(e.StatusCode) }

// IsNotFound reports whether err is a 404 from ARI, e.g. a channel that hung up.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

type ClientConfig struct {
	// BaseURL is the ARI root, e.g. http://asterisk:8088/ari.
	BaseURL     string
	Username    string
	Password    string
	Application string
	InsecureTLS bool
	Timeout     time.Duration
}

// Client speaks the Asterisk REST Interface over HTTP.
type Client struct {
	base     *url.URL
	username string
	password string
	app      string
	http     *http.Client
	insecure bool
}

func NewClient(cfg ClientConfig) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if raw == "" {
		return nil, errors.New("ari base url is required")
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse ARI_URL: %w", err)
	}
	switch strings.ToLower(base.Scheme) {
	case "http", "https":
	default:
		return nil, fmt.Errorf("ARI_URL must use http or https, got %q", base.Scheme)
	}
	if strings.TrimSpace(cfg.Application) == "" {
		return nil, errors.New("ari application name is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // self-signed PBX certificates
	}
	return &Client{
		base:     base,
		username: cfg.Username,
		password: cfg.Password,
		app:      cfg.Application,
		insecure: cfg.InsecureTLS,
		http:     &http.Client{Timeout: timeout, Transport: transport},
	}, nil
}

func (c *Client) Application() string { return c.app }

// do issues one REST call. A nil out discards the response body.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	body, err := c.send(ctx, method, path, query)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("ari %s %s: decode response: %w", method, path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ari %s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: res.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("ari %s %s: read response: %w", method, path, err)
	}
	return body, nil
}
