// Package sat is the client for the tax authority's saldomatico API.
package sat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/antoniostano/ivrsat/internal/reliability"
)

var ErrNotFound = errors.New("sat: record not found")

// Ticket is one traffic ticket (papeleta) as returned by saldomatico.
type Ticket struct {
	ID             int     `json:"id"`
	GroupID        int     `json:"idgrupo"`
	Concept        string  `json:"concepto"`
	Reference      string  `json:"referencia"`
	Year           string  `json:"ano"`
	Installment    string  `json:"cuota"`
	Document       string  `json:"documento"`
	DueDate        string  `json:"fechavencimiento"`
	Amount         float64 `json:"monto"`
	Status         string  `json:"estado"`
	Plate          string  `json:"placa"`
	Infraction     string  `json:"falta"`
	Regulation     string  `json:"reglamento"`
	InfractionDate string  `json:"fechainfraccion"`
	ConceptID      int     `json:"idconcepto"`
	CCU            string  `json:"ccu"`
}

// DebtItem is one line of a taxpayer's pending debt.
type DebtItem struct {
	Concept     string  `json:"concepto"`
	Year        string  `json:"ano"`
	Installment string  `json:"cuota"`
	Amount      float64 `json:"monto"`
}

type StatusError struct {
	Path       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("sat %s: HTTP %d", e.Path, e.StatusCode)
}

func (e *StatusError) Temporary() bool { return reliability.IsRetryableHTTPStatus(e.StatusCode) }

type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	Realm        string
	// ClientIP is sent as the IP header on plate lookups.
	ClientIP string
	Timeout  time.Duration
}

type token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type Client struct {
	cfg    Config
	client *http.Client
	now    func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func New(cfg Config) (*Client, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, errors.New("sat url is required")
	}
	if cfg.Realm == "" {
		cfg.Realm = "sat-mobiles"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}, now: time.Now}, nil
}

// TicketsByPlate lists every ticket registered against plate. An empty list
// means the plate has no tickets; a 404 is ErrNotFound.
func (c *Client) TicketsByPlate(ctx context.Context, plate string) ([]Ticket, error) {
	var out []Ticket
	headers := http.Header{}
	if c.cfg.ClientIP != "" {
		headers.Set("IP", c.cfg.ClientIP)
	}
	if err := c.get(ctx, "/saldomatico/saldomatico/3/"+url.PathEscape(plate)+"/0/10/11", headers, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Ticket looks up one ticket by its document number. The endpoint answers
// with either an object or a one-element list.
func (c *Client) Ticket(ctx context.Context, number string) (Ticket, error) {
	var raw json.RawMessage
	if err := c.get(ctx, "/saldomatico/papeleta/"+url.PathEscape(number), nil, &raw); err != nil {
		return Ticket{}, err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Ticket{}, ErrNotFound
	}
	if raw[0] == '[' {
		var list []Ticket
		if err := json.Unmarshal(raw, &list); err != nil {
			return Ticket{}, fmt.Errorf("sat ticket: decode: %w", err)
		}
		if len(list) == 0 {
			return Ticket{}, ErrNotFound
		}
		return list[0], nil
	}
	var t Ticket
	if err := json.Unmarshal(raw, &t); err != nil {
		return Ticket{}, fmt.Errorf("sat ticket: decode: %w", err)
	}
	if t.Document == "" {
		return Ticket{}, ErrNotFound
	}
	return t, nil
}

// Debt returns the pending tax debt for a taxpayer code of the given type.
func (c *Client) Debt(ctx context.Context, code, kind string) ([]DebtItem, error) {
	var out []DebtItem
	err := c.get(ctx, "/saldomatico/deuda/"+url.PathEscape(kind)+"/"+url.PathEscape(code), nil, &out)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, headers http.Header, out any) error {
	tok, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, v := range headers {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sat %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized:
		c.invalidateToken()
		return &StatusError{Path: path, StatusCode: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		return &StatusError{Path: path, StatusCode: resp.StatusCode}
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(out); err != nil {
		return fmt.Errorf("sat %s: decode: %w", path, err)
	}
	return nil
}

// accessToken logs in with the password grant and reuses the token until
// shortly before it expires.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.expiresAt) {
		return c.token, nil
	}

	body, err := json.Marshal(map[string]string{
		"client_id":     c.cfg.ClientID,
		"client_secret": c.cfg.ClientSecret,
		"usuario":       c.cfg.Username,
		"clave":         c.cfg.Password,
		"realm":         c.cfg.Realm,
		"grant_type":    "password",
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/auth/v2/login", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sat login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Path: "/auth/v2/login", StatusCode: resp.StatusCode}
	}
	var tok token
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&tok); err != nil {
		return "", fmt.Errorf("sat login: decode: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("sat login: empty access token")
	}

	ttl := time.Duration(tok.ExpiresIn)*time.Second - 30*time.Second
	if ttl < 0 {
		ttl = 0
	}
	c.token = tok.AccessToken
	c.expiresAt = c.now().Add(ttl)
	return c.token, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}
