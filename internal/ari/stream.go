package ari

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// EventStream is one open ARI events connection.
type EventStream interface {
	// ReadMessage blocks for the next text frame.
	ReadMessage() ([]byte, error)
	// Ping sends a keep-alive ping; a failure means the connection is gone.
	Ping(timeout time.Duration) error
	// LastActivity reports when the peer was last heard from.
	LastActivity() time.Time
	Close() error
}

// DialFunc opens a new event stream.
type DialFunc func(ctx context.Context) (EventStream, error)

// EventsURL derives the websocket URL from the REST base URL.
func (c *Client) EventsURL() string {
	u := *c.base
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/events"
	q := url.Values{}
	q.Set("api_key", c.username+":"+c.password)
	q.Set("app", c.app)
	u.RawQuery = q.Encode()
	return u.String()
}

// DialEvents connects to the ARI events websocket for this application.
func (c *Client) DialEvents(ctx context.Context) (EventStream, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}
	if c.insecure {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // self-signed PBX certificates
	}
	conn, resp, err := dialer.DialContext(ctx, c.EventsURL(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("ari events dial failed (%s): %w", resp.Status, err)
		}
		return nil, fmt.Errorf("ari events dial failed: %w", err)
	}
	s := &wsStream{conn: conn}
	s.touch()
	// Control frames are only processed while ReadMessage is running.
	conn.SetPongHandler(func(string) error {
		s.touch()
		return nil
	})
	conn.SetPingHandler(func(data string) error {
		s.touch()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	return s, nil
}

type wsStream struct {
	conn     *websocket.Conn
	lastSeen atomic.Int64
}

func (s *wsStream) touch() { s.lastSeen.Store(time.Now().UnixNano()) }

func (s *wsStream) LastActivity() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

func (s *wsStream) ReadMessage() ([]byte, error) {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		s.touch()
		if msgType == websocket.TextMessage {
			return data, nil
		}
	}
}

func (s *wsStream) Ping(timeout time.Duration) error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout))
}

func (s *wsStream) Close() error {
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return s.conn.Close()
}
