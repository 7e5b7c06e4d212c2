package ari

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/ivrsat/internal/protocol"
)

// RecordParams mirrors the query string of POST /channels/{id}/record.
type RecordParams struct {
	Name        string
	Format      string
	MaxDuration time.Duration
	MaxSilence  time.Duration
	Beep        bool
	IfExists    string
	TerminateOn string
}

func (p RecordParams) query() url.Values {
	q := url.Values{}
	q.Set("name", p.Name)
	format := p.Format
	if format == "" {
		format = "wav"
	}
	q.Set("format", format)
	if p.MaxDuration > 0 {
		q.Set("maxDurationSeconds", strconv.Itoa(int(p.MaxDuration/time.Second)))
	}
	if p.MaxSilence > 0 {
		q.Set("maxSilenceSeconds", strconv.Itoa(int(p.MaxSilence/time.Second)))
	}
	q.Set("beep", strconv.FormatBool(p.Beep))
	if p.IfExists != "" {
		q.Set("ifExists", p.IfExists)
	}
	if p.TerminateOn != "" {
		q.Set("terminateOn", p.TerminateOn)
	}
	return q
}

// Location is a dialplan position. The zero value continues at the next
// priority of wherever the channel entered Stasis.
type Location struct {
	Context   string
	Extension string
	Priority  int
}

func (l Location) IsZero() bool { return l == Location{} }

func (l Location) String() string {
	if l.IsZero() {
		return "next"
	}
	return fmt.Sprintf("%s,%s,%d", l.Context, l.Extension, l.Priority)
}

type Playback struct {
	ID       string `json:"id"`
	MediaURI string `json:"media_uri"`
	State    string `json:"state"`
}

type Bridge struct {
	ID         string   `json:"id"`
	Technology string   `json:"technology"`
	BridgeType string   `json:"bridge_type"`
	Name       string   `json:"name"`
	Channels   []string `json:"channels"`
}

type Endpoint struct {
	Technology string   `json:"technology"`
	Resource   string   `json:"resource"`
	State      string   `json:"state"`
	ChannelIDs []string `json:"channel_ids"`
}

func channelPath(channelID string, rest ...string) string {
	p := "/channels/" + url.PathEscape(channelID)
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

func (c *Client) Record(ctx context.Context, channelID string, p RecordParams) (protocol.LiveRecording, error) {
	if strings.TrimSpace(p.Name) == "" {
		return protocol.LiveRecording{}, fmt.Errorf("record %s: recording name is required", channelID)
	}
	var rec protocol.LiveRecording
	err := c.do(ctx, http.MethodPost, channelPath(channelID, "record"), p.query(), &rec)
	return rec, err
}

// Play starts media (e.g. "sound:ivrsat/abc") on the channel with a fresh
// playback id.
func (c *Client) Play(ctx context.Context, channelID, media string) (Playback, error) {
	q := url.Values{}
	q.Set("media", media)
	var pb Playback
	err := c.do(ctx, http.MethodPost, channelPath(channelID, "play", uuid.NewString()), q, &pb)
	return pb, err
}

// Continue hands the channel back to the dialplan at loc.
func (c *Client) Continue(ctx context.Context, channelID string, loc Location) error {
	q := url.Values{}
	if !loc.IsZero() {
		q.Set("context", loc.Context)
		q.Set("extension", loc.Extension)
		q.Set("priority", strconv.Itoa(loc.Priority))
	}
	return c.do(ctx, http.MethodPost, channelPath(channelID, "continue"), q, nil)
}

func (c *Client) Hangup(ctx context.Context, channelID string) error {
	return c.do(ctx, http.MethodDelete, channelPath(channelID), nil, nil)
}

// Snoop creates a spy channel on channelID that enters this application.
func (c *Client) Snoop(ctx context.Context, channelID, spy, whisper string) (protocol.Channel, error) {
	q := url.Values{}
	q.Set("app", c.app)
	q.Set("snoopId", "snoop_"+uuid.NewString())
	if spy != "" {
		q.Set("spy", spy)
	}
	if whisper == "" {
		whisper = "out"
	}
	q.Set("whisper", whisper)
	var ch protocol.Channel
	err := c.do(ctx, http.MethodPost, channelPath(channelID, "snoop"), q, &ch)
	return ch, err
}

// StoredRecordingFile downloads the finished recording's audio.
func (c *Client) StoredRecordingFile(ctx context.Context, name string) ([]byte, error) {
	return c.send(ctx, http.MethodGet, "/recordings/stored/"+url.PathEscape(name)+"/file", nil)
}

func (c *Client) DeleteStoredRecording(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/recordings/stored/"+url.PathEscape(name), nil, nil)
}

func (c *Client) Channels(ctx context.Context) ([]protocol.Channel, error) {
	var out []protocol.Channel
	err := c.do(ctx, http.MethodGet, "/channels", nil, &out)
	return out, err
}

func (c *Client) Bridges(ctx context.Context) ([]Bridge, error) {
	var out []Bridge
	err := c.do(ctx, http.MethodGet, "/bridges", nil, &out)
	return out, err
}

func (c *Client) Endpoints(ctx context.Context) ([]Endpoint, error) {
	var out []Endpoint
	err := c.do(ctx, http.MethodGet, "/endpoints", nil, &out)
	return out, err
}

// AsteriskInfo returns /asterisk/info unparsed; its shape varies by version.
func (c *Client) AsteriskInfo(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodGet, "/asterisk/info", nil, &out)
	return out, err
}
