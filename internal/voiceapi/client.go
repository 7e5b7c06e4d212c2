// Package voiceapi is the client for the speech service that extracts plates
// and ticket numbers from recordings and synthesizes Spanish prompts.
package voiceapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/antoniostano/ivrsat/internal/reliability"
)

// PlateTranscript is the /stt response.
type PlateTranscript struct {
	Success bool   `json:"success"`
	Plate   string `json:"plate"`
	RawText string `json:"raw_text"`
}

// Transcript is the /speech_to_text/transcribe response.
type Transcript struct {
	Success      bool   `json:"success"`
	Raw          string `json:"raw"`
	Confirmation *bool  `json:"confirmation,omitempty"`
}

// StatusError reports a non-2xx answer from the speech service.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("voice api %s: HTTP %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

func (e *StatusError) Temporary() bool { return reliability.IsRetryableHTTPStatus(e.StatusCode) }

type Client struct {
	baseURL string
	client  *http.Client
}

func New(baseURL string, timeout time.Duration) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("voice api url is required")
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{baseURL: baseURL, client: &http.Client{Timeout: timeout}}, nil
}

// STT extracts a plate from a recording.
func (c *Client) STT(ctx context.Context, wav []byte) (PlateTranscript, error) {
	var out PlateTranscript
	body, ct, err := audioForm(wav)
	if err != nil {
		return out, err
	}
	err = c.postJSON(ctx, "stt", body, ct, &out)
	return out, err
}

// Transcribe returns the raw transcription, used for ticket numbers.
func (c *Client) Transcribe(ctx context.Context, wav []byte) (Transcript, error) {
	var out Transcript
	body, ct, err := audioForm(wav)
	if err != nil {
		return out, err
	}
	err = c.postJSON(ctx, "speech_to_text/transcribe", body, ct, &out)
	return out, err
}

// TTS synthesizes text and returns the audio bytes as served.
func (c *Client) TTS(ctx context.Context, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("tts text is empty")
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("text", text); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	out, err := c.post(ctx, "tts", &body, mw.FormDataContentType(), 16<<20)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.New("voice api tts: empty audio")
	}
	return out, nil
}

func audioForm(wav []byte) (*bytes.Buffer, string, error) {
	if len(wav) == 0 {
		return nil, "", errors.New("audio payload is empty")
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("audio", "recording.wav")
	if err != nil {
		_ = mw.Close()
		return nil, "", err
	}
	if _, err := fw.Write(wav); err != nil {
		_ = mw.Close()
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &body, mw.FormDataContentType(), nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, body io.Reader, contentType string, out any) error {
	b, err := c.post(ctx, endpoint, body, contentType, 1<<20)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("voice api %s: decode response: %w", endpoint, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, endpoint string, body io.Reader, contentType string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("voice api %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("voice api %s: read response: %w", endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := strings.TrimSpace(string(b))
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		return nil, &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: snippet}
	}
	return b, nil
}
