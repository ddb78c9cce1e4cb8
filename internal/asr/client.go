package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Result is one recognition outcome. Confidence is nil when the engine does
// not report one.
type Result struct {
	Text       string
	Language   string
	Confidence *float64
}

// Recognizer turns a WAV payload into text. Implementations may block for
// seconds and must honor ctx cancellation where they can.
type Recognizer interface {
	Transcribe(ctx context.Context, wav []byte, language string) (Result, error)
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 120 * time.Second},
	}
}

type Resp struct {
	Text       string   `json:"text"`
	Language   string   `json:"language,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Transcribe posts a WAV file to the recognition service. An empty language
// lets the service detect it.
func (c *Client) Transcribe(ctx context.Context, wav []byte, language string) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/transcribe", bytes.NewReader(wav))
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav")
	if language != "" {
		req.Header.Set("x-language", language)
	}

	res, err := c.HTTP.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("do request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return Result{}, fmt.Errorf("asr status: %s: %s", res.Status, strings.TrimSpace(string(body)))
	}

	var r Resp
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}
	if r.Language == "" {
		r.Language = language
	}
	return Result{
		Text:       strings.TrimSpace(r.Text),
		Language:   r.Language,
		Confidence: r.Confidence,
	}, nil
}
