package translate

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

// Result is a translated text plus the source language the engine settled on.
type Result struct {
	Text           string
	DetectedSource string
}

type Translator interface {
	TranslateWithSource(ctx context.Context, text, sourceLang, targetLang string) (Result, error)
}

// AutoDetect asks the engine to detect the source language.
const AutoDetect = "auto"

var languageCodes = map[string]string{
	"english":    "en",
	"spanish":    "es",
	"french":     "fr",
	"german":     "de",
	"italian":    "it",
	"portuguese": "pt",
	"russian":    "ru",
	"japanese":   "ja",
	"korean":     "ko",
	"chinese":    "zh",
	"arabic":     "ar",
	"hindi":      "hi",
}

// NormalizeLanguage maps a language name or code to a lowercase ISO 639-1 code.
func NormalizeLanguage(lang string) string {
	l := strings.ToLower(strings.TrimSpace(lang))
	if code, ok := languageCodes[l]; ok {
		return code
	}
	return l
}

// Stub is the development translator used when no service is configured.
type Stub struct{}

func (Stub) TranslateWithSource(_ context.Context, text, sourceLang, targetLang string) (Result, error) {
	source := NormalizeLanguage(sourceLang)
	if strings.TrimSpace(text) == "" {
		return Result{Text: text, DetectedSource: source}, nil
	}
	return Result{
		Text:           "[" + NormalizeLanguage(targetLang) + "] " + text,
		DetectedSource: source,
	}, nil
}

// HTTPTranslator calls a translation service over HTTP
type HTTPTranslator struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewHTTPTranslator(baseURL string) *HTTPTranslator {
	return &HTTPTranslator{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type translateRequest struct {
	Text       string `json:"text"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
}

type translateResponse struct {
	Translation            string `json:"translation"`
	DetectedSourceLanguage string `json:"detected_source_language,omitempty"`
}

func (h *HTTPTranslator) TranslateWithSource(ctx context.Context, text, sourceLang, targetLang string) (Result, error) {
	source := NormalizeLanguage(sourceLang)
	target := NormalizeLanguage(targetLang)
	if source == "" {
		source = AutoDetect
	}

	if strings.TrimSpace(text) == "" {
		return Result{Text: text, DetectedSource: source}, nil
	}
	if source == target {
		return Result{Text: text, DetectedSource: source}, nil
	}

	body, err := json.Marshal(translateRequest{
		Text:       text,
		SourceLang: source,
		TargetLang: target,
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL+"/translate", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := h.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, fmt.Errorf("translation service returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}

	detected := result.DetectedSourceLanguage
	if detected == "" {
		detected = source
	}
	return Result{Text: result.Translation, DetectedSource: detected}, nil
}
