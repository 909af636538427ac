package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"
)

// GeminiTransport sends prompts through the Gemini API.
type GeminiTransport struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client

	mu     sync.Mutex
	client *genai.Client
}

// NewGeminiTransport builds the transport. The SDK client is created on first
// use because construction needs a context.
func NewGeminiTransport(cfg Config, httpClient *http.Client) *GeminiTransport {
	return &GeminiTransport{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		baseURL:    strings.TrimSpace(cfg.BaseURL),
		httpClient: httpClient,
	}
}

func (t *GeminiTransport) Name() string { return ProviderGemini }

func (t *GeminiTransport) ensureClient(ctx context.Context) (*genai.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		return t.client, nil
	}
	clientCfg := &genai.ClientConfig{
		APIKey:     t.apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: t.httpClient,
	}
	if t.baseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: t.baseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	t.client = client
	return client, nil
}

// Complete sends one generateContent request.
func (t *GeminiTransport) Complete(ctx context.Context, req Request) (string, error) {
	client, err := t.ensureClient(ctx)
	if err != nil {
		return "", err
	}
	temperature := float32(req.Temperature)
	resp, err := client.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: int32(req.MaxTokens),
	})
	if err != nil {
		return "", mapGeminiError(err)
	}
	if resp == nil {
		return "", nil
	}
	return strings.TrimSpace(resp.Text()), nil
}

// mapGeminiError converts SDK API errors to *StatusError so the shared retry
// policy applies. Other errors pass through unchanged.
func mapGeminiError(err error) error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		var ptr *genai.APIError
		if !errors.As(err, &ptr) || ptr == nil {
			return err
		}
		apiErr = *ptr
	}
	statusErr := &StatusError{
		StatusCode: apiErr.Code,
		Code:       apiErr.Status,
		Body:       apiErr.Message,
	}
	if delay, ok := geminiRetryDelay(apiErr.Details); ok {
		statusErr.RetryAfter = delay
		statusErr.HasRetryAfter = true
	}
	return fmt.Errorf("gemini: %w", statusErr)
}

// geminiRetryDelay reads google.rpc.RetryInfo.retryDelay (e.g. "7s") from the
// error details.
func geminiRetryDelay(details []map[string]any) (time.Duration, bool) {
	for _, detail := range details {
		kind, _ := detail["@type"].(string)
		if !strings.HasSuffix(kind, "RetryInfo") {
			continue
		}
		raw, _ := detail["retryDelay"].(string)
		if raw == "" {
			continue
		}
		delay, err := time.ParseDuration(raw)
		if err != nil || delay < 0 {
			continue
		}
		return delay, true
	}
	return 0, false
}
