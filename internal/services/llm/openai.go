package llm

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

// Provider names accepted in Config.Provider.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

func newTransport(cfg Config) (Transport, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		return NewOpenAITransport(cfg, nil), nil
	case ProviderGemini:
		return NewGeminiTransport(cfg, nil), nil
	default:
		return nil, fmt.Errorf("llm: unsupported provider %q", cfg.Provider)
	}
}

// OpenAITransport talks to an OpenAI-compatible chat completions endpoint.
type OpenAITransport struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	now        func() time.Time
}

// NewOpenAITransport builds the transport. A nil httpClient uses a client with
// no timeout of its own; the caller bounds every attempt with a deadline.
func NewOpenAITransport(cfg Config, httpClient *http.Client) *OpenAITransport {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	endpoint := strings.TrimSpace(cfg.BaseURL)
	if endpoint == "" {
		endpoint = defaultOpenAIEndpoint
	}
	return &OpenAITransport{
		endpoint:   endpoint,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: httpClient,
		now:        time.Now,
	}
}

func (t *OpenAITransport) Name() string { return ProviderOpenAI }

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatCompletionMessage `json:"message"`
		// Some providers mistakenly return the streaming schema (delta) even when
		// stream=false, so tolerate it as a fallback.
		Delta        chatCompletionMessage `json:"delta"`
		Text         string                `json:"text"`
		FinishReason string                `json:"finish_reason"`
	} `json:"choices"`
	Error *apiErrorBody `json:"error"`
}

type chatCompletionMessage struct {
	Content string `json:"content"`
	Refusal string `json:"refusal"`
}

type apiErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

func (b *apiErrorBody) code() string {
	if b == nil || b.Code == nil {
		return ""
	}
	switch v := b.Code.(type) {
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Complete sends one chat completion request.
func (t *OpenAITransport) Complete(ctx context.Context, req Request) (string, error) {
	payload := chatCompletionRequest{
		Model:       req.Model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	completion, err := t.send(ctx, payload)
	if err != nil {
		return "", err
	}
	return extractCompletionContent(completion), nil
}

func (t *OpenAITransport) send(ctx context.Context, payload chatCompletionRequest) (chatCompletionResponse, error) {
	var completion chatCompletionResponse
	encoded, err := json.Marshal(payload)
	if err != nil {
		return completion, fmt.Errorf("llm request: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(encoded))
	if err != nil {
		return completion, fmt.Errorf("llm request: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return completion, fmt.Errorf("llm request: http error: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return completion, fmt.Errorf("llm request: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		statusErr := &StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
		var envelope struct {
			Error *apiErrorBody `json:"error"`
		}
		if json.Unmarshal(body, &envelope) == nil && envelope.Error != nil {
			statusErr.Code = envelope.Error.code()
			if statusErr.Code == "" {
				statusErr.Code = envelope.Error.Type
			}
		}
		statusErr.RetryAfter, statusErr.HasRetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), t.now())
		return completion, statusErr
	}
	if err := json.Unmarshal(body, &completion); err != nil {
		return completion, fmt.Errorf("llm request: decode response: %w (payload snippet: %s)", err, summarizePayloadSnippet(string(body)))
	}
	if completion.Error != nil {
		return completion, fmt.Errorf("llm request: api error: %s", strings.TrimSpace(completion.Error.Message))
	}
	return completion, nil
}

func extractCompletionContent(completion chatCompletionResponse) string {
	for _, choice := range completion.Choices {
		if content := firstNonEmpty(
			choice.Message.Content,
			choice.Delta.Content,
			choice.Text,
		); content != "" {
			return content
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
