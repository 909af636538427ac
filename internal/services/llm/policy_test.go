package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"google.golang.org/genai"
)

func TestClassify(t *testing.T) {
	noJitter := func() time.Duration { return 0 }
	tests := []struct {
		name      string
		err       error
		attempt   int
		wantRetry bool
		wantDelay time.Duration
		wantWhy   string
	}{
		{"429 with retry-after", &StatusError{StatusCode: 429, RetryAfter: 3 * time.Second, HasRetryAfter: true}, 0, true, 3 * time.Second, reasonRateLimit},
		{"429 without retry-after", &StatusError{StatusCode: 429}, 2, true, 4 * time.Second, reasonRateLimit},
		{"429 backoff caps at 60s", &StatusError{StatusCode: 429}, 9, true, 60 * time.Second, reasonRateLimit},
		{"429 quota code", &StatusError{StatusCode: 429, Code: "insufficient_quota"}, 0, false, 0, reasonQuota},
		{"429 quota wording without code", &StatusError{StatusCode: 429, Body: `{"error":{"message":"Quota exceeded"}}`}, 0, true, time.Second, reasonRateLimit},
		{"gemini quota with retry delay", &StatusError{StatusCode: 429, Code: "RESOURCE_EXHAUSTED", Body: "You exceeded your current quota", RetryAfter: 7 * time.Second, HasRetryAfter: true}, 0, true, 7 * time.Second, reasonRateLimit},
		{"gemini quota without retry delay", &StatusError{StatusCode: 429, Code: "RESOURCE_EXHAUSTED", Body: "You exceeded your current quota"}, 0, false, 0, reasonQuota},
		{"gemini throttle without quota wording", &StatusError{StatusCode: 429, Code: "RESOURCE_EXHAUSTED", Body: "Resource has been exhausted"}, 1, true, 2 * time.Second, reasonRateLimit},
		{"401", &StatusError{StatusCode: 401}, 0, false, 0, reasonAuth},
		{"403", &StatusError{StatusCode: 403}, 0, false, 0, reasonAuth},
		{"404", &StatusError{StatusCode: 404}, 0, false, 0, reasonClient},
		{"500", &StatusError{StatusCode: 500}, 1, true, 2 * time.Second, reasonServer},
		{"timeout", fmt.Errorf("%w: boom", errAttemptDeadline), 3, true, 8 * time.Second, reasonTimeout},
		{"deadline", fmt.Errorf("llm request: http error: %w", context.DeadlineExceeded), 0, true, time.Second, reasonTimeout},
		{"generic", errors.New("connection reset by peer"), 6, true, 30 * time.Second, reasonOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err, tt.attempt, noJitter)
			if got.retry != tt.wantRetry || got.delay != tt.wantDelay || got.reason != tt.wantWhy {
				t.Fatalf("classify() = %+v, want retry=%v delay=%v reason=%s", got, tt.wantRetry, tt.wantDelay, tt.wantWhy)
			}
		})
	}
}

func TestBackoffAddsJitter(t *testing.T) {
	got := backoff(1, serverBackoffCap, func() time.Duration { return 700 * time.Millisecond })
	if got != 2700*time.Millisecond {
		t.Fatalf("backoff = %v", got)
	}
	if d := defaultJitter(); d < 0 || d >= maxJitter {
		t.Fatalf("jitter out of range: %v", d)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 10, 22, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		value   string
		want    time.Duration
		present bool
	}{
		{"", 0, false},
		{"12", 12 * time.Second, true},
		{"1.5", 1500 * time.Millisecond, true},
		{now.Add(20 * time.Second).Format(http.TimeFormat), 20 * time.Second, true},
		{"soon", 30 * time.Second, true},
	}
	for _, tt := range tests {
		got, ok := parseRetryAfter(tt.value, now)
		if got != tt.want || ok != tt.present {
			t.Fatalf("parseRetryAfter(%q) = %v, %v; want %v, %v", tt.value, got, ok, tt.want, tt.present)
		}
	}
}

func TestMapGeminiError(t *testing.T) {
	apiErr := genai.APIError{
		Code:    429,
		Status:  "RESOURCE_EXHAUSTED",
		Message: "Resource has been exhausted, try again later.",
		Details: []map[string]any{
			{"@type": "type.googleapis.com/google.rpc.Help"},
			{"@type": "type.googleapis.com/google.rpc.RetryInfo", "retryDelay": "7s"},
		},
	}
	mapped := mapGeminiError(fmt.Errorf("generate: %w", apiErr))
	var statusErr *StatusError
	if !errors.As(mapped, &statusErr) {
		t.Fatalf("expected StatusError, got %v", mapped)
	}
	if statusErr.StatusCode != 429 || !statusErr.HasRetryAfter || statusErr.RetryAfter != 7*time.Second {
		t.Fatalf("unexpected mapping %+v", statusErr)
	}
	decision := classify(mapped, 0, nil)
	if !decision.retry || decision.delay != 7*time.Second {
		t.Fatalf("unexpected decision %+v", decision)
	}

	throttled := mapGeminiError(genai.APIError{
		Code:    429,
		Status:  "RESOURCE_EXHAUSTED",
		Message: "You exceeded your current quota, please check your plan and billing details. Please retry in 7.5s.",
		Details: []map[string]any{
			{"@type": "type.googleapis.com/google.rpc.QuotaFailure"},
			{"@type": "type.googleapis.com/google.rpc.RetryInfo", "retryDelay": "7.5s"},
		},
	})
	if decision := classify(throttled, 0, nil); !decision.retry || decision.delay != 7500*time.Millisecond || decision.reason != reasonRateLimit {
		t.Fatalf("per-minute quota message must wait and retry, got %+v", decision)
	}

	plain := errors.New("dial tcp: refused")
	if got := mapGeminiError(plain); got != plain {
		t.Fatalf("expected passthrough, got %v", got)
	}
}

func TestStripCodeFence(t *testing.T) {
	cases := map[string]string{
		"```csv\n번호,사업명\n1,웰다\n```": "번호,사업명\n1,웰다",
		"```\n```":                "",
		"  plain text  ":          "plain text",
		"```json{\"ok\":true}```": `{"ok":true}`,
	}
	for input, want := range cases {
		if got := StripCodeFence(input); got != want {
			t.Fatalf("StripCodeFence(%q) = %q, want %q", input, got, want)
		}
	}
}
