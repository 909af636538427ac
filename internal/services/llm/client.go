package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"compintel/internal/logging"
	"compintel/internal/ratelimit"
)

const (
	defaultHTTPTimeout    = 180 * time.Second
	defaultMaxRetries     = 6
	defaultMaxTokens      = 1024
	defaultMaxConcurrency = 2
	defaultOpenAIEndpoint = "https://api.openai.com/v1/chat/completions"
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultGeminiModel    = "gemini-2.5-flash"
)

// ErrCallFailed marks a call that was aborted or ran out of retries. Callers
// treat it as the batch failure signal.
var ErrCallFailed = errors.New("llm call failed")

// Config captures the runtime settings required to talk to the LLM.
type Config struct {
	Provider       string
	APIKey         string
	BaseURL        string
	Model          string
	TimeoutSeconds int
	MaxTokens      int
	MaxRetries     int
	MaxConcurrent  int
}

// DefaultHTTPTimeout returns the default timeout used for LLM requests.
func DefaultHTTPTimeout() time.Duration {
	return defaultHTTPTimeout
}

// Request is one rendered prompt handed to a transport.
type Request struct {
	Model       string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Transport performs a single completion attempt. Implementations report HTTP
// level failures as *StatusError so the retry policy can classify them.
type Transport interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

// Limiter admits work against a budget. *ratelimit.Window satisfies it.
type Limiter interface {
	Acquire(ctx context.Context, cost int) error
}

// Client issues prompts with rate limiting, bounded concurrency, and retries.
type Client struct {
	cfg       Config
	transport Transport
	rpm       Limiter
	tpm       Limiter
	sem       chan struct{}
	logger    *slog.Logger

	sleep     func(context.Context, time.Duration) error
	jitter    func() time.Duration
	onAttempt func(outcome string)
}

// Option customizes the client.
type Option func(*Client)

// WithTransport overrides the transport selected from Config.Provider.
func WithTransport(t Transport) Option {
	return func(c *Client) {
		if t != nil {
			c.transport = t
		}
	}
}

// WithLimiters installs the requests-per-minute and tokens-per-minute limiters.
// Either may be nil.
func WithLimiters(rpm, tpm Limiter) Option {
	return func(c *Client) {
		c.rpm = rpm
		c.tpm = tpm
	}
}

// WithLogger sets the logger used for per-attempt diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// WithJitter overrides the random component added to computed backoffs.
func WithJitter(jitter func() time.Duration) Option {
	return func(c *Client) {
		if jitter != nil {
			c.jitter = jitter
		}
	}
}

// WithAttemptObserver registers a callback receiving the outcome label of
// every attempt ("ok", "empty", "retry", "abort").
func WithAttemptObserver(fn func(outcome string)) Option {
	return func(c *Client) {
		c.onAttempt = fn
	}
}

// NewClient constructs an LLM client using the supplied configuration. Unless
// WithTransport is given, the transport is chosen from cfg.Provider.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	cfg = normalizeConfig(cfg)
	client := &Client{
		cfg:    cfg,
		logger: logging.NewNop(),
		sleep:  ratelimit.SleepWithContext,
		jitter: defaultJitter,
	}
	for _, opt := range opts {
		opt(client)
	}
	client.sem = make(chan struct{}, cfg.MaxConcurrent)
	if client.transport == nil {
		transport, err := newTransport(cfg)
		if err != nil {
			return nil, err
		}
		client.transport = transport
	}
	return client, nil
}

func normalizeConfig(cfg Config) Config {
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	if cfg.Provider == "" {
		cfg.Provider = ProviderOpenAI
	}
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Model == "" {
		if cfg.Provider == ProviderGemini {
			cfg.Model = defaultGeminiModel
		} else {
			cfg.Model = defaultOpenAIModel
		}
	}
	if cfg.Provider == ProviderOpenAI && cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIEndpoint
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrency
	}
	return cfg
}

func (c Config) timeout() time.Duration {
	if c.TimeoutSeconds > 0 {
		return time.Duration(c.TimeoutSeconds) * time.Second
	}
	return defaultHTTPTimeout
}

// Provider returns the transport name in use.
func (c *Client) Provider() string {
	return c.transport.Name()
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Call sends prompt to the model and returns its text with surrounding
// whitespace removed. Empty model output is returned as "" without error.
// When the call is aborted or retries run out, the error wraps ErrCallFailed.
func (c *Client) Call(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", fmt.Errorf("llm call: prompt required: %w", ErrCallFailed)
	}
	logger := logging.WithContext(ctx, c.logger)
	tokens := ratelimit.EstimateTokens(prompt) + c.cfg.MaxTokens
	req := Request{
		Model:       c.cfg.Model,
		Prompt:      prompt,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: 0,
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if err := c.acquire(ctx, tokens); err != nil {
			return "", fmt.Errorf("llm call: %w: %w", ErrCallFailed, err)
		}

		if attempt == 0 {
			logger.Debug("llm request started",
				logging.String("provider", c.transport.Name()),
				logging.Int("est_tokens", tokens),
			)
		} else {
			logger.Info("llm request retry",
				logging.Int("attempt", attempt+1),
				logging.Int("max_attempts", c.cfg.MaxRetries),
			)
		}

		content, err := c.attemptOnce(ctx, req)
		if err == nil {
			if content == "" {
				c.observe("empty")
				logger.Warn("llm returned empty content",
					logging.String(logging.FieldEventType, "llm_empty_content"),
					logging.String(logging.FieldErrorHint, "the batch will be marked SKIP"),
				)
			} else {
				c.observe("ok")
			}
			return content, nil
		}
		if ctx.Err() != nil {
			c.observe("abort")
			return "", fmt.Errorf("llm call: %w: %w", ErrCallFailed, ctx.Err())
		}

		decision := classify(err, attempt, c.jitter)
		if !decision.retry {
			c.observe("abort")
			logging.WarnWithContext(logger, "llm call aborted", "llm_abort",
				logging.Int("attempt", attempt+1),
				logging.String("reason", decision.reason),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, abortHint(decision.reason)),
			)
			return "", fmt.Errorf("llm call: %s: %w: %w", decision.reason, ErrCallFailed, err)
		}

		c.observe("retry")
		lastErr = err
		logger.Info("llm attempt failed, backing off",
			logging.Int("attempt", attempt+1),
			logging.String("reason", decision.reason),
			logging.Duration("delay", decision.delay),
			logging.Error(err),
		)
		if attempt+1 >= c.cfg.MaxRetries {
			break
		}
		if err := c.sleep(ctx, decision.delay); err != nil {
			return "", fmt.Errorf("llm call: %w: %w", ErrCallFailed, err)
		}
	}

	logging.WarnWithContext(logger, "llm retries exhausted", "llm_retries_exhausted",
		logging.Int("attempts", c.cfg.MaxRetries),
		logging.Error(lastErr),
	)
	return "", fmt.Errorf("llm call: failed after %d attempts: %w: %w", c.cfg.MaxRetries, ErrCallFailed, lastErr)
}

func (c *Client) acquire(ctx context.Context, tokens int) error {
	if c.rpm != nil {
		if err := c.rpm.Acquire(ctx, 1); err != nil {
			return err
		}
	}
	if c.tpm != nil {
		if err := c.tpm.Acquire(ctx, tokens); err != nil {
			return err
		}
	}
	return nil
}

// attemptOnce holds a semaphore slot only for the duration of the request.
func (c *Client) attemptOnce(ctx context.Context, req Request) (string, error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-c.sem }()

	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.timeout())
	defer cancel()
	content, err := c.transport.Complete(attemptCtx, req)
	if err != nil {
		if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w (timeout=%s): %w", errAttemptDeadline, c.cfg.timeout(), err)
		}
		return "", err
	}
	return strings.TrimSpace(content), nil
}

func (c *Client) observe(outcome string) {
	if c.onAttempt != nil {
		c.onAttempt(outcome)
	}
}

// HealthCheck issues a fast ping to verify the API key and model are usable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.cfg.APIKey == "" {
		return errors.New("llm health: api key required")
	}
	content, err := c.Call(ctx, `You must respond with JSON only. Respond with {"ok":true}`)
	if err != nil {
		return fmt.Errorf("llm health: %w", err)
	}
	var parsed struct {
		OK bool `json:"ok"`
	}
	if err := DecodeLLMJSON(content, &parsed); err != nil {
		return fmt.Errorf("llm health: parse payload: %w", err)
	}
	if !parsed.OK {
		return errors.New("llm health: unexpected response")
	}
	return nil
}

func defaultJitter() time.Duration {
	return time.Duration(rand.Float64() * float64(maxJitter))
}

func abortHint(reason string) string {
	switch reason {
	case reasonQuota:
		return "check the provider account usage and billing; retrying will not help"
	case reasonAuth:
		return "check llm.api_key"
	default:
		return "check the request parameters and model name"
	}
}
