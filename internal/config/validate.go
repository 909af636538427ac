package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable. Missing credentials fail here,
// before any batch is scheduled.
func (c *Config) Validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validateExtract(); err != nil {
		return err
	}
	if err := c.validateCrawl(); err != nil {
		return err
	}
	if err := c.validateRegistry(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Backend {
	case "sheets":
		if c.Store.SpreadsheetID == "" {
			return errors.New("store.spreadsheet_id is required for the sheets backend. Set GOOGLE_SPREADSHEET_ID or edit the config file")
		}
		if c.Store.CredentialsFile == "" {
			return errors.New("store.credentials_file is required for the sheets backend")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path must be set for the sqlite backend")
		}
	default:
		return fmt.Errorf("store.backend must be sheets or sqlite, got %q", c.Store.Backend)
	}
	if c.Store.InputWorksheet == c.Store.OutputWorksheet {
		return errors.New("store.input_worksheet and store.output_worksheet must differ")
	}
	return nil
}

func (c *Config) validateLLM() error {
	switch c.LLM.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("llm.provider must be openai or gemini, got %q", c.LLM.Provider)
	}
	if c.LLM.APIKey == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("llm.api_key is required. Set OPENAI_API_KEY (or GEMINI_API_KEY) or edit %s (create with 'compintel config init')", defaultPath)
	}
	if c.LLM.TimeoutSeconds <= 0 {
		return errors.New("llm.timeout_seconds must be positive")
	}
	if c.LLM.MaxRetries < 1 {
		return errors.New("llm.max_retries must be at least 1")
	}
	if c.LLM.RequestsPerMinute <= 0 {
		return errors.New("llm.requests_per_minute must be positive")
	}
	if c.LLM.TokensPerMinute <= 0 {
		return errors.New("llm.tokens_per_minute must be positive")
	}
	if c.LLM.MaxTokens <= 0 {
		return errors.New("llm.max_tokens must be positive")
	}
	if c.LLM.MaxTokens >= c.LLM.TokensPerMinute {
		return errors.New("llm.max_tokens must be smaller than llm.tokens_per_minute or no request can ever be admitted")
	}
	if c.LLM.MaxConcurrentRequests <= 0 {
		return errors.New("llm.max_concurrent_requests must be positive")
	}
	return nil
}

func (c *Config) validateExtract() error {
	if c.Extract.ArticlesPerCall <= 0 {
		return errors.New("extract.articles_per_call must be positive")
	}
	if c.Extract.MaxArticleChars <= 0 {
		return errors.New("extract.max_article_chars must be positive")
	}
	if c.Extract.MaxInFlight < 0 {
		return errors.New("extract.max_in_flight must not be negative")
	}
	if c.Extract.UnitCooldownSeconds < 0 {
		return errors.New("extract.unit_cooldown_seconds must not be negative")
	}
	if c.Extract.MinBodyChars < 0 {
		return errors.New("extract.min_body_chars must not be negative")
	}
	return nil
}

func (c *Config) validateCrawl() error {
	if len(c.Crawl.Keywords) == 0 {
		return errors.New("crawl.keywords must list at least one keyword")
	}
	if c.Crawl.MaxPages <= 0 {
		return errors.New("crawl.max_pages must be positive")
	}
	if c.Crawl.MaxArticlesPerQuery <= 0 {
		return errors.New("crawl.max_articles_per_query must be positive")
	}
	if c.Crawl.Concurrency <= 0 {
		return errors.New("crawl.concurrency must be positive")
	}
	if c.Crawl.TimeoutSeconds <= 0 {
		return errors.New("crawl.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateRegistry() error {
	if c.Registry.CandidateThreshold < 0 || c.Registry.CandidateThreshold > 1 {
		return errors.New("registry.candidate_threshold must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if !c.Notifications.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Notifications.SMTPHost) == "" {
		return errors.New("notifications.smtp_host must be set when notifications.enabled is true")
	}
	if len(c.Notifications.To) == 0 {
		return errors.New("notifications.to must list a recipient when notifications.enabled is true")
	}
	if c.Notifications.From == "" {
		return errors.New("notifications.from must be set when notifications.enabled is true")
	}
	return nil
}
