package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeStore(); err != nil {
		return err
	}
	if err := c.normalizeLLM(); err != nil {
		return err
	}
	if err := c.normalizeExtract(); err != nil {
		return err
	}
	c.normalizeCrawl()
	if err := c.normalizeRegistry(); err != nil {
		return err
	}
	c.normalizeNotifications()
	if err := c.normalizeMetrics(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.StateDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.CacheDir) == "" {
		c.Paths.CacheDir = defaultCacheDir
	}
	if c.Paths.CacheDir, err = expandPath(c.Paths.CacheDir); err != nil {
		return fmt.Errorf("paths.cache_dir: %w", err)
	}
	lookupString(&c.Paths.CompetitorsFile, "COMPETITORS_FILE")
	if c.Paths.CompetitorsFile, err = expandPath(strings.TrimSpace(c.Paths.CompetitorsFile)); err != nil {
		return fmt.Errorf("paths.competitors_file: %w", err)
	}
	return nil
}

func (c *Config) normalizeStore() error {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == "" {
		c.Store.Backend = defaultStoreBackend
	}
	lookupString(&c.Store.SpreadsheetID, "GOOGLE_SPREADSHEET_ID")
	lookupString(&c.Store.CredentialsFile, "GOOGLE_CREDENTIALS_FILE")
	if envValue, ok := os.LookupEnv("GOOGLE_INPUT_WORKSHEET"); ok && strings.TrimSpace(envValue) != "" {
		c.Store.InputWorksheet = strings.TrimSpace(envValue)
	}
	if envValue, ok := os.LookupEnv("GOOGLE_OUTPUT_WORKSHEET"); ok && strings.TrimSpace(envValue) != "" {
		c.Store.OutputWorksheet = strings.TrimSpace(envValue)
	}
	if envValue, ok := os.LookupEnv("GOOGLE_DART_OUTPUT_WORKSHEET"); ok && strings.TrimSpace(envValue) != "" {
		c.Store.MappingWorksheet = strings.TrimSpace(envValue)
	}

	c.Store.InputWorksheet = defaultString(c.Store.InputWorksheet, defaultInputWorksheet)
	// The crawler feeds the extraction stage unless told otherwise.
	c.Store.CrawlWorksheet = defaultString(c.Store.CrawlWorksheet, c.Store.InputWorksheet)
	c.Store.OutputWorksheet = defaultString(c.Store.OutputWorksheet, defaultOutputWorksheet)
	c.Store.MappingWorksheet = defaultString(c.Store.MappingWorksheet, defaultMappingWorksheet)
	c.Store.UnmatchedWorksheet = defaultString(c.Store.UnmatchedWorksheet, defaultUnmatchedWorksheet)

	var err error
	if c.Store.CredentialsFile != "" {
		if c.Store.CredentialsFile, err = expandPath(c.Store.CredentialsFile); err != nil {
			return fmt.Errorf("store.credentials_file: %w", err)
		}
	}
	if strings.TrimSpace(c.Store.SQLitePath) == "" {
		c.Store.SQLitePath = filepath.Join(c.Paths.StateDir, "workbook.db")
	}
	if c.Store.SQLitePath, err = expandPath(c.Store.SQLitePath); err != nil {
		return fmt.Errorf("store.sqlite_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeLLM() error {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.Provider == "" {
		c.LLM.Provider = defaultLLMProvider
	}
	switch c.LLM.Provider {
	case "gemini":
		lookupString(&c.LLM.APIKey, "GEMINI_API_KEY", "GOOGLE_API_KEY")
		lookupString(&c.LLM.Model, "GEMINI_MODEL")
		c.LLM.Model = defaultString(c.LLM.Model, defaultGeminiModel)
	default:
		lookupString(&c.LLM.APIKey, "OPENAI_API_KEY")
		lookupString(&c.LLM.BaseURL, "OPENAI_API_ENDPOINT")
		lookupString(&c.LLM.Model, "OPENAI_MODEL")
		c.LLM.BaseURL = defaultString(c.LLM.BaseURL, defaultOpenAIBaseURL)
		c.LLM.Model = defaultString(c.LLM.Model, defaultOpenAIModel)
	}

	overrides := []struct {
		target *int
		envKey string
	}{
		{&c.LLM.TimeoutSeconds, "OPENAI_TIMEOUT_SEC"},
		{&c.LLM.RequestsPerMinute, "OPENAI_RPM"},
		{&c.LLM.TokensPerMinute, "OPENAI_TPM"},
		{&c.LLM.MaxConcurrentRequests, "MAX_CONCURRENT_REQUESTS"},
	}
	for _, override := range overrides {
		if err := lookupInt(override.target, override.envKey); err != nil {
			return err
		}
	}
	if c.LLM.MaxRetries == 0 {
		c.LLM.MaxRetries = defaultLLMMaxRetries
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = defaultLLMMaxTokens
	}
	return nil
}

func (c *Config) normalizeExtract() error {
	overrides := []struct {
		target *int
		envKey string
	}{
		{&c.Extract.ArticlesPerCall, "ARTICLES_PER_CALL"},
		{&c.Extract.MaxArticleChars, "MAX_ARTICLE_CONTENT_LENGTH"},
		{&c.Extract.MaxInFlight, "MAX_BATCH_TASKS_IN_FLIGHT"},
		{&c.Extract.UnitCooldownSeconds, "COMPETITOR_SLEEP_SECONDS"},
	}
	for _, override := range overrides {
		if err := lookupInt(override.target, override.envKey); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) normalizeCrawl() {
	keywords := c.Crawl.Keywords[:0]
	for _, keyword := range c.Crawl.Keywords {
		if trimmed := strings.TrimSpace(keyword); trimmed != "" {
			keywords = append(keywords, trimmed)
		}
	}
	c.Crawl.Keywords = keywords
	c.Crawl.SearchURL = defaultString(c.Crawl.SearchURL, defaultCrawlSearchURL)
	c.Crawl.UserAgent = defaultString(c.Crawl.UserAgent, defaultCrawlUserAgent)
	c.Crawl.Recency = strings.TrimSpace(c.Crawl.Recency)
}

func (c *Config) normalizeRegistry() error {
	lookupString(&c.Registry.APIKey, "DART_API_KEY")
	c.Registry.CorpCodeURL = defaultString(c.Registry.CorpCodeURL, defaultCorpCodeURL)
	if strings.TrimSpace(c.Registry.CacheFile) == "" {
		c.Registry.CacheFile = filepath.Join(c.Paths.CacheDir, "dart_corp_codes.csv")
	}
	var err error
	if c.Registry.CacheFile, err = expandPath(c.Registry.CacheFile); err != nil {
		return fmt.Errorf("registry.cache_file: %w", err)
	}
	return nil
}

func (c *Config) normalizeNotifications() {
	c.Notifications.SMTPHost = strings.TrimSpace(c.Notifications.SMTPHost)
	c.Notifications.SMTPUser = strings.TrimSpace(c.Notifications.SMTPUser)
	lookupString(&c.Notifications.SMTPPass, "SMTP_PASSWORD")
	c.Notifications.From = defaultString(c.Notifications.From, c.Notifications.SMTPUser)
	recipients := c.Notifications.To[:0]
	for _, to := range c.Notifications.To {
		if trimmed := strings.TrimSpace(to); trimmed != "" {
			recipients = append(recipients, trimmed)
		}
	}
	c.Notifications.To = recipients
}

func (c *Config) normalizeMetrics() error {
	if strings.TrimSpace(c.Metrics.TextfilePath) == "" {
		c.Metrics.TextfilePath = ""
		return nil
	}
	var err error
	if c.Metrics.TextfilePath, err = expandPath(c.Metrics.TextfilePath); err != nil {
		return fmt.Errorf("metrics.textfile_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "auto":
		c.Logging.Format = "auto"
	case "console", "json":
	default:
		c.Logging.Format = "auto"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

// lookupString fills target from the first set environment variable when the
// file left it empty.
func lookupString(target *string, keys ...string) {
	*target = strings.TrimSpace(*target)
	if *target != "" {
		return
	}
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
			*target = strings.TrimSpace(value)
			return
		}
	}
}

// lookupInt overrides target when the environment variable is set. Budgets are
// tuned per deployment, so the environment wins over the file.
func lookupInt(target *int, key string) error {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("%s: expected integer, got %q", key, value)
	}
	*target = parsed
	return nil
}

func defaultString(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}
