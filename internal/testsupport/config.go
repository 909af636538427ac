package testsupport

import (
	"path/filepath"
	"testing"

	"compintel/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config on the sqlite backend with unique temp
// directories per test. Budgets are generous and delays are zero so tests do
// not wait on limiters.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.CacheDir = filepath.Join(base, "cache")
	cfgVal.Store.Backend = "sqlite"
	cfgVal.Store.SQLitePath = filepath.Join(base, "state", "workbook.db")
	cfgVal.Store.CrawlWorksheet = cfgVal.Store.InputWorksheet
	cfgVal.LLM.APIKey = "test"
	cfgVal.LLM.Model = "test-model"
	cfgVal.LLM.MaxRetries = 2
	cfgVal.LLM.RequestsPerMinute = 1000
	cfgVal.LLM.TokensPerMinute = 1_000_000
	cfgVal.Extract.UnitCooldownSeconds = 0
	cfgVal.Crawl.RequestDelayMillis = 0
	cfgVal.Crawl.QueryDelayMillis = 0
	cfgVal.Registry.APIKey = "test"
	cfgVal.Registry.CacheFile = filepath.Join(base, "cache", "dart_corp_codes.csv")
	cfgVal.Logging.Format = "json"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithLLMEndpoint points the OpenAI-compatible client at url.
func WithLLMEndpoint(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.LLM.Provider = "openai"
		b.cfg.LLM.BaseURL = url
	}
}

// WithCompetitorsFile writes content as the competitor rule file and points
// the config at it.
func WithCompetitorsFile(content string) ConfigOption {
	return func(b *configBuilder) {
		path := filepath.Join(b.baseDir, "competitors.yaml")
		WriteFile(b.t, path, content)
		b.cfg.Paths.CompetitorsFile = path
	}
}

// WithSearchURL points the crawler at a fake search endpoint.
func WithSearchURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Crawl.SearchURL = url
	}
}

// WithRegistryURL points the registry loader at a fake corpCode endpoint.
func WithRegistryURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Registry.CorpCodeURL = url
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
