package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"compintel/internal/fileutil"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains local directory configuration.
type Paths struct {
	StateDir        string `toml:"state_dir"`
	LogDir          string `toml:"log_dir"`
	CacheDir        string `toml:"cache_dir"`
	CompetitorsFile string `toml:"competitors_file"`
}

// Store selects the tabular backend and names the worksheets each stage uses.
type Store struct {
	Backend            string `toml:"backend"`
	SpreadsheetID      string `toml:"spreadsheet_id"`
	CredentialsFile    string `toml:"credentials_file"`
	SQLitePath         string `toml:"sqlite_path"`
	CrawlWorksheet     string `toml:"crawl_worksheet"`
	InputWorksheet     string `toml:"input_worksheet"`
	OutputWorksheet    string `toml:"output_worksheet"`
	MappingWorksheet   string `toml:"mapping_worksheet"`
	UnmatchedWorksheet string `toml:"unmatched_worksheet"`
}

// LLM contains the model connection settings and the shared request budgets.
type LLM struct {
	Provider              string `toml:"provider"`
	APIKey                string `toml:"api_key"`
	BaseURL               string `toml:"base_url"`
	Model                 string `toml:"model"`
	TimeoutSeconds        int    `toml:"timeout_seconds"`
	MaxRetries            int    `toml:"max_retries"`
	MaxTokens             int    `toml:"max_tokens"`
	RequestsPerMinute     int    `toml:"requests_per_minute"`
	TokensPerMinute       int    `toml:"tokens_per_minute"`
	MaxConcurrentRequests int    `toml:"max_concurrent_requests"`
}

// Extract controls batching for the partnership extraction stage.
type Extract struct {
	ArticlesPerCall     int `toml:"articles_per_call"`
	MaxArticleChars     int `toml:"max_article_chars"`
	MaxInFlight         int `toml:"max_in_flight"`
	UnitCooldownSeconds int `toml:"unit_cooldown_seconds"`
	MinBodyChars        int `toml:"min_body_chars"`
}

// Crawl controls news collection.
type Crawl struct {
	Keywords            []string `toml:"keywords"`
	MaxArticlesPerQuery int      `toml:"max_articles_per_query"`
	MaxPages            int      `toml:"max_pages"`
	Concurrency         int      `toml:"concurrency"`
	RequestDelayMillis  int      `toml:"request_delay_ms"`
	QueryDelayMillis    int      `toml:"query_delay_ms"`
	SearchURL           string   `toml:"search_url"`
	UserAgent           string   `toml:"user_agent"`
	TimeoutSeconds      int      `toml:"timeout_seconds"`
	Recency             string   `toml:"recency"`
	MaxBodyChars        int      `toml:"max_body_chars"`
}

// Registry configures the corporate registry used for partner matching.
type Registry struct {
	APIKey             string  `toml:"api_key"`
	CorpCodeURL        string  `toml:"corp_code_url"`
	CacheFile          string  `toml:"cache_file"`
	Refresh            bool    `toml:"refresh"`
	CandidateThreshold float64 `toml:"candidate_threshold"`
	TimeoutSeconds     int     `toml:"timeout_seconds"`
}

// Notifications configures the optional run summary email.
type Notifications struct {
	Enabled        bool     `toml:"enabled"`
	SMTPHost       string   `toml:"smtp_host"`
	SMTPPort       int      `toml:"smtp_port"`
	SMTPUser       string   `toml:"smtp_user"`
	SMTPPass       string   `toml:"smtp_pass"`
	From           string   `toml:"from"`
	To             []string `toml:"to"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
	OnlyOnFailure  bool     `toml:"only_on_failure"`
}

// Metrics configures the Prometheus textfile export.
type Metrics struct {
	TextfilePath string `toml:"textfile_path"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for compintel.
//
// Configuration sections by subsystem:
//   - Paths: local state, logs, caches, and the competitor rule table
//   - Store: spreadsheet or SQLite backend plus worksheet names
//   - LLM: provider connection and rate budgets
//   - Extract: batching and cooldowns for partnership extraction
//   - Crawl: news search and article fetching
//   - Registry: DART corp-code download and matching
//   - Notifications: run summary email
//   - Metrics: Prometheus textfile output
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Store         Store         `toml:"store"`
	LLM           LLM           `toml:"llm"`
	Extract       Extract       `toml:"extract"`
	Crawl         Crawl         `toml:"crawl"`
	Registry      Registry      `toml:"registry"`
	Notifications Notifications `toml:"notifications"`
	Metrics       Metrics       `toml:"metrics"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. A .env file next to the config file or in the
// working directory is loaded first; variables already set in the environment win.
func Load(path string) (*Config, string, bool, error) {
	cfg, resolvedPath, exists, err := decode(path)
	if err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return cfg, resolvedPath, exists, nil
}

// LoadUnvalidated performs the same resolution as Load but skips Validate so
// read-only commands can inspect a partially configured install.
func LoadUnvalidated(path string) (*Config, string, bool, error) {
	return decode(path)
}

func decode(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := loadDotEnv(filepath.Dir(resolvedPath)); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolvedPath, exists, nil
}

func loadDotEnv(configDir string) error {
	candidates := []string{filepath.Join(configDir, ".env")}
	if wd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(wd, ".env"))
	}
	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		if _, ok := seen[candidate]; ok {
			continue
		}
		seen[candidate] = struct{}{}
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		if err := godotenv.Load(candidate); err != nil {
			return fmt.Errorf("load %s: %w", candidate, err)
		}
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("compintel.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state, log, and cache directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir, c.Paths.CacheDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LockPath returns the run lock file shared by every stage command.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "compintel.lock")
}

// MaxInFlight returns the batch window, defaulting to twice the request concurrency.
func (c *Config) MaxInFlight() int {
	if c.Extract.MaxInFlight > 0 {
		return c.Extract.MaxInFlight
	}
	if c.LLM.MaxConcurrentRequests > 0 {
		return 2 * c.LLM.MaxConcurrentRequests
	}
	return 2 * defaultMaxConcurrentRequests
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if err := fileutil.WriteFileAtomic(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
