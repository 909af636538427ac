package config

const (
	defaultConfigPath              = "~/.config/compintel/config.toml"
	defaultStateDir                = "~/.local/share/compintel"
	defaultLogDir                  = "~/.local/share/compintel/logs"
	defaultCacheDir                = "~/.cache/compintel"
	defaultStoreBackend            = "sheets"
	defaultCredentialsFile         = "credentials.json"
	defaultInputWorksheet          = "경쟁사 동향 분석"
	defaultOutputWorksheet         = "경쟁사 협업 기업 리스트"
	defaultMappingWorksheet        = "다트매핑버전"
	defaultUnmatchedWorksheet      = "매핑실패기업리스트"
	defaultLLMProvider             = "openai"
	defaultOpenAIBaseURL           = "https://api.openai.com/v1/chat/completions"
	defaultOpenAIModel             = "gpt-4o-mini"
	defaultGeminiModel             = "gemini-2.5-flash"
	defaultLLMTimeoutSeconds       = 180
	defaultLLMMaxRetries           = 6
	defaultLLMMaxTokens            = 1024
	defaultRequestsPerMinute       = 10
	defaultTokensPerMinute         = 20000
	defaultMaxConcurrentRequests   = 2
	defaultArticlesPerCall         = 10
	defaultMaxArticleChars         = 2000
	defaultUnitCooldownSeconds     = 5
	defaultMinBodyChars            = 100
	defaultCrawlMaxPerQuery        = 20
	defaultCrawlMaxPages           = 2
	defaultCrawlConcurrency        = 5
	defaultCrawlRequestDelayMillis = 300
	defaultCrawlQueryDelayMillis   = 1000
	defaultCrawlSearchURL          = "https://www.google.com/search"
	defaultCrawlUserAgent          = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	defaultCrawlTimeoutSeconds     = 10
	defaultCrawlRecency            = "w"
	defaultCrawlMaxBodyChars       = 50000
	defaultCorpCodeURL             = "https://opendart.fss.or.kr/api/corpCode.xml"
	defaultCandidateThreshold      = 0.9
	defaultRegistryTimeoutSeconds  = 60
	defaultSMTPPort                = 587
	defaultSMTPTimeoutSeconds      = 10
	defaultLogFormat               = "auto"
	defaultLogLevel                = "info"
	defaultLogRetentionDays        = 30
)

var defaultCrawlKeywords = []string{"도입", "협약", "협업", "제휴"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
			CacheDir: defaultCacheDir,
		},
		Store: Store{
			Backend:            defaultStoreBackend,
			CredentialsFile:    defaultCredentialsFile,
			InputWorksheet:     defaultInputWorksheet,
			OutputWorksheet:    defaultOutputWorksheet,
			MappingWorksheet:   defaultMappingWorksheet,
			UnmatchedWorksheet: defaultUnmatchedWorksheet,
		},
		LLM: LLM{
			Provider:              defaultLLMProvider,
			TimeoutSeconds:        defaultLLMTimeoutSeconds,
			MaxRetries:            defaultLLMMaxRetries,
			MaxTokens:             defaultLLMMaxTokens,
			RequestsPerMinute:     defaultRequestsPerMinute,
			TokensPerMinute:       defaultTokensPerMinute,
			MaxConcurrentRequests: defaultMaxConcurrentRequests,
		},
		Extract: Extract{
			ArticlesPerCall:     defaultArticlesPerCall,
			MaxArticleChars:     defaultMaxArticleChars,
			UnitCooldownSeconds: defaultUnitCooldownSeconds,
			MinBodyChars:        defaultMinBodyChars,
		},
		Crawl: Crawl{
			Keywords:            append([]string(nil), defaultCrawlKeywords...),
			MaxArticlesPerQuery: defaultCrawlMaxPerQuery,
			MaxPages:            defaultCrawlMaxPages,
			Concurrency:         defaultCrawlConcurrency,
			RequestDelayMillis:  defaultCrawlRequestDelayMillis,
			QueryDelayMillis:    defaultCrawlQueryDelayMillis,
			SearchURL:           defaultCrawlSearchURL,
			UserAgent:           defaultCrawlUserAgent,
			TimeoutSeconds:      defaultCrawlTimeoutSeconds,
			Recency:             defaultCrawlRecency,
			MaxBodyChars:        defaultCrawlMaxBodyChars,
		},
		Registry: Registry{
			CorpCodeURL:        defaultCorpCodeURL,
			CandidateThreshold: defaultCandidateThreshold,
			TimeoutSeconds:     defaultRegistryTimeoutSeconds,
		},
		Notifications: Notifications{
			SMTPPort:       defaultSMTPPort,
			TimeoutSeconds: defaultSMTPTimeoutSeconds,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
