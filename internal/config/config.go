package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type ScraperConfig struct {
	UserAgent           string `yaml:"userAgent"`
	TimeoutMs           int    `yaml:"timeoutMs"`
	LinksSameDomainOnly bool   `yaml:"linksSameDomainOnly"`
	LinksMaxPerDocument int    `yaml:"linksMaxPerDocument"`
}

type CrawlerConfig struct {
	MaxPagesDefault int `yaml:"maxPagesDefault"`
}

type RobotsConfig struct {
	Respect bool `yaml:"respect"`
}

type RodConfig struct {
	Enabled bool `yaml:"enabled"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

// AuthConfig controls API-key authentication. Every caller of this
// service is an automation client holding a bearer key; there is no
// browser-session surface.
type AuthConfig struct {
	Enabled         bool   `yaml:"enabled"`
	InitialAdminKey string `yaml:"initialAdminKey"`
}

type RateLimitConfig struct {
	DefaultPerMinute int `yaml:"defaultPerMinute"`
}

type WorkerConfig struct {
	PollIntervalMs          int `yaml:"pollIntervalMs"`
	MaxConcurrentURLsPerJob int `yaml:"maxConcurrentURLsPerJob"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseURL"`
	Model   string `yaml:"model"`
}

type AnthropicConfig struct {
	APIKey string `yaml:"apiKey"`
	Model  string `yaml:"model"`
}

type GoogleLLMConfig struct {
	APIKey string `yaml:"apiKey"`
	Model  string `yaml:"model"`
}

type LLMConfig struct {
	DefaultProvider string          `yaml:"defaultProvider"`
	OpenAI          OpenAIConfig    `yaml:"openai"`
	Anthropic       AnthropicConfig `yaml:"anthropic"`
	Google          GoogleLLMConfig `yaml:"google"`
}

// SearxngConfig holds provider-specific configuration for SearxNG-based search.
type SearxngConfig struct {
	BaseURL      string `yaml:"baseURL"`
	DefaultLimit int    `yaml:"defaultLimit"`
	TimeoutMs    int    `yaml:"timeoutMs"`
}

// SearchConfig controls the optional /v2/search endpoint and its provider.
type SearchConfig struct {
	Enabled              bool          `yaml:"enabled"`
	Provider             string        `yaml:"provider"`
	MaxResults           int           `yaml:"maxResults"`
	TimeoutMs            int           `yaml:"timeoutMs"`
	MaxConcurrentScrapes int           `yaml:"maxConcurrentScrapes"`
	Searxng              SearxngConfig `yaml:"searxng"`
}

// NuQConfig controls the persistent scrape queue: connection DSNs,
// lease/renew durations.
type NuQConfig struct {
	DatabaseURL           string `yaml:"databaseURL"`           // NUQ_DATABASE_URL, pooled
	DatabaseURLListen     string `yaml:"databaseURLListen"`     // NUQ_DATABASE_URL_LISTEN, direct connection for LISTEN/NOTIFY
	LeaseSeconds          int    `yaml:"leaseSeconds"`          // default 60
	RenewIntervalSeconds  int    `yaml:"renewIntervalSeconds"`  // default 20 (lease/3)
	ReaperIntervalSeconds int    `yaml:"reaperIntervalSeconds"` // default 30
}

// AdmissionConfig controls the per-team rate limit / credit / concurrency
// admission gates.
type AdmissionConfig struct {
	MaxJobDurationSeconds int    `yaml:"maxJobDurationSeconds"` // active-jobs register score horizon
	ConcurrencyCombinator string `yaml:"concurrencyCombinator"` // only "max" implemented
	PromoterIntervalMs    int    `yaml:"promoterIntervalMs"`
	PromoterBatchSize     int    `yaml:"promoterBatchSize"`
}

// CrawlConfig controls the crawl orchestrator's defaults and hard
// ceilings.
type CrawlConfig struct {
	DefaultTTLHours       int `yaml:"defaultTTLHours"`
	MaxDiscoveryDepth     int `yaml:"maxDiscoveryDepth"` // default when a crawl request leaves it unset
	HardMaxLimit          int `yaml:"hardMaxLimit"` // ceiling applied even under the sitemap-only 10_000_000 sentinel
	SitemapOnlySentinel   int `yaml:"sitemapOnlySentinel"`
	WebhookTimeoutSeconds int `yaml:"webhookTimeoutSeconds"`
}

// EngineConfig controls the fallback pipeline's engine list and
// per-engine timeouts.
type EngineConfig struct {
	FallbackOrder        []string `yaml:"fallbackOrder"` // e.g. ["http", "browser"]
	HTTPTimeoutMs         int      `yaml:"httpTimeoutMs"`
	BrowserTimeoutMs       int      `yaml:"browserTimeoutMs"`
	MinAcceptableMarkdown int      `yaml:"minAcceptableMarkdown"` // isLongEnough threshold, default 100
}

// ExtractPipelineConfig controls the multi-document extract
// orchestrator's chunking and per-step timeouts.
type ExtractPipelineConfig struct {
	ChunkSize               int `yaml:"chunkSize"`               // default 50
	DocumentTimeoutSeconds  int `yaml:"documentTimeoutSeconds"`  // default 45
	RequestTimeoutSeconds   int `yaml:"requestTimeoutSeconds"`   // overall budget; per-URL scrape timeout is 70% of this
}

// PreviewConfig carries operator-only escape hatches sourced from the
// environment rather than the YAML file.
type PreviewConfig struct {
	// SearchPreviewToken, when non-empty and matched by a request's
	// X-Preview-Token header, bypasses billing for internal search
	// previews (SEARCH_PREVIEW_TOKEN).
	SearchPreviewToken string `yaml:"searchPreviewToken"`
	// GCSBucketName enables scrape-result persistence when set
	// (GCS_FIRE_ENGINE_BUCKET_NAME). The bucket client itself is an
	// external collaborator; this build only records the intent.
	GCSBucketName string `yaml:"gcsBucketName"`
	// UseDBAuthentication gates whether team identities must exist in
	// the database-backed registry ("true") or every caller is treated
	// as an unlimited self-hosted tenant (USE_DB_AUTHENTICATION).
	UseDBAuthentication bool `yaml:"useDBAuthentication"`
}

type Config struct {
	Server        ServerConfig          `yaml:"server"`
	Scraper       ScraperConfig         `yaml:"scraper"`
	Crawler       CrawlerConfig         `yaml:"crawler"`
	Robots        RobotsConfig          `yaml:"robots"`
	Rod           RodConfig             `yaml:"rod"`
	Database      DatabaseConfig        `yaml:"database"`
	Redis         RedisConfig           `yaml:"redis"`
	Auth          AuthConfig            `yaml:"auth"`
	RateLimit     RateLimitConfig       `yaml:"ratelimit"`
	Worker        WorkerConfig          `yaml:"worker"`
	LLM           LLMConfig             `yaml:"llm"`
	Search        SearchConfig          `yaml:"search"`
	NuQ           NuQConfig             `yaml:"nuq"`
	Admission     AdmissionConfig       `yaml:"admission"`
	CrawlCore     CrawlConfig           `yaml:"crawlCore"`
	Engine        EngineConfig          `yaml:"engine"`
	ExtractPipeline ExtractPipelineConfig `yaml:"extractPipeline"`
	Preview       PreviewConfig         `yaml:"preview"`
}

func Load(path string) *Config {
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed to open config file: %v", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		log.Fatalf("failed to decode config: %v", err)
	}

	applyEnvOverrides(&cfg)
	return &cfg
}

// applyEnvOverrides layers the recognized environment variables over
// the YAML file, so container deployments can point the binary at
// their stores without editing config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NUQ_DATABASE_URL"); v != "" {
		cfg.NuQ.DatabaseURL = v
	}
	if v := os.Getenv("NUQ_DATABASE_URL_LISTEN"); v != "" {
		cfg.NuQ.DatabaseURLListen = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("USE_DB_AUTHENTICATION"); v != "" {
		cfg.Preview.UseDBAuthentication = v == "true"
	}
	if v := os.Getenv("SEARCH_PREVIEW_TOKEN"); v != "" {
		cfg.Preview.SearchPreviewToken = v
	}
	if v := os.Getenv("GCS_FIRE_ENGINE_BUCKET_NAME"); v != "" {
		cfg.Preview.GCSBucketName = v
	}
}

// Validate performs basic sanity checks on the loaded configuration.
// It focuses on LLM defaults so that obviously misconfigured providers
// fail fast at startup rather than during the first request.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	provider := strings.TrimSpace(cfg.LLM.DefaultProvider)
	if provider == "" {
		return errors.New("llm.defaultProvider must be set to 'openai', 'anthropic', or 'google'")
	}

	switch provider {
	case "openai":
		if cfg.LLM.OpenAI.APIKey == "" || cfg.LLM.OpenAI.Model == "" {
			return errors.New("openai llm provider is not fully configured")
		}
	case "anthropic":
		if cfg.LLM.Anthropic.APIKey == "" || cfg.LLM.Anthropic.Model == "" {
			return errors.New("anthropic llm provider is not fully configured")
		}
	case "google":
		if cfg.LLM.Google.APIKey == "" || cfg.LLM.Google.Model == "" {
			return errors.New("google llm provider is not fully configured")
		}
	default:
		return fmt.Errorf("unsupported llm.defaultProvider: %s", provider)
	}

	return nil
}
