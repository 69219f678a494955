package model

// Metadata is a trimmed version of Firecrawl's metadata block.
type Metadata struct {
	Title         string         `json:"title,omitempty"`
	Description   string         `json:"description,omitempty"`
	Language      string         `json:"language,omitempty"`
	Keywords      string         `json:"keywords,omitempty"`
	Robots        string         `json:"robots,omitempty"`
	OgTitle       string         `json:"ogTitle,omitempty"`
	OgDescription string         `json:"ogDescription,omitempty"`
	OgURL         string         `json:"ogUrl,omitempty"`
	OgImage       string         `json:"ogImage,omitempty"`
	OgLocaleAlt   []string       `json:"ogLocaleAlternate,omitempty"`
	OgSiteName    string         `json:"ogSiteName,omitempty"`
	SourceURL     string         `json:"sourceURL,omitempty"`
	StatusCode    int            `json:"statusCode"`
	Summary       string         `json:"summary,omitempty"`
	JSON          map[string]any `json:"json,omitempty"`
	Branding      map[string]any `json:"branding,omitempty"`
}

// LinkMetadata captures additional information about an outbound link.
type LinkMetadata struct {
	URL  string `json:"url"`
	Text string `json:"text,omitempty"`
	Rel  string `json:"rel,omitempty"`
}

// Document is a reduced version of Firecrawl's Document type
// sufficient for scrape/map/crawl responses.
type Document struct {
	Markdown     string         `json:"markdown,omitempty"`
	HTML         string         `json:"html,omitempty"`
	RawHTML      string         `json:"rawHtml,omitempty"`
	Links        []string       `json:"links,omitempty"`
	LinkMetadata []LinkMetadata `json:"linkMetadata,omitempty"`
	Images       []string       `json:"images,omitempty"`
	Screenshot   string         `json:"screenshot,omitempty"`
	Summary      string         `json:"summary,omitempty"`
	JSON         map[string]any `json:"json,omitempty"`
	Branding     map[string]any `json:"branding,omitempty"`
	Engine       string         `json:"engine,omitempty"`
	ProxyUsed    string         `json:"proxyUsed,omitempty"`
	NumPages     int            `json:"numPages,omitempty"`
	CreditsUsed  int64          `json:"creditsUsed,omitempty"`
	Error        string         `json:"error,omitempty"`
	ErrorCode    string         `json:"errorCode,omitempty"`
	Metadata     Metadata       `json:"metadata"`
}

// Identity is the admission controller's view of a team for one
// operation mode: its credit balance, that mode's rate limit, and that
// mode's concurrency ceiling. RateLimitPerMinute and Concurrency are
// the team-wide defaults; the per-mode maps override them for the
// operation classes a plan prices differently, and the identity
// provider resolves them into the flat fields before handing the
// record to admission.
type Identity struct {
	TeamID             string `json:"teamId"`
	SubID              string `json:"subId,omitempty"`
	CreditsRemaining   int64  `json:"creditsRemaining"`
	RateLimitPerMinute int    `json:"rateLimitPerMinute"`
	Concurrency        int    `json:"concurrency"`
	// RateLimitsPerMode / ConcurrencyPerMode are keyed by operation
	// mode (scrape, crawl, map, search, extract, status).
	RateLimitsPerMode  map[string]int `json:"rateLimitsPerMode,omitempty"`
	ConcurrencyPerMode map[string]int `json:"concurrencyPerMode,omitempty"`
	Unlimited          bool           `json:"unlimited,omitempty"`
}

// CrawlerOptions mirrors the discovery-shaping knobs a crawl submit
// request carries.
type CrawlerOptions struct {
	Limit             int      `json:"limit,omitempty"`
	MaxDiscoveryDepth int      `json:"maxDiscoveryDepth,omitempty"`
	IncludePaths      []string `json:"includePaths,omitempty"`
	ExcludePaths      []string `json:"excludePaths,omitempty"`
	// RegexOnFullURL evaluates include/exclude patterns against the
	// whole URL instead of just its path.
	RegexOnFullURL bool `json:"regexOnFullURL,omitempty"`
	AllowSubdomains   bool     `json:"allowSubdomains,omitempty"`
	AllowExternal     bool     `json:"allowExternalLinks,omitempty"`
	IgnoreQueryParams bool     `json:"ignoreQueryParams,omitempty"`
	SitemapMode       string   `json:"sitemap,omitempty"` // "only", "include", "skip"
}

// ScrapeOptions carries the per-page scrape settings a crawl applies
// uniformly to every discovered URL.
type ScrapeOptions struct {
	Formats    []string          `json:"formats,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	TimeoutMs  int               `json:"timeout,omitempty"`
	UseBrowser bool              `json:"useBrowser,omitempty"`
	// Mobile and Proxy feed the engine fallback pipeline's per-request
	// capability filtering.
	Mobile bool   `json:"mobile,omitempty"`
	Proxy  string `json:"proxy,omitempty"`
}

// InternalOptions carries knobs that never cross the wire back to a
// caller but steer orchestration (webhook target, cancellation flag
// checks, etc).
type InternalOptions struct {
	WebhookURL string `json:"webhookUrl,omitempty"`
	TeamID     string `json:"teamId,omitempty"`
	// ZeroDataRetention marks a crawl whose team forbids persisting
	// scraped content: terminal queue rows are removed eagerly rather
	// than retained for later inspection.
	ZeroDataRetention bool `json:"zeroDataRetention,omitempty"`
}

// StoredCrawl is the KV-persisted record of a crawl in progress,
// keyed as crawl:<id>. It survives process restarts, so any worker
// can pick up where another left off.
type StoredCrawl struct {
	ID        string          `json:"id"`
	OriginURL string          `json:"originUrl"`
	Crawler   CrawlerOptions  `json:"crawlerOptions"`
	Scrape    ScrapeOptions   `json:"scrapeOptions"`
	Internal  InternalOptions `json:"internalOptions"`
	CreatedAt int64           `json:"createdAt"` // unix seconds, set by the submitter
	// Robots is the origin's raw robots.txt, fetched best-effort at
	// submission so workers don't re-fetch it per child page.
	Robots         string `json:"robots,omitempty"`
	MaxConcurrency int    `json:"maxConcurrency,omitempty"`
	Cancelled      bool   `json:"cancelled"`
}
