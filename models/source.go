package models

type SourceKind string

const (
	KindDirectHTML SourceKind = "direct-html"
	KindRunService SourceKind = "run-based-service"
	KindAPI        SourceKind = "api"
)

// ScrapePolicy controls how aggressively a source may be crawled
type ScrapePolicy struct {
	RefreshIntervalMinutes int    `yaml:"refresh_interval_minutes" json:"refresh_interval_minutes"`
	RequiresJS             bool   `yaml:"requires_js" json:"requires_js"`
	Difficulty             string `yaml:"difficulty" json:"difficulty"` // easy, moderate, hard
	DelayMS                int    `yaml:"delay_ms" json:"delay_ms"`     // between page fetches
}

// DirectParams configures a direct-html source. SearchURL must contain a
// {page} placeholder; field selectors are evaluated relative to ItemSelector.
type DirectParams struct {
	SearchURL    string            `yaml:"search_url" json:"search_url"`
	ItemSelector string            `yaml:"item_selector" json:"item_selector"`
	Selectors    map[string]string `yaml:"selectors" json:"selectors"` // address, price, beds, baths, neighborhood, url, image
	BaseURL      string            `yaml:"base_url" json:"base_url"`   // for resolving relative links
}

// RunParams configures a run-based scraping service source (Apify-style:
// trigger an actor run, poll until terminal, read the dataset).
type RunParams struct {
	Endpoint    string `yaml:"endpoint" json:"endpoint"`
	ActorID     string `yaml:"actor_id" json:"actor_id"`
	TokenEnv    string `yaml:"token_env" json:"token_env"` // env var holding the API token
	MaxListings int    `yaml:"max_listings" json:"max_listings"`
}

// APIParams configures a paginated JSON API source. FieldMap maps canonical
// listing fields to the item's JSON keys.
type APIParams struct {
	Endpoint string            `yaml:"endpoint" json:"endpoint"`
	PageSize int               `yaml:"page_size" json:"page_size"`
	Headers  map[string]string `yaml:"headers" json:"headers"`
	FieldMap map[string]string `yaml:"field_map" json:"field_map"`
}

// SourceConfig describes one external origin of listing data. Exactly one of
// Direct/Run/API is set, matching Kind.
type SourceConfig struct {
	ID       string        `yaml:"id" json:"id"`
	Name     string        `yaml:"name" json:"name"`
	Kind     SourceKind    `yaml:"kind" json:"kind"`
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Priority int           `yaml:"priority" json:"priority"` // lower = more authoritative, crawled first
	Policy   ScrapePolicy  `yaml:"policy" json:"policy"`
	Direct   *DirectParams `yaml:"direct,omitempty" json:"direct,omitempty"`
	Run      *RunParams    `yaml:"run,omitempty" json:"run,omitempty"`
	API      *APIParams    `yaml:"api,omitempty" json:"api,omitempty"`
}
