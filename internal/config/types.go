package config

import "time"

// Config represents the complete worldclone configuration.
type Config struct {
	Include     []string          `yaml:"include,omitempty"`
	Service     ServiceConfig     `yaml:"service"`
	State       StateConfig       `yaml:"state"`
	API         APIConfig         `yaml:"api,omitempty"`
	Webhooks    WebhooksConfig    `yaml:"webhooks,omitempty"`
	World       WorldConfig       `yaml:"world"`
	Performance PerformanceConfig `yaml:"performance"`
	Setup       SetupConfig       `yaml:"setup"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
	// MaxWait bounds how long a ?wait=true request blocks.
	MaxWait time.Duration `yaml:"max_wait"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	APIKey string `yaml:"api_key"`
}

// WebhooksConfig configures the signed presence hook the live host calls
// when players enter or leave a clone. Empty Listen disables it.
type WebhooksConfig struct {
	Listen          string `yaml:"listen"`
	Path            string `yaml:"path"`
	Secret          string `yaml:"secret"`
	SignatureHeader string `yaml:"signature_header"`
	// MaxBodySize accepts sizes like "64KB" or "1MB".
	MaxBodySize string `yaml:"max_body_size,omitempty"`
}

// WorldConfig describes where clones and their sources live.
type WorldConfig struct {
	// Container holds one directory per clone.
	Container  string `yaml:"container"`
	NamePrefix string `yaml:"name_prefix"`
	Radius     int    `yaml:"radius"`
	// MaxRadius caps the radius any single request may ask for.
	MaxRadius    int    `yaml:"max_radius"`
	TileEdge     int    `yaml:"tile_edge"`
	MetadataFile string `yaml:"metadata_file"`
	TileDir      string `yaml:"tile_dir"`
	TileExt      string `yaml:"tile_ext"`
	// Sources maps a source world name to its directory.
	Sources map[string]string `yaml:"sources"`
	// DefaultSource is used when a request names no source. With a single
	// configured source it may be left empty.
	DefaultSource string `yaml:"default_source"`
}

// DefaultSourceName resolves the source used for requests that name none.
func (w WorldConfig) DefaultSourceName() string {
	if w.DefaultSource != "" {
		return w.DefaultSource
	}
	if len(w.Sources) == 1 {
		for name := range w.Sources {
			return name
		}
	}
	return ""
}

// PerformanceConfig tunes the copy pipeline.
type PerformanceConfig struct {
	CopyDelay        time.Duration `yaml:"copy_delay"`
	ProgressInterval time.Duration `yaml:"progress_interval"`
	VerifyCopies     bool          `yaml:"verify_copies"`
}

// SetupConfig is applied to every freshly copied clone.
type SetupConfig struct {
	TimeOfDay             int            `yaml:"time_of_day"`
	BorderWarningDistance int            `yaml:"border_warning_distance"`
	BorderWarningTime     time.Duration  `yaml:"border_warning_time"`
	Rules                 map[string]any `yaml:"rules"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "worldclone",
			LogLevel:  "info",
			LogFormat: "json",
		},
		State: StateConfig{
			Path: "./data/state.db",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
			MaxWait: 2 * time.Minute,
		},
		Webhooks: WebhooksConfig{
			Path:            "/hooks/presence",
			SignatureHeader: "X-Worldclone-Signature",
		},
		World: WorldConfig{
			Container:    "./designs",
			NamePrefix:   "design_",
			Radius:       1000,
			MaxRadius:    8192,
			TileEdge:     512,
			MetadataFile: "level.dat",
			TileDir:      "region",
			TileExt:      "mca",
			Sources:      make(map[string]string),
		},
		Performance: PerformanceConfig{
			CopyDelay:        50 * time.Millisecond,
			ProgressInterval: time.Second,
		},
		Setup: SetupConfig{
			TimeOfDay:             6000,
			BorderWarningDistance: 50,
			BorderWarningTime:     15 * time.Second,
			Rules:                 DefaultRules(),
		},
	}
}

// DefaultRules are the world rules a clone gets unless configured otherwise.
func DefaultRules() map[string]any {
	return map[string]any{
		"doMobSpawning":   false,
		"doDaylightCycle": false,
		"doWeatherCycle":  false,
		"doFireTick":      false,
		"mobGriefing":     false,
		"keepInventory":   true,
	}
}
