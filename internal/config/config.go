package config

import (
	_ "embed"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Library  LibraryConfig
	Vision   VisionConfig
	Database DatabaseConfig
	Legacy   LegacyConfig
	Geocode  GeocodeConfig
	Web      WebConfig
	Policy   PolicyConfig
}

type LibraryConfig struct {
	URL      string
	Username string
	Password string
	Domain   string // public domain for generating photo links (e.g., https://photos.example.com)
}

// PhotoURL returns an OSC 8 hyperlink for terminal emulators (iTerm2, etc.)
// Displays the UID but makes it clickable to open the photo in the library.
// Returns empty string if Domain is not set
func (c *LibraryConfig) PhotoURL(uid string) string {
	if c.Domain == "" {
		return ""
	}
	url := c.Domain + "/library/browse?view=cards&order=oldest&q=uid:" + uid
	// OSC 8 hyperlink format: \e]8;;URL\e\\TEXT\e]8;;\e\\
	return "\x1b]8;;" + url + "\x1b\\" + uid + "\x1b]8;;\x1b\\"
}

type VisionConfig struct {
	URL string // defaults to http://localhost:8000
	Dim int    // defaults to 512
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type LegacyConfig struct {
	DatabaseURL string // MariaDB DSN for importing an existing photo library database
}

type GeocodeConfig struct {
	URL string // reverse geocoding endpoint, empty disables location names
}

type WebConfig struct {
	Port int // defaults to 8080
}

// PolicyConfig holds the matching and grouping policy. Values come from
// the embedded defaults; thresholds can be overridden via env vars.
type PolicyConfig struct {
	Match    MatchPolicy    `yaml:"match"`
	Grouping GroupingPolicy `yaml:"grouping"`
	Detect   DetectPolicy   `yaml:"detect"`
}

type MatchPolicy struct {
	AutoAcceptThreshold float64 `yaml:"auto_accept_threshold"`
	SuggestThreshold    float64 `yaml:"suggest_threshold"`
	RecentBoost         float64 `yaml:"recent_boost"`
	TopK                int     `yaml:"top_k"`
}

type GroupingPolicy struct {
	MaxGap        time.Duration `yaml:"-"`
	MaxGapMinutes int           `yaml:"max_gap_minutes"`
	MaxDistance   float64       `yaml:"max_distance_meters"`
}

type DetectPolicy struct {
	NMSThreshold      float64 `yaml:"nms_threshold"`
	TransferThreshold float64 `yaml:"transfer_threshold"`
	MinTilePixels     int     `yaml:"min_tile_pixels"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a float in (0, 1].
// Returns the default value if the env var is unset, empty, or invalid.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 && f <= 1 {
		return f
	}
	return defaultVal
}

func Load() *Config {
	var policy PolicyConfig
	if err := yaml.Unmarshal(defaultsYAML, &policy); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}

	policy.Grouping.MaxGapMinutes = envInt("GROUPING_MAX_GAP_MINUTES", policy.Grouping.MaxGapMinutes)
	policy.Grouping.MaxGap = time.Duration(policy.Grouping.MaxGapMinutes) * time.Minute
	policy.Match.AutoAcceptThreshold = envFloat("MATCH_AUTO_ACCEPT_THRESHOLD", policy.Match.AutoAcceptThreshold)
	policy.Match.SuggestThreshold = envFloat("MATCH_SUGGEST_THRESHOLD", policy.Match.SuggestThreshold)

	return &Config{
		Library: LibraryConfig{
			URL:      os.Getenv("LIBRARY_URL"),
			Username: os.Getenv("LIBRARY_USERNAME"),
			Password: os.Getenv("LIBRARY_PASSWORD"),
			Domain:   os.Getenv("LIBRARY_DOMAIN"),
		},
		Vision: VisionConfig{
			URL: os.Getenv("VISION_URL"),
			Dim: envInt("VISION_DIM", 512),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Legacy: LegacyConfig{
			DatabaseURL: os.Getenv("LEGACY_DATABASE_URL"),
		},
		Geocode: GeocodeConfig{
			URL: os.Getenv("GEOCODE_URL"),
		},
		Web: WebConfig{
			Port: envInt("PORT", 8080),
		},
		Policy: policy,
	}
}
