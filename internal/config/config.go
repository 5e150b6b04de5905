package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	CloudNone      = "none"
	CloudJSONBin   = "jsonbin"
	CloudCouchbase = "couchbase"

	ScraperNone   = "none"
	ScraperOEmbed = "oembed"
	ScraperRod    = "rod"
)

// Config holds all configuration for the application.
// Values are read by viper from a config file or environment variables.
type Config struct {
	TelegramBotToken string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	BadgerDBPath     string `mapstructure:"BADGERDB_PATH"`
	SQLitePath       string `mapstructure:"SQLITE_PATH"`
	LogLevel         string `mapstructure:"LOG_LEVEL"`

	HTTPAddr      string `mapstructure:"HTTP_ADDR"`
	PublicBaseURL string `mapstructure:"PUBLIC_BASE_URL"`
	// ProxyBaseURL hosts the /fetch relay; empty means PublicBaseURL.
	ProxyBaseURL string `mapstructure:"PROXY_BASE_URL"`

	TwitterAPIBaseURL string `mapstructure:"TWITTER_API_BASE_URL"`

	CloudBackend      string `mapstructure:"CLOUD_BACKEND"`
	JSONBinBaseURL    string `mapstructure:"JSONBIN_BASE_URL"`
	JSONBinMasterKey  string `mapstructure:"JSONBIN_MASTER_KEY"`
	CouchbaseEndpoint string `mapstructure:"COUCHBASE_ENDPOINT"`
	CouchbaseUsername string `mapstructure:"COUCHBASE_USERNAME"`
	CouchbasePassword string `mapstructure:"COUCHBASE_PASSWORD"`
	CouchbaseBucket   string `mapstructure:"COUCHBASE_BUCKET"`

	SyncSchedule   string `mapstructure:"SYNC_SCHEDULE"`
	ScraperBackend string `mapstructure:"SCRAPER_BACKEND"`
	DetectLanguage bool   `mapstructure:"DETECT_LANGUAGE"`
}

var defaults = map[string]any{
	"TELEGRAM_BOT_TOKEN":   "",
	"BADGERDB_PATH":        "./badger_data",
	"SQLITE_PATH":          "./perch.db",
	"LOG_LEVEL":            "info",
	"HTTP_ADDR":            ":8001",
	"PUBLIC_BASE_URL":      "http://localhost:8001",
	"PROXY_BASE_URL":       "",
	"TWITTER_API_BASE_URL": "https://api.twitterapi.io",
	"CLOUD_BACKEND":        CloudNone,
	"JSONBIN_BASE_URL":     "https://api.jsonbin.io/v3",
	"JSONBIN_MASTER_KEY":   "",
	"COUCHBASE_ENDPOINT":   "",
	"COUCHBASE_USERNAME":   "",
	"COUCHBASE_PASSWORD":   "",
	"COUCHBASE_BUCKET":     "",
	"SYNC_SCHEDULE":        "@every 30m",
	"SCRAPER_BACKEND":      ScraperOEmbed,
	"DETECT_LANGUAGE":      true,
}

// LoadConfig reads config.yaml from path, overlaid with environment variables.
// A missing config file is not an error.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Registered defaults make env-only keys visible to Unmarshal.
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if cfg.ProxyBaseURL == "" {
		cfg.ProxyBaseURL = cfg.PublicBaseURL
	}
	cfg.CloudBackend = strings.ToLower(strings.TrimSpace(cfg.CloudBackend))
	cfg.ScraperBackend = strings.ToLower(strings.TrimSpace(cfg.ScraperBackend))

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.CloudBackend {
	case CloudNone:
	case CloudJSONBin:
		if c.JSONBinMasterKey == "" {
			return errors.New("JSONBIN_MASTER_KEY is required when CLOUD_BACKEND=jsonbin")
		}
	case CloudCouchbase:
		if c.CouchbaseEndpoint == "" || c.CouchbaseBucket == "" {
			return errors.New("COUCHBASE_ENDPOINT and COUCHBASE_BUCKET are required when CLOUD_BACKEND=couchbase")
		}
	default:
		return fmt.Errorf("unknown CLOUD_BACKEND %q", c.CloudBackend)
	}

	switch c.ScraperBackend {
	case ScraperNone, ScraperOEmbed, ScraperRod:
	default:
		return fmt.Errorf("unknown SCRAPER_BACKEND %q", c.ScraperBackend)
	}
	return nil
}
