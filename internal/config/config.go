package config

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type QueryBackend string

// queryAllowance is the write-timeout headroom left for the trends query.
const queryAllowance = time.Minute

const (
	BackendBigQuery QueryBackend = "bigquery"
	BackendDuckDB   QueryBackend = "duckdb"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Query         QueryConfig
	ObjectStore   ObjectStoreConfig
	Gemini        GeminiConfig
	Catalog       CatalogConfig
	UI            UIConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type QueryConfig struct {
	Backend    QueryBackend
	ProjectID  string
	RowLimit   int
	CharBudget int
}

type ObjectStoreConfig struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type GeminiConfig struct {
	Endpoint        string
	BaseURL         string
	APIKey          string
	ProjectID       string
	Location        string
	Model           string
	MaxOutputTokens int
	Temperature     float64
	TopK            int
	TopP            float64
	Timeout         time.Duration
}

type CatalogConfig struct {
	File string
}

type UIConfig struct {
	Title    string
	ImageURL string
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("TRENDRBOT_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid TRENDRBOT_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	var backend string
	steps := []func() error{
		func() error { return applyString(lookup, "TRENDRBOT_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "TRENDRBOT_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "TRENDRBOT_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "TRENDRBOT_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "TRENDRBOT_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },
		func() error { return applyString(lookup, "TRENDRBOT_QUERY_BACKEND", &backend) },
		func() error { return applyString(lookup, "GOOGLE_CLOUD_PROJECT", &cfg.Query.ProjectID) },
		func() error { return applyString(lookup, "TRENDRBOT_GCP_PROJECT", &cfg.Query.ProjectID) },
		func() error { return applyInt(lookup, "TRENDRBOT_QUERY_ROW_LIMIT", &cfg.Query.RowLimit) },
		func() error { return applyInt(lookup, "TRENDRBOT_QUERY_CHAR_BUDGET", &cfg.Query.CharBudget) },
		func() error { return applyString(lookup, "TRENDRBOT_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint) },
		func() error { return applyString(lookup, "TRENDRBOT_OBJECTSTORE_REGION", &cfg.ObjectStore.Region) },
		func() error { return applyString(lookup, "TRENDRBOT_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket) },
		func() error { return applyString(lookup, "TRENDRBOT_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID) },
		func() error { return applyString(lookup, "TRENDRBOT_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey) },
		func() error { return applyBool(lookup, "TRENDRBOT_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL) },
		func() error { return applyString(lookup, "TRENDRBOT_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix) },
		func() error {
			return applyBool(lookup, "TRENDRBOT_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket)
		},
		func() error { return applyString(lookup, "TRENDRBOT_GEMINI_ENDPOINT", &cfg.Gemini.Endpoint) },
		func() error { return applyString(lookup, "TRENDRBOT_GEMINI_BASE_URL", &cfg.Gemini.BaseURL) },
		func() error { return applyString(lookup, "TRENDRBOT_GEMINI_API_KEY", &cfg.Gemini.APIKey) },
		func() error { return applyString(lookup, "TRENDRBOT_GEMINI_LOCATION", &cfg.Gemini.Location) },
		func() error { return applyString(lookup, "TRENDRBOT_GEMINI_MODEL", &cfg.Gemini.Model) },
		func() error { return applyInt(lookup, "TRENDRBOT_GEMINI_MAX_OUTPUT_TOKENS", &cfg.Gemini.MaxOutputTokens) },
		func() error { return applyFloat(lookup, "TRENDRBOT_GEMINI_TEMPERATURE", &cfg.Gemini.Temperature) },
		func() error { return applyInt(lookup, "TRENDRBOT_GEMINI_TOP_K", &cfg.Gemini.TopK) },
		func() error { return applyFloat(lookup, "TRENDRBOT_GEMINI_TOP_P", &cfg.Gemini.TopP) },
		func() error { return applyDuration(lookup, "TRENDRBOT_GEMINI_TIMEOUT", &cfg.Gemini.Timeout) },
		func() error { return applyString(lookup, "TRENDRBOT_CATALOG_FILE", &cfg.Catalog.File) },
		func() error { return applyString(lookup, "TRENDRBOT_UI_TITLE", &cfg.UI.Title) },
		func() error { return applyString(lookup, "TRENDRBOT_UI_IMAGE_URL", &cfg.UI.ImageURL) },
		func() error { return applyBool(lookup, "TRENDRBOT_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "TRENDRBOT_LOG_LEVEL", &cfg.Observability.LogLevel) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return Config{}, err
		}
	}

	if backend != "" {
		cfg.Query.Backend = QueryBackend(strings.ToLower(backend))
	}
	// The Vertex endpoint bills the same project the queries run in.
	cfg.Gemini.ProjectID = cfg.Query.ProjectID

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	switch cfg.Query.Backend {
	case BackendBigQuery, BackendDuckDB:
	default:
		return Config{}, fmt.Errorf("invalid TRENDRBOT_QUERY_BACKEND: %q", cfg.Query.Backend)
	}
	// One ask makes two generation calls and a query before the response is
	// written.
	minWrite := 2 * cfg.Gemini.Timeout
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = minWrite + queryAllowance
	} else if cfg.HTTP.WriteTimeout <= minWrite {
		return Config{}, fmt.Errorf("TRENDRBOT_HTTP_WRITE_TIMEOUT %s must exceed twice TRENDRBOT_GEMINI_TIMEOUT (%s)", cfg.HTTP.WriteTimeout, cfg.Gemini.Timeout)
	}
	if cfg.Query.CharBudget <= 0 {
		return Config{}, fmt.Errorf("TRENDRBOT_QUERY_CHAR_BUDGET must be positive")
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "trendrbot-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Query: QueryConfig{
			Backend:    BackendBigQuery,
			RowLimit:   0,
			CharBudget: 500000,
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "trendrbot",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "",
			AutoCreateBucket: true,
		},
		Gemini: GeminiConfig{
			Endpoint:        "vertex",
			Location:        "us-central1",
			Model:           "gemini-1.5-pro-preview-0409",
			MaxOutputTokens: 2048,
			Temperature:     0.8,
			TopK:            40,
			TopP:            1,
			Timeout:         90 * time.Second,
		},
		UI: UIConfig{
			Title:    "Ask Google Trends",
			ImageURL: "https://storage.googleapis.com/ask_gtrends/trendrbot.png",
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Query.Backend = BackendDuckDB
		cfg.Observability.LogLevel = slog.LevelWarn
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	return applyParsed(lookup, key, dst, func(raw string) (string, error) { return raw, nil })
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	return applyParsed(lookup, key, dst, time.ParseDuration)
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	return applyParsed(lookup, key, dst, strconv.ParseBool)
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	return applyParsed(lookup, key, dst, strconv.Atoi)
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	return applyParsed(lookup, key, dst, func(raw string) (float64, error) {
		value, err := strconv.ParseFloat(raw, 64)
		if err == nil && (math.IsNaN(value) || math.IsInf(value, 0)) {
			return 0, fmt.Errorf("%q is not a finite number", raw)
		}
		return value, err
	})
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	return applyParsed(lookup, key, dst, parseLogLevel)
}

// applyParsed sets dst from the trimmed value of key when it is present.
func applyParsed[T any](lookup LookupFunc, key string, dst *T, parse func(string) (T, error)) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(raw) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", raw)
	}
}
