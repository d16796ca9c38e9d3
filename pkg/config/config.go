// Package config loads cveagent settings from a YAML file with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendSQL    = "sql"
	BackendMongo  = "mongo"
)

type Config struct {
	HTTP      HTTP      `yaml:"http"`
	Store     Store     `yaml:"store"`
	LLM       LLM       `yaml:"llm"`
	Log       Log       `yaml:"log"`
	Telemetry Telemetry `yaml:"telemetry"`
	Tools     Tools     `yaml:"tools"`
	Sessions  Sessions  `yaml:"sessions"`
}

type HTTP struct {
	Addr           string        `yaml:"addr"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type Store struct {
	Backend     string `yaml:"backend"`
	DatabaseURL string `yaml:"database_url"`
	Mongo       Mongo  `yaml:"mongo"`
	// SeedFile is loaded at startup when set. "sample" loads the bundled records.
	SeedFile string `yaml:"seed_file"`
	// RecordTurns persists completed turns when the backend supports it.
	RecordTurns bool `yaml:"record_turns"`
}

type Mongo struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

type LLM struct {
	// Provider is empty for rules only, or a registered planner name.
	Provider      string `yaml:"provider"`
	Model         string `yaml:"model"`
	APIKey        string `yaml:"api_key"`
	BaseURL       string `yaml:"base_url"`
	HistoryTokens int    `yaml:"history_tokens"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Telemetry struct {
	StdoutTraces bool    `yaml:"stdout_traces"`
	ServiceName  string  `yaml:"service_name"`
	SampleRatio  float64 `yaml:"sample_ratio"`
}

type Sessions struct {
	// IdleTimeout closes sessions unused for this long. Zero keeps them
	// until they are deleted.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

type Tools struct {
	DefaultLimit int `yaml:"default_limit"`
	MaxLimit     int `yaml:"max_limit"`
}

// Default returns the settings used when nothing is configured: an
// in-memory store with the bundled sample records and rule-based routing.
func Default() Config {
	return Config{
		HTTP:  HTTP{Addr: ":8080", RequestTimeout: 15 * time.Second},
		Store: Store{Backend: BackendMemory, SeedFile: "sample", Mongo: Mongo{Database: "cve_database", Collection: "cve_details"}},
		LLM:   LLM{HistoryTokens: 2000},
		Log:   Log{Level: "info", Format: "json"},
		Telemetry: Telemetry{
			ServiceName: "cveagent",
		},
		Tools:    Tools{DefaultLimit: 10, MaxLimit: 100},
		Sessions: Sessions{IdleTimeout: 30 * time.Minute},
	}
}

// Load reads path over the defaults and then applies environment overrides.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from CVEAGENT_* and the conventional provider
// variables.
func (c *Config) ApplyEnv() error {
	c.HTTP.Addr = getEnv("CVEAGENT_ADDR", c.HTTP.Addr)
	if v := os.Getenv("CVEAGENT_REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: CVEAGENT_REQUEST_TIMEOUT: %w", err)
		}
		c.HTTP.RequestTimeout = d
	}
	if v := os.Getenv("CVEAGENT_SESSION_IDLE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: CVEAGENT_SESSION_IDLE_TIMEOUT: %w", err)
		}
		c.Sessions.IdleTimeout = d
	}
	c.Store.Backend = getEnv("CVEAGENT_STORE", c.Store.Backend)
	c.Store.DatabaseURL = getEnv("DATABASE_URL", c.Store.DatabaseURL)
	c.Store.SeedFile = getEnv("CVEAGENT_SEED_FILE", c.Store.SeedFile)
	c.Store.Mongo.URI = getEnv("MONGO_URI", c.Store.Mongo.URI)
	c.Store.Mongo.Database = getEnv("MONGO_DB", c.Store.Mongo.Database)
	c.Store.Mongo.Collection = getEnv("MONGO_COLLECTION", c.Store.Mongo.Collection)
	if v := os.Getenv("CVEAGENT_RECORD_TURNS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: CVEAGENT_RECORD_TURNS: %w", err)
		}
		c.Store.RecordTurns = b
	}

	c.LLM.Provider = getEnv("CVEAGENT_LLM_PROVIDER", c.LLM.Provider)
	c.LLM.Model = getEnv("CVEAGENT_LLM_MODEL", c.LLM.Model)
	c.LLM.BaseURL = getEnv("CVEAGENT_LLM_BASE_URL", c.LLM.BaseURL)
	if c.LLM.APIKey == "" {
		switch c.LLM.Provider {
		case "openai":
			c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		case "gemini":
			c.LLM.APIKey = os.Getenv("GOOGLE_API_KEY")
		}
	}

	c.Log.Level = getEnv("CVEAGENT_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("CVEAGENT_LOG_FORMAT", c.Log.Format)
	if v := os.Getenv("CVEAGENT_STDOUT_TRACES"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: CVEAGENT_STDOUT_TRACES: %w", err)
		}
		c.Telemetry.StdoutTraces = b
	}
	return nil
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case BackendMemory:
	case BackendSQL:
		if c.Store.DatabaseURL == "" {
			errs = append(errs, errors.New("store.database_url is required for the sql backend"))
		}
	case BackendMongo:
		if c.Store.Mongo.URI == "" {
			errs = append(errs, errors.New("store.mongo.uri is required for the mongo backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is not one of memory, sql, mongo", c.Store.Backend))
	}
	if c.Tools.DefaultLimit < 1 {
		errs = append(errs, errors.New("tools.default_limit must be at least 1"))
	}
	if c.Tools.MaxLimit < c.Tools.DefaultLimit {
		errs = append(errs, errors.New("tools.max_limit must not be below tools.default_limit"))
	}
	if c.HTTP.RequestTimeout < 0 {
		errs = append(errs, errors.New("http.request_timeout must not be negative"))
	}
	if c.Sessions.IdleTimeout < 0 {
		errs = append(errs, errors.New("sessions.idle_timeout must not be negative"))
	}
	if c.LLM.HistoryTokens < 0 {
		errs = append(errs, errors.New("llm.history_tokens must not be negative"))
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, errors.New("telemetry.sample_ratio must be within [0,1]"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not json or console", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func getEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
