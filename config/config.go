package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for researchd
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Server     ServerConfig     `mapstructure:"server"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Search     SearchConfig     `mapstructure:"search"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Memory     MemoryConfig     `mapstructure:"memory"`
	Agents     AgentsConfig     `mapstructure:"agents"`
	Research   ResearchConfig   `mapstructure:"research"`
	Summarizer SummarizerConfig `mapstructure:"summarizer"`
	Validator  ValidatorConfig  `mapstructure:"validator"`
	Registry   RegistryConfig   `mapstructure:"registry"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	ServiceName string `mapstructure:"service_name"`
	Version     string `mapstructure:"version"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	JWTSecret       string        `mapstructure:"jwt_secret"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	Heartbeat       time.Duration `mapstructure:"heartbeat"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Normalize trims origins and restores the wildcard when none are left.
func (s ServerConfig) Normalize() ServerConfig {
	var origins []string
	for _, o := range s.AllowedOrigins {
		for _, part := range strings.Split(o, ",") {
			if part = strings.TrimSpace(part); part != "" {
				origins = append(origins, part)
			}
		}
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.AllowedOrigins = origins
	if !strings.Contains(s.Address, ":") && s.Address != "" {
		s.Address = ":" + s.Address
	}
	return s
}

func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.Address) == "" {
		return fmt.Errorf("server.address required")
	}
	if s.ShutdownTimeout < 0 {
		return fmt.Errorf("server.shutdown_timeout cannot be negative")
	}
	return nil
}

// LLMConfig configures the OpenAI-compatible chat and embedding endpoint.
type LLMConfig struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	Model          string `mapstructure:"model"`
	EmbeddingModel string `mapstructure:"embedding_model"`
	// Embeddings turns on vector similarity in the memory stores.
	Embeddings bool `mapstructure:"embeddings"`
}

// SearchConfig selects the web search provider.
type SearchConfig struct {
	Provider     string        `mapstructure:"provider"` // tavily, serper, brave
	TavilyAPIKey string        `mapstructure:"tavily_api_key"`
	SerperAPIKey string        `mapstructure:"serper_api_key"`
	BraveAPIKey  string        `mapstructure:"brave_api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

// APIKey returns the key of the selected provider.
func (s SearchConfig) APIKey() string {
	switch s.Provider {
	case "serper":
		return s.SerperAPIKey
	case "brave":
		return s.BraveAPIKey
	default:
		return s.TavilyAPIKey
	}
}

func (s SearchConfig) Validate() error {
	switch s.Provider {
	case "tavily", "serper", "brave":
		return nil
	default:
		return fmt.Errorf("search.provider %q not supported (tavily, serper, brave)", s.Provider)
	}
}

// FetchConfig controls readability enrichment of short excerpts.
type FetchConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxChars int           `mapstructure:"max_chars"`
}

// MemoryConfig selects where answered queries are remembered.
type MemoryConfig struct {
	Backend    string        `mapstructure:"backend"` // none, inmemory, redis
	RedisURL   string        `mapstructure:"redis_url"`
	Prefix     string        `mapstructure:"prefix"`
	TTL        time.Duration `mapstructure:"ttl"`
	MaxRecords int           `mapstructure:"max_records"`
	Window     int           `mapstructure:"window"`
}

func (m MemoryConfig) Validate() error {
	switch m.Backend {
	case "none", "inmemory":
		return nil
	case "redis":
		if strings.TrimSpace(m.RedisURL) == "" {
			return fmt.Errorf("memory.redis_url required for the redis backend")
		}
		return nil
	default:
		return fmt.Errorf("memory.backend %q not supported (none, inmemory, redis)", m.Backend)
	}
}

// AgentsConfig holds settings shared by every stage.
type AgentsConfig struct {
	PortTimeout   time.Duration `mapstructure:"port_timeout"`
	StreamTimeout time.Duration `mapstructure:"stream_timeout"`
	Concurrency   int           `mapstructure:"concurrency"`
}

// ResearchConfig tunes the researcher stage.
type ResearchConfig struct {
	MaxSources      int `mapstructure:"max_sources"`
	MemoryHits      int `mapstructure:"memory_hits"`
	ExcerptChars    int `mapstructure:"excerpt_chars"`
	MinExcerptChars int `mapstructure:"min_excerpt_chars"`
}

// SummarizerConfig tunes the summarizer stage.
type SummarizerConfig struct {
	MaxSources  int `mapstructure:"max_sources"`
	DigestWords int `mapstructure:"digest_words"`
}

// ValidatorConfig tunes the validator stage.
type ValidatorConfig struct {
	MaxClaims        int  `mapstructure:"max_claims"`
	EvidenceResults  int  `mapstructure:"evidence_results"`
	VerifyWithSearch bool `mapstructure:"verify_with_search"`
}

// RegistryConfig bounds task retention.
type RegistryConfig struct {
	Retention time.Duration `mapstructure:"retention"`
	MaxTasks  int           `mapstructure:"max_tasks"`
	SweepCron string        `mapstructure:"sweep_cron"`
}

func (r RegistryConfig) Validate() error {
	if r.Retention < 0 {
		return fmt.Errorf("registry.retention cannot be negative")
	}
	if r.MaxTasks < 0 {
		return fmt.Errorf("registry.max_tasks cannot be negative")
	}
	if _, err := cronexpr.Parse(r.SweepCron); err != nil {
		return fmt.Errorf("registry.sweep_cron: %w", err)
	}
	return nil
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && strings.TrimSpace(t.OTLPEndpoint) == "" {
		return fmt.Errorf("telemetry.otlp_endpoint required when telemetry is enabled")
	}
	return nil
}

const envPrefix = "RESEARCHD"

// aliases maps config keys to the plain environment names operators already
// export for these services.
var aliases = map[string]string{
	"llm.api_key":            "OPENAI_API_KEY",
	"search.tavily_api_key":  "TAVILY_API_KEY",
	"search.serper_api_key":  "SERPER_API_KEY",
	"search.brave_api_key":   "BRAVE_API_KEY",
	"memory.redis_url":       "REDIS_URL",
	"server.allowed_origins": "ALLOWED_ORIGINS",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.service_name", "researchd")
	v.SetDefault("general.version", "1.0.0")

	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.heartbeat", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.embedding_model", "text-embedding-3-small")
	v.SetDefault("llm.embeddings", false)

	v.SetDefault("search.provider", "tavily")
	v.SetDefault("search.tavily_api_key", "")
	v.SetDefault("search.serper_api_key", "")
	v.SetDefault("search.brave_api_key", "")
	v.SetDefault("search.base_url", "")
	v.SetDefault("search.timeout", 20*time.Second)
	v.SetDefault("search.max_retries", 2)

	v.SetDefault("fetch.enabled", false)
	v.SetDefault("fetch.timeout", 10*time.Second)
	v.SetDefault("fetch.max_chars", 20000)

	v.SetDefault("memory.backend", "inmemory")
	v.SetDefault("memory.redis_url", "")
	v.SetDefault("memory.prefix", "researchd:memory")
	v.SetDefault("memory.ttl", time.Duration(0))
	v.SetDefault("memory.max_records", 1000)
	v.SetDefault("memory.window", 200)

	v.SetDefault("agents.port_timeout", 30*time.Second)
	v.SetDefault("agents.stream_timeout", 2*time.Minute)
	v.SetDefault("agents.concurrency", 4)

	v.SetDefault("research.max_sources", 10)
	v.SetDefault("research.memory_hits", 3)
	v.SetDefault("research.excerpt_chars", 500)
	v.SetDefault("research.min_excerpt_chars", 0)

	v.SetDefault("summarizer.max_sources", 8)
	v.SetDefault("summarizer.digest_words", 150)

	v.SetDefault("validator.max_claims", 5)
	v.SetDefault("validator.evidence_results", 3)
	v.SetDefault("validator.verify_with_search", false)

	v.SetDefault("registry.retention", time.Hour)
	v.SetDefault("registry.max_tasks", 500)
	v.SetDefault("registry.sweep_cron", "*/5 * * * *")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "")
}

// LoadDotEnv loads .env style files into the process environment. Missing
// files are skipped; variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// LoadConfig reads config.json from path, or from the usual search paths
// when path is empty, then applies RESEARCHD_* environment overrides. A
// missing config file is only an error when path was given.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)
			v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, alias := range aliases {
		envKey := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, alias); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Server = cfg.Server.Normalize()
	cfg.Search.Provider = strings.ToLower(strings.TrimSpace(cfg.Search.Provider))
	cfg.Memory.Backend = strings.ToLower(strings.TrimSpace(cfg.Memory.Backend))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	for _, check := range []func() error{
		c.Server.Validate,
		c.Search.Validate,
		c.Memory.Validate,
		c.Registry.Validate,
		c.Telemetry.Validate,
	} {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}
