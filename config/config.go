package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MaxToolIterations is the hard ceiling on model round-trips per run.
const MaxToolIterations = 10

// Config holds all configuration for the nova service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Search    SearchConfig    `mapstructure:"search"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Security  SecurityConfig  `mapstructure:"security"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug     bool   `mapstructure:"debug"`
	LogLevel  string `mapstructure:"log_level"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address        string   `mapstructure:"address"`
	JWTSecret      string   `mapstructure:"jwt_secret"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AutoMigrate    bool     `mapstructure:"auto_migrate"`
	MigrationsDir  string   `mapstructure:"migrations_dir"`
}

// LLMConfig selects the model provider used by the orchestration engine.
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"` // anthropic or openai
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	FastModel   string        `mapstructure:"fast_model"` // classifier/validator
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
}

func (l LLMConfig) Validate() error {
	switch strings.ToLower(strings.TrimSpace(l.Provider)) {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("llm.provider must be anthropic or openai, got %q", l.Provider)
	}
	if strings.TrimSpace(l.Model) == "" {
		return fmt.Errorf("llm.model is required")
	}
	if l.MaxTokens < 0 {
		return fmt.Errorf("llm.max_tokens cannot be negative")
	}
	return nil
}

// Tool error policies.
const (
	ToolErrorContinue = "continue"
	ToolErrorAbort    = "abort"
)

// AgentConfig tunes the run loop.
type AgentConfig struct {
	MaxIterations     int           `mapstructure:"max_iterations"`
	MaxPlanSteps      int           `mapstructure:"max_plan_steps"`
	ToolErrorPolicy   string        `mapstructure:"tool_error_policy"`
	LLMClassifier     bool          `mapstructure:"llm_classifier"`
	LLMValidator      bool          `mapstructure:"llm_validator"`
	RunTimeout        time.Duration `mapstructure:"run_timeout"`
	BackgroundTimeout time.Duration `mapstructure:"background_timeout"`
	HistoryLimit      int           `mapstructure:"history_limit"`
}

// Normalize clamps the loop settings into their supported ranges.
func (a AgentConfig) Normalize() AgentConfig {
	if a.MaxIterations <= 0 || a.MaxIterations > MaxToolIterations {
		a.MaxIterations = MaxToolIterations
	}
	if a.MaxPlanSteps <= 0 {
		a.MaxPlanSteps = 8
	}
	a.ToolErrorPolicy = strings.ToLower(strings.TrimSpace(a.ToolErrorPolicy))
	if a.ToolErrorPolicy == "" {
		a.ToolErrorPolicy = ToolErrorContinue
	}
	if a.RunTimeout <= 0 {
		a.RunTimeout = 5 * time.Minute
	}
	if a.BackgroundTimeout <= 0 {
		a.BackgroundTimeout = 30 * time.Second
	}
	if a.HistoryLimit <= 0 {
		a.HistoryLimit = 20
	}
	return a
}

func (a AgentConfig) Validate() error {
	switch a.ToolErrorPolicy {
	case ToolErrorContinue, ToolErrorAbort:
		return nil
	default:
		return fmt.Errorf("agent.tool_error_policy must be %q or %q", ToolErrorContinue, ToolErrorAbort)
	}
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	MetricsPort  int    `mapstructure:"metrics_port"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort < 0 {
		return fmt.Errorf("telemetry.metrics_port cannot be negative")
	}
	return nil
}

// SecurityConfig points at the tool policy document.
type SecurityConfig struct {
	ToolPolicyFile     string        `mapstructure:"tool_policy_file"`
	DefaultToolTimeout time.Duration `mapstructure:"default_tool_timeout"`
}

// SearchConfig configures the page search index.
type SearchConfig struct {
	IndexPath string `mapstructure:"index_path"` // empty keeps the index in memory
}

// FetchConfig configures the headless fetcher used by import_url.
type FetchConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	MaxChars  int           `mapstructure:"max_chars"`
	UserAgent string        `mapstructure:"user_agent"`
}

// WorkerConfig drives the page-change consumer and scheduled reindex.
type WorkerConfig struct {
	Stream       string        `mapstructure:"stream"`
	Group        string        `mapstructure:"group"`
	Consumer     string        `mapstructure:"consumer"`
	Block        time.Duration `mapstructure:"block"`
	BatchSize    int64         `mapstructure:"batch_size"`
	ReindexCron  string        `mapstructure:"reindex_cron"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	StreamMaxLen int64         `mapstructure:"stream_max_len"`
	// Embedded runs the page-change consumer and reindex schedule inside serve.
	Embedded bool `mapstructure:"embedded"`
}

func (w WorkerConfig) Validate() error {
	if strings.TrimSpace(w.Stream) == "" || strings.TrimSpace(w.Group) == "" {
		return fmt.Errorf("worker.stream and worker.group are required")
	}
	if w.Block <= 0 {
		return fmt.Errorf("worker.block must be positive, got %s", w.Block)
	}
	if w.BatchSize <= 0 {
		return fmt.Errorf("worker.batch_size must be positive")
	}
	return nil
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether a Redis endpoint is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Host) != ""
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return fmt.Sprintf("%s:%s", r.Host, port)
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":10001")
	v.SetDefault("server.migrations_dir", "file://migrations")
	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.model", "claude-sonnet-4-5")
	v.SetDefault("llm.fast_model", "claude-haiku-4-5")
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.call_timeout", 60*time.Second)
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("agent.max_iterations", MaxToolIterations)
	v.SetDefault("agent.max_plan_steps", 8)
	v.SetDefault("agent.tool_error_policy", ToolErrorContinue)
	v.SetDefault("agent.llm_classifier", false)
	v.SetDefault("agent.llm_validator", true)
	v.SetDefault("agent.run_timeout", 5*time.Minute)
	v.SetDefault("agent.background_timeout", 30*time.Second)
	v.SetDefault("agent.history_limit", 20)
	v.SetDefault("security.default_tool_timeout", 30*time.Second)
	v.SetDefault("fetch.timeout", 20*time.Second)
	v.SetDefault("fetch.max_chars", 60000)
	v.SetDefault("fetch.user_agent", "NovaImporter/1.0")
	v.SetDefault("worker.stream", "nova:page-changes")
	v.SetDefault("worker.group", "nova-indexer")
	v.SetDefault("worker.consumer", "indexer-1")
	v.SetDefault("worker.block", 5*time.Second)
	v.SetDefault("worker.batch_size", 50)
	v.SetDefault("worker.reindex_cron", "0 3 * * *")
	v.SetDefault("worker.poll_interval", time.Minute)
	v.SetDefault("worker.stream_max_len", 100000)
	v.SetDefault("worker.embedded", true)
	v.SetDefault("storage.postgres.sslmode", "disable")
}

// envOnly lists keys without defaults that must still be readable from NOVA_* variables.
var envOnly = []string{
	"general.jwt_secret",
	"server.jwt_secret",
	"llm.api_key",
	"llm.base_url",
	"storage.postgres.url",
	"storage.postgres.host",
	"storage.postgres.port",
	"storage.postgres.user",
	"storage.postgres.password",
	"storage.postgres.dbname",
	"storage.redis.host",
	"storage.redis.port",
	"storage.redis.password",
	"search.index_path",
	"security.tool_policy_file",
	"telemetry.otlp_endpoint",
}

func read(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)
		v.AddConfigPath(filepath.Join(exeDir, ".."))
		v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("NOVA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envOnly {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// env-only deployments have no file
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Agent = cfg.Agent.Normalize()
	return &cfg, nil
}

// Load reads the config from path (or the default search locations) and
// validates it.
func Load(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.LLM.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Agent.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Telemetry.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Worker.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Storage.Postgres.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadStorage reads the config like Load but validates only the storage and
// telemetry sections, for commands that never call the LLM.
func LoadStorage(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Telemetry.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Worker.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Storage.Postgres.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
