package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the orchestrator, loaded from
// pharmasentinel.yaml with environment-variable overrides for secrets and
// deployment-specific endpoints.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Reasoning ReasoningConfig `mapstructure:"reasoning"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Admin     AdminConfig     `mapstructure:"admin"`

	// CatalogPath points at the monitored-drug catalog YAML.
	CatalogPath string `mapstructure:"catalog_path"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ReasoningConfig configures the external reasoning (LLM) service. Every
// call carries Timeout; expiry is a task-local failure, never run-fatal.
type ReasoningConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SourcesConfig struct {
	FDABaseURL     string        `mapstructure:"fda_base_url"`
	NewsBaseURL    string        `mapstructure:"news_base_url"`
	NewsAPIKey     string        `mapstructure:"news_api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// RatePerSecond bounds outbound calls per API; both upstream APIs are
	// rate-limited.
	RatePerSecond float64 `mapstructure:"rate_per_second"`
}

type PipelineConfig struct {
	IntervalMinutes  int           `mapstructure:"interval_minutes"`
	DebounceInterval time.Duration `mapstructure:"debounce_interval"`
	Workers          int           `mapstructure:"workers"`
	// NotifyTable is the monitored entity table; only INSERT/UPDATE/DELETE
	// on it trigger quick runs.
	NotifyTable   string `mapstructure:"notify_table"`
	NotifyChannel string `mapstructure:"notify_channel"`
}

type RiskConfig struct {
	CriticalBurnDays   float64 `mapstructure:"critical_burn_days"`
	HighBurnDays       float64 `mapstructure:"high_burn_days"`
	MediumBurnDays     float64 `mapstructure:"medium_burn_days"`
	SafetyStockDays    float64 `mapstructure:"safety_stock_days"`
	TopCriticalityRank int     `mapstructure:"top_criticality_rank"`
	ConfidenceFloor    float64 `mapstructure:"confidence_floor"`
	DefaultOrderQty    int     `mapstructure:"default_order_qty"`
}

type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

type AdminConfig struct {
	HealthPort  int `mapstructure:"health_port"`
	MetricsPort int `mapstructure:"metrics_port"`
}

// Load reads the config file from CONFIG_PATH (default
// config/pharmasentinel.yaml), applies defaults and env overrides. A
// missing file is not an error; defaults plus env keep the system usable.
func Load() (*Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/pharmasentinel.yaml"
	}

	v := viper.New()
	v.SetConfigFile(cfgPath)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				if _, pathErr := err.(*os.PathError); !pathErr {
					return nil, fmt.Errorf("read config: %w", err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "pharmasentinel")
	v.SetDefault("database.database", "pharmasentinel")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("reasoning.base_url", "http://localhost:8000")
	v.SetDefault("reasoning.timeout", 45*time.Second)

	v.SetDefault("sources.fda_base_url", "https://api.fda.gov")
	v.SetDefault("sources.news_base_url", "https://newsapi.org/v2")
	v.SetDefault("sources.request_timeout", 15*time.Second)
	v.SetDefault("sources.rate_per_second", 2.0)

	v.SetDefault("pipeline.interval_minutes", 60)
	v.SetDefault("pipeline.debounce_interval", 2*time.Second)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.notify_table", "drugs")
	v.SetDefault("pipeline.notify_channel", "drug_changes")

	v.SetDefault("risk.critical_burn_days", 7.0)
	v.SetDefault("risk.high_burn_days", 14.0)
	v.SetDefault("risk.medium_burn_days", 30.0)
	v.SetDefault("risk.safety_stock_days", 21.0)
	v.SetDefault("risk.top_criticality_rank", 3)
	v.SetDefault("risk.confidence_floor", 0.7)
	v.SetDefault("risk.default_order_qty", 50)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "pharmasentinel-orchestrator")

	v.SetDefault("admin.health_port", 8081)
	v.SetDefault("admin.metrics_port", 2112)

	v.SetDefault("catalog_path", "config/drugs.yaml")
}

// applyEnvOverrides lets deployments inject secrets without editing the
// config file.
func applyEnvOverrides(cfg *Config) {
	if s := os.Getenv("POSTGRES_HOST"); s != "" {
		cfg.Database.Host = s
	}
	if s := os.Getenv("POSTGRES_PASSWORD"); s != "" {
		cfg.Database.Password = s
	}
	if s := os.Getenv("REDIS_ADDR"); s != "" {
		cfg.Redis.Addr = s
	}
	if s := os.Getenv("REDIS_PASSWORD"); s != "" {
		cfg.Redis.Password = s
	}
	if s := os.Getenv("REASONING_SERVICE_URL"); s != "" {
		cfg.Reasoning.BaseURL = s
	}
	if s := os.Getenv("REASONING_API_KEY"); s != "" {
		cfg.Reasoning.APIKey = s
	}
	if s := os.Getenv("NEWS_API_KEY"); s != "" {
		cfg.Sources.NewsAPIKey = s
	}
	if s := os.Getenv("PIPELINE_INTERVAL_MINUTES"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			cfg.Pipeline.IntervalMinutes = n
		}
	}
}
