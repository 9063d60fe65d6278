package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Scoring    ScoringConfig    `yaml:"scoring" mapstructure:"scoring"`
	Dedupe     DedupeConfig     `yaml:"dedupe" mapstructure:"dedupe"`
	Workflow   WorkflowConfig   `yaml:"workflow" mapstructure:"workflow"`
	Notify     NotifyConfig     `yaml:"notify" mapstructure:"notify"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// ScoringConfig is the lead scoring point table.
type ScoringConfig struct {
	TitleVP       int `yaml:"title_vp" mapstructure:"title_vp"`
	TitleDirector int `yaml:"title_director" mapstructure:"title_director"`
	TitleManager  int `yaml:"title_manager" mapstructure:"title_manager"`
	TitleCLevel   int `yaml:"title_c_level" mapstructure:"title_c_level"`

	RevenueOver1M   int `yaml:"revenue_over_1m" mapstructure:"revenue_over_1m"`
	RevenueOver500K int `yaml:"revenue_over_500k" mapstructure:"revenue_over_500k"`
	RevenueOver100K int `yaml:"revenue_over_100k" mapstructure:"revenue_over_100k"`

	SourceReferral int `yaml:"source_referral" mapstructure:"source_referral"`
	SourceEvent    int `yaml:"source_event" mapstructure:"source_event"`
	SourceWebsite  int `yaml:"source_website" mapstructure:"source_website"`
	SourceColdCall int `yaml:"source_cold_call" mapstructure:"source_cold_call"`

	HasEmail   int `yaml:"has_email" mapstructure:"has_email"`
	HasPhone   int `yaml:"has_phone" mapstructure:"has_phone"`
	HasWebsite int `yaml:"has_website" mapstructure:"has_website"`
}

// DedupeConfig configures duplicate detection.
type DedupeConfig struct {
	Threshold  int `yaml:"threshold" mapstructure:"threshold"`
	Workers    int `yaml:"workers" mapstructure:"workers"`
	MaxRecords int `yaml:"max_records" mapstructure:"max_records"`
}

// WorkflowConfig configures workflow execution.
type WorkflowConfig struct {
	Workers            int `yaml:"workers" mapstructure:"workers"`
	QueueSize          int `yaml:"queue_size" mapstructure:"queue_size"`
	DefaultTaskDueDays int `yaml:"default_task_due_days" mapstructure:"default_task_due_days"`
}

// NotifyConfig configures where sendEmail/sendNotification actions land.
type NotifyConfig struct {
	Driver      string  `yaml:"driver" mapstructure:"driver"`
	WebhookURL  string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// SalesforceConfig holds Salesforce JWT auth settings for lead import.
type SalesforceConfig struct {
	ClientID  string  `yaml:"client_id" mapstructure:"client_id"`
	Username  string  `yaml:"username" mapstructure:"username"`
	KeyPath   string  `yaml:"key_path" mapstructure:"key_path"`
	LoginURL  string  `yaml:"login_url" mapstructure:"login_url"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CRM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "crm.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})

	d := DefaultScoringConfig()
	v.SetDefault("scoring.title_vp", d.TitleVP)
	v.SetDefault("scoring.title_director", d.TitleDirector)
	v.SetDefault("scoring.title_manager", d.TitleManager)
	v.SetDefault("scoring.title_c_level", d.TitleCLevel)
	v.SetDefault("scoring.revenue_over_1m", d.RevenueOver1M)
	v.SetDefault("scoring.revenue_over_500k", d.RevenueOver500K)
	v.SetDefault("scoring.revenue_over_100k", d.RevenueOver100K)
	v.SetDefault("scoring.source_referral", d.SourceReferral)
	v.SetDefault("scoring.source_event", d.SourceEvent)
	v.SetDefault("scoring.source_website", d.SourceWebsite)
	v.SetDefault("scoring.source_cold_call", d.SourceColdCall)
	v.SetDefault("scoring.has_email", d.HasEmail)
	v.SetDefault("scoring.has_phone", d.HasPhone)
	v.SetDefault("scoring.has_website", d.HasWebsite)

	v.SetDefault("dedupe.threshold", 80)
	v.SetDefault("dedupe.workers", 4)
	v.SetDefault("dedupe.max_records", 5000)
	v.SetDefault("workflow.workers", 4)
	v.SetDefault("workflow.queue_size", 256)
	v.SetDefault("workflow.default_task_due_days", 7)
	v.SetDefault("notify.driver", "log")
	v.SetDefault("notify.rate_limit", 5.0)
	v.SetDefault("notify.timeout_secs", 10)
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("salesforce.client_id", "")
	v.SetDefault("salesforce.username", "")
	v.SetDefault("salesforce.key_path", "")
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.rate_limit", 10.0)
}

// DefaultScoringConfig returns the standard lead scoring point table.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		TitleVP:         20,
		TitleDirector:   15,
		TitleManager:    10,
		TitleCLevel:     25,
		RevenueOver1M:   20,
		RevenueOver500K: 10,
		RevenueOver100K: 5,
		SourceReferral:  20,
		SourceEvent:     15,
		SourceWebsite:   10,
		SourceColdCall:  5,
		HasEmail:        5,
		HasPhone:        5,
		HasWebsite:      5,
	}
}

// Validate checks that the settings a command depends on are present.
// Section names: "store", "dedupe", "workflow", "notify", "salesforce".
func (c *Config) Validate(section string) error {
	var missing []string
	switch section {
	case "store":
		switch c.Store.Driver {
		case "sqlite", "postgres":
		default:
			return eris.Errorf("config: unsupported store driver %q", c.Store.Driver)
		}
		if c.Store.DatabaseURL == "" {
			missing = append(missing, "store.database_url (CRM_STORE_DATABASE_URL)")
		}
	case "dedupe":
		if c.Dedupe.Threshold < 0 || c.Dedupe.Threshold > 100 {
			return eris.Errorf("config: dedupe.threshold must be between 0 and 100 (got %d)", c.Dedupe.Threshold)
		}
	case "workflow":
		if c.Workflow.Workers < 1 {
			return eris.Errorf("config: workflow.workers must be >= 1 (got %d)", c.Workflow.Workers)
		}
	case "notify":
		if c.Notify.Driver == "webhook" && c.Notify.WebhookURL == "" {
			missing = append(missing, "notify.webhook_url (CRM_NOTIFY_WEBHOOK_URL)")
		}
	case "salesforce":
		if c.Salesforce.ClientID == "" {
			missing = append(missing, "salesforce.client_id (CRM_SALESFORCE_CLIENT_ID)")
		}
		if c.Salesforce.Username == "" {
			missing = append(missing, "salesforce.username (CRM_SALESFORCE_USERNAME)")
		}
		if c.Salesforce.KeyPath == "" {
			missing = append(missing, "salesforce.key_path (CRM_SALESFORCE_KEY_PATH)")
		}
	default:
		return eris.Errorf("config: unknown section %q", section)
	}
	if len(missing) > 0 {
		return eris.Errorf("config: missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
