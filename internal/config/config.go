package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Veraticus/pinflow/internal/common"
	"github.com/Veraticus/pinflow/internal/funnel"
	"github.com/Veraticus/pinflow/internal/gateway"
	"github.com/Veraticus/pinflow/internal/phone"
	"github.com/Veraticus/pinflow/internal/sheets"
	"github.com/Veraticus/pinflow/internal/tracking"
)

// EnvPrefix is prepended to every environment override, e.g. PINFLOW_GATEWAY_PASSWORD.
const EnvPrefix = "PINFLOW"

// Config is the typed application configuration.
type Config struct {
	Server    ServerConfig   `mapstructure:"server"`
	Funnel    funnel.Config  `mapstructure:"funnel"`
	Gateway   gateway.Config `mapstructure:"gateway"`
	Tracking  TrackingConfig `mapstructure:"tracking"`
	Storage   StorageConfig  `mapstructure:"storage"`
	Logging   LoggingConfig  `mapstructure:"logging"`
	Countries []phone.Rule   `mapstructure:"countries"`
	Sheets    sheets.Config  `mapstructure:"sheets"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// TrustProxy takes the client IP from X-Forwarded-For.
	TrustProxy bool `mapstructure:"trust_proxy"`
}

// TrackingConfig configures the analytics backend and the optional Kafka mirror.
type TrackingConfig struct {
	tracking.Config  `mapstructure:",squash"`
	Kafka            tracking.KafkaConfig `mapstructure:"kafka"`
	CampaignCacheTTL time.Duration        `mapstructure:"campaign_cache_ttl"`
	CallTimeout      time.Duration        `mapstructure:"call_timeout"`
}

// StorageConfig selects the funnel store.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

// Target returns the path or DSN for the configured driver.
func (s StorageConfig) Target() string {
	switch strings.ToLower(s.Driver) {
	case "postgres", "postgresql", "pgx":
		return s.DSN
	default:
		return ExpandPath(s.Path)
	}
}

// LoggingConfig configures slog.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers every key so environment overrides reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.trust_proxy", false)

	v.SetDefault("funnel.country", "966")
	v.SetDefault("funnel.language", "en")
	v.SetDefault("funnel.trx_ttl", 10*time.Minute)
	v.SetDefault("funnel.session_ttl", 30*time.Minute)
	v.SetDefault("funnel.sweep_interval", time.Minute)
	v.SetDefault("funnel.retention", time.Duration(0))

	v.SetDefault("gateway.base_url", "")
	v.SetDefault("gateway.username", "")
	v.SetDefault("gateway.password", "")
	v.SetDefault("gateway.channel_id", "")
	v.SetDefault("gateway.consent_id", "")
	v.SetDefault("gateway.timeout", 15*time.Second)

	endpoints := tracking.DefaultEndpoints()
	v.SetDefault("tracking.base_url", "")
	v.SetDefault("tracking.api_key", "")
	v.SetDefault("tracking.timeout", 10*time.Second)
	v.SetDefault("tracking.endpoints.campaign", endpoints.Campaign)
	v.SetDefault("tracking.endpoints.session", endpoints.Session)
	v.SetDefault("tracking.endpoints.session_update", endpoints.SessionUpdate)
	v.SetDefault("tracking.endpoints.event", endpoints.Event)
	v.SetDefault("tracking.endpoints.sale", endpoints.Sale)
	v.SetDefault("tracking.campaign_cache_ttl", 15*time.Minute)
	v.SetDefault("tracking.call_timeout", 5*time.Second)
	v.SetDefault("tracking.kafka.topic", "")
	v.SetDefault("tracking.kafka.brokers", []string{})

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.path", "$HOME/.local/share/pinflow/pinflow.db")
	v.SetDefault("storage.dsn", "")

	s := sheets.DefaultConfig()
	v.SetDefault("sheets.client_id", "")
	v.SetDefault("sheets.client_secret", "")
	v.SetDefault("sheets.refresh_token", "")
	v.SetDefault("sheets.service_account_path", "")
	v.SetDefault("sheets.spreadsheet_id", "")
	v.SetDefault("sheets.sheet_name", s.SheetName)
	v.SetDefault("sheets.conversion_name", s.ConversionName)
	v.SetDefault("sheets.conversion_value", s.ConversionValue)
	v.SetDefault("sheets.currency", s.Currency)
	v.SetDefault("sheets.time_zone", s.TimeZone)
	v.SetDefault("sheets.batch_size", s.BatchSize)
	v.SetDefault("sheets.retry_attempts", s.RetryAttempts)
	v.SetDefault("sheets.retry_delay", s.RetryDelay)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// ConfigureEnv maps PINFLOW_SECTION_KEY variables onto section.key.
func ConfigureEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load applies defaults, unmarshals v and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidConfig, err)
	}

	cfg.Storage.Path = ExpandPath(cfg.Storage.Path)
	applySheetsEnv(&cfg.Sheets)
	cfg.Funnel.Country = phone.CleanCountryCode(cfg.Funnel.Country)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings every command depends on. Collaborator credentials
// are checked by the commands that use them.
func (c *Config) Validate() error {
	if _, err := common.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "text", "console", "json":
	default:
		return fmt.Errorf("%w: logging.format %q (text, json)", common.ErrInvalidConfig, c.Logging.Format)
	}

	if _, err := c.Normalizer(); err != nil {
		return err
	}

	switch strings.ToLower(c.Storage.Driver) {
	case "", "sqlite", "sqlite3":
		if c.Storage.Path == "" {
			return fmt.Errorf("%w: storage.path", common.ErrMissingConfig)
		}
	case "postgres", "postgresql", "pgx":
		if c.Storage.DSN == "" {
			return fmt.Errorf("%w: storage.dsn", common.ErrMissingConfig)
		}
	default:
		return fmt.Errorf("%w: storage.driver %q", common.ErrInvalidConfig, c.Storage.Driver)
	}

	if c.Funnel.TrxTTL < 0 || c.Funnel.SessionTTL < 0 {
		return fmt.Errorf("%w: funnel TTLs cannot be negative", common.ErrInvalidConfig)
	}
	return nil
}

// ValidateServing checks the collaborators needed to run a live funnel.
func (c *Config) ValidateServing() error {
	if err := c.Gateway.Validate(); err != nil {
		return err
	}
	if c.Tracking.BaseURL == "" {
		return fmt.Errorf("%w: tracking.base_url", common.ErrMissingConfig)
	}
	return nil
}

// Registry returns the built-in countries plus configured overrides.
func (c *Config) Registry() (*phone.Registry, error) {
	reg, err := phone.NewRegistry(c.Countries...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidConfig, err)
	}
	return reg, nil
}

// Normalizer returns the normalizer for funnel.country.
func (c *Config) Normalizer() (phone.Normalizer, error) {
	reg, err := c.Registry()
	if err != nil {
		return nil, err
	}
	n, err := reg.Lookup(c.Funnel.Country)
	if err != nil {
		return nil, fmt.Errorf("%w: funnel.country: %v", common.ErrInvalidConfig, err)
	}
	return n, nil
}

// TrackingOptions converts the tracking settings to service options.
func (c *Config) TrackingOptions() []tracking.Option {
	var opts []tracking.Option
	if c.Tracking.CampaignCacheTTL > 0 {
		opts = append(opts, tracking.WithCampaignTTL(c.Tracking.CampaignCacheTTL))
	}
	if c.Tracking.CallTimeout > 0 {
		opts = append(opts, tracking.WithCallTimeout(c.Tracking.CallTimeout))
	}
	return opts
}
