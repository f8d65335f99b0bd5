// Package sheets exports confirmed sales to Google Sheets in the Google Ads
// offline conversion import layout.
package sheets

import (
	"fmt"
	"time"

	"github.com/Veraticus/pinflow/internal/common"
)

// Config holds the configuration for the conversion writer.
type Config struct {
	ClientID           string        `mapstructure:"client_id"`
	ClientSecret       string        `mapstructure:"client_secret"`
	RefreshToken       string        `mapstructure:"refresh_token"`
	ServiceAccountPath string        `mapstructure:"service_account_path"`
	SpreadsheetID      string        `mapstructure:"spreadsheet_id"`
	SheetName          string        `mapstructure:"sheet_name"`
	ConversionName     string        `mapstructure:"conversion_name"`
	Currency           string        `mapstructure:"currency"`
	TimeZone           string        `mapstructure:"time_zone"`
	ConversionValue    float64       `mapstructure:"conversion_value"`
	BatchSize          int           `mapstructure:"batch_size"`
	RetryAttempts      int           `mapstructure:"retry_attempts"`
	RetryDelay         time.Duration `mapstructure:"retry_delay"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SheetName:      "Conversions",
		ConversionName: "Subscription",
		Currency:       "SAR",
		TimeZone:       "Asia/Riyadh",
		BatchSize:      500,
		RetryAttempts:  3,
		RetryDelay:     time.Second,
	}
}

// HasOAuth reports whether OAuth2 client credentials are set.
func (c *Config) HasOAuth() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RefreshToken != ""
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	hasServiceAccount := c.ServiceAccountPath != ""

	if !c.HasOAuth() && !hasServiceAccount {
		return fmt.Errorf("%w: no Google Sheets authentication method configured", common.ErrMissingConfig)
	}
	if c.HasOAuth() && hasServiceAccount {
		return fmt.Errorf("%w: multiple authentication methods configured; use either OAuth2 or service account", common.ErrInvalidConfig)
	}
	if c.SpreadsheetID == "" {
		return fmt.Errorf("%w: sheets.spreadsheet_id", common.ErrMissingConfig)
	}
	if c.SheetName == "" {
		return fmt.Errorf("%w: sheets.sheet_name", common.ErrMissingConfig)
	}
	if c.ConversionName == "" {
		return fmt.Errorf("%w: sheets.conversion_name", common.ErrMissingConfig)
	}
	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		return fmt.Errorf("%w: time zone %q: %v", common.ErrInvalidConfig, c.TimeZone, err)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive", common.ErrInvalidConfig)
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("%w: retry attempts cannot be negative", common.ErrInvalidConfig)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("%w: retry delay cannot be negative", common.ErrInvalidConfig)
	}
	return nil
}
