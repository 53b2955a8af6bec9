package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/rewired-gh/parkcast/internal/calendar"
	"github.com/rewired-gh/parkcast/internal/calibration"
	"github.com/rewired-gh/parkcast/internal/forecast"
	"github.com/rewired-gh/parkcast/internal/history"
	"github.com/rewired-gh/parkcast/internal/models"
)

// Config represents the complete application configuration
type Config struct {
	Data        DataConfig         `mapstructure:"data"`
	Calibration calibration.Policy `mapstructure:"calibration"`
	Forecast    ForecastConfig     `mapstructure:"forecast"`
	Storage     StorageConfig      `mapstructure:"storage"`
	Report      ReportConfig       `mapstructure:"report"`
	Telegram    TelegramConfig     `mapstructure:"telegram"`
	Server      ServerConfig       `mapstructure:"server"`
	Backtest    BacktestConfig     `mapstructure:"backtest"`
	Logging     LoggingConfig      `mapstructure:"logging"`
}

// DataConfig locates the input exports and describes their garage columns
type DataConfig struct {
	RevenueCSV        string           `mapstructure:"revenue_csv"`
	EventsCSV         string           `mapstructure:"events_csv"`
	Garages           []history.Garage `mapstructure:"garages"`
	UnallocatedGarage string           `mapstructure:"unallocated_garage"`
	DefaultYear       int              `mapstructure:"default_year"`
	Holidays          bool             `mapstructure:"holidays"`
}

// ForecastConfig holds forecast engine configuration
type ForecastConfig struct {
	HorizonDays int              `mapstructure:"horizon_days"`
	Mode        string           `mapstructure:"mode"`
	Options     forecast.Options `mapstructure:",squash"`
	Blend       bool             `mapstructure:"blend"`
	RidgeLambda float64          `mapstructure:"ridge_lambda"`
}

// StorageConfig holds storage and persistence configuration
type StorageConfig struct {
	DBPath          string `mapstructure:"db_path"`
	MaxCalibrations int    `mapstructure:"max_calibrations"`
}

// ReportConfig holds report output configuration
type ReportConfig struct {
	OutputDir string `mapstructure:"output_dir"`
	TopEvents int    `mapstructure:"top_events"`
	Chart     bool   `mapstructure:"chart"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// ServerConfig holds HTTP API configuration
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	SaveRuns     bool          `mapstructure:"save_runs"`
}

// BacktestConfig holds walk-forward backtest configuration
type BacktestConfig struct {
	Starts      []string `mapstructure:"starts"`
	HorizonDays int      `mapstructure:"horizon_days"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// FlagKeys maps command-line flag names onto configuration keys. Load binds
// any of these flags present in the flag set it is given.
var FlagKeys = map[string]string{
	"revenue":   "data.revenue_csv",
	"events":    "data.events_csv",
	"days":      "forecast.horizon_days",
	"mode":      "forecast.mode",
	"blend":     "forecast.blend",
	"db":        "storage.db_path",
	"out":       "report.output_dir",
	"chart":     "report.chart",
	"addr":      "server.addr",
	"log-level": "logging.level",
}

// Load reads configuration from file, environment variables and flags.
// An empty path skips the file and uses defaults.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// PARKCAST_TELEGRAM_BOT_TOKEN overrides telegram.bot_token
	v.SetEnvPrefix("PARKCAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range FlagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// viper lower-cases map keys, so category names are re-parsed; categories
	// left out of calibration.defaults keep their built-in fallback
	defaults := calibration.DefaultMultipliers()
	for name, m := range cfg.Calibration.Defaults {
		c, ok := models.ParseCategory(string(name))
		if !ok {
			return nil, fmt.Errorf("calibration.defaults: unknown category %q", name)
		}
		defaults[c] = m
	}
	cfg.Calibration.Defaults = defaults

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	policy := calibration.DefaultPolicy()
	opts := forecast.DefaultOptions()

	// Data defaults
	v.SetDefault("data.revenue_csv", "")
	v.SetDefault("data.events_csv", "")
	v.SetDefault("data.unallocated_garage", history.DefaultUnallocatedGarage)
	v.SetDefault("data.default_year", 0)
	v.SetDefault("data.holidays", true)

	// Calibration defaults
	v.SetDefault("calibration.min_baseline_samples", policy.MinBaselineSamples)
	v.SetDefault("calibration.min_event_samples", policy.MinEventSamples)
	v.SetDefault("calibration.damping_factor", policy.DampingFactor)
	v.SetDefault("calibration.multiplier_cap", policy.MultiplierCap)

	// Forecast defaults
	v.SetDefault("forecast.horizon_days", 7)
	v.SetDefault("forecast.mode", string(models.ModeValidated))
	v.SetDefault("forecast.band_validated", opts.BandValidated)
	v.SetDefault("forecast.band_low_confidence", opts.BandLowConfidence)
	v.SetDefault("forecast.blend_weight", opts.BlendWeight)
	v.SetDefault("forecast.blend", false)
	v.SetDefault("forecast.ridge_lambda", 1.0)

	// Storage defaults
	v.SetDefault("storage.db_path", "./data/parkcast.db")
	v.SetDefault("storage.max_calibrations", 20)

	// Report defaults
	v.SetDefault("report.output_dir", "./output")
	v.SetDefault("report.top_events", 5)
	v.SetDefault("report.chart", true)

	// Telegram defaults
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "2s")

	// Server defaults
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.save_runs", true)

	// Backtest defaults
	v.SetDefault("backtest.horizon_days", 7)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Data config
	if c.Data.RevenueCSV == "" {
		return fmt.Errorf("data.revenue_csv is required")
	}
	if c.Data.DefaultYear != 0 && (c.Data.DefaultYear < 1900 || c.Data.DefaultYear > 2999) {
		return fmt.Errorf("data.default_year must be 0 or a four-digit year")
	}
	seen := make(map[string]bool, len(c.Data.Garages))
	for i, g := range c.Data.Garages {
		if g.ID == "" {
			return fmt.Errorf("data.garages[%d].id is required", i)
		}
		if seen[g.ID] {
			return fmt.Errorf("data.garages contains duplicate id %q", g.ID)
		}
		seen[g.ID] = true
	}

	// Validate Calibration config
	if err := c.Calibration.Validate(); err != nil {
		return fmt.Errorf("calibration: %w", err)
	}

	// Validate Forecast config
	if c.Forecast.HorizonDays < 1 || c.Forecast.HorizonDays > 366 {
		return fmt.Errorf("forecast.horizon_days must be between 1 and 366")
	}
	if _, err := models.ParseMode(c.Forecast.Mode); err != nil {
		return fmt.Errorf("forecast.mode must be one of: validated, conservative")
	}
	if err := c.Forecast.Options.Validate(); err != nil {
		return fmt.Errorf("forecast: %w", err)
	}
	if c.Forecast.RidgeLambda < 0 {
		return fmt.Errorf("forecast.ridge_lambda must not be negative")
	}

	// Validate Storage config
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if c.Storage.MaxCalibrations < 1 {
		return fmt.Errorf("storage.max_calibrations must be at least 1")
	}

	// Validate Report config
	if c.Report.OutputDir == "" {
		return fmt.Errorf("report.output_dir is required")
	}
	if c.Report.TopEvents < 0 {
		return fmt.Errorf("report.top_events must not be negative")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}
	if c.Telegram.MaxRetries < 1 {
		return fmt.Errorf("telegram.max_retries must be at least 1")
	}

	// Validate Server config
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server timeouts must be positive")
	}

	// Validate Backtest config
	if c.Backtest.HorizonDays < 1 {
		return fmt.Errorf("backtest.horizon_days must be at least 1")
	}
	if _, err := c.Backtest.StartDates(); err != nil {
		return err
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// StartDates parses the configured backtest window starts.
func (b BacktestConfig) StartDates() ([]time.Time, error) {
	out := make([]time.Time, 0, len(b.Starts))
	for _, s := range b.Starts {
		d, err := time.Parse(models.DateLayout, s)
		if err != nil {
			return nil, fmt.Errorf("backtest.starts: %q is not a YYYY-MM-DD date", s)
		}
		out = append(out, d)
	}
	return out, nil
}

// ParsedMode returns the configured forecast mode, falling back to validated.
func (f ForecastConfig) ParsedMode() models.Mode {
	mode, err := models.ParseMode(f.Mode)
	if err != nil {
		return models.ModeValidated
	}
	return mode
}

// HistoryOptions returns the revenue export parsing options
func (c *Config) HistoryOptions() history.Options {
	return history.Options{
		Garages:           c.Data.Garages,
		UnallocatedGarage: c.Data.UnallocatedGarage,
		Source:            c.Data.RevenueCSV,
	}
}

// CalendarOptions returns the event calendar parsing options
func (c *Config) CalendarOptions() calendar.Options {
	return calendar.Options{
		DefaultYear: c.Data.DefaultYear,
		Source:      c.Data.EventsCSV,
	}
}
