package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the main configuration structure
type Config struct {
	Defaults DefaultsConfig `mapstructure:"defaults"`
	Search   SearchConfig   `mapstructure:"search"`
	Limits   LimitsConfig   `mapstructure:"limits"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// DefaultsConfig supplies compression parameters the caller omitted.
// Values outside the documented ranges are reset during validation.
type DefaultsConfig struct {
	MinSizePercentage float64 `mapstructure:"min_size_percentage"`
	ScaleFactor       float64 `mapstructure:"scale_factor"`
	SharpnessFactor   float64 `mapstructure:"sharpness_factor"`
	ContrastFactor    float64 `mapstructure:"contrast_factor"`
	BlurRadius        float64 `mapstructure:"blur_radius"`
	DPI               int     `mapstructure:"dpi"`
}

// SearchConfig tunes the size-targeting search loop.
type SearchConfig struct {
	DecayRatio    float64 `mapstructure:"decay_ratio"`
	MaxIterations int     `mapstructure:"max_iterations"`
}

// LimitsConfig contains upload safety limits.
type LimitsConfig struct {
	// MaxPixels refuses images whose declared dimensions multiply beyond
	// it. Zero disables the guard.
	MaxPixels   int64 `mapstructure:"max_pixels"`
	MaxUploadMB int64 `mapstructure:"max_upload_mb"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Defaults: DefaultsConfig{
			MinSizePercentage: 0.3,
			ScaleFactor:       0.9,
			SharpnessFactor:   1.5,
			ContrastFactor:    1.5,
			BlurRadius:        0.1,
			DPI:               300,
		},
		Search: SearchConfig{
			DecayRatio:    0.9,
			MaxIterations: 16,
		},
		Limits: LimitsConfig{
			MaxPixels:   64 * 1024 * 1024, // ~64 megapixels
			MaxUploadMB: 256,
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level:      "info",
			FilePath:   "tiffpress.log",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		// Look for config file in current directory and home directory
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.tiffpress")
		viper.AddConfigPath("/etc/tiffpress")
	}

	// Enable environment variable support
	viper.SetEnvPrefix("TIFFPRESS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Try to read config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	// Unmarshal config
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate and normalize config
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration and resets out-of-range values to
// their defaults.
func (c *Config) Validate() error {
	if c.Defaults.MinSizePercentage < 0.1 || c.Defaults.MinSizePercentage > 1.0 {
		c.Defaults.MinSizePercentage = 0.3
	}
	if c.Defaults.ScaleFactor < 0.1 || c.Defaults.ScaleFactor > 1.0 {
		c.Defaults.ScaleFactor = 0.9
	}
	if c.Defaults.SharpnessFactor < 0.1 || c.Defaults.SharpnessFactor > 3.0 {
		c.Defaults.SharpnessFactor = 1.5
	}
	if c.Defaults.ContrastFactor < 0.1 || c.Defaults.ContrastFactor > 3.0 {
		c.Defaults.ContrastFactor = 1.5
	}
	if c.Defaults.BlurRadius < 0.0 || c.Defaults.BlurRadius > 2.0 {
		c.Defaults.BlurRadius = 0.1
	}
	if c.Defaults.DPI <= 0 {
		c.Defaults.DPI = 300
	}

	if c.Search.DecayRatio <= 0 || c.Search.DecayRatio >= 1 {
		c.Search.DecayRatio = 0.9
	}
	if c.Search.MaxIterations <= 0 {
		c.Search.MaxIterations = 16
	}

	if c.Limits.MaxPixels < 0 {
		c.Limits.MaxPixels = 0
	}
	if c.Limits.MaxUploadMB <= 0 {
		c.Limits.MaxUploadMB = 256
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		c.Server.Port = 8080
	}

	// Validate logging settings
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}

// MaxUploadBytes returns the upload cap in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return c.Limits.MaxUploadMB << 20
}
