// Package config loads the scan pipeline configuration with Viper.
//
// Precedence (lowest to highest): defaults < config file < SCAN_* env vars.
// Keys use dots in files ("camera.lens") and underscores in the
// environment (SCAN_CAMERA_LENS).
package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"

	"github.com/tendant/simple-scan-pipeline/internal/decode"
	"github.com/tendant/simple-scan-pipeline/pkg/pipeline"
)

// EnvPrefix is prepended to every environment variable
const EnvPrefix = "SCAN"

// Config is the full configuration
type Config struct {
	Scanner ScannerConfig `mapstructure:"scanner"`
	Camera  CameraConfig  `mapstructure:"camera"`
	Decode  DecodeConfig  `mapstructure:"decode"`
	Storage StorageConfig `mapstructure:"storage"`
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
}

// ScannerConfig configures the orchestrator
type ScannerConfig struct {
	Permissions          []string `mapstructure:"permissions"`            // required permission identifiers
	Formats              []string `mapstructure:"formats"`                // preset ("all", "product", "1d", "2d") or symbology names
	MaxPermissionPrompts int      `mapstructure:"max_permission_prompts"` // system prompts per start (default: 3)
	GrantedPermissions   []string `mapstructure:"granted_permissions"`    // headless hosts: permissions treated as granted
}

// CameraConfig configures the camera session manager
type CameraConfig struct {
	Lens            string  `mapstructure:"lens"`              // "back" or "front"
	MaxAnalysisFPS  float64 `mapstructure:"max_analysis_fps"`  // 0 = unlimited
	SourceDir       string  `mapstructure:"source_dir"`        // directory device frame source
	FrameIntervalMS int     `mapstructure:"frame_interval_ms"` // directory device frame interval
}

// DecodeConfig configures the recognizer
type DecodeConfig struct {
	Workers   int  `mapstructure:"workers"`    // recognizer executor size
	TryHarder bool `mapstructure:"try_harder"` // slower, more thorough recognition
}

// StorageConfig configures still-image sources
type StorageConfig struct {
	BaseDir       string `mapstructure:"base_dir"`        // filesystem source root
	ContentAPIURL string `mapstructure:"content_api_url"` // HTTP source; overrides base_dir when set
}

// ServerConfig configures the HTTP host adapter
type ServerConfig struct {
	HTTPAddr        string `mapstructure:"http_addr"`
	ShutdownSeconds int    `mapstructure:"shutdown_seconds"`
}

// LogConfig configures logging
type LogConfig struct {
	JSON  bool   `mapstructure:"json"`
	Level string `mapstructure:"level"`
}

// SetDefaults registers default values for every key
func SetDefaults(v *viper.Viper) {
	v.SetDefault("scanner.permissions", []string{"camera"})
	v.SetDefault("scanner.formats", []string{pipeline.FormatPresetAll})
	v.SetDefault("scanner.max_permission_prompts", 3)
	v.SetDefault("scanner.granted_permissions", []string{"camera"})

	v.SetDefault("camera.lens", "back")
	v.SetDefault("camera.max_analysis_fps", 0)
	v.SetDefault("camera.source_dir", "./frames")
	v.SetDefault("camera.frame_interval_ms", 100)

	v.SetDefault("decode.workers", 2)
	v.SetDefault("decode.try_harder", true)

	v.SetDefault("storage.base_dir", "./dev-data")
	v.SetDefault("storage.content_api_url", "")

	v.SetDefault("server.http_addr", ":8081")
	v.SetDefault("server.shutdown_seconds", 10)

	v.SetDefault("log.json", false)
	v.SetDefault("log.level", "info")
}

// New returns a Viper instance with defaults and environment binding
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads configuration from defaults, the optional file and the environment
func Load(configPath string) (*Config, error) {
	v := New()
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
		}
	}
	return LoadWithViper(v)
}

// LoadWithViper unmarshals and validates configuration from v
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and enumerations
func (c *Config) Validate() error {
	if len(c.Scanner.Permissions) == 0 {
		return errors.New("scanner.permissions must name at least one permission")
	}
	if c.Scanner.MaxPermissionPrompts < 1 {
		return errors.Newf("scanner.max_permission_prompts must be >= 1, got %d", c.Scanner.MaxPermissionPrompts)
	}
	formats, err := c.FormatSet()
	if err != nil {
		return errors.Wrap(err, "scanner.formats")
	}
	supported := decode.SupportedFormats()
	for _, s := range formats.Symbologies() {
		if !supported.Contains(s) {
			return errors.Newf("scanner.formats: no recognizer reads %s", s)
		}
	}
	switch strings.ToLower(c.Camera.Lens) {
	case "back", "front":
	default:
		return errors.Newf("camera.lens must be \"back\" or \"front\", got %q", c.Camera.Lens)
	}
	if c.Camera.MaxAnalysisFPS < 0 {
		return errors.Newf("camera.max_analysis_fps must be >= 0, got %v", c.Camera.MaxAnalysisFPS)
	}
	if c.Camera.FrameIntervalMS <= 0 {
		return errors.Newf("camera.frame_interval_ms must be > 0, got %d", c.Camera.FrameIntervalMS)
	}
	if c.Decode.Workers < 1 {
		return errors.Newf("decode.workers must be >= 1, got %d", c.Decode.Workers)
	}
	if c.Server.ShutdownSeconds < 0 {
		return errors.Newf("server.shutdown_seconds must be >= 0, got %d", c.Server.ShutdownSeconds)
	}
	return nil
}

// FormatSet parses the configured allowlist
func (c *Config) FormatSet() (pipeline.FormatSet, error) {
	return pipeline.ParseFormatSet(c.Scanner.Formats)
}

// FrameInterval returns the directory device interval
func (c *Config) FrameInterval() time.Duration {
	return time.Duration(c.Camera.FrameIntervalMS) * time.Millisecond
}

// ShutdownTimeout returns the graceful shutdown budget
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownSeconds) * time.Second
}
