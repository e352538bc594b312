// Package config provides configuration management for streamplay using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultWantedBufferAhead  = 30 * time.Second
	defaultMaxBufferAhead     = 60 * time.Second
	defaultMaxBufferBehind    = 30 * time.Second
	defaultEndOfPlay          = 500 * time.Millisecond
	defaultOverlayInterval    = 250 * time.Millisecond
	defaultManifestTimeout    = 15 * time.Second
	defaultSegmentTimeout     = 10 * time.Second
	defaultTotalRetry         = 3
	defaultRetryDelay         = 250 * time.Millisecond
	defaultResetDelay         = 60 * time.Second
	defaultABRWindowSize      = 30
	defaultABRSamplePeriod    = time.Second
	defaultABRSafetyFactor    = 0.8
	defaultABRDebounce        = 2 * time.Second
	defaultManifestRefreshMin = 2 * time.Second
)

// Config holds all configuration for the streamplay orchestration engine.
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	Buffer     BufferConfig     `mapstructure:"buffer"`
	ABR        ABRConfig        `mapstructure:"abr"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Transport  TransportConfig  `mapstructure:"transport"`
	Playback   PlaybackConfig   `mapstructure:"playback"`
	TextTrack  TextTrackConfig  `mapstructure:"text_track"`
	KeySystems []KeySystemEntry `mapstructure:"key_systems"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // trace, debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// BufferConfig holds Adaptation Buffer tuning (wanted/max buffer ahead, etc).
type BufferConfig struct {
	WantedBufferAhead Duration `mapstructure:"wanted_buffer_ahead"`
	MaxBufferAhead    Duration `mapstructure:"max_buffer_ahead"`
	MaxBufferBehind   Duration `mapstructure:"max_buffer_behind"`
	// SinkQuotaBytes bounds how much appended media an in-memory native
	// sink retains before reporting quota-exceeded as a "BufferFull"
	// warning. Supports human-readable sizes like "64MB". Zero means
	// unlimited.
	SinkQuotaBytes ByteSize `mapstructure:"sink_quota_bytes"`
}

// ABRConfig holds per-track ABR Coordinator configuration.
type ABRConfig struct {
	InitialBitrates map[string]int64 `mapstructure:"initial_bitrates"` // track type -> bps
	ManualBitrates  map[string]int64 `mapstructure:"manual_bitrates"`
	MaxAutoBitrates map[string]int64 `mapstructure:"max_auto_bitrates"`
	Throttle        map[string]int64 `mapstructure:"throttle"`    // track type -> bps cap
	LimitWidth      map[string]int   `mapstructure:"limit_width"` // track type -> max pixel width
	WindowSize      int              `mapstructure:"window_size"` // bandwidth sample window size
	SamplePeriod    Duration         `mapstructure:"sample_period"`
	SafetyFactor    float64          `mapstructure:"safety_factor"`
	Debounce        Duration         `mapstructure:"debounce"`
}

// RetryConfig holds the default Retry Harness parameters used around
// orchestrator startup (manifest fetch, surface open).
type RetryConfig struct {
	TotalRetry int      `mapstructure:"total_retry"`
	RetryDelay Duration `mapstructure:"retry_delay"`
	ResetDelay Duration `mapstructure:"reset_delay"`
}

// TransportConfig holds segment/manifest transport timeouts.
type TransportConfig struct {
	ManifestTimeout       Duration `mapstructure:"manifest_timeout"`
	SegmentTimeout        Duration `mapstructure:"segment_timeout"`
	ManifestRefreshMinGap Duration `mapstructure:"manifest_refresh_min_gap"`
}

// PlaybackConfig holds top-level playback options.
type PlaybackConfig struct {
	AutoPlay        bool     `mapstructure:"auto_play"`
	WithMediaSource bool     `mapstructure:"with_media_source"`
	StartAt         StartAt  `mapstructure:"start_at"`
	EndOfPlay       Duration `mapstructure:"end_of_play"`
}

// StartAtKind enumerates the initial-time resolution policy.
type StartAtKind string

// Supported StartAt policies.
const (
	StartAtPosition          StartAtKind = "position"
	StartAtWallClockTime     StartAtKind = "wallClockTime"
	StartAtFromFirstPosition StartAtKind = "fromFirstPosition"
	StartAtFromLastPosition  StartAtKind = "fromLastPosition"
	StartAtPercentage        StartAtKind = "percentage"
)

// StartAt describes the initial playback time policy.
type StartAt struct {
	Kind  StartAtKind `mapstructure:"kind"`
	Value float64     `mapstructure:"value"`
}

// TextTrackConfig configures the Overlay/Text Sink's custom variant.
type TextTrackConfig struct {
	UseCustomSink  bool     `mapstructure:"use_custom_sink"`
	RenderRegionID string   `mapstructure:"render_region_id"`
	UpdateInterval Duration `mapstructure:"update_interval"`
}

// KeySystemEntry describes one candidate content-protection key system.
// GetLicense/LicenseStorage are wired at runtime by internal/player, not
// unmarshaled from config.
type KeySystemEntry struct {
	Type              string `mapstructure:"type"`
	ServerCertificate string `mapstructure:"server_certificate_path"`
	PersistentLicense bool   `mapstructure:"persistent_license"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with STREAMPLAY_ and use underscores
// for nesting. Example: STREAMPLAY_BUFFER_WANTED_BUFFER_AHEAD=10s.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/streamplay")
		v.AddConfigPath("$HOME/.streamplay")
	}

	v.SetEnvPrefix("STREAMPLAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults
// are in place.
func SetDefaults(v *viper.Viper) {
	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Buffer defaults
	v.SetDefault("buffer.wanted_buffer_ahead", defaultWantedBufferAhead)
	v.SetDefault("buffer.max_buffer_ahead", defaultMaxBufferAhead)
	v.SetDefault("buffer.max_buffer_behind", defaultMaxBufferBehind)
	v.SetDefault("buffer.sink_quota_bytes", 0)

	// ABR defaults
	v.SetDefault("abr.window_size", defaultABRWindowSize)
	v.SetDefault("abr.sample_period", defaultABRSamplePeriod)
	v.SetDefault("abr.safety_factor", defaultABRSafetyFactor)
	v.SetDefault("abr.debounce", defaultABRDebounce)

	// Retry defaults
	v.SetDefault("retry.total_retry", defaultTotalRetry)
	v.SetDefault("retry.retry_delay", defaultRetryDelay)
	v.SetDefault("retry.reset_delay", defaultResetDelay)

	// Transport defaults
	v.SetDefault("transport.manifest_timeout", defaultManifestTimeout)
	v.SetDefault("transport.segment_timeout", defaultSegmentTimeout)
	v.SetDefault("transport.manifest_refresh_min_gap", defaultManifestRefreshMin)

	// Playback defaults
	v.SetDefault("playback.auto_play", false)
	v.SetDefault("playback.with_media_source", true)
	v.SetDefault("playback.start_at.kind", string(StartAtPosition))
	v.SetDefault("playback.start_at.value", 0.0)
	v.SetDefault("playback.end_of_play", defaultEndOfPlay)

	// Text track defaults
	v.SetDefault("text_track.use_custom_sink", true)
	v.SetDefault("text_track.update_interval", defaultOverlayInterval)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "trace": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Buffer.WantedBufferAhead <= 0 {
		return fmt.Errorf("buffer.wanted_buffer_ahead must be positive")
	}
	if c.Buffer.MaxBufferAhead < c.Buffer.WantedBufferAhead {
		return fmt.Errorf("buffer.max_buffer_ahead must be >= buffer.wanted_buffer_ahead")
	}

	if c.ABR.SafetyFactor <= 0 || c.ABR.SafetyFactor > 1 {
		return fmt.Errorf("abr.safety_factor must be in (0, 1]")
	}
	if c.ABR.WindowSize < 1 {
		return fmt.Errorf("abr.window_size must be at least 1")
	}

	if c.Retry.TotalRetry < 0 {
		return fmt.Errorf("retry.total_retry must be >= 0")
	}

	validStartAt := map[StartAtKind]bool{
		StartAtPosition: true, StartAtWallClockTime: true,
		StartAtFromFirstPosition: true, StartAtFromLastPosition: true,
		StartAtPercentage: true,
	}
	if !validStartAt[c.Playback.StartAt.Kind] {
		return fmt.Errorf("playback.start_at.kind is invalid: %q", c.Playback.StartAt.Kind)
	}

	for _, ks := range c.KeySystems {
		if ks.Type == "" {
			return fmt.Errorf("key_systems entries require a type")
		}
	}

	return nil
}
