// Package config provides configuration management for the kickclip agent.
// Configuration is loaded from defaults, an optional YAML file and environment
// variables, in that order, and validated once at startup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// Default values
	DefaultPort     = 8797
	DefaultLogLevel = "info"
	DefaultDataDir  = ".kickclip"

	// Environment variable names
	EnvConfigFile = "KICKCLIP_CONFIG"
	EnvPort       = "KICKCLIP_PORT"
	EnvLogLevel   = "KICKCLIP_LOG_LEVEL"
	EnvDataDir    = "KICKCLIP_DATA_DIR"
	EnvHeadless   = "KICKCLIP_HEADLESS"
	EnvFFmpeg     = "KICKCLIP_FFMPEG"
	EnvFFprobe    = "KICKCLIP_FFPROBE"
	EnvKickAPI    = "KICKCLIP_KICK_API"

	// Processing overrides
	EnvChunkDuration   = "KICKCLIP_CHUNK_DURATION"
	EnvChunkOverlap    = "KICKCLIP_CHUNK_OVERLAP"
	EnvMaxDuration     = "KICKCLIP_MAX_STREAM_DURATION"
	EnvClipDuration    = "KICKCLIP_CLIP_DURATION"
	EnvMinGap          = "KICKCLIP_MIN_GAP"
	EnvBlendAlpha      = "KICKCLIP_BLEND_ALPHA"
	EnvRetrainInterval = "KICKCLIP_RETRAIN_INTERVAL"
	EnvMinSamples      = "KICKCLIP_MIN_TRAINING_SAMPLES"
	EnvFrameSkip       = "KICKCLIP_FRAME_SKIP"
	EnvBootstrap       = "KICKCLIP_BOOTSTRAP"

	// Filenames under the data directory
	DBFilename     = "kickclip.db"
	ConfigFilename = "config.yaml"

	DefaultKickAPIBase    = "https://kick.com/api/v2"
	DefaultRequestRetries = 5
	DefaultRequestBackoff = 2.0
	DefaultRequestTimeout = 30 // seconds
	DefaultProbeTimeout   = 30 // seconds
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	ModelDir() string
	OutputDir() string
	TempDir() string
	Headless() bool
	FFmpegPath() string
	FFprobePath() string
	KickAPIBase() string
	RequestRetries() int
	RequestBackoff() float64
	RequestTimeout() time.Duration
	ProbeTimeout() time.Duration
	Processing() Processing
}

// EnvConfig is the resolved configuration: defaults, then the YAML file, then
// environment variables.
type EnvConfig struct {
	port     int
	logLevel string
	dataDir  string
	headless bool

	ffmpegPath  string
	ffprobePath string
	kickAPIBase string

	configFile string
	processing Processing
}

// New creates a new EnvConfig with defaults, file values and environment
// variable overrides, then validates the processing settings.
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:        DefaultPort,
		logLevel:    DefaultLogLevel,
		dataDir:     defaultDataDir(),
		kickAPIBase: DefaultKickAPIBase,
		processing:  DefaultProcessing(),
	}

	// The data dir decides where the default config file lives, so resolve it first.
	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	path := os.Getenv(EnvConfigFile)
	if path == "" {
		path = filepath.Join(cfg.dataDir, ConfigFilename)
	}
	if err := cfg.loadFile(path, os.Getenv(EnvConfigFile) != ""); err != nil {
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.processing.Validate(); err != nil {
		return nil, fmt.Errorf("invalid processing config: %w", err)
	}

	return cfg, nil
}

func (c *EnvConfig) applyEnv() error {
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		c.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		c.logLevel = ll
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		c.dataDir = dd
	}

	if h := os.Getenv(EnvHeadless); h != "" {
		headless, err := strconv.ParseBool(h)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvHeadless, err)
		}
		c.headless = headless
	}

	if v := os.Getenv(EnvFFmpeg); v != "" {
		c.ffmpegPath = v
	}
	if v := os.Getenv(EnvFFprobe); v != "" {
		c.ffprobePath = v
	}
	if v := os.Getenv(EnvKickAPI); v != "" {
		c.kickAPIBase = strings.TrimRight(v, "/")
	}

	p := &c.processing
	floats := []struct {
		env string
		dst *float64
	}{
		{EnvChunkDuration, &p.ChunkDuration},
		{EnvChunkOverlap, &p.ChunkOverlap},
		{EnvMaxDuration, &p.MaxStreamDuration},
		{EnvClipDuration, &p.ClipDuration},
		{EnvMinGap, &p.MinGap},
		{EnvBlendAlpha, &p.BlendAlpha},
	}
	for _, f := range floats {
		v := os.Getenv(f.env)
		if v == "" {
			continue
		}
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", f.env, err)
		}
		*f.dst = parsed
	}

	ints := []struct {
		env string
		dst *int
	}{
		{EnvRetrainInterval, &p.RetrainInterval},
		{EnvMinSamples, &p.MinTrainingSamples},
		{EnvFrameSkip, &p.FrameSkip},
	}
	for _, i := range ints {
		v := os.Getenv(i.env)
		if v == "" {
			continue
		}
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", i.env, err)
		}
		*i.dst = parsed
	}

	if v := os.Getenv(EnvBootstrap); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvBootstrap, err)
		}
		p.Bootstrap = b
	}

	return nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// ModelDir holds one model bundle file per modality.
func (c *EnvConfig) ModelDir() string {
	return filepath.Join(c.dataDir, "models")
}

// OutputDir is the base directory for generated clips and reports.
func (c *EnvConfig) OutputDir() string {
	return filepath.Join(c.dataDir, "output_clips")
}

// TempDir holds per-chunk media while a run is in progress.
func (c *EnvConfig) TempDir() string {
	return filepath.Join(c.dataDir, "temp_chunks")
}

func (c *EnvConfig) Headless() bool {
	return c.headless
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) FFprobePath() string {
	return c.ffprobePath
}

func (c *EnvConfig) KickAPIBase() string {
	return c.kickAPIBase
}

func (c *EnvConfig) RequestRetries() int {
	return DefaultRequestRetries
}

func (c *EnvConfig) RequestBackoff() float64 {
	return DefaultRequestBackoff
}

func (c *EnvConfig) RequestTimeout() time.Duration {
	return time.Duration(DefaultRequestTimeout) * time.Second
}

func (c *EnvConfig) ProbeTimeout() time.Duration {
	return time.Duration(DefaultProbeTimeout) * time.Second
}

// Processing returns a copy of the validated processing settings.
func (c *EnvConfig) Processing() Processing {
	return c.processing
}

// ConfigFile returns the YAML file that was loaded, or "" when none was found.
func (c *EnvConfig) ConfigFile() string {
	return c.configFile
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
