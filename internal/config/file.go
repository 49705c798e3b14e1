package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors config.yaml. Server fields are pointers so an absent key
// leaves the default untouched.
type fileConfig struct {
	Server struct {
		Port     *int    `yaml:"port,omitempty"`
		LogLevel *string `yaml:"log_level,omitempty"`
		Headless *bool   `yaml:"headless,omitempty"`
		FFmpeg   *string `yaml:"ffmpeg,omitempty"`
		FFprobe  *string `yaml:"ffprobe,omitempty"`
		KickAPI  *string `yaml:"kick_api,omitempty"`
	} `yaml:"server"`
	Processing Processing `yaml:"processing"`
}

// loadFile merges the YAML file at path into c. A missing file is only an
// error when the path was given explicitly.
func (c *EnvConfig) loadFile(path string, explicit bool) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	fc := fileConfig{Processing: c.processing}
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if fc.Server.Port != nil {
		c.port = *fc.Server.Port
	}
	if fc.Server.LogLevel != nil {
		c.logLevel = *fc.Server.LogLevel
	}
	if fc.Server.Headless != nil {
		c.headless = *fc.Server.Headless
	}
	if fc.Server.FFmpeg != nil {
		c.ffmpegPath = *fc.Server.FFmpeg
	}
	if fc.Server.FFprobe != nil {
		c.ffprobePath = *fc.Server.FFprobe
	}
	if fc.Server.KickAPI != nil {
		c.kickAPIBase = strings.TrimRight(*fc.Server.KickAPI, "/")
	}
	c.processing = fc.Processing
	c.configFile = path
	return nil
}

// WriteDefaultFile writes the default configuration to path so users have a
// template to edit. Existing files are left alone.
func WriteDefaultFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	fc := fileConfig{Processing: DefaultProcessing()}
	port, level := DefaultPort, DefaultLogLevel
	fc.Server.Port = &port
	fc.Server.LogLevel = &level

	data, err := yaml.Marshal(&fc)
	if err != nil {
		return fmt.Errorf("failed to encode default config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
