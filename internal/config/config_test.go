package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(EnvDataDir, dir)
	t.Setenv(EnvConfigFile, "")
	return dir
}

func TestNew_Defaults(t *testing.T) {
	dir := isolate(t)

	cfg, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if cfg.Port() != DefaultPort {
		t.Errorf("Port() = %d, want %d", cfg.Port(), DefaultPort)
	}
	if cfg.DBPath() != filepath.Join(dir, DBFilename) {
		t.Errorf("DBPath() = %q", cfg.DBPath())
	}
	if cfg.ConfigFile() != "" {
		t.Errorf("ConfigFile() = %q, want empty when no file exists", cfg.ConfigFile())
	}

	p := cfg.Processing()
	if p.ChunkDuration != 30 || p.ChunkOverlap != 5 || p.MaxStreamDuration != 36000 {
		t.Errorf("unexpected chunk defaults: %+v", p)
	}
	if p.BlendAlpha != 0.6 || p.RetrainInterval != 5 || p.MinTrainingSamples != 10 {
		t.Errorf("unexpected learning defaults: %+v", p)
	}
	if p.MaxClipsPerType != 25 || p.MaxTotalClips != 50 {
		t.Errorf("unexpected clip caps: %+v", p)
	}
}

func TestNew_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv(EnvPort, "9001")
	t.Setenv(EnvBlendAlpha, "0.75")
	t.Setenv(EnvRetrainInterval, "3")
	t.Setenv(EnvHeadless, "true")

	cfg, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if cfg.Port() != 9001 {
		t.Errorf("Port() = %d, want 9001", cfg.Port())
	}
	if cfg.Processing().BlendAlpha != 0.75 {
		t.Errorf("BlendAlpha = %v, want 0.75", cfg.Processing().BlendAlpha)
	}
	if cfg.Processing().RetrainInterval != 3 {
		t.Errorf("RetrainInterval = %d, want 3", cfg.Processing().RetrainInterval)
	}
	if !cfg.Headless() {
		t.Error("Headless() = false, want true")
	}
}

func TestNew_InvalidPort(t *testing.T) {
	isolate(t)
	t.Setenv(EnvPort, "70000")

	if _, err := New(); err == nil {
		t.Fatal("expected error for out of range port")
	}
}

func TestNew_YAMLFile(t *testing.T) {
	dir := isolate(t)
	content := `
server:
  port: 9100
  log_level: debug
processing:
  chunk_duration: 45
  chunk_overlap: 3
  min_gap: 15
`
	if err := os.WriteFile(filepath.Join(dir, ConfigFilename), []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if cfg.Port() != 9100 || cfg.LogLevel() != "debug" {
		t.Errorf("server values not loaded: port=%d level=%s", cfg.Port(), cfg.LogLevel())
	}
	p := cfg.Processing()
	if p.ChunkDuration != 45 || p.ChunkOverlap != 3 || p.MinGap != 15 {
		t.Errorf("processing values not loaded: %+v", p)
	}
	// keys absent from the file keep their defaults
	if p.MaxStreamDuration != DefaultMaxStreamDuration {
		t.Errorf("MaxStreamDuration = %v, want default", p.MaxStreamDuration)
	}
}

func TestNew_EnvBeatsFile(t *testing.T) {
	dir := isolate(t)
	content := "processing:\n  min_gap: 15\n"
	os.WriteFile(filepath.Join(dir, ConfigFilename), []byte(content), 0o644)
	t.Setenv(EnvMinGap, "20")

	cfg, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if cfg.Processing().MinGap != 20 {
		t.Errorf("MinGap = %v, want 20", cfg.Processing().MinGap)
	}
}

func TestNew_ExplicitMissingFile(t *testing.T) {
	isolate(t)
	t.Setenv(EnvConfigFile, filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := New(); err == nil {
		t.Fatal("expected error for explicit missing config file")
	}
}

func TestProcessing_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Processing)
		wantErr string
	}{
		{"defaults", func(p *Processing) {}, ""},
		{"overlap equals chunk", func(p *Processing) { p.ChunkOverlap = p.ChunkDuration }, "chunk_overlap"},
		{"zero chunk", func(p *Processing) { p.ChunkDuration = 0 }, "chunk_duration"},
		{"alpha above one", func(p *Processing) { p.BlendAlpha = 1.5 }, "blend_alpha"},
		{"caps above ceiling", func(p *Processing) { p.MaxClipsPerType = 30 }, "max_clips_per_type"},
		{"retrain interval zero", func(p *Processing) { p.RetrainInterval = 0 }, "retrain_interval"},
		{"frame skip zero", func(p *Processing) { p.FrameSkip = 0 }, "frame_skip"},
		{"sample rate", func(p *Processing) { p.SampleRate = 100 }, "sample_rate"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := DefaultProcessing()
			tc.mutate(&p)
			err := p.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Validate() error = %v, want mention of %q", err, tc.wantErr)
			}
		})
	}
}

func TestWriteDefaultFile_RoundTrip(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, ConfigFilename)

	if err := WriteDefaultFile(path); err != nil {
		t.Fatalf("WriteDefaultFile() error = %v", err)
	}

	cfg, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if cfg.ConfigFile() != path {
		t.Errorf("ConfigFile() = %q, want %q", cfg.ConfigFile(), path)
	}
	if cfg.Processing() != DefaultProcessing() {
		t.Errorf("round-tripped processing differs: %+v", cfg.Processing())
	}
}
