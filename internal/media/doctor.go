package media

import (
	"context"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

const defaultCacheTTL = 5 * time.Minute

// VersionProber reports a tool's version string.
type VersionProber interface {
	Version(ctx context.Context, tool string) (string, error)
}

// Doctor checks that ffmpeg and ffprobe are installed, caching the result
// for a TTL so /health does not fork on every request.
type Doctor struct {
	prober      VersionProber
	ffmpegPath  string
	ffprobePath string
	ttl         time.Duration
	logger      *slog.Logger
	lookPath    func(string) (string, error)

	mu     sync.RWMutex
	cached *Capabilities
}

// NewDoctor creates a caching doctor.
func NewDoctor(prober VersionProber, ffmpegPath, ffprobePath string, logger *slog.Logger) *Doctor {
	return &Doctor{
		prober:      prober,
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		ttl:         defaultCacheTTL,
		logger:      logger,
		lookPath:    exec.LookPath,
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *Doctor) Get(ctx context.Context) *Capabilities {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

// Peek returns the last probe without running a new one.
func (d *Doctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh forces a new probe regardless of cache freshness.
func (d *Doctor) Refresh(ctx context.Context) *Capabilities {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps := &Capabilities{
		FFmpeg:   d.check(ctx, d.ffmpegPath),
		FFprobe:  d.check(ctx, d.ffprobePath),
		ProbedAt: time.Now(),
	}
	if d.logger != nil {
		d.logger.Info("media doctor probe complete",
			"ffmpeg", caps.FFmpeg.Available,
			"ffprobe", caps.FFprobe.Available,
		)
	}
	d.cached = caps
	return caps
}

// Invalidate clears the cached capabilities.
func (d *Doctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}

func (d *Doctor) check(ctx context.Context, tool string) ToolInfo {
	path, err := d.lookPath(tool)
	if err != nil {
		return ToolInfo{Error: ErrToolMissing.Error() + ": " + tool}
	}
	version, err := d.prober.Version(ctx, path)
	if err != nil {
		return ToolInfo{Path: path, Error: err.Error()}
	}
	return ToolInfo{Available: true, Path: path, Version: version}
}
