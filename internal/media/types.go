// Package media wraps the ffmpeg and ffprobe executables: probing a source,
// decoding one chunk into PCM samples and RGB frames, and cutting clips.
package media

import (
	"context"
	"errors"
	"image"
	"os"
	"sync"
	"time"
)

var (
	ErrToolMissing = errors.New("media tool not found")
	ErrNoDuration  = errors.New("source has no known duration")
)

// Prober reports source metadata.
type Prober interface {
	Duration(ctx context.Context, source string) (float64, error)
	Probe(ctx context.Context, source string) (*ProbeResult, error)
}

// Decoder turns a time range of a source into analysable media.
type Decoder interface {
	DecodeChunk(ctx context.Context, source string, start, end float64, want Want) (*ChunkMedia, error)
}

// Cutter writes a time range of a source to outPath and returns the written path.
type Cutter interface {
	Cut(ctx context.Context, source string, start, end float64, outPath string) (string, error)
}

// Want selects which streams DecodeChunk produces.
type Want struct {
	Audio bool
	Video bool
	// FrameStep keeps every FrameStep-th decoded frame. Values below 1 keep all.
	FrameStep int
}

// ProbeResult is the subset of ffprobe output the agent uses.
type ProbeResult struct {
	Duration    float64 `json:"duration"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Codec       string  `json:"codec"`
	Bitrate     int64   `json:"bitrate"`
	FrameRate   float64 `json:"frame_rate"`
	AudioCodec  string  `json:"audio_codec"`
	AudioSample int     `json:"audio_sample_rate"`
}

// HasVideo reports whether the probe found a video stream.
func (p *ProbeResult) HasVideo() bool { return p != nil && p.Width > 0 && p.Height > 0 }

// ChunkMedia holds one decoded chunk. Release removes any temp files and
// drops the buffers; it is safe to call more than once.
//
// AudioErr and VideoErr record a stream that could not be decoded while the
// other one was; the failed stream's buffer is left empty.
type ChunkMedia struct {
	Start      float64
	End        float64
	Samples    []float64
	SampleRate int
	Frames     []image.Image
	AudioErr   error
	VideoErr   error

	tempFiles []string
	once      sync.Once
}

// NewChunkMedia returns an empty chunk owning tempFiles.
func NewChunkMedia(start, end float64, tempFiles ...string) *ChunkMedia {
	return &ChunkMedia{Start: start, End: end, tempFiles: tempFiles}
}

// Release deletes the chunk's temp files.
func (c *ChunkMedia) Release() {
	if c == nil {
		return
	}
	c.once.Do(func() {
		for _, p := range c.tempFiles {
			os.Remove(p)
		}
		c.Samples = nil
		c.Frames = nil
	})
}

// RunResult is the outcome of one ffmpeg/ffprobe invocation.
type RunResult struct {
	ExitCode   int           `json:"exit_code"`
	StderrTail string        `json:"stderr_tail,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }

// ToolInfo describes one external executable.
type ToolInfo struct {
	Available bool   `json:"available"`
	Path      string `json:"path,omitempty"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Capabilities is the doctor report for the media toolchain.
type Capabilities struct {
	FFmpeg   ToolInfo  `json:"ffmpeg"`
	FFprobe  ToolInfo  `json:"ffprobe"`
	ProbedAt time.Time `json:"probed_at"`
}

// OK reports whether both tools are usable.
func (c *Capabilities) OK() bool {
	return c != nil && c.FFmpeg.Available && c.FFprobe.Available
}
