package media

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/damian-maker/IA-KICK/internal/logging"
)

const (
	maxStderrBytes = 8 * 1024

	DefaultSampleRate = 16000
	DefaultFrameWidth = 320
)

// Config holds the executor's configuration.
type Config struct {
	FFmpegPath    string
	FFprobePath   string
	TempDir       string
	SampleRate    int
	FrameWidth    int
	ProbeTimeout  time.Duration
	ChunkTimeout  time.Duration
	CutTimeout    time.Duration
	DoctorTimeout time.Duration
	Logger        *slog.Logger
}

// DefaultConfig returns production defaults rooted at tempDir.
func DefaultConfig(tempDir string, logger *slog.Logger) Config {
	return Config{
		FFmpegPath:    "ffmpeg",
		FFprobePath:   "ffprobe",
		TempDir:       tempDir,
		SampleRate:    DefaultSampleRate,
		FrameWidth:    DefaultFrameWidth,
		ProbeTimeout:  30 * time.Second,
		ChunkTimeout:  5 * time.Minute,
		CutTimeout:    5 * time.Minute,
		DoctorTimeout: 10 * time.Second,
		Logger:        logger,
	}
}

// FFmpeg implements Prober, Decoder and Cutter with ffmpeg subprocesses.
type FFmpeg struct {
	cfg    Config
	logger *slog.Logger
}

// NewFFmpeg creates the executor and its temp directory.
func NewFFmpeg(cfg Config) (*FFmpeg, error) {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.FrameWidth <= 0 {
		cfg.FrameWidth = DefaultFrameWidth
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if err := os.MkdirAll(cfg.TempDir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create temp dir: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &FFmpeg{cfg: cfg, logger: logging.WithComponent(logger, "media")}, nil
}

type probeJSON struct {
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
		SampleRate string `json:"sample_rate"`
		Duration   string `json:"duration"`
	} `json:"streams"`
}

// Probe runs ffprobe on source.
func (f *FFmpeg) Probe(ctx context.Context, source string) (*ProbeResult, error) {
	ctx, cancel := withTimeout(ctx, f.cfg.ProbeTimeout)
	defer cancel()

	var stdout bytes.Buffer
	res := f.exec(ctx, f.cfg.FFprobePath, &stdout,
		"-v", "error",
		"-print_format", "json",
		"-show_format", "-show_streams",
		source,
	)
	if !res.IsSuccess() {
		return nil, fmt.Errorf("ffprobe exited %d: %s", res.ExitCode, truncate(res.StderrTail, 512))
	}
	return parseProbe(stdout.Bytes())
}

func parseProbe(data []byte) (*ProbeResult, error) {
	var raw probeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("cannot parse ffprobe JSON: %w", err)
	}
	out := &ProbeResult{
		Duration: parseFloat(raw.Format.Duration),
		Bitrate:  int64(parseFloat(raw.Format.BitRate)),
	}
	for _, s := range raw.Streams {
		switch s.CodecType {
		case "video":
			if out.Width > 0 {
				continue
			}
			out.Width, out.Height = s.Width, s.Height
			out.Codec = s.CodecName
			out.FrameRate = parseRate(s.RFrameRate)
			if out.Duration == 0 {
				out.Duration = parseFloat(s.Duration)
			}
		case "audio":
			if out.AudioCodec != "" {
				continue
			}
			out.AudioCodec = s.CodecName
			out.AudioSample = int(parseFloat(s.SampleRate))
			if out.Duration == 0 {
				out.Duration = parseFloat(s.Duration)
			}
		}
	}
	return out, nil
}

// Duration returns the source length in seconds.
func (f *FFmpeg) Duration(ctx context.Context, source string) (float64, error) {
	p, err := f.Probe(ctx, source)
	if err != nil {
		return 0, err
	}
	if p.Duration <= 0 || math.IsNaN(p.Duration) {
		return 0, ErrNoDuration
	}
	return p.Duration, nil
}

// DecodeChunk copies [start, end) of source to a temp file, then decodes the
// requested streams from it.
func (f *FFmpeg) DecodeChunk(ctx context.Context, source string, start, end float64, want Want) (*ChunkMedia, error) {
	if end <= start {
		return nil, fmt.Errorf("empty chunk [%g, %g)", start, end)
	}
	ctx, cancel := withTimeout(ctx, f.cfg.ChunkTimeout)
	defer cancel()

	tmp, err := os.CreateTemp(f.cfg.TempDir, "chunk_*.mp4")
	if err != nil {
		return nil, fmt.Errorf("failed to create chunk file: %w", err)
	}
	tmp.Close()

	cm := NewChunkMedia(start, end, tmp.Name())
	ok := false
	defer func() {
		if !ok {
			cm.Release()
		}
	}()

	res := f.exec(ctx, f.cfg.FFmpegPath, nil,
		"-y", "-loglevel", "error",
		"-ss", formatSeconds(start),
		"-t", formatSeconds(end-start),
		"-i", source,
		"-c", "copy",
		"-avoid_negative_ts", "make_zero",
		tmp.Name(),
	)
	if !res.IsSuccess() {
		return nil, fmt.Errorf("chunk download exited %d: %s", res.ExitCode, truncate(res.StderrTail, 512))
	}

	if want.Audio {
		samples, err := f.decodeAudio(ctx, tmp.Name())
		if err != nil {
			cm.AudioErr = err
		} else {
			cm.Samples = samples
			cm.SampleRate = f.cfg.SampleRate
		}
	}

	if want.Video {
		frames, err := f.decodeVideo(ctx, tmp.Name(), want.FrameStep)
		if err != nil {
			cm.VideoErr = err
		} else {
			cm.Frames = frames
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	audioFailed := !want.Audio || cm.AudioErr != nil
	videoFailed := !want.Video || cm.VideoErr != nil
	if audioFailed && videoFailed && (want.Audio || want.Video) {
		return nil, errors.Join(cm.AudioErr, cm.VideoErr)
	}
	if cm.AudioErr != nil {
		f.logger.Warn("audio decode failed, keeping video", "start", start, "error", cm.AudioErr)
	}
	if cm.VideoErr != nil {
		f.logger.Warn("video decode failed, keeping audio", "start", start, "error", cm.VideoErr)
	}

	ok = true
	return cm, nil
}

func (f *FFmpeg) decodeAudio(ctx context.Context, path string) ([]float64, error) {
	var stdout bytes.Buffer
	res := f.exec(ctx, f.cfg.FFmpegPath, &stdout,
		"-loglevel", "error",
		"-i", path,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(f.cfg.SampleRate),
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-",
	)
	if !res.IsSuccess() {
		return nil, fmt.Errorf("audio decode exited %d: %s", res.ExitCode, truncate(res.StderrTail, 512))
	}
	return pcmToFloat(stdout.Bytes()), nil
}

func (f *FFmpeg) decodeVideo(ctx context.Context, path string, step int) ([]image.Image, error) {
	info, err := f.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	if !info.HasVideo() {
		return nil, nil
	}
	w, h := scaledSize(info.Width, info.Height, f.cfg.FrameWidth)

	cmd := exec.CommandContext(ctx, f.cfg.FFmpegPath,
		"-loglevel", "error",
		"-i", path,
		"-an",
		"-vf", fmt.Sprintf("scale=%d:%d", w, h),
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-",
	)
	var stderrBuf bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open video pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start video decode: %w", err)
	}

	frames, readErr := readFrames(bufio.NewReaderSize(stdout, w*h*3), w, h, step)
	if readErr != nil {
		io.Copy(io.Discard, stdout)
	}
	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("video decode failed: %w: %s", err, truncate(stderrBuf.String(), 512))
	}
	if readErr != nil {
		return nil, readErr
	}
	return frames, nil
}

// Cut copies [start, end) of source to outPath without re-encoding.
func (f *FFmpeg) Cut(ctx context.Context, source string, start, end float64, outPath string) (string, error) {
	if end <= start {
		return "", fmt.Errorf("empty cut [%g, %g)", start, end)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return "", fmt.Errorf("cannot create output dir: %w", err)
	}
	ctx, cancel := withTimeout(ctx, f.cfg.CutTimeout)
	defer cancel()

	res := f.exec(ctx, f.cfg.FFmpegPath, nil,
		"-y", "-loglevel", "error",
		"-ss", formatSeconds(start),
		"-t", formatSeconds(end-start),
		"-i", source,
		"-c", "copy",
		outPath,
	)
	if !res.IsSuccess() {
		os.Remove(outPath)
		return "", fmt.Errorf("cut exited %d: %s", res.ExitCode, truncate(res.StderrTail, 512))
	}
	return outPath, nil
}

// Version runs `<tool> -version` and returns its first line.
func (f *FFmpeg) Version(ctx context.Context, tool string) (string, error) {
	ctx, cancel := withTimeout(ctx, f.cfg.DoctorTimeout)
	defer cancel()

	var stdout bytes.Buffer
	res := f.exec(ctx, tool, &stdout, "-version")
	if !res.IsSuccess() {
		return "", fmt.Errorf("%s -version exited %d", tool, res.ExitCode)
	}
	line, _, _ := strings.Cut(stdout.String(), "\n")
	return strings.TrimSpace(line), nil
}

// exec runs one subprocess, keeping a bounded stderr tail.
func (f *FFmpeg) exec(ctx context.Context, bin string, stdout io.Writer, args ...string) RunResult {
	start := time.Now()

	cmd := exec.CommandContext(ctx, bin, args...)
	var stderrBuf bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}
	if stdout != nil {
		cmd.Stdout = stdout
	} else {
		cmd.Stdout = io.Discard
	}

	f.logger.Debug("executing media command", "bin", filepath.Base(bin), "args", redactArgs(args))

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
			if stderrBuf.Len() == 0 {
				stderrBuf.WriteString(err.Error())
			}
		}
	}

	if exitCode != 0 {
		f.logger.Warn("media command failed",
			"bin", filepath.Base(bin),
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(stderrBuf.String(), 512),
		)
	}

	return RunResult{ExitCode: exitCode, StderrTail: stderrBuf.String(), Duration: elapsed}
}

// pcmToFloat converts little-endian signed 16-bit samples to [-1, 1).
func pcmToFloat(b []byte) []float64 {
	out := make([]float64, len(b)/2)
	for i := range out {
		out[i] = float64(int16(binary.LittleEndian.Uint16(b[2*i:]))) / 32768
	}
	return out
}

// readFrames reads packed rgb24 frames of w×h, keeping every step-th one.
func readFrames(r io.Reader, w, h, step int) ([]image.Image, error) {
	if step < 1 {
		step = 1
	}
	size := w * h * 3
	buf := make([]byte, size)
	var frames []image.Image
	for n := 0; ; n++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			if errors.Is(err, io.EOF) {
				return frames, nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				// trailing partial frame
				return frames, nil
			}
			return frames, fmt.Errorf("failed to read frame %d: %w", n, err)
		}
		if n%step != 0 {
			continue
		}
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		for i, j := 0, 0; i < size; i, j = i+3, j+4 {
			img.Pix[j] = buf[i]
			img.Pix[j+1] = buf[i+1]
			img.Pix[j+2] = buf[i+2]
			img.Pix[j+3] = 0xff
		}
		frames = append(frames, img)
	}
}

// scaledSize fits width to target, keeping the aspect and an even height.
func scaledSize(width, height, target int) (int, int) {
	if width <= 0 || height <= 0 {
		return target, target * 9 / 16
	}
	if target <= 0 || target > width {
		target = width
	}
	target -= target % 2
	h := int(math.Round(float64(target)*float64(height)/float64(width)/2)) * 2
	if h < 2 {
		h = 2
	}
	return target, h
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

// parseRate handles ffprobe's "num/den" rationals.
func parseRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	if !found {
		return parseFloat(s)
	}
	d := parseFloat(den)
	if d == 0 {
		return 0
	}
	return parseFloat(num) / d
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// redactArgs hides query strings so signed playback URLs never reach logs.
func redactArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if strings.Contains(a, "://") {
			out[i] = logging.SanitizeURL(a)
		} else {
			out[i] = a
		}
	}
	return out
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		tail := make([]byte, lw.limit)
		copy(tail, b[len(b)-lw.limit:])
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}
