package playback

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned when the clip file is missing on disk.
var ErrNotFound = errors.New("clip file not found")

// ClipServer streams clip files to the review player.
type ClipServer interface {
	ServeClip(w http.ResponseWriter, r *http.Request, path string) error
}

type Server struct {
	logger *slog.Logger
}

func NewServer(logger *slog.Logger) *Server {
	return &Server{logger: logger}
}

// ServeClip writes the file at path, honouring a single byte Range. HEAD
// requests get headers only. A missing file returns ErrNotFound before
// anything is written, so callers can answer with their own error body.
func (s *Server) ServeClip(w http.ResponseWriter, r *http.Request, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to open clip: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat clip: %w", err)
	}
	if info.IsDir() {
		return ErrNotFound
	}
	size := info.Size()

	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", ContentType(path))
	h.Set("Last-Modified", info.ModTime().UTC().Format(http.TimeFormat))

	rng, err := ParseRange(r.Header.Get("Range"), size)
	switch {
	case errors.Is(err, ErrUnsatisfiable):
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "range not satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	case errors.Is(err, ErrInvalidRange):
		// malformed ranges are ignored and the whole file is sent
		rng = nil
	case err != nil:
		return err
	}

	status := http.StatusOK
	offset, length := int64(0), size
	if rng != nil {
		status = http.StatusPartialContent
		offset, length = rng.Start, rng.ContentLength()
		h.Set("Content-Range", rng.ContentRange(size))
	}
	h.Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(status)

	if r.Method == http.MethodHead {
		return nil
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return fmt.Errorf("failed to seek: %w", err)
		}
	}

	start := time.Now()
	n, err := io.CopyN(w, f, length)
	if err != nil && s.logger != nil {
		// clients abort playback constantly; this is not an error
		s.logger.Debug("clip stream ended early", "sent", n, "want", length, "error", err)
	}
	if s.logger != nil && err == nil {
		s.logger.Debug("clip streamed", "bytes", n, "partial", rng != nil, "duration_ms", time.Since(start).Milliseconds())
	}
	return nil
}

// ContentType maps a clip extension to its MIME type.
func ContentType(path string) string {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".ts":
		return "video/mp2t"
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	default:
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
		return "application/octet-stream"
	}
}
