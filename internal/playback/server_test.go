package playback

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/damian-maker/IA-KICK/internal/logging"
)

func writeClip(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write clip: %v", err)
	}
	return path
}

func clipBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func TestServeClip_Full(t *testing.T) {
	data := clipBytes(1000)
	path := writeClip(t, "clip.mp4", data)
	s := NewServer(logging.Discard())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/clips/1/media", nil)
	if err := s.ServeClip(rr, req, path); err != nil {
		t.Fatalf("ServeClip() error = %v", err)
	}

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); got != "video/mp4" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rr.Header().Get("Accept-Ranges"); got != "bytes" {
		t.Errorf("Accept-Ranges = %q", got)
	}
	if rr.Body.Len() != len(data) {
		t.Errorf("body = %d bytes, want %d", rr.Body.Len(), len(data))
	}
}

func TestServeClip_Partial(t *testing.T) {
	data := clipBytes(1000)
	path := writeClip(t, "clip.mp4", data)
	s := NewServer(nil)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/clips/1/media", nil)
	req.Header.Set("Range", "bytes=100-199")
	if err := s.ServeClip(rr, req, path); err != nil {
		t.Fatalf("ServeClip() error = %v", err)
	}

	if rr.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", rr.Code)
	}
	if got := rr.Header().Get("Content-Range"); got != "bytes 100-199/1000" {
		t.Errorf("Content-Range = %q", got)
	}
	if got := rr.Header().Get("Content-Length"); got != "100" {
		t.Errorf("Content-Length = %q", got)
	}
	body := rr.Body.Bytes()
	if len(body) != 100 || body[0] != data[100] || body[99] != data[199] {
		t.Errorf("partial body does not match bytes 100-199")
	}
}

func TestServeClip_Unsatisfiable(t *testing.T) {
	path := writeClip(t, "clip.mp4", clipBytes(10))
	s := NewServer(nil)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/clips/1/media", nil)
	req.Header.Set("Range", "bytes=50-")
	if err := s.ServeClip(rr, req, path); err != nil {
		t.Fatalf("ServeClip() error = %v", err)
	}

	if rr.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("status = %d, want 416", rr.Code)
	}
	if got := rr.Header().Get("Content-Range"); got != "bytes */10" {
		t.Errorf("Content-Range = %q", got)
	}
}

func TestServeClip_MalformedRangeServesWholeFile(t *testing.T) {
	path := writeClip(t, "clip.ts", clipBytes(64))
	s := NewServer(nil)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/clips/1/media", nil)
	req.Header.Set("Range", "frames=1-2")
	if err := s.ServeClip(rr, req, path); err != nil {
		t.Fatalf("ServeClip() error = %v", err)
	}

	if rr.Code != http.StatusOK || rr.Body.Len() != 64 {
		t.Fatalf("status = %d, body = %d bytes", rr.Code, rr.Body.Len())
	}
	if got := rr.Header().Get("Content-Type"); got != "video/mp2t" {
		t.Errorf("Content-Type = %q", got)
	}
}

func TestServeClip_Head(t *testing.T) {
	path := writeClip(t, "clip.mp4", clipBytes(300))
	s := NewServer(nil)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodHead, "/clips/1/media", nil)
	if err := s.ServeClip(rr, req, path); err != nil {
		t.Fatalf("ServeClip() error = %v", err)
	}

	if rr.Body.Len() != 0 {
		t.Errorf("HEAD body = %d bytes, want 0", rr.Body.Len())
	}
	if got := rr.Header().Get("Content-Length"); got != "300" {
		t.Errorf("Content-Length = %q", got)
	}
}

func TestServeClip_Missing(t *testing.T) {
	s := NewServer(nil)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/clips/1/media", nil)
	err := s.ServeClip(rr, req, filepath.Join(t.TempDir(), "gone.mp4"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("ServeClip() error = %v, want ErrNotFound", err)
	}
	if rr.Body.Len() != 0 {
		t.Error("nothing should be written for a missing clip")
	}
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"a.mp4":  "video/mp4",
		"a.MP4":  "video/mp4",
		"a.ts":   "video/mp2t",
		"a.webm": "video/webm",
		"a.bin":  "application/octet-stream",
		"noext":  "application/octet-stream",
	}
	for path, want := range tests {
		if got := ContentType(path); got != want {
			t.Errorf("ContentType(%q) = %q, want %q", path, got, want)
		}
	}
}
