package report

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/damian-maker/IA-KICK/internal/selector"
)

// ClipFilename names the idx-th (0-based) clip cut from h, e.g.
// clip_001_02m05s_087_audio.mp4. The score field is the score as a
// percentage, clamped to three digits.
func ClipFilename(prefix string, idx int, h selector.Highlight) string {
	if prefix == "" {
		prefix = "clip"
	}
	ts := int(math.Max(h.Start, 0))
	pct := int(math.Round(h.Score * 100))
	if pct < 0 || math.IsNaN(h.Score) {
		pct = 0
	}
	if pct > 999 {
		pct = 999
	}
	return fmt.Sprintf("%s_%03d_%02dm%02ds_%03d_%s.mp4",
		SanitizeName(prefix, 32), idx+1, ts/60, ts%60, pct, h.Modality)
}

// VideoID derives a run directory name from the source and the time.
func VideoID(source string, now time.Time) string {
	sum := md5.Sum([]byte(source))
	return fmt.Sprintf("%d_%s", now.Unix(), hex.EncodeToString(sum[:])[:8])
}

// SanitizeName drops control characters and replaces anything outside a
// conservative filename alphabet with '_'.
func SanitizeName(s string, maxLen int) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		if isAllowedNameRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	cleaned := strings.TrimSpace(b.String())
	if maxLen > 0 {
		runes := []rune(cleaned)
		if len(runes) > maxLen {
			cleaned = string(runes[:maxLen])
		}
	}
	return cleaned
}

func isAllowedNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case ' ', '-', '_', '.', ',', '(', ')':
		return true
	default:
		return false
	}
}

// ValidateOutputDir rejects empty, unclean or traversing paths and paths that
// are not existing directories.
func ValidateOutputDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("output_dir is required")
	}

	for _, part := range strings.Split(filepath.ToSlash(dir), "/") {
		if part == ".." {
			return fmt.Errorf("output_dir cannot contain path traversal")
		}
	}

	if filepath.Clean(dir) != dir {
		return fmt.Errorf("output_dir must be clean path")
	}

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("output_dir does not exist")
		}
		return fmt.Errorf("invalid output_dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("output_dir is not a directory")
	}
	return nil
}
