package playback

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidRange  = errors.New("invalid range format")
	ErrUnsatisfiable = errors.New("range not satisfiable")
)

// Range is an inclusive byte range.
type Range struct {
	Start int64
	End   int64
}

func (r Range) ContentLength() int64 {
	return r.End - r.Start + 1
}

func (r Range) ContentRange(total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, total)
}

// ParseRange parses a single "bytes=" range against a file of the given
// size. An empty header yields (nil, nil). For multi-range requests only the
// first range is honoured; review players never ask for more.
func ParseRange(header string, size int64) (*Range, error) {
	if header == "" {
		return nil, nil
	}

	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return nil, ErrInvalidRange
	}
	if first, _, multi := strings.Cut(spec, ","); multi {
		spec = first
	}
	first, last, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return nil, ErrInvalidRange
	}

	var r Range
	if first == "" {
		n, err := parseOffset(last)
		if err != nil || n == 0 {
			return nil, ErrInvalidRange
		}
		r = Range{Start: max(size-n, 0), End: size - 1}
	} else {
		start, err := parseOffset(first)
		if err != nil {
			return nil, ErrInvalidRange
		}
		r = Range{Start: start, End: size - 1}
		if last != "" {
			end, err := parseOffset(last)
			if err != nil {
				return nil, ErrInvalidRange
			}
			r.End = end
		}
	}

	if r.Start > r.End || r.Start >= size {
		return nil, ErrUnsatisfiable
	}
	r.End = min(r.End, size-1)
	return &r, nil
}

func parseOffset(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, ErrInvalidRange
	}
	return n, nil
}
