// Package sequencer turns a source duration and an optional minute range into
// an analysis window and walks that window in fixed-length overlapping chunks.
package sequencer

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidTimeRange is returned when the clamped window is empty.
var ErrInvalidTimeRange = errors.New("invalid time range")

// Limits bounds how much of a source a single run may analyse.
type Limits struct {
	MaxDuration float64 // seconds
}

// Window is the absolute [Start, End) span to analyse, in seconds.
type Window struct {
	Start    float64  `json:"start"`
	End      float64  `json:"end"`
	Warnings []string `json:"warnings,omitempty"`
}

// Length returns End - Start.
func (w Window) Length() float64 {
	return w.End - w.Start
}

// Chunk is one analysis unit of the window.
type Chunk struct {
	Index int     `json:"index"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration returns the chunk length in seconds.
func (c Chunk) Duration() float64 {
	return c.End - c.Start
}

// Plan clamps the requested minute range to the source and the duration
// ceiling. Clamps are reported as warnings; only an empty window is an error.
// A non-positive duration means the length is unknown (live source) and the
// ceiling is used in its place.
func Plan(duration float64, startMinute, endMinute *float64, limits Limits) (Window, error) {
	var w Window

	if duration <= 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
		duration = limits.MaxDuration
		w.Warnings = append(w.Warnings,
			fmt.Sprintf("source duration unknown, assuming %.0fs", limits.MaxDuration))
	}

	start := 0.0
	if startMinute != nil {
		start = *startMinute * 60
		if start < 0 {
			w.Warnings = append(w.Warnings,
				fmt.Sprintf("start %.1fs is negative, using 0", start))
			start = 0
		}
	}

	end := duration
	if endMinute != nil {
		end = *endMinute * 60
		if end > duration {
			w.Warnings = append(w.Warnings,
				fmt.Sprintf("end %.1fs is beyond source duration, using %.1fs", end, duration))
			end = duration
		}
	}

	if start >= end {
		return Window{}, fmt.Errorf("%w: start %.1fs is not before end %.1fs", ErrInvalidTimeRange, start, end)
	}

	if limits.MaxDuration > 0 && end-start > limits.MaxDuration {
		w.Warnings = append(w.Warnings,
			fmt.Sprintf("window of %.0fs exceeds the %.0fs ceiling, truncating", end-start, limits.MaxDuration))
		end = start + limits.MaxDuration
	}

	w.Start = start
	w.End = end
	return w, nil
}

// Sequence lazily yields the chunks of a window. It is finite and cannot be
// restarted.
type Sequence struct {
	window  Window
	length  float64
	step    float64
	next    float64
	index   int
	drained bool
}

// NewSequence validates the chunk geometry and returns a sequence positioned at
// the window start.
func NewSequence(w Window, length, overlap float64) (*Sequence, error) {
	if length <= 0 {
		return nil, fmt.Errorf("chunk length must be positive, got %v", length)
	}
	if overlap < 0 || overlap >= length {
		return nil, fmt.Errorf("chunk overlap must be in [0, %v), got %v", length, overlap)
	}
	return &Sequence{
		window: w,
		length: length,
		step:   length - overlap,
		next:   w.Start,
	}, nil
}

// Next returns the next chunk, or false once the window is exhausted.
func (s *Sequence) Next() (Chunk, bool) {
	if s.drained || s.next >= s.window.End {
		s.drained = true
		return Chunk{}, false
	}
	c := Chunk{
		Index: s.index,
		Start: s.next,
		End:   math.Min(s.next+s.length, s.window.End),
	}
	s.index++
	// Computed from the index so float drift does not accumulate over long windows.
	s.next = s.window.Start + float64(s.index)*s.step
	return c, true
}

// Estimate returns the number of chunks the full window produces.
func (s *Sequence) Estimate() int {
	span := s.window.End - s.window.Start
	if span <= 0 {
		return 0
	}
	return int(math.Ceil(span / s.step))
}

// All drains the sequence into a slice.
func (s *Sequence) All() []Chunk {
	var out []Chunk
	for {
		c, ok := s.Next()
		if !ok {
			return out
		}
		out = append(out, c)
	}
}
