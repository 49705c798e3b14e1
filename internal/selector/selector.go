// Package selector ranks scored chunks and picks a spaced-out top-K per
// modality.
package selector

import (
	"math"
	"sort"
	"time"

	"github.com/damian-maker/IA-KICK/internal/features"
)

// DefaultCeiling is the hard upper bound on highlights per modality.
const DefaultCeiling = 25

// Candidate is one scored chunk of one modality.
type Candidate struct {
	Modality       features.Modality `json:"type"`
	ChunkIndex     int               `json:"chunk_index"`
	Start          float64           `json:"start_time"`
	End            float64           `json:"end_time"`
	HeuristicScore float64           `json:"heuristic_score"`
	Score          float64           `json:"score"`
	Strategy       string            `json:"strategy"`
	Features       features.Map      `json:"features"`
	Vector         features.Vector   `json:"-"`
}

// Highlight is an accepted candidate with its 1-based rank.
type Highlight struct {
	Candidate
	Rank      int       `json:"rank"`
	CreatedAt time.Time `json:"timestamp"`
}

// ClampMaxClips bounds n to [1, ceiling]. A non-positive ceiling means
// DefaultCeiling.
func ClampMaxClips(n, ceiling int) int {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	if n < 1 {
		return 1
	}
	if n > ceiling {
		return ceiling
	}
	return n
}

// FilterMinScore drops candidates scoring below min.
func FilterMinScore(candidates []Candidate, min float64) []Candidate {
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Score >= min {
			out = append(out, c)
		}
	}
	return out
}

// Select greedily accepts the best-scoring candidates whose start is at least
// minGap seconds from every accepted start, up to maxClips. The input is not
// modified. Output is in rank order.
func Select(candidates []Candidate, maxClips int, minGap float64) []Highlight {
	if maxClips <= 0 || len(candidates) == 0 {
		return nil
	}

	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].ChunkIndex < sorted[j].ChunkIndex
	})

	now := time.Now().UTC()
	var out []Highlight
	for _, c := range sorted {
		if len(out) >= maxClips {
			break
		}
		if tooClose(c.Start, out, minGap) {
			continue
		}
		out = append(out, Highlight{Candidate: c, Rank: len(out) + 1, CreatedAt: now})
	}
	return out
}

func tooClose(start float64, accepted []Highlight, minGap float64) bool {
	for _, h := range accepted {
		if math.Abs(start-h.Start) < minGap {
			return true
		}
	}
	return false
}

// CapTotal trims the combined lists to maxTotal by dropping the lowest
// scoring highlights across both. Ties drop the later chunk first, and video
// before audio. Each list keeps its rank order.
func CapTotal(audio, video []Highlight, maxTotal int) ([]Highlight, []Highlight) {
	if maxTotal < 0 {
		maxTotal = 0
	}
	if len(audio)+len(video) <= maxTotal {
		return audio, video
	}

	type ref struct {
		h     *Highlight
		audio bool
	}
	all := make([]ref, 0, len(audio)+len(video))
	for i := range audio {
		all = append(all, ref{&audio[i], true})
	}
	for i := range video {
		all = append(all, ref{&video[i], false})
	}
	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.h.Score != b.h.Score {
			return a.h.Score > b.h.Score
		}
		if a.h.ChunkIndex != b.h.ChunkIndex {
			return a.h.ChunkIndex < b.h.ChunkIndex
		}
		return a.audio && !b.audio
	})

	keep := make(map[*Highlight]bool, maxTotal)
	for _, r := range all[:maxTotal] {
		keep[r.h] = true
	}

	filter := func(in []Highlight) []Highlight {
		out := make([]Highlight, 0, len(in))
		for i := range in {
			if keep[&in[i]] {
				out = append(out, in[i])
			}
		}
		return out
	}
	return filter(audio), filter(video)
}
