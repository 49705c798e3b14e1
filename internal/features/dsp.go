package features

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// meanStd returns the population mean and standard deviation of x, or zeros
// for an empty slice.
func meanStd(x []float64) (float64, float64) {
	if len(x) == 0 {
		return 0, 0
	}
	return stat.PopMeanStdDev(x, nil)
}

func mean(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return stat.Mean(x, nil)
}

func popVariance(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	_, v := stat.PopMeanVariance(x, nil)
	return v
}

func hzToMel(hz float64) float64 {
	return 2595 * math.Log10(1+hz/700)
}

func melToHz(mel float64) float64 {
	return 700 * (math.Pow(10, mel/2595) - 1)
}

// melFilterbank builds triangular filters mapping the nBins one-sided FFT bins
// of a frameLen transform onto nBands mel bands between 0 and Nyquist.
func melFilterbank(nBands, frameLen, sampleRate int) [][]float64 {
	nBins := frameLen/2 + 1
	maxMel := hzToMel(float64(sampleRate) / 2)

	// nBands+2 equally spaced points on the mel scale, as FFT bin positions.
	points := make([]float64, nBands+2)
	for i := range points {
		hz := melToHz(maxMel * float64(i) / float64(nBands+1))
		points[i] = hz * float64(frameLen) / float64(sampleRate)
	}

	bank := make([][]float64, nBands)
	for b := 0; b < nBands; b++ {
		lo, center, hi := points[b], points[b+1], points[b+2]
		filter := make([]float64, nBins)
		for k := 0; k < nBins; k++ {
			f := float64(k)
			switch {
			case f > lo && f <= center && center > lo:
				filter[k] = (f - lo) / (center - lo)
			case f > center && f < hi && hi > center:
				filter[k] = (hi - f) / (hi - center)
			}
		}
		bank[b] = filter
	}
	return bank
}

// dct2 returns the first n orthonormal DCT-II coefficients of x.
func dct2(x []float64, n int) []float64 {
	size := float64(len(x))
	out := make([]float64, n)
	for k := 0; k < n; k++ {
		var sum float64
		for i, v := range x {
			sum += v * math.Cos(math.Pi*float64(k)*(float64(i)+0.5)/size)
		}
		scale := math.Sqrt(2 / size)
		if k == 0 {
			scale = math.Sqrt(1 / size)
		}
		out[k] = sum * scale
	}
	return out
}

// estimateTempo finds the dominant periodicity of an onset envelope in the
// [minBPM, maxBPM] range. frameRate is envelope frames per second. It returns
// the tempo in BPM and the period in frames, or zeros when no periodicity is
// found.
func estimateTempo(onset []float64, frameRate, minBPM, maxBPM float64) (float64, int) {
	minLag := int(math.Round(60 * frameRate / maxBPM))
	maxLag := int(math.Round(60 * frameRate / minBPM))
	if minLag < 1 {
		minLag = 1
	}
	if maxLag >= len(onset) {
		maxLag = len(onset) - 1
	}
	if maxLag < minLag {
		return 0, 0
	}

	m := mean(onset)
	centered := make([]float64, len(onset))
	for i, v := range onset {
		centered[i] = v - m
	}

	bestLag, best := 0, 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		var acc float64
		for i := lag; i < len(centered); i++ {
			acc += centered[i] * centered[i-lag]
		}
		acc /= float64(len(centered) - lag)
		if acc > best {
			best, bestLag = acc, lag
		}
	}
	if bestLag == 0 {
		return 0, 0
	}
	return 60 * frameRate / float64(bestLag), bestLag
}

// pickBeats counts onset peaks above mean+std that are at least minSpacing
// frames apart.
func pickBeats(onset []float64, minSpacing int) int {
	if len(onset) < 3 {
		return 0
	}
	if minSpacing < 1 {
		minSpacing = 1
	}
	m, s := meanStd(onset)
	threshold := m + s

	beats, last := 0, -minSpacing
	for i := 1; i < len(onset)-1; i++ {
		v := onset[i]
		if v <= threshold || v < onset[i-1] || v < onset[i+1] {
			continue
		}
		if i-last < minSpacing {
			continue
		}
		beats++
		last = i
	}
	return beats
}
