package model

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// StandardScaler centres each feature on its mean and divides by its
// population standard deviation. Constant features keep a scale of 1.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// FitScaler computes per-column statistics over rows. All rows must share the
// same length.
func FitScaler(rows [][]float64) (*StandardScaler, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("fit scaler: no rows")
	}
	dim := len(rows[0])
	s := &StandardScaler{Mean: make([]float64, dim), Scale: make([]float64, dim)}

	col := make([]float64, len(rows))
	for j := 0; j < dim; j++ {
		for i, r := range rows {
			if len(r) != dim {
				return nil, fmt.Errorf("fit scaler: row %d has %d values, want %d: %w", i, len(r), dim, ErrDimensionMismatch)
			}
			col[i] = r[j]
		}
		m, sd := stat.PopMeanStdDev(col, nil)
		if sd == 0 {
			sd = 1
		}
		s.Mean[j], s.Scale[j] = m, sd
	}
	return s, nil
}

// Dim returns the number of features the scaler was fitted on.
func (s *StandardScaler) Dim() int {
	return len(s.Mean)
}

// Transform returns a scaled copy of x.
func (s *StandardScaler) Transform(x []float64) ([]float64, error) {
	if len(x) != len(s.Mean) {
		return nil, fmt.Errorf("scaler expects %d features, got %d: %w", len(s.Mean), len(x), ErrDimensionMismatch)
	}
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = (v - s.Mean[i]) / s.Scale[i]
	}
	return out, nil
}
