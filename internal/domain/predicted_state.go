package domain

import "time"

// PredictedState is the filter's (E) Predict output for one (zone, depth):
// the baseline the next Update residual is measured against.
type PredictedState struct {
	ZoneID    string
	Depth     int
	VWC       float64
	Variance  float64
	Timestamp time.Time
}

// Confidence is 1/(1+variance), per §4.5.
func (p PredictedState) Confidence() float64 {
	return 1 / (1 + p.Variance)
}
