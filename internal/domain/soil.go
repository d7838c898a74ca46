package domain

import "time"

// SoilParameters is the recursive Bayesian filter's (E) per-zone belief
// state: a point estimate plus variance for each hydraulic parameter,
// updated in place as measurements arrive. See SPEC_FULL §4.5.
type SoilParameters struct {
	ZoneID string

	// Point estimates.
	KSat     float64 // saturated hydraulic conductivity, cm/h
	ThetaFC  float64 // field capacity, volumetric fraction
	ThetaPWP float64 // permanent wilting point, volumetric fraction

	// Texture fractions; must sum to ~1.0.
	SandFraction float64
	SiltFraction float64
	ClayFraction float64

	// Filter covariance (diagonal approximation). The filter reads and
	// shrinks only Variance[0], the coefficient variance; the other slots
	// keep the values they were created with.
	Variance [5]float64

	UpdateCount int
	LastUpdated time.Time
}

// IsPlausible reports whether the parameter set satisfies the physical
// ordering invariants the filter must never violate: 0 <= PWP < FC <= 1,
// KSat > 0, and texture fractions within [0.05, 0.95] summing to ~1.
func (p SoilParameters) IsPlausible() bool {
	const tol = 0.02
	if p.KSat <= 0 {
		return false
	}
	if !(0 <= p.ThetaPWP && p.ThetaPWP < p.ThetaFC && p.ThetaFC <= 1) {
		return false
	}
	sum := p.SandFraction + p.SiltFraction + p.ClayFraction
	if sum < 1-tol || sum > 1+tol {
		return false
	}
	for _, f := range []float64{p.SandFraction, p.SiltFraction, p.ClayFraction} {
		if f < 0.05 || f > 0.95 {
			return false
		}
	}
	return true
}

// NewDefaultSoilParameters returns the filter's uninformative prior for a
// zone before any measurement has updated it: loam-like texture, generous
// variance, zero update count.
func NewDefaultSoilParameters(zoneID string) SoilParameters {
	return SoilParameters{
		ZoneID:       zoneID,
		KSat:         0.5,
		ThetaFC:      0.30,
		ThetaPWP:     0.12,
		SandFraction: 0.4,
		SiltFraction: 0.4,
		ClayFraction: 0.2,
		Variance:     [5]float64{0.25, 0.01, 0.01, 0.05, 0.05},
	}
}
