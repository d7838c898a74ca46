package domain

// SoilMapCell is a geographic tile of the external survey texture map that
// the kriging engine's trend source and the filter's prior may consult.
// Cells are read-only from the predictor's perspective; a learned texture is
// recorded here only if an operator-facing survey-refinement workflow writes
// it back (out of scope for the hub itself).
type SoilMapCell struct {
	Latitude  float64
	Longitude float64

	BaselineSandFraction float64
	BaselineSiltFraction float64
	BaselineClayFraction float64

	HasLearned        bool
	LearnedSandFrac   float64
	LearnedSiltFrac   float64
	LearnedClayFrac   float64
	LearnedConfidence float64 // in [0,1]
}
