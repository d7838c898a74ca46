package irrigation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmsense/hub/internal/domain"
)

func cellAt(depth int, vwc float64) domain.GridCell {
	return domain.GridCell{Depth: depth, EstimatedVWC: vwc}
}

func TestEvaluate_ShouldReturnNone_WhenNoCells(t *testing.T) {
	e := NewEngine(Config{}, nil)
	soil := domain.NewDefaultSoilParameters("zone-1")

	d := e.Evaluate("zone-1", nil, soil, "potato", time.Now())

	assert.Equal(t, domain.DecisionNone, d.Status)
}

func TestEvaluate_ShouldFlagDeepPercolationRisk_WhenDeepCellExceedsThreshold(t *testing.T) {
	e := NewEngine(Config{DeepPercolationThreshold: 0.42}, nil)
	soil := domain.NewDefaultSoilParameters("zone-1")
	cells := []domain.GridCell{cellAt(42, 0.50), cellAt(18, 0.10)}

	d := e.Evaluate("zone-1", cells, soil, "potato", time.Now())

	assert.Equal(t, domain.DecisionDeepPercolationRisk, d.Status)
}

func TestEvaluate_ShouldFlagSaturation_WhenMostCellsAboveFieldCapacity(t *testing.T) {
	e := NewEngine(Config{}, nil)
	soil := domain.NewDefaultSoilParameters("zone-1")
	cells := []domain.GridCell{
		cellAt(12, soil.ThetaFC+0.05),
		cellAt(12, soil.ThetaFC+0.05),
		cellAt(12, soil.ThetaFC-0.01),
	}

	d := e.Evaluate("zone-1", cells, soil, "potato", time.Now())

	assert.Equal(t, domain.DecisionSaturation, d.Status)
}

func TestEvaluate_ShouldRecommend_WhenDeficitAboveThreshold(t *testing.T) {
	e := NewEngine(Config{}, nil)
	soil := domain.NewDefaultSoilParameters("zone-1")
	target := 0.9 * soil.ThetaFC
	cells := []domain.GridCell{
		cellAt(18, target-0.10),
		cellAt(18, target-0.10),
		cellAt(18, target-0.10),
	}

	d := e.Evaluate("zone-1", cells, soil, "potato", time.Now())

	require.Equal(t, domain.DecisionRecommended, d.Status)
	assert.Greater(t, d.DurationMinutes, 0)
	assert.LessOrEqual(t, d.DurationMinutes, 120)
}

func TestEvaluate_ShouldApplyCropModifier_WhenTagIsAlfalfa(t *testing.T) {
	e := NewEngine(Config{}, nil)
	soil := domain.NewDefaultSoilParameters("zone-1")
	target := 0.9 * soil.ThetaFC
	cells := []domain.GridCell{
		cellAt(18, target-0.05),
		cellAt(18, target-0.05),
		cellAt(18, target-0.05),
	}

	potato := e.Evaluate("zone-1", cells, soil, "potato", time.Now())
	alfalfa := e.Evaluate("zone-1", cells, soil, "alfalfa", time.Now())

	assert.GreaterOrEqual(t, alfalfa.DurationMinutes, potato.DurationMinutes)
}

func TestEvaluate_ShouldCapDurationAt120_WhenDeficitLarge(t *testing.T) {
	e := NewEngine(Config{}, nil)
	soil := domain.NewDefaultSoilParameters("zone-1")
	cells := []domain.GridCell{
		cellAt(18, 0.0),
		cellAt(18, 0.0),
		cellAt(18, 0.0),
	}

	d := e.Evaluate("zone-1", cells, soil, "alfalfa", time.Now())

	assert.LessOrEqual(t, d.DurationMinutes, 120)
}

func TestFireable_ShouldRequireHighConfidenceAndPositiveDuration(t *testing.T) {
	d := domain.IrrigationDecision{Status: domain.DecisionRecommended, Confidence: 0.71, DurationMinutes: 10}
	assert.True(t, d.Fireable())

	low := domain.IrrigationDecision{Status: domain.DecisionRecommended, Confidence: 0.5, DurationMinutes: 10}
	assert.False(t, low.Fireable())
}

func TestCropModifierTable_ShouldDefaultToOne_WhenTagUnknown(t *testing.T) {
	table := MustDefaultCropModifierTable()
	assert.Equal(t, 100, table.Apply("unknown-crop", 100))
}

func TestCropModifierTable_ShouldBoostAlfalfa_By15Percent(t *testing.T) {
	table := MustDefaultCropModifierTable()
	assert.Equal(t, 115, table.Apply("alfalfa", 100))
}
