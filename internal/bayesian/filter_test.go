package bayesian

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParametersFor_ShouldCreateDefault_WhenZoneUnseen(t *testing.T) {
	f := NewFilter(Config{})
	p := f.ParametersFor("zone-1")

	assert.Equal(t, "zone-1", p.ZoneID)
	assert.True(t, p.IsPlausible())
	assert.Equal(t, 0, p.UpdateCount)
}

func TestPredict_ShouldUseFieldCapacity_WhenNoPriorPrediction(t *testing.T) {
	f := NewFilter(Config{})
	state := f.Predict("zone-1", 40.0, -104.0, 18, 0, 0)

	p := f.ParametersFor("zone-1")
	assert.InDelta(t, p.ThetaFC, state.VWC, 1e-9)
}

func TestPredict_ShouldLoseMoisture_WhenETPositiveAndNoRain(t *testing.T) {
	f := NewFilter(Config{})
	first := f.Predict("zone-1", 0, 0, 18, 5, 24)
	second := f.Predict("zone-1", 0, 0, 18, 5, 24)

	assert.Less(t, second.VWC, first.VWC)
}

func TestPredict_ShouldClampToWiltingPoint_WhenETExtreme(t *testing.T) {
	f := NewFilter(Config{})
	p := f.ParametersFor("zone-1")
	state := f.Predict("zone-1", 0, 0, 18, 500, 240)

	assert.GreaterOrEqual(t, state.VWC, p.ThetaPWP)
}

func TestUpdate_ShouldBeNoop_WhenResidualBelowTwoPercent(t *testing.T) {
	f := NewFilter(Config{})
	before := f.ParametersFor("zone-1")

	result := f.Update("zone-1", "s-1", 18, before.ThetaFC+0.01, before.ThetaFC)

	after := f.ParametersFor("zone-1")
	assert.False(t, result.Updated)
	assert.Equal(t, before.SandFraction, after.SandFraction)
}

func TestUpdate_ShouldShiftTowardClay_WhenWetterThanPredicted(t *testing.T) {
	f := NewFilter(Config{LearningRate: 0.05, UpdateThreshold: 0.03})
	before := f.ParametersFor("zone-1")

	result := f.Update("zone-1", "s-1", 18, before.ThetaFC+0.10, before.ThetaFC)

	after := f.ParametersFor("zone-1")
	require.True(t, result.Updated)
	assert.Greater(t, after.ClayFraction, before.ClayFraction)
	assert.Less(t, after.SandFraction, before.SandFraction)
	assert.Equal(t, 1, after.UpdateCount)
	assert.True(t, after.IsPlausible())
}

func TestUpdate_ShouldShiftTowardSand_WhenDrierThanPredicted(t *testing.T) {
	f := NewFilter(Config{})
	before := f.ParametersFor("zone-1")

	f.Update("zone-1", "s-1", 18, before.ThetaFC-0.10, before.ThetaFC)

	after := f.ParametersFor("zone-1")
	assert.Greater(t, after.SandFraction, before.SandFraction)
	assert.Less(t, after.ClayFraction, before.ClayFraction)
}

func TestExportImportState_ShouldRoundTrip(t *testing.T) {
	src := NewFilter(Config{})
	src.Update("zone-1", "s-1", 18, 0.40, 0.20)
	exported := src.ExportState()

	dst := NewFilter(Config{})
	dst.ImportState(exported)

	assert.Equal(t, exported["zone-1"], dst.ParametersFor("zone-1"))
}

func TestStats_ShouldCountPredictionsAndUpdates(t *testing.T) {
	f := NewFilter(Config{})
	f.Predict("zone-1", 0, 0, 18, 1, 1)
	f.Update("zone-1", "s-1", 18, 0.40, 0.20)

	predictions, updates := f.Stats()
	assert.Equal(t, int64(1), predictions)
	assert.Equal(t, int64(1), updates)
}
