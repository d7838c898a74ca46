// Package bayesian implements the recursive Bayesian filter (component E):
// a predict-observe-update loop maintaining per-zone soil hydraulic belief,
// grounded on engine/bayesian/filter.py's RecursiveBayesianFilter.
package bayesian

import (
	"math"
	"sync"
	"time"

	"github.com/farmsense/hub/internal/domain"
)

func clamp(v, lo, hi float64) float64 { return minF(hi, maxF(lo, v)) }
func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
func abs(v float64) float64  { return math.Abs(v) }
func pow10(v float64) float64 { return math.Pow(10, v) }

// Filter maintains per-zone soil parameters and a last-prediction cache.
// Updates are serialised per zone (a zone's mutations are sequential) but
// cross-zone updates proceed independently, per §4.5's tie-break rule.
type Filter struct {
	learningRate    float64
	updateThreshold float64

	mu            sync.Mutex
	params        map[string]*domain.SoilParameters
	lastPredicted map[string]*domain.PredictedState // key: zone|depth

	totalPredictions int64
	totalUpdates     int64
}

// Config holds the filter's two tunables, both overridable from the hub's
// configuration (§6 learning_rate, update_threshold).
type Config struct {
	LearningRate    float64
	UpdateThreshold float64
}

// NewFilter constructs a Filter. Zero-value Config fields fall back to the
// spec defaults (0.05, 0.03).
func NewFilter(cfg Config) *Filter {
	if cfg.LearningRate == 0 {
		cfg.LearningRate = 0.05
	}
	if cfg.UpdateThreshold == 0 {
		cfg.UpdateThreshold = 0.03
	}
	return &Filter{
		learningRate:    cfg.LearningRate,
		updateThreshold: cfg.UpdateThreshold,
		params:          make(map[string]*domain.SoilParameters),
		lastPredicted:   make(map[string]*domain.PredictedState),
	}
}

func predictionKey(zoneID string, depth int) string {
	return zoneID + "|" + itoa(depth)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// ParametersFor returns a copy of a zone's current soil parameters,
// creating the default prior on first reference (§3: "created on first
// reference to a zone").
func (f *Filter) ParametersFor(zoneID string) domain.SoilParameters {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.getOrCreate(zoneID)
}

func (f *Filter) getOrCreate(zoneID string) *domain.SoilParameters {
	p, ok := f.params[zoneID]
	if !ok {
		def := domain.NewDefaultSoilParameters(zoneID)
		p = &def
		f.params[zoneID] = p
	}
	return p
}

func etFraction(depthInches int) float64 {
	switch {
	case depthInches <= 18:
		return 0.6
	case depthInches <= 36:
		return 0.3
	default:
		return 0.1
	}
}

// Predict computes the baseline-minus-ET-minus-drainage estimate for
// (zone, depth), per §4.5's Predict operation.
func (f *Filter) Predict(zoneID string, lat, lon float64, depth int, etMMPerDay, hoursSinceLast float64) domain.PredictedState {
	f.mu.Lock()
	defer f.mu.Unlock()

	coeffs := f.getOrCreate(zoneID)
	key := predictionKey(zoneID, depth)

	baseline := coeffs.ThetaFC
	if last, ok := f.lastPredicted[key]; ok {
		baseline = last.VWC
	}

	etLoss := (etMMPerDay / 24 * hoursSinceLast) / 1000 * etFraction(depth)

	drainage := 0.0
	if baseline > coeffs.ThetaFC {
		excess := baseline - coeffs.ThetaFC
		drainage = min(excess, coeffs.KSat/100*(hoursSinceLast/24)*0.1)
	}

	predicted := baseline - etLoss - drainage
	predicted = clamp(predicted, coeffs.ThetaPWP, 0.5)

	variance := coeffs.Variance[0] * (1 + hoursSinceLast/24)

	state := domain.PredictedState{
		ZoneID:    zoneID,
		Depth:     depth,
		VWC:       predicted,
		Variance:  variance,
		Timestamp: time.Now().UTC(),
	}
	f.lastPredicted[key] = &state
	f.totalPredictions++
	return state
}

// UpdateResult reports what an Update call did, mirroring the reference's
// update_info dict for logging and audit purposes.
type UpdateResult struct {
	ZoneID    string
	SensorID  string
	Depth     int
	Observed  float64
	Predicted float64
	Residual  float64
	Updated   bool
}

// Update applies the observed-vs-predicted residual to a zone's soil
// parameters, per §4.5's Update operation. No-op below UpdateThreshold
// error; otherwise shifts texture toward more-clay (wetter than expected)
// or more-sand (drier), recomputes K_sat/theta_fc/theta_pwp, and shrinks
// variance.
func (f *Filter) Update(zoneID, sensorID string, depth int, observed, predicted float64) UpdateResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	residual := observed - predicted
	result := UpdateResult{
		ZoneID:    zoneID,
		SensorID:  sensorID,
		Depth:     depth,
		Observed:  observed,
		Predicted: predicted,
		Residual:  residual,
	}

	if abs(residual) > f.updateThreshold {
		coeffs := f.getOrCreate(zoneID)
		applyResidual(coeffs, residual, f.learningRate)
		coeffs.UpdateCount++
		coeffs.LastUpdated = time.Now().UTC()
		result.Updated = true
		f.totalUpdates++
	}

	key := predictionKey(zoneID, depth)
	if last, ok := f.lastPredicted[key]; ok {
		last.VWC = observed
		last.Variance *= 0.5
	}

	return result
}

// applyResidual mutates p in place per §4.5's textural shift, bounded
// sand/clay ranges, renormalisation, and hydraulic recomputation.
func applyResidual(p *domain.SoilParameters, residual, learningRate float64) {
	if abs(residual) <= 0.02 {
		return
	}
	step := learningRate * 0.05
	if residual > 0 {
		p.ClayFraction = minF(0.6, p.ClayFraction+step)
		p.SandFraction = maxF(0.1, p.SandFraction-step)
	} else {
		p.SandFraction = minF(0.8, p.SandFraction+step)
		p.ClayFraction = maxF(0.1, p.ClayFraction-step)
	}
	total := p.SandFraction + p.SiltFraction + p.ClayFraction
	p.SandFraction /= total
	p.SiltFraction /= total
	p.ClayFraction /= total

	p.KSat = pow10(-0.6+1.3*p.SandFraction-0.6*p.ClayFraction) * 100
	p.ThetaFC = 0.2576 - 0.002*p.SandFraction + 0.0036*p.ClayFraction
	p.ThetaPWP = 0.026 + 0.005*p.ClayFraction

	p.Variance[0] *= 0.95
}

// ExportState serialises all zone parameters for §4.9 mirror sync.
func (f *Filter) ExportState() map[string]domain.SoilParameters {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]domain.SoilParameters, len(f.params))
	for zone, p := range f.params {
		out[zone] = *p
	}
	return out
}

// ImportState restores zone parameters from a mirror snapshot, overwriting
// whatever local belief existed for each zone present in state.
func (f *Filter) ImportState(state map[string]domain.SoilParameters) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for zone, p := range state {
		v := p
		f.params[zone] = &v
	}
}

// Stats returns the running prediction/update counters for operational
// visibility (§3a).
func (f *Filter) Stats() (predictions, updates int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.totalPredictions, f.totalUpdates
}
