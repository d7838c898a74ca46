// Package irrigation implements the irrigation decision engine (component
// G): deep-percolation interlock, saturation detection, and duration
// recommendation over a zone's grid cells, grounded on
// vri/controller.py's analyze_zone_for_irrigation.
package irrigation

import (
	"math"
	"time"

	"github.com/farmsense/hub/internal/domain"
)

// Config holds the §6 option this component owns.
type Config struct {
	DeepPercolationThreshold float64 // default 0.42
}

// Engine evaluates irrigation decisions for a zone's grid cells. It is
// stateless aside from configuration and the crop-tag modifier table, so
// one instance serves every zone.
type Engine struct {
	deepPercolationThreshold float64
	modifiers                *CropModifierTable
}

// NewEngine constructs an Engine. A nil modifiers table is replaced with
// the default crop-tag table (§4.7a).
func NewEngine(cfg Config, modifiers *CropModifierTable) *Engine {
	threshold := cfg.DeepPercolationThreshold
	if threshold == 0 {
		threshold = 0.42
	}
	if modifiers == nil {
		modifiers = MustDefaultCropModifierTable()
	}
	return &Engine{deepPercolationThreshold: threshold, modifiers: modifiers}
}

// Evaluate decides the irrigation status for one zone's cells, per §4.7's
// first-match-wins rules, then applies the crop-tag duration modifier of
// §4.7a.
func (e *Engine) Evaluate(zoneID string, cells []domain.GridCell, soil domain.SoilParameters, cropTag string, now time.Time) domain.IrrigationDecision {
	target := 0.9 * soil.ThetaFC

	if len(cells) == 0 {
		return domain.IrrigationDecision{
			ZoneID: zoneID, Timestamp: now, TargetVWC: target,
			Status: domain.DecisionNone, CropTag: cropTag,
		}
	}

	sum := 0.0
	for _, c := range cells {
		sum += c.EstimatedVWC
	}
	mean := sum / float64(len(cells))

	belowTarget := 0
	aboveFC := 0
	maxDeepVWC := 0.0
	deepAtRisk := 0
	for _, c := range cells {
		if c.EstimatedVWC < target {
			belowTarget++
		}
		if c.EstimatedVWC > soil.ThetaFC {
			aboveFC++
		}
		if c.Depth >= 42 {
			if c.EstimatedVWC > e.deepPercolationThreshold {
				deepAtRisk++
			}
			if c.EstimatedVWC > maxDeepVWC {
				maxDeepVWC = c.EstimatedVWC
			}
		}
	}

	variance := 0.0
	for _, c := range cells {
		d := c.EstimatedVWC - mean
		variance += d * d
	}
	variance /= float64(len(cells))
	confidence := math.Max(0.5, 1-10*variance)

	decision := domain.IrrigationDecision{
		ZoneID: zoneID, Timestamp: now, MeanVWC: mean, TargetVWC: target,
		Confidence: confidence, CellCount: len(cells), CellVariance: variance, CropTag: cropTag,
	}

	switch {
	case deepAtRisk > 0:
		decision.Status = domain.DecisionDeepPercolationRisk
	case aboveFC > len(cells)/2:
		decision.Status = domain.DecisionSaturation
	case mean < target && float64(belowTarget) >= 0.3*float64(len(cells)):
		deficit := target - mean
		duration := int(math.Floor(deficit * 1500))
		duration = e.modifiers.Apply(cropTag, duration)
		if duration > 120 {
			duration = 120
		}
		decision.Status = domain.DecisionRecommended
		decision.DurationMinutes = duration
	default:
		decision.Status = domain.DecisionNone
	}

	return decision
}

// DeepPercolationDetails reports the audit-log payload for a
// DEEP_PERCOLATION_RISK decision (§4.7 rule 1's audit event).
func DeepPercolationDetails(zoneID string, cells []domain.GridCell, threshold float64) map[string]any {
	riskCells := 0
	maxVWC := 0.0
	for _, c := range cells {
		if c.Depth >= 42 && c.EstimatedVWC > threshold {
			riskCells++
			if c.EstimatedVWC > maxVWC {
				maxVWC = c.EstimatedVWC
			}
		}
	}
	return map[string]any{"zone_id": zoneID, "risk_cells": riskCells, "max_vwc": maxVWC}
}
