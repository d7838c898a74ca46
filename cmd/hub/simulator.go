package main

import (
	"context"
	"math"
	"math/rand"

	"github.com/farmsense/hub/internal/domain"
	"github.com/farmsense/hub/internal/orchestrator"
)

// simulatedProbeSource stands in for a real LoRa gateway or fieldbus
// reader, grounded on farmsense_engine.py's _simulate_sensor_reading: a
// depth-dependent base VWC plus Gaussian noise, clamped to a plausible
// range. Used when no real hardware endpoint is configured, so the hub is
// runnable standalone for bring-up and demos.
type simulatedProbeSource struct {
	rng *rand.Rand
}

func newSimulatedProbeSource(seed int64) *simulatedProbeSource {
	return &simulatedProbeSource{rng: rand.New(rand.NewSource(seed))}
}

func (s *simulatedProbeSource) ReadField(ctx context.Context, field orchestrator.Field) ([]orchestrator.RawReading, error) {
	readings := make([]orchestrator.RawReading, 0, len(field.Sensors))
	for _, sensor := range field.Sensors {
		for _, depth := range sensor.InstalledDepths {
			readings = append(readings, orchestrator.RawReading{
				SensorID:      sensor.ID,
				Depth:         depth,
				VWC:           s.simulateVWC(sensor, depth),
				SignalQuality: 0.9,
			})
		}
	}
	return readings, nil
}

func (s *simulatedProbeSource) simulateVWC(sensor domain.Sensor, depth int) float64 {
	var base float64
	switch {
	case depth <= 18:
		base = 0.22
	case depth <= 42:
		base = 0.25
	default:
		base = 0.28
	}
	if sensor.Kind == domain.SensorKindVerticalLarge7Depth {
		base += 0.01
	}
	variation := s.rng.NormFloat64() * 0.03
	return math.Max(0.05, math.Min(0.45, base+variation))
}
