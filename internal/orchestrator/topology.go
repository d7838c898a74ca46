// Package orchestrator implements the pipeline orchestrator (component J):
// the measurement, grid, and sync cycles that drive every other component,
// grounded on farmsense_engine.py's FarmSenseEngine.
package orchestrator

import (
	"context"

	"github.com/farmsense/hub/internal/domain"
	"github.com/farmsense/hub/internal/kriging"
)

// Zone is one irrigation management unit within a field: the geographic
// area a grid cycle's cells are attributed to, the unit the decision engine
// (G) evaluates, and the set of valves a RECOMMENDED decision may open.
// Grounded on vri/controller.py's per-zone analysis, where the reference
// ran one zone per field; this type generalises that to many.
type Zone struct {
	ID      string
	FieldID string
	Bounds  kriging.Bounds
	CropTag string
	ValveIDs []string
}

// Contains reports whether (lat, lon) falls within the zone's bounds, the
// rule the grid cycle uses to attribute kriged cells to a zone.
func (z Zone) Contains(lat, lon float64) bool {
	return lat >= z.Bounds.MinLat && lat <= z.Bounds.MaxLat &&
		lon >= z.Bounds.MinLon && lon <= z.Bounds.MaxLon
}

// Field is one of the hub's managed fields (the hub's own field, or a spoke
// field it also drives), grounded on _configure_pilot_sensors's per-field
// sensor layout.
type Field struct {
	ID      string
	Bounds  kriging.Bounds
	Sensors []domain.Sensor
	Zones   []Zone
}

// Topology is the hub's static sensor/field/zone map, assembled once at
// cold start (§4.10a "sensor/field topology") and never mutated by a cycle.
type Topology struct {
	HubFieldID string
	Fields     []Field
}

// FieldByID looks up a field by ID, or returns ok=false.
func (t Topology) FieldByID(id string) (Field, bool) {
	for _, f := range t.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

// RawReading is one probe sample as it arrives from the ingest boundary,
// before the forensic hasher chains it (§6 "Probe ingest": producers
// deliver raw fields, never hashes or MACs).
type RawReading struct {
	SensorID      string
	Depth         int
	VWC           float64
	Temperature   *float64
	Potential     *float64
	SignalQuality float64
}

// ProbeSource is the measurement cycle's ingest boundary: "reads probes"
// per §4.10, pulled once per measurement-cycle tick for a field's sensors.
// Production implementations read from a LoRa gateway or similar; tests
// substitute a fake the way farmsense_engine.py's _simulate_sensor_reading
// stands in for real hardware during development.
type ProbeSource interface {
	ReadField(ctx context.Context, field Field) ([]RawReading, error)
}

// TrendSource supplies the kriging engine's external-drift callable (§6
// "Trend source") per field, per grid cycle. A nil return for a field means
// no trend signal is available and the engine assumes a constant 0.
type TrendSource interface {
	TrendFor(ctx context.Context, fieldID string) kriging.TrendFunc
}

// NoTrendSource is a TrendSource that never supplies a trend, matching the
// reference's "satellite_trend=None" cold-start default.
type NoTrendSource struct{}

func (NoTrendSource) TrendFor(context.Context, string) kriging.TrendFunc { return nil }
