// Package hub is the farmsense irrigation hub's public facade: a read-only
// query surface over the persisted state (B/C/D) plus a handle on the
// running orchestrator, the way mbflow's root package fronted its executor
// and storage behind a small set of exported types.
package hub

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/farmsense/hub/internal/domain"
	"github.com/farmsense/hub/internal/infrastructure/monitoring"
	"github.com/farmsense/hub/internal/orchestrator"
)

// Re-exported domain types, so callers of this module never need to import
// internal/domain directly.
type (
	Sensor              = domain.Sensor
	Measurement         = domain.Measurement
	Batch               = domain.Batch
	GridCell            = domain.GridCell
	Grid                = domain.Grid
	SoilParameters      = domain.SoilParameters
	IrrigationDecision  = domain.IrrigationDecision
	AuditEvent          = domain.AuditEvent
	AuditEventKind      = domain.AuditEventKind
	SystemStateSnapshot = domain.SystemStateSnapshot
	ValveState          = domain.ValveState
)

// Re-exported orchestrator configuration types, so a caller only imports
// this package to both configure and run a hub.
type (
	Config      = orchestrator.Config
	Deps        = orchestrator.Deps
	Zone        = orchestrator.Zone
	Field       = orchestrator.Field
	Topology    = orchestrator.Topology
	ProbeSource = orchestrator.ProbeSource
	RawReading  = orchestrator.RawReading
	TrendSource = orchestrator.TrendSource
)

// Status is the engine's accumulated cycle/dispatch/sync statistics (§10
// "Engine statistics"), grounded on FarmSenseEngine.get_status.
type Status = monitoring.MetricsSummary

// Hub wraps a running orchestrator with a read-only query facade over the
// persisted stores it drives, per §6's "Consumers: a read-only query
// facade on B/C/D".
type Hub struct {
	orch    *orchestrator.Orchestrator
	storage domain.Storage
}

// New wires an Orchestrator from cfg/topology/deps and wraps it in a Hub.
// It does not start any cycle; call Start to perform cold-start sequencing
// and launch the measurement/grid/sync cycles.
func New(cfg Config, topology Topology, deps Deps, log zerolog.Logger) (*Hub, error) {
	orch, err := orchestrator.New(cfg, topology, deps, log)
	if err != nil {
		return nil, err
	}
	return &Hub{orch: orch, storage: deps.Storage}, nil
}

// Start performs cold-start sequencing and launches the hub's cycles.
func (h *Hub) Start(ctx context.Context) error { return h.orch.Start(ctx) }

// Stop cancels every running cycle and waits for them to exit.
func (h *Hub) Stop(ctx context.Context) error { return h.orch.Stop(ctx) }

// OnMeasurement registers a push callback for every chained measurement.
// Must be called before Start.
func (h *Hub) OnMeasurement(fn func(Measurement)) { h.orch.OnMeasurement(fn) }

// LatestGrid returns the most recent grid snapshot's cells for a field at a
// given depth.
func (h *Hub) LatestGrid(ctx context.Context, fieldID string, depth int) ([]GridCell, error) {
	return h.storage.GetLatest(ctx, fieldID, depth)
}

// GridAtOrBefore returns the cells of the snapshot at or immediately before
// t, at depth, for time-travel queries against the research API.
func (h *Hub) GridAtOrBefore(ctx context.Context, fieldID string, t time.Time, depth int) ([]GridCell, error) {
	return h.storage.GetAtOrBefore(ctx, fieldID, t, depth)
}

// MeasurementRange returns a sensor's (or, with sensorID == "", every
// sensor's) measurements between from and to, ordered by timestamp.
func (h *Hub) MeasurementRange(ctx context.Context, sensorID string, from, to time.Time, limit int) ([]Measurement, error) {
	return h.storage.Range(ctx, sensorID, from, to, limit)
}

// ZoneParameters returns the Bayesian filter's current belief for a zone.
func (h *Hub) ZoneParameters(ctx context.Context, zoneID string) (SoilParameters, error) {
	return h.storage.LoadZoneParameters(ctx, zoneID)
}

// AuditTrail queries the audit log (D), filtering by kind and principal;
// an empty string matches everything for that field.
func (h *Hub) AuditTrail(ctx context.Context, kind AuditEventKind, principal string, from, to time.Time) ([]AuditEvent, error) {
	return h.storage.Audit().Query(ctx, kind, principal, from, to)
}

// Ping checks the underlying storage's health.
func (h *Hub) Ping(ctx context.Context) error { return h.storage.Ping(ctx) }

// Status reports the engine statistics accumulated by the orchestrator's
// metrics collector; Start and Stop do not reset them.
func (h *Hub) Status() *Status { return h.orch.Status() }
