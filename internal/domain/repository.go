package domain

import (
	"context"
	"time"
)

// MeasurementLog is the append-only measurement store (B, §4.2).
type MeasurementLog interface {
	// Append chains m onto the sensor's hash chain. A duplicate own-hash is
	// a no-op: the returned Measurement is the previously stored record and
	// err is an AlreadyStored DomainError, not a failure.
	Append(ctx context.Context, m Measurement) (Measurement, error)

	// AppendBatch appends an entire batch atomically.
	AppendBatch(ctx context.Context, b Batch) (Batch, error)

	// Range returns measurements ordered by timestamp, then own-hash.
	// sensorID == "" matches every sensor.
	Range(ctx context.Context, sensorID string, from, to time.Time, limit int) ([]Measurement, error)

	// LastHash returns the most recent own-hash chained for sensorID, or
	// GenesisHash if the sensor has no measurements yet.
	LastHash(ctx context.Context, sensorID string) (string, error)

	// ArchiveOlderThan rewrites records older than cutoff into the
	// archive, uncompressed, and deletes them from hot storage, returning
	// the count archived.
	ArchiveOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	// VerifyChainIntegrity recomputes every hot-stored record's own-hash for
	// sensorID and compares it to the stored value.
	VerifyChainIntegrity(ctx context.Context, sensorID string) error
}

// GridStore is the grid-cell store (C, §4.3), keyed by (field, timestamp,
// cell-id).
type GridStore interface {
	// PutGrid stores a cycle's cells for field at ts, deduplicating by
	// cell-id within the snapshot.
	PutGrid(ctx context.Context, fieldID string, ts time.Time, cells []GridCell) error

	// GetLatest returns the most recent snapshot's cells at depth.
	GetLatest(ctx context.Context, fieldID string, depth int) ([]GridCell, error)

	// GetAtOrBefore returns the cells of the snapshot at or immediately
	// before t, at depth.
	GetAtOrBefore(ctx context.Context, fieldID string, t time.Time, depth int) ([]GridCell, error)
}

// AuditLog is the append-only audit store (D, §4.4).
type AuditLog interface {
	// Append chains event onto the audit hash chain.
	Append(ctx context.Context, event AuditEvent) (AuditEvent, error)

	// Query filters by kind, principal, and timestamp range. An empty kind
	// or principal matches everything for that field.
	Query(ctx context.Context, kind AuditEventKind, principal string, from, to time.Time) ([]AuditEvent, error)
}

// ZoneStore persists per-zone Bayesian filter state (E) across restarts.
type ZoneStore interface {
	SaveZoneParameters(ctx context.Context, p SoilParameters) error
	LoadZoneParameters(ctx context.Context, zoneID string) (SoilParameters, error)
	LoadAllZoneParameters(ctx context.Context) ([]SoilParameters, error)
}

// PersistedValveState is one row of the valve-state table used to replay
// valve registration at cold start (§4.10a) instead of assuming CLOSED.
type PersistedValveState struct {
	ValveID string
	ZoneID  string
	State   ValveState
}

// ValveStateStore persists valve positions (H) across restarts.
type ValveStateStore interface {
	SaveValveState(ctx context.Context, valveID, zoneID string, state ValveState) error
	LoadValveStates(ctx context.Context) ([]PersistedValveState, error)
}

// Storage is the unified persistence surface the orchestrator wires into
// every component that needs durability. AuditLog is exposed through an
// accessor rather than embedded directly: its Append(ctx, AuditEvent) would
// otherwise collide with MeasurementLog's Append(ctx, Measurement) on the
// same concrete type, since Go has no method overloading.
type Storage interface {
	MeasurementLog
	GridStore
	ZoneStore
	ValveStateStore

	Audit() AuditLog

	Ping(ctx context.Context) error
	Close() error
}
