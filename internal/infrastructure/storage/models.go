package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/farmsense/hub/internal/domain"
)

// MeasurementModel is the hot-storage row of the append-only measurement
// log (B). OwnHash is the primary key: re-inserting the same hash is the
// AlreadyStored no-op of §4.2, enforced by the unique constraint.
type MeasurementModel struct {
	bun.BaseModel `bun:"table:measurements,alias:meas"`

	OwnHash       string    `bun:"own_hash,pk"`
	PreviousHash  string    `bun:"previous_hash"`
	SensorID      string    `bun:"sensor_id"`
	Depth         int       `bun:"depth"`
	Timestamp     time.Time `bun:"timestamp"`
	VWC           float64   `bun:"vwc"`
	Temperature   *float64  `bun:"temperature"`
	Potential     *float64  `bun:"potential"`
	SignalQuality float64   `bun:"signal_quality"`
	Signature     string    `bun:"signature"`
}

func newMeasurementModel(m domain.Measurement) *MeasurementModel {
	return &MeasurementModel{
		OwnHash:       m.OwnHash,
		PreviousHash:  m.PreviousHash,
		SensorID:      m.SensorID,
		Depth:         m.Depth,
		Timestamp:     m.Timestamp,
		VWC:           m.VWC,
		Temperature:   m.Temperature,
		Potential:     m.Potential,
		SignalQuality: m.SignalQuality,
		Signature:     m.Signature,
	}
}

func (m *MeasurementModel) toDomain() domain.Measurement {
	return domain.Measurement{
		SensorID:      m.SensorID,
		Depth:         m.Depth,
		Timestamp:     m.Timestamp,
		VWC:           m.VWC,
		Temperature:   m.Temperature,
		Potential:     m.Potential,
		SignalQuality: m.SignalQuality,
		PreviousHash:  m.PreviousHash,
		OwnHash:       m.OwnHash,
		Signature:     m.Signature,
	}
}

// ChainStateModel tracks the last own-hash per sensor so append() can
// validate previous-hash continuity and answer last_hash() in O(1),
// updated atomically alongside MeasurementModel inserts (§4.2 invariant).
type ChainStateModel struct {
	bun.BaseModel `bun:"table:chain_state,alias:cs"`

	SensorID   string `bun:"sensor_id,pk"`
	LastHash   string `bun:"last_hash"`
	ArchiveTip string `bun:"archive_tip"` // own-hash of the last archived record, the hot chain's true predecessor once archival has run
}

// ArchivedMeasurementModel is one record moved out of hot storage by
// ArchiveOlderThan, grouped by (sensor, year-month) per §4.2.
type ArchivedMeasurementModel struct {
	bun.BaseModel `bun:"table:archived_measurements,alias:am"`

	OwnHash      string    `bun:"own_hash,pk"`
	SensorID     string    `bun:"sensor_id"`
	YearMonth    string    `bun:"year_month"`
	PreviousHash string    `bun:"previous_hash"`
	Depth        int       `bun:"depth"`
	Timestamp    time.Time `bun:"timestamp"`
	VWC          float64   `bun:"vwc"`
	SignalQuality float64  `bun:"signal_quality"`
}

func newArchivedMeasurementModel(m domain.Measurement) *ArchivedMeasurementModel {
	return &ArchivedMeasurementModel{
		OwnHash:       m.OwnHash,
		SensorID:      m.SensorID,
		YearMonth:     m.Timestamp.UTC().Format("2006-01"),
		PreviousHash:  m.PreviousHash,
		Depth:         m.Depth,
		Timestamp:     m.Timestamp,
		VWC:           m.VWC,
		SignalQuality: m.SignalQuality,
	}
}

// GridCellModel is one row of the grid store (C), keyed by (field,
// timestamp, cell-id).
type GridCellModel struct {
	bun.BaseModel `bun:"table:grid_cells,alias:gc"`

	ID             uuid.UUID `bun:"id,pk"`
	FieldID        string    `bun:"field_id"`
	Timestamp      time.Time `bun:"timestamp"`
	Latitude       float64   `bun:"latitude"`
	Longitude      float64   `bun:"longitude"`
	Depth          int       `bun:"depth"`
	EstimatedVWC   float64   `bun:"estimated_vwc"`
	EstimationVar  float64   `bun:"estimation_var"`
	Confidence     float64   `bun:"confidence"`
	IsHardAnchor   bool      `bun:"is_hard_anchor"`
	AnchorSensorID string    `bun:"anchor_sensor_id"`
	TrendValue     *float64  `bun:"trend_value"`
	Fallback       bool      `bun:"fallback"`
	CellHash       string    `bun:"cell_hash"`
}

func newGridCellModel(fieldID string, ts time.Time, c domain.GridCell) *GridCellModel {
	return &GridCellModel{
		ID:             uuid.New(),
		FieldID:        fieldID,
		Timestamp:      ts,
		Latitude:       c.Latitude,
		Longitude:      c.Longitude,
		Depth:          c.Depth,
		EstimatedVWC:   c.EstimatedVWC,
		EstimationVar:  c.EstimationVar,
		Confidence:     c.Confidence,
		IsHardAnchor:   c.IsHardAnchor,
		AnchorSensorID: c.AnchorSensorID,
		TrendValue:     c.TrendValue,
		Fallback:       c.Fallback,
		CellHash:       c.CellHash,
	}
}

func (m *GridCellModel) toDomain() domain.GridCell {
	return domain.GridCell{
		FieldID:        m.FieldID,
		Latitude:       m.Latitude,
		Longitude:      m.Longitude,
		Depth:          m.Depth,
		Timestamp:      m.Timestamp,
		EstimatedVWC:   m.EstimatedVWC,
		EstimationVar:  m.EstimationVar,
		Confidence:     m.Confidence,
		IsHardAnchor:   m.IsHardAnchor,
		AnchorSensorID: m.AnchorSensorID,
		TrendValue:     m.TrendValue,
		Fallback:       m.Fallback,
		CellHash:       m.CellHash,
	}
}

// AuditEventModel is one append-only row of the audit log (D).
type AuditEventModel struct {
	bun.BaseModel `bun:"table:audit_events,alias:ae"`

	OwnHash      string            `bun:"own_hash,pk"`
	PreviousHash string            `bun:"previous_hash"`
	Timestamp    time.Time         `bun:"timestamp"`
	Kind         domain.AuditEventKind `bun:"kind"`
	Principal    string            `bun:"principal"`
	Details      map[string]any    `bun:"details,type:jsonb"`
}

func newAuditEventModel(e domain.AuditEvent) *AuditEventModel {
	return &AuditEventModel{
		OwnHash:      e.OwnHash,
		PreviousHash: e.PreviousHash,
		Timestamp:    e.Timestamp,
		Kind:         e.Kind,
		Principal:    e.Principal,
		Details:      e.Details,
	}
}

func (m *AuditEventModel) toDomain() domain.AuditEvent {
	return domain.AuditEvent{
		Timestamp:    m.Timestamp,
		Kind:         m.Kind,
		Principal:    m.Principal,
		Details:      m.Details,
		PreviousHash: m.PreviousHash,
		OwnHash:      m.OwnHash,
	}
}

// SoilParametersModel persists one zone's Bayesian-filter state (E),
// keyed by zone. Variance is stored as a 5-element jsonb array rather than
// five columns since it is always read/written as a unit.
type SoilParametersModel struct {
	bun.BaseModel `bun:"table:soil_parameters,alias:sp"`

	ZoneID        string     `bun:"zone_id,pk"`
	KSat          float64    `bun:"k_sat"`
	ThetaFC       float64    `bun:"theta_fc"`
	ThetaPWP      float64    `bun:"theta_pwp"`
	SandFraction  float64    `bun:"sand_fraction"`
	SiltFraction  float64    `bun:"silt_fraction"`
	ClayFraction  float64    `bun:"clay_fraction"`
	Variance      [5]float64 `bun:"variance,type:jsonb"`
	UpdateCount   int        `bun:"update_count"`
	LastUpdated   time.Time  `bun:"last_updated"`
}

func newSoilParametersModel(p domain.SoilParameters) *SoilParametersModel {
	return &SoilParametersModel{
		ZoneID:       p.ZoneID,
		KSat:         p.KSat,
		ThetaFC:      p.ThetaFC,
		ThetaPWP:     p.ThetaPWP,
		SandFraction: p.SandFraction,
		SiltFraction: p.SiltFraction,
		ClayFraction: p.ClayFraction,
		Variance:     p.Variance,
		UpdateCount:  p.UpdateCount,
		LastUpdated:  p.LastUpdated,
	}
}

func (m *SoilParametersModel) toDomain() domain.SoilParameters {
	return domain.SoilParameters{
		ZoneID:       m.ZoneID,
		KSat:         m.KSat,
		ThetaFC:      m.ThetaFC,
		ThetaPWP:     m.ThetaPWP,
		SandFraction: m.SandFraction,
		SiltFraction: m.SiltFraction,
		ClayFraction: m.ClayFraction,
		Variance:     m.Variance,
		UpdateCount:  m.UpdateCount,
		LastUpdated:  m.LastUpdated,
	}
}

// ValveStateModel persists a valve's last-known state (H) across restarts,
// so cold start (§4.10a) can re-register valves without assuming CLOSED.
type ValveStateModel struct {
	bun.BaseModel `bun:"table:valve_states,alias:vs"`

	ValveID string            `bun:"valve_id,pk"`
	ZoneID  string            `bun:"zone_id"`
	State   domain.ValveState `bun:"state"`
}
