package domain

import "time"

// SystemStateSnapshot is the payload exchanged for mirror sync (§3, §4.9):
// enough state for a mirror to reconstruct filter belief and chain position
// without replaying the full measurement history.
type SystemStateSnapshot struct {
	Timestamp time.Time

	ZoneParameters     map[string]SoilParameters
	LastMeasurementHash string
	TotalRecordCount    int64
	GridMerkleRoot      string
	ValveStates         map[string]ValveState
	ScheduledIrrigation []IrrigationDecision
}
