package sync

import (
	"time"

	"github.com/farmsense/hub/internal/domain"
)

// Message type tags for the logical protocol of §4.9. One Envelope shape
// carries every type, mirroring the teacher's WSEvent/WSCommand convention
// of a single struct with type-specific optional fields rather than a
// discriminated union of Go types.
const (
	MsgStateSync        = "state_sync"
	MsgMeasurement       = "measurement"
	MsgHeartbeat         = "heartbeat"
	MsgHeartbeatAck      = "heartbeat_ack"
	MsgFailoverRequest   = "failover_request"
	MsgFailoverCommand   = "failover_command"
	MsgRecoveryCommand   = "recovery_command"
)

// Envelope is the wire message exchanged between hub and mirror. It is
// framed as JSON per §4.9a; every field besides Type and Timestamp is
// optional depending on Type.
type Envelope struct {
	Type      string                       `json:"type"`
	HubID     string                       `json:"hub_id"`
	Timestamp time.Time                    `json:"timestamp"`

	Snapshot *domain.SystemStateSnapshot `json:"snapshot,omitempty"`

	MeasurementHash string              `json:"measurement_hash,omitempty"`
	Measurement     *domain.Measurement `json:"measurement,omitempty"`

	Reason string `json:"reason,omitempty"`
}

func newEnvelope(msgType, hubID string, now time.Time) Envelope {
	return Envelope{Type: msgType, HubID: hubID, Timestamp: now}
}
