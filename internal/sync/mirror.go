package sync

import (
	"sync"
	"time"

	"github.com/farmsense/hub/internal/domain"
)

// MirroredMeasurement is one measurement received for chain continuity,
// alongside the time the mirror received it.
type MirroredMeasurement struct {
	Hash       string
	Record     domain.Measurement
	ReceivedAt time.Time
}

// MirrorController is the passive half of component I that a remote mirror
// process runs (§10's "CloudMirrorController in the original"): it absorbs
// state syncs and measurements from the hub, judges hub health from last
// contact, and can assume/release active control during failover.
type MirrorController struct {
	mu sync.Mutex

	hubID   string
	active  bool

	lastSnapshot *domain.SystemStateSnapshot
	lastContact  time.Time

	chain []MirroredMeasurement
}

// NewMirrorController constructs a controller for one hub.
func NewMirrorController(hubID string) *MirrorController {
	return &MirrorController{hubID: hubID}
}

// ReceiveSync records a state_sync message from the hub.
func (c *MirrorController) ReceiveSync(snapshot domain.SystemStateSnapshot, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSnapshot = &snapshot
	c.lastContact = now
}

// ReceiveMeasurement appends a mirrored measurement to the local chain copy,
// preserving hash-chain continuity independent of the hub's own store.
func (c *MirrorController) ReceiveMeasurement(hash string, m domain.Measurement, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chain = append(c.chain, MirroredMeasurement{Hash: hash, Record: m, ReceivedAt: now})
	c.lastContact = now
}

// CheckHealth reports whether the hub has been heard from within timeout.
func (c *MirrorController) CheckHealth(timeout time.Duration, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastContact.IsZero() {
		return false
	}
	return now.Sub(c.lastContact) < timeout
}

// AssumeControl marks the mirror as actively controlling field operations,
// called when the hub's heartbeat is judged unhealthy. The caller is
// responsible for actually beginning to write into its own log with
// LastSnapshot().LastMeasurementHash as the new chain's previous-hash.
func (c *MirrorController) AssumeControl() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = true
}

// ReleaseControl hands control back to the hub once it has recovered.
func (c *MirrorController) ReleaseControl() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = false
}

// Active reports whether the mirror currently holds control.
func (c *MirrorController) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// LastSnapshot returns the most recently received snapshot, if any.
func (c *MirrorController) LastSnapshot() (domain.SystemStateSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastSnapshot == nil {
		return domain.SystemStateSnapshot{}, false
	}
	return *c.lastSnapshot, true
}

// Chain returns a copy of the measurements mirrored since the controller
// was created, in receipt order.
func (c *MirrorController) Chain() []MirroredMeasurement {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]MirroredMeasurement, len(c.chain))
	copy(out, c.chain)
	return out
}
