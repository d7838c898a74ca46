package domain

import (
	"fmt"
	"time"

	domainerrors "github.com/farmsense/hub/internal/domain/errors"
)

// Valve is the irrigation valve state machine of §4.8. Transitions are only
// ever performed through BeginOpen/AckOpen/BeginClose/AckClose/Timeout/
// Override/Release/Acknowledge/ForceClosed so the dispatcher is the sole
// writer of valve state.
type Valve struct {
	id    string
	zone  string
	state ValveState

	commandedUntil  time.Time // OPEN valves close when this expires
	overridePrincip string
	overrideReason  string
}

// NewValve constructs a valve in its initial CLOSED state.
func NewValve(id, zoneID string) *Valve {
	return &Valve{id: id, zone: zoneID, state: ValveClosed}
}

// ReconstructValve restores a valve from persisted state.
func ReconstructValve(id, zoneID string, state ValveState) *Valve {
	return &Valve{id: id, zone: zoneID, state: state}
}

func (v *Valve) ID() string         { return v.id }
func (v *Valve) ZoneID() string     { return v.zone }
func (v *Valve) State() ValveState  { return v.state }

// BeginOpen starts an open command: CLOSED -> OPENING. duration, if nonzero,
// is the commanded run time; the valve auto-closes at its expiry.
func (v *Valve) BeginOpen(duration time.Duration) error {
	if v.state != ValveClosed {
		return domainerrors.New(domainerrors.PreconditionFailed,
			fmt.Sprintf("valve %s: cannot open from state %s", v.id, v.state), nil)
	}
	v.state = ValveOpening
	if duration > 0 {
		v.commandedUntil = time.Now().Add(duration)
	}
	return nil
}

// AckOpen completes an open command: OPENING -> OPEN, on device ack within
// the dispatcher's 2s deadline.
func (v *Valve) AckOpen() error {
	if v.state != ValveOpening {
		return domainerrors.New(domainerrors.PreconditionFailed,
			fmt.Sprintf("valve %s: ack-open received in state %s", v.id, v.state), nil)
	}
	v.state = ValveOpen
	return nil
}

// BeginClose starts a close command: OPEN -> CLOSING, either by explicit
// close or by commanded-duration expiry.
func (v *Valve) BeginClose() error {
	if v.state != ValveOpen {
		return domainerrors.New(domainerrors.PreconditionFailed,
			fmt.Sprintf("valve %s: cannot close from state %s", v.id, v.state), nil)
	}
	v.state = ValveClosing
	return nil
}

// AckClose completes a close command: CLOSING -> CLOSED.
func (v *Valve) AckClose() error {
	if v.state != ValveClosing {
		return domainerrors.New(domainerrors.PreconditionFailed,
			fmt.Sprintf("valve %s: ack-close received in state %s", v.id, v.state), nil)
	}
	v.state = ValveClosed
	v.commandedUntil = time.Time{}
	return nil
}

// Timeout moves an in-flight OPENING or CLOSING valve to FAULT when the
// dispatcher's 2s deadline expires without an ack.
func (v *Valve) Timeout() error {
	if v.state != ValveOpening && v.state != ValveClosing {
		return domainerrors.New(domainerrors.PreconditionFailed,
			fmt.Sprintf("valve %s: timeout received in state %s", v.id, v.state), nil)
	}
	v.state = ValveFault
	return nil
}

// Override forces MANUAL_OVERRIDE from any state except FAULT, where the
// operator must Acknowledge first.
func (v *Valve) Override(principal, reason string) error {
	if v.state == ValveFault {
		return domainerrors.New(domainerrors.PreconditionFailed,
			fmt.Sprintf("valve %s: must acknowledge FAULT before override", v.id), nil)
	}
	v.state = ValveManualOverride
	v.overridePrincip = principal
	v.overrideReason = reason
	return nil
}

// Release ends an operator override: MANUAL_OVERRIDE -> CLOSED.
func (v *Valve) Release() error {
	if v.state != ValveManualOverride {
		return domainerrors.New(domainerrors.PreconditionFailed,
			fmt.Sprintf("valve %s: cannot release from state %s", v.id, v.state), nil)
	}
	v.state = ValveClosed
	v.overridePrincip = ""
	v.overrideReason = ""
	return nil
}

// Acknowledge clears a sticky FAULT after operator intervention: FAULT -> CLOSED.
func (v *Valve) Acknowledge() error {
	if v.state != ValveFault {
		return domainerrors.New(domainerrors.PreconditionFailed,
			fmt.Sprintf("valve %s: cannot acknowledge non-fault state %s", v.id, v.state), nil)
	}
	v.state = ValveClosed
	return nil
}

// ForceClosed drives the valve directly to CLOSED, bypassing the normal
// CLOSING handshake. Used only by emergency_stop_all, which does not wait
// for per-valve acks.
func (v *Valve) ForceClosed() {
	v.state = ValveClosed
	v.commandedUntil = time.Time{}
}

// ExpiredAt reports whether a commanded open duration has elapsed as of now.
func (v *Valve) ExpiredAt(now time.Time) bool {
	return v.state == ValveOpen && !v.commandedUntil.IsZero() && !now.Before(v.commandedUntil)
}
