package valve

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/farmsense/hub/internal/domain"
	domainerrors "github.com/farmsense/hub/internal/domain/errors"
)

// AuditAppender is the audit log's (D) write surface, as seen by the
// dispatcher: it must assign the event its place in the hash chain and
// persist it before returning. Manual overrides and interlocks write here
// before the physical command is ever sent (§4.8).
type AuditAppender interface {
	Append(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error)
}

// ManualCommand is the operator-issued command kind for ManualOverride.
type ManualCommand string

const (
	ManualOpen  ManualCommand = "open"
	ManualClose ManualCommand = "close"
)

// Config holds the §6 options this component owns.
type Config struct {
	CommandDeadline      time.Duration        // default 2s, §4.8
	CircuitBreakerConfig CircuitBreakerConfig // per-valve transport resilience
}

// Dispatcher is the sole writer of domain.Valve state (§3 "Ownership"). It
// serialises every transition through a per-valve lock, bounds every
// transport round trip to the configured deadline, and wraps each valve's
// transport calls in its own circuit breaker so a single stuck actuator
// cannot be hammered with opens every cycle.
type Dispatcher struct {
	mu        sync.Mutex
	valves    map[string]*valveEntry
	transport Transport
	audit     AuditAppender
	deadline  time.Duration
	breakers  *CircuitBreakerRegistry
}

type valveEntry struct {
	mu sync.Mutex
	v  *domain.Valve
}

// NewDispatcher constructs a Dispatcher. A zero Config.CommandDeadline
// defaults to DefaultCommandDeadline.
func NewDispatcher(transport Transport, audit AuditAppender, cfg Config) *Dispatcher {
	deadline := cfg.CommandDeadline
	if deadline == 0 {
		deadline = DefaultCommandDeadline
	}
	return &Dispatcher{
		valves:    make(map[string]*valveEntry),
		transport: transport,
		audit:     audit,
		deadline:  deadline,
		breakers:  NewCircuitBreakerRegistry(cfg.CircuitBreakerConfig),
	}
}

// Register adds a valve to the dispatcher, replacing any valve previously
// registered under the same ID. Used at cold start to load persisted valve
// states (§4.10a).
func (d *Dispatcher) Register(v *domain.Valve) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.valves[v.ID()] = &valveEntry{v: v}
}

// Get returns the valve registered under id, if any.
func (d *Dispatcher) Get(id string) (*domain.Valve, bool) {
	d.mu.Lock()
	entry, ok := d.valves[id]
	d.mu.Unlock()
	if !ok {
		return nil, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.v, true
}

func (d *Dispatcher) entry(id string) (*valveEntry, error) {
	d.mu.Lock()
	entry, ok := d.valves[id]
	d.mu.Unlock()
	if !ok {
		return nil, domainerrors.New(domainerrors.InvalidInput, fmt.Sprintf("valve %s not registered", id), nil)
	}
	return entry, nil
}

// Open drives a CLOSED valve through OPENING to OPEN, per §4.8. It returns
// within the configured deadline with Acked or Timeout; a Timeout leaves the
// valve in FAULT.
func (d *Dispatcher) Open(ctx context.Context, valveID string, duration time.Duration) (CommandOutcome, error) {
	entry, err := d.entry(valveID)
	if err != nil {
		return Fault, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := entry.v.BeginOpen(duration); err != nil {
		return Fault, err
	}

	outcome, err := d.actuate(ctx, valveID, func(c context.Context) (CommandOutcome, error) {
		return d.transport.Open(c, valveID, duration)
	})
	return d.resolveOpen(entry.v, outcome, err)
}

// Close drives an OPEN valve through CLOSING to CLOSED, per §4.8, either on
// explicit request or commanded-duration expiry.
func (d *Dispatcher) Close(ctx context.Context, valveID string) (CommandOutcome, error) {
	entry, err := d.entry(valveID)
	if err != nil {
		return Fault, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := entry.v.BeginClose(); err != nil {
		return Fault, err
	}

	outcome, err := d.actuate(ctx, valveID, func(c context.Context) (CommandOutcome, error) {
		return d.transport.Close(c, valveID)
	})
	return d.resolveClose(entry.v, outcome, err)
}

// actuate runs fn under the command deadline and the valve's circuit
// breaker, so a transport already known to be failing fast-fails instead of
// consuming the deadline on every cycle.
func (d *Dispatcher) actuate(ctx context.Context, valveID string, fn func(context.Context) (CommandOutcome, error)) (CommandOutcome, error) {
	cctx, cancel := context.WithTimeout(ctx, d.deadline)
	defer cancel()

	breaker := d.breakers.Get(valveID)
	outcome := Fault // default if the breaker short-circuits before fn ever runs
	err := breaker.Execute(cctx, func() error {
		var execErr error
		outcome, execErr = fn(cctx)
		if execErr == nil && outcome != Acked {
			execErr = domainerrors.New(domainerrors.Transient, fmt.Sprintf("valve %s: transport returned %s", valveID, outcome), nil)
		}
		return execErr
	})
	if err != nil {
		if cctx.Err() != nil {
			return Timeout, nil
		}
		return outcome, nil
	}
	return outcome, nil
}

func (d *Dispatcher) resolveOpen(v *domain.Valve, outcome CommandOutcome, _ error) (CommandOutcome, error) {
	switch outcome {
	case Acked:
		if err := v.AckOpen(); err != nil {
			return Fault, err
		}
		return Acked, nil
	default:
		_ = v.Timeout()
		return outcome, nil
	}
}

func (d *Dispatcher) resolveClose(v *domain.Valve, outcome CommandOutcome, _ error) (CommandOutcome, error) {
	switch outcome {
	case Acked:
		if err := v.AckClose(); err != nil {
			return Fault, err
		}
		return Acked, nil
	default:
		_ = v.Timeout()
		return outcome, nil
	}
}

// EmergencyStopAll drives every OPEN/OPENING valve directly to CLOSED
// without waiting for per-valve acks, per §4.8, and logs a single
// emergency_stop audit event naming the affected valves.
func (d *Dispatcher) EmergencyStopAll(ctx context.Context, principal, reason string) ([]string, error) {
	stopped := d.forceCloseAllOpen()

	_, err := d.audit.Append(ctx, domain.NewAuditEvent(domain.AuditEmergencyStop, principal, map[string]any{
		"reason": reason,
		"valves": stopped,
		"count":  len(stopped),
	}, time.Now()))
	return stopped, err
}

// TripDeepPercolationInterlock is the zone-level safety trip of §4.7/§4.8
// scenario 2: it force-closes every affected valve and logs one
// deep_percolation_alert audit event (not a generic emergency_stop).
func (d *Dispatcher) TripDeepPercolationInterlock(ctx context.Context, zoneID string, details map[string]any) ([]string, error) {
	stopped := d.forceCloseZoneOpen(zoneID)

	merged := map[string]any{"zone_id": zoneID, "valves": stopped}
	for k, v := range details {
		merged[k] = v
	}
	_, err := d.audit.Append(ctx, domain.NewAuditEvent(domain.AuditDeepPercolationAlert, "system", merged, time.Now()))
	return stopped, err
}

func (d *Dispatcher) forceCloseAllOpen() []string {
	d.mu.Lock()
	entries := make([]*valveEntry, 0, len(d.valves))
	for _, e := range d.valves {
		entries = append(entries, e)
	}
	d.mu.Unlock()

	var stopped []string
	for _, e := range entries {
		e.mu.Lock()
		if e.v.State().IsTerminalOpen() {
			e.v.ForceClosed()
			stopped = append(stopped, e.v.ID())
		}
		e.mu.Unlock()
	}
	return stopped
}

func (d *Dispatcher) forceCloseZoneOpen(zoneID string) []string {
	d.mu.Lock()
	entries := make([]*valveEntry, 0, len(d.valves))
	for _, e := range d.valves {
		entries = append(entries, e)
	}
	d.mu.Unlock()

	var stopped []string
	for _, e := range entries {
		e.mu.Lock()
		if e.v.ZoneID() == zoneID && e.v.State().IsTerminalOpen() {
			e.v.ForceClosed()
			stopped = append(stopped, e.v.ID())
		}
		e.mu.Unlock()
	}
	return stopped
}

// ManualOverride accepts an operator command in every state except FAULT
// (where Acknowledge must run first), writing to the audit log before the
// physical command is issued, per §4.8.
func (d *Dispatcher) ManualOverride(ctx context.Context, valveID string, command ManualCommand, principal, reason string, duration time.Duration) (CommandOutcome, error) {
	entry, err := d.entry(valveID)
	if err != nil {
		return Fault, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.v.State() == domain.ValveFault {
		return Fault, domainerrors.New(domainerrors.PreconditionFailed,
			fmt.Sprintf("valve %s: must acknowledge FAULT before manual override", valveID), nil)
	}

	if _, err := d.audit.Append(ctx, domain.NewAuditEvent(domain.AuditManualOverride, principal, map[string]any{
		"valve_id": valveID,
		"command":  string(command),
		"reason":   reason,
	}, time.Now())); err != nil {
		return Fault, err
	}

	if err := entry.v.Override(principal, reason); err != nil {
		return Fault, err
	}

	var outcome CommandOutcome
	switch command {
	case ManualOpen:
		outcome, _ = d.actuate(ctx, valveID, func(c context.Context) (CommandOutcome, error) {
			return d.transport.Open(c, valveID, duration)
		})
	case ManualClose:
		outcome, _ = d.actuate(ctx, valveID, func(c context.Context) (CommandOutcome, error) {
			return d.transport.Close(c, valveID)
		})
	}
	return outcome, nil
}

// AcknowledgeFault clears a sticky FAULT after operator intervention.
func (d *Dispatcher) AcknowledgeFault(valveID string) error {
	entry, err := d.entry(valveID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if err := entry.v.Acknowledge(); err != nil {
		return err
	}
	d.breakers.Reset(valveID)
	return nil
}

// ReleaseOverride ends an operator override, returning the valve to CLOSED.
func (d *Dispatcher) ReleaseOverride(valveID string) error {
	entry, err := d.entry(valveID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.v.Release()
}

// SweepExpired closes every OPEN valve whose commanded duration has elapsed
// as of now, part of the grid cycle's housekeeping (§4.10).
func (d *Dispatcher) SweepExpired(ctx context.Context, now time.Time) {
	d.mu.Lock()
	entries := make([]*valveEntry, 0, len(d.valves))
	for _, e := range d.valves {
		entries = append(entries, e)
	}
	d.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		expired := e.v.ExpiredAt(now)
		id := e.v.ID()
		e.mu.Unlock()
		if expired {
			_, _ = d.Close(ctx, id)
		}
	}
}
