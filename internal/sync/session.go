package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/farmsense/hub/internal/domain"
)

// State is the hub-side link state machine of §4.9:
// DISCONNECTED -> CONNECTED -> {FAILOVER_ACTIVE, RECOVERING} -> CONNECTED.
type State string

const (
	Disconnected   State = "DISCONNECTED"
	Connected      State = "CONNECTED"
	FailoverActive State = "FAILOVER_ACTIVE"
	Recovering     State = "RECOVERING"
)

// Config holds the §6 options this component owns.
type Config struct {
	HubID             string
	HeartbeatInterval time.Duration // default 5s
	FailoverTimeout   time.Duration // default 30s
}

// Session is the hub's half of the mirror link (§4.9): it pushes state
// syncs and measurements, maintains a heartbeat, and raises failover when
// the mirror goes silent. One Session per hub, serialising writes to its
// Conn under writeMu the way the teacher's Client serialises writes in
// writePump.
type Session struct {
	cfg  Config
	conn Conn

	mu               sync.Mutex
	state            State
	lastHeartbeatAck time.Time
	writeMu          sync.Mutex

	onFailover    func(reason string)
	onRecovery    func()
	onStateChange func(old, new State)
}

// NewSession constructs a Session over an already-dialed Conn, in state
// CONNECTED (DialMirror/handshake has already succeeded by the time a
// Session exists).
func NewSession(conn Conn, cfg Config) *Session {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	if cfg.FailoverTimeout == 0 {
		cfg.FailoverTimeout = 30 * time.Second
	}
	return &Session{
		cfg:              cfg,
		conn:             conn,
		state:            Connected,
		lastHeartbeatAck: time.Now(),
	}
}

// OnFailover registers a callback run with the failover reason when the
// session enters FAILOVER_ACTIVE.
func (s *Session) OnFailover(fn func(reason string)) { s.onFailover = fn }

// OnRecovery registers the callback run when a recovery_command arrives: the
// session enters RECOVERING, runs the callback, then returns to CONNECTED.
// The session itself replays no events.
func (s *Session) OnRecovery(fn func()) { s.onRecovery = fn }

// OnStateChange registers a callback fired on every state transition.
func (s *Session) OnStateChange(fn func(old, new State)) { s.onStateChange = fn }

// State returns the current link state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(new State) {
	s.mu.Lock()
	old := s.state
	s.state = new
	s.mu.Unlock()
	if old != new && s.onStateChange != nil {
		s.onStateChange(old, new)
	}
}

// PushStateSync sends a state_sync message; the orchestrator's periodic sync
// cycle calls it, best effort (§5 "state sync best effort, no deadline").
func (s *Session) PushStateSync(snapshot domain.SystemStateSnapshot) error {
	if s.State() != Connected {
		return fmt.Errorf("mirror link not connected")
	}
	env := newEnvelope(MsgStateSync, s.cfg.HubID, time.Now())
	env.Snapshot = &snapshot
	return s.write(env)
}

// PushMeasurement sends one measurement for chain continuity; every hash
// must be mirrored (§4.9).
func (s *Session) PushMeasurement(hash string, m domain.Measurement) error {
	if s.State() != Connected {
		return fmt.Errorf("mirror link not connected")
	}
	env := newEnvelope(MsgMeasurement, s.cfg.HubID, time.Now())
	env.MeasurementHash = hash
	env.Measurement = &m
	return s.write(env)
}

func (s *Session) write(env Envelope) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteEnvelope(env)
}

// Run drives the heartbeat and receive loops until ctx is cancelled or the
// link fails. It returns when the Conn is no longer usable.
func (s *Session) Run(ctx context.Context) error {
	incoming := make(chan Envelope, 16)
	readErr := make(chan error, 1)

	go func() {
		for {
			env, err := s.conn.ReadEnvelope()
			if err != nil {
				readErr <- err
				return
			}
			incoming <- env
		}
	}()

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.setState(Disconnected)
			return ctx.Err()

		case err := <-readErr:
			s.setState(Disconnected)
			return err

		case env := <-incoming:
			s.handleMessage(env)

		case <-ticker.C:
			_ = s.write(newEnvelope(MsgHeartbeat, s.cfg.HubID, time.Now()))
			if s.State() == Connected && time.Since(s.lastHeartbeatAckSnapshot()) > s.cfg.FailoverTimeout {
				s.triggerFailover(ctx, "heartbeat_timeout")
			}
		}
	}
}

func (s *Session) lastHeartbeatAckSnapshot() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeartbeatAck
}

func (s *Session) handleMessage(env Envelope) {
	switch env.Type {
	case MsgHeartbeatAck:
		s.mu.Lock()
		s.lastHeartbeatAck = time.Now()
		s.mu.Unlock()

	case MsgFailoverCommand:
		s.setState(FailoverActive)
		if s.onFailover != nil {
			s.onFailover("mirror_command")
		}

	case MsgRecoveryCommand:
		s.setState(Recovering)
		if s.onRecovery != nil {
			s.onRecovery()
		}
		s.setState(Connected)
	}
}

// triggerFailover is the hub's own heartbeat-timeout path of §4.9: it
// enters FAILOVER_ACTIVE, runs the OnFailover callback if one is registered,
// and notifies the mirror with a best-effort failover_request.
func (s *Session) triggerFailover(ctx context.Context, reason string) {
	s.setState(FailoverActive)
	if s.onFailover != nil {
		s.onFailover(reason)
	}
	env := newEnvelope(MsgFailoverRequest, s.cfg.HubID, time.Now())
	env.Reason = reason
	_ = s.write(env)
}
