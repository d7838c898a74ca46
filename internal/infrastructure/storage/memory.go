package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/farmsense/hub/internal/domain"
	domainerrors "github.com/farmsense/hub/internal/domain/errors"
	"github.com/farmsense/hub/internal/forensic"
)

// MemoryStore is an in-process implementation of domain.Storage, grounded
// on the teacher's map+RWMutex MemoryStore: one mutex, one map per entity
// kind, no persistence across restarts. Used for tests and single-process
// deployments that do not need a Postgres dependency.
type MemoryStore struct {
	mu sync.RWMutex

	hasher *forensic.Hasher

	measurementsBySensor map[string][]domain.Measurement
	measurementsByHash   map[string]domain.Measurement
	lastHash             map[string]string
	archiveTip           map[string]string
	archived             map[string][]domain.Measurement // keyed by "sensor:year-month"

	grids map[string][]gridSnapshot // keyed by field

	audit *MemoryAuditLog

	zoneParams map[string]domain.SoilParameters

	valveStates map[string]domain.PersistedValveState
}

type gridSnapshot struct {
	timestamp time.Time
	cells     []domain.GridCell
}

// MemoryAuditLog is the audit chain (D) split out of MemoryStore: its
// Append(ctx, AuditEvent) would otherwise collide with MemoryStore's
// Append(ctx, Measurement) on the same receiver, since Go has no method
// overloading. Exposed through MemoryStore.Audit() and usable directly
// wherever only a domain.AuditLog / valve.AuditAppender is needed.
type MemoryAuditLog struct {
	mu sync.Mutex

	hasher *forensic.Hasher

	events   []domain.AuditEvent
	lastHash string
}

func newMemoryAuditLog(hasher *forensic.Hasher) *MemoryAuditLog {
	return &MemoryAuditLog{hasher: hasher, lastHash: domain.GenesisHash}
}

// NewMemoryStore constructs an empty store. hasher computes audit-event
// hashes; pass the same instance the rest of the hub uses so a signing key,
// if configured, is applied consistently.
func NewMemoryStore(hasher *forensic.Hasher) *MemoryStore {
	return &MemoryStore{
		hasher:               hasher,
		measurementsBySensor: make(map[string][]domain.Measurement),
		measurementsByHash:   make(map[string]domain.Measurement),
		lastHash:             make(map[string]string),
		archiveTip:           make(map[string]string),
		archived:             make(map[string][]domain.Measurement),
		grids:                make(map[string][]gridSnapshot),
		audit:                newMemoryAuditLog(hasher),
		zoneParams:           make(map[string]domain.SoilParameters),
		valveStates:          make(map[string]domain.PersistedValveState),
	}
}

// Audit returns the store's audit chain sub-store.
func (s *MemoryStore) Audit() domain.AuditLog { return s.audit }

func measurementsEqual(a, b domain.Measurement) bool {
	if a.SensorID != b.SensorID || a.Depth != b.Depth || !a.Timestamp.Equal(b.Timestamp) || a.VWC != b.VWC {
		return false
	}
	return a.PreviousHash == b.PreviousHash && a.SignalQuality == b.SignalQuality
}

func (s *MemoryStore) Append(ctx context.Context, m domain.Measurement) (domain.Measurement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(m)
}

func (s *MemoryStore) appendLocked(m domain.Measurement) (domain.Measurement, error) {
	if existing, ok := s.measurementsByHash[m.OwnHash]; ok {
		if measurementsEqual(existing, m) {
			return existing, domainerrors.New(domainerrors.AlreadyStored, "measurement already stored", nil)
		}
		return domain.Measurement{}, domainerrors.New(domainerrors.ChainBroken, "own-hash reused with a different payload", nil)
	}

	expectedPrev := s.lastHash[m.SensorID]
	if expectedPrev == "" {
		expectedPrev = domain.GenesisHash
	}
	if m.PreviousHash != expectedPrev {
		return domain.Measurement{}, domainerrors.New(domainerrors.ChainBroken, "previous-hash does not match the chain tip", nil)
	}

	s.measurementsByHash[m.OwnHash] = m
	s.measurementsBySensor[m.SensorID] = append(s.measurementsBySensor[m.SensorID], m)
	s.lastHash[m.SensorID] = m.OwnHash
	return m, nil
}

// AppendBatch appends every member in order, stopping at the first failure
// that is not an AlreadyStored no-op so the batch is never partially applied
// past a genuine chain break.
func (s *MemoryStore) AppendBatch(ctx context.Context, b domain.Batch) (domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range b.Measurements {
		if _, err := s.appendLocked(m); err != nil && !domainerrors.OfKind(err, domainerrors.AlreadyStored) {
			return domain.Batch{}, err
		}
	}
	return b, nil
}

func (s *MemoryStore) Range(ctx context.Context, sensorID string, from, to time.Time, limit int) ([]domain.Measurement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pool []domain.Measurement
	if sensorID == "" {
		for _, records := range s.measurementsBySensor {
			pool = append(pool, records...)
		}
	} else {
		pool = append(pool, s.measurementsBySensor[sensorID]...)
	}

	out := make([]domain.Measurement, 0, len(pool))
	for _, m := range pool {
		if !from.IsZero() && m.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && m.Timestamp.After(to) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].OwnHash < out[j].OwnHash
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) LastHash(ctx context.Context, sensorID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if h, ok := s.lastHash[sensorID]; ok {
		return h, nil
	}
	return domain.GenesisHash, nil
}

// ArchiveOlderThan moves matured records, uncompressed, into an append-only
// bucket keyed by (sensor, year-month) and records each sensor's archive
// tip so VerifyChainIntegrity can still validate the hot store's chain
// against its true predecessor (§4.2).
func (s *MemoryStore) ArchiveOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	archivedCount := 0
	for sensorID, records := range s.measurementsBySensor {
		kept := records[:0:0]
		for _, m := range records {
			if m.Timestamp.Before(cutoff) {
				key := sensorID + ":" + m.Timestamp.Format("2006-01")
				s.archived[key] = append(s.archived[key], m)
				s.archiveTip[sensorID] = m.OwnHash
				delete(s.measurementsByHash, m.OwnHash)
				archivedCount++
				continue
			}
			kept = append(kept, m)
		}
		s.measurementsBySensor[sensorID] = kept
	}
	return archivedCount, nil
}

func (s *MemoryStore) VerifyChainIntegrity(ctx context.Context, sensorID string) error {
	s.mu.RLock()
	records := append([]domain.Measurement(nil), s.measurementsBySensor[sensorID]...)
	expectedFirst := s.archiveTip[sensorID]
	expectedLast := s.lastHash[sensorID]
	s.mu.RUnlock()

	if expectedFirst == "" {
		expectedFirst = domain.GenesisHash
	}
	if expectedLast == "" {
		expectedLast = domain.GenesisHash
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Timestamp.Before(records[j].Timestamp) })

	result := s.hasher.VerifyChain(records, expectedFirst, expectedLast)
	if !result.OK {
		return domainerrors.New(domainerrors.IntegrityLost, "measurement chain verification failed", nil)
	}
	return nil
}

func (s *MemoryStore) PutGrid(ctx context.Context, fieldID string, ts time.Time, cells []domain.GridCell) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	deduped := make(map[string]domain.GridCell, len(cells))
	order := make([]string, 0, len(cells))
	for _, c := range cells {
		key := c.CellHash
		if key == "" {
			key = gridCellKey(c)
		}
		if _, seen := deduped[key]; !seen {
			order = append(order, key)
		}
		deduped[key] = c
	}
	out := make([]domain.GridCell, 0, len(order))
	for _, key := range order {
		out = append(out, deduped[key])
	}

	s.grids[fieldID] = append(s.grids[fieldID], gridSnapshot{timestamp: ts, cells: out})
	return nil
}

func gridCellKey(c domain.GridCell) string {
	return c.FieldID + "|" + c.Timestamp.String() + "|" + c.AnchorSensorID
}

func (s *MemoryStore) GetLatest(ctx context.Context, fieldID string, depth int) ([]domain.GridCell, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshots := s.grids[fieldID]
	if len(snapshots) == 0 {
		return nil, nil
	}
	return filterByDepth(snapshots[len(snapshots)-1].cells, depth), nil
}

func (s *MemoryStore) GetAtOrBefore(ctx context.Context, fieldID string, t time.Time, depth int) ([]domain.GridCell, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshots := s.grids[fieldID]
	var best *gridSnapshot
	for i := range snapshots {
		snap := snapshots[i]
		if snap.timestamp.After(t) {
			continue
		}
		if best == nil || snap.timestamp.After(best.timestamp) {
			best = &snap
		}
	}
	if best == nil {
		return nil, nil
	}
	return filterByDepth(best.cells, depth), nil
}

func filterByDepth(cells []domain.GridCell, depth int) []domain.GridCell {
	out := make([]domain.GridCell, 0, len(cells))
	for _, c := range cells {
		if c.Depth == depth {
			out = append(out, c)
		}
	}
	return out
}

// Append chains event onto the single audit hash chain, computing its
// own-hash here (unlike measurements, audit events arrive unhashed: D owns
// its own chaining per §4.4).
func (a *MemoryAuditLog) Append(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	event.PreviousHash = a.lastHash
	event.OwnHash = a.hasher.AuditHash(event.PreviousHash, event)
	a.events = append(a.events, event)
	a.lastHash = event.OwnHash
	return event, nil
}

func (a *MemoryAuditLog) Query(ctx context.Context, kind domain.AuditEventKind, principal string, from, to time.Time) ([]domain.AuditEvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]domain.AuditEvent, 0)
	for _, e := range a.events {
		if kind != "" && e.Kind != kind {
			continue
		}
		if principal != "" && e.Principal != principal {
			continue
		}
		if !from.IsZero() && e.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && e.Timestamp.After(to) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *MemoryStore) SaveZoneParameters(ctx context.Context, p domain.SoilParameters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zoneParams[p.ZoneID] = p
	return nil
}

func (s *MemoryStore) LoadZoneParameters(ctx context.Context, zoneID string) (domain.SoilParameters, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.zoneParams[zoneID]
	if !ok {
		return domain.SoilParameters{}, domainerrors.New(domainerrors.InvalidInput, "no parameters stored for zone "+zoneID, nil)
	}
	return p, nil
}

func (s *MemoryStore) LoadAllZoneParameters(ctx context.Context) ([]domain.SoilParameters, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.SoilParameters, 0, len(s.zoneParams))
	for _, p := range s.zoneParams {
		out = append(out, p)
	}
	return out, nil
}

func (s *MemoryStore) SaveValveState(ctx context.Context, valveID, zoneID string, state domain.ValveState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.valveStates[valveID] = domain.PersistedValveState{ValveID: valveID, ZoneID: zoneID, State: state}
	return nil
}

func (s *MemoryStore) LoadValveStates(ctx context.Context) ([]domain.PersistedValveState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.PersistedValveState, 0, len(s.valveStates))
	for _, v := range s.valveStates {
		out = append(out, v)
	}
	return out, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }
func (s *MemoryStore) Close() error                   { return nil }
