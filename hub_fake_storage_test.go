package hub

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/farmsense/hub/internal/domain"
	domainerrors "github.com/farmsense/hub/internal/domain/errors"
)

// fakeStorage is an in-memory domain.Storage for exercising the facade,
// mirroring internal/orchestrator's own fake_storage_test.go fixture.
type fakeStorage struct {
	mu sync.Mutex

	measurements []domain.Measurement
	grids        map[string][]domain.GridCell
	audit        *fakeAudit
	zoneParams   map[string]domain.SoilParameters
	valveStates  []domain.PersistedValveState
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		grids:      map[string][]domain.GridCell{},
		zoneParams: map[string]domain.SoilParameters{},
		audit:      &fakeAudit{},
	}
}

func (s *fakeStorage) Append(ctx context.Context, m domain.Measurement) (domain.Measurement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.measurements {
		if existing.OwnHash == m.OwnHash {
			return existing, domainerrors.New(domainerrors.AlreadyStored, "duplicate measurement", nil)
		}
	}
	s.measurements = append(s.measurements, m)
	return m, nil
}

func (s *fakeStorage) AppendBatch(ctx context.Context, b domain.Batch) (domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.measurements = append(s.measurements, b.Measurements...)
	return b, nil
}

func (s *fakeStorage) Range(ctx context.Context, sensorID string, from, to time.Time, limit int) ([]domain.Measurement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Measurement
	for _, m := range s.measurements {
		if sensorID != "" && m.SensorID != sensorID {
			continue
		}
		if m.Timestamp.Before(from) || m.Timestamp.After(to) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStorage) LastHash(ctx context.Context, sensorID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.measurements) - 1; i >= 0; i-- {
		if sensorID == "" || s.measurements[i].SensorID == sensorID {
			return s.measurements[i].OwnHash, nil
		}
	}
	return domain.GenesisHash, nil
}

func (s *fakeStorage) ArchiveOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	return 0, nil
}

func (s *fakeStorage) VerifyChainIntegrity(ctx context.Context, sensorID string) error { return nil }

func (s *fakeStorage) PutGrid(ctx context.Context, fieldID string, ts time.Time, cells []domain.GridCell) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grids[fieldID] = cells
	return nil
}

func (s *fakeStorage) GetLatest(ctx context.Context, fieldID string, depth int) ([]domain.GridCell, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.GridCell
	for _, c := range s.grids[fieldID] {
		if c.Depth == depth {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeStorage) GetAtOrBefore(ctx context.Context, fieldID string, t time.Time, depth int) ([]domain.GridCell, error) {
	return s.GetLatest(ctx, fieldID, depth)
}

func (s *fakeStorage) SaveZoneParameters(ctx context.Context, p domain.SoilParameters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zoneParams[p.ZoneID] = p
	return nil
}

func (s *fakeStorage) LoadZoneParameters(ctx context.Context, zoneID string) (domain.SoilParameters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.zoneParams[zoneID]
	if !ok {
		return domain.NewDefaultSoilParameters(zoneID), nil
	}
	return p, nil
}

func (s *fakeStorage) LoadAllZoneParameters(ctx context.Context) ([]domain.SoilParameters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.SoilParameters, 0, len(s.zoneParams))
	for _, p := range s.zoneParams {
		out = append(out, p)
	}
	return out, nil
}

func (s *fakeStorage) SaveValveState(ctx context.Context, valveID, zoneID string, state domain.ValveState) error {
	return nil
}

func (s *fakeStorage) LoadValveStates(ctx context.Context) ([]domain.PersistedValveState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valveStates, nil
}

func (s *fakeStorage) Audit() domain.AuditLog { return s.audit }

func (s *fakeStorage) Ping(ctx context.Context) error { return nil }
func (s *fakeStorage) Close() error                   { return nil }

type fakeAudit struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (a *fakeAudit) Append(ctx context.Context, e domain.AuditEvent) (domain.AuditEvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e.OwnHash = domain.GenesisHash
	a.events = append(a.events, e)
	return e, nil
}

func (a *fakeAudit) Query(ctx context.Context, kind domain.AuditEventKind, principal string, from, to time.Time) ([]domain.AuditEvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []domain.AuditEvent
	for _, e := range a.events {
		if kind != "" && e.Kind != kind {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
