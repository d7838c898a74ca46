package storage

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/farmsense/hub/internal/domain"
	domainerrors "github.com/farmsense/hub/internal/domain/errors"
	"github.com/farmsense/hub/internal/forensic"
)

// BunStore is the Postgres-backed domain.Storage implementation, grounded
// on the teacher's bun+pgdialect+pgdriver BunStore: one *bun.DB, one
// InitSchema creating every table, one RunInTx per atomic write.
type BunStore struct {
	db     *bun.DB
	hasher *forensic.Hasher
	audit  *BunAuditLog
}

// BunAuditLog is the audit chain (D) split out of BunStore: its
// Append(ctx, AuditEvent) would otherwise collide with BunStore's
// Append(ctx, Measurement) on the same receiver, since Go has no method
// overloading. Exposed through BunStore.Audit() and usable directly
// wherever only a domain.AuditLog / valve.AuditAppender is needed.
type BunAuditLog struct {
	db     *bun.DB
	hasher *forensic.Hasher
}

// NewBunStore opens a connection pool against dsn. hasher computes
// audit-event hashes the same way the in-memory store does.
func NewBunStore(dsn string, hasher *forensic.Hasher) *BunStore {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	return &BunStore{db: db, hasher: hasher, audit: &BunAuditLog{db: db, hasher: hasher}}
}

// Audit returns the store's audit chain sub-store.
func (s *BunStore) Audit() domain.AuditLog { return s.audit }

func (s *BunStore) InitSchema(ctx context.Context) error {
	models := []interface{}{
		(*MeasurementModel)(nil),
		(*ChainStateModel)(nil),
		(*ArchivedMeasurementModel)(nil),
		(*GridCellModel)(nil),
		(*AuditEventModel)(nil),
		(*SoilParametersModel)(nil),
		(*ValveStateModel)(nil),
	}
	for _, model := range models {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Append inserts m atomically with its sensor's chain-state row: either both
// persist, or neither (§4.2). A duplicate own-hash is a no-op returning
// AlreadyStored; a previous-hash that does not match the chain's current
// tip is ChainBroken.
func (s *BunStore) Append(ctx context.Context, m domain.Measurement) (domain.Measurement, error) {
	var result domain.Measurement
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var err error
		result, err = s.appendInTx(ctx, tx, m)
		return err
	})
	return result, err
}

func (s *BunStore) appendInTx(ctx context.Context, tx bun.Tx, m domain.Measurement) (domain.Measurement, error) {
	existing := new(MeasurementModel)
	err := tx.NewSelect().Model(existing).Where("own_hash = ?", m.OwnHash).Scan(ctx)
	if err == nil {
		got := existing.toDomain()
		if measurementsEqual(got, m) {
			return got, domainerrors.New(domainerrors.AlreadyStored, "measurement already stored", nil)
		}
		return domain.Measurement{}, domainerrors.New(domainerrors.ChainBroken, "own-hash reused with a different payload", nil)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return domain.Measurement{}, err
	}

	chain := new(ChainStateModel)
	err = tx.NewSelect().Model(chain).Where("sensor_id = ?", m.SensorID).Scan(ctx)
	expectedPrev := domain.GenesisHash
	if err == nil {
		expectedPrev = chain.LastHash
	} else if !errors.Is(err, sql.ErrNoRows) {
		return domain.Measurement{}, err
	}
	if m.PreviousHash != expectedPrev {
		return domain.Measurement{}, domainerrors.New(domainerrors.ChainBroken, "previous-hash does not match the chain tip", nil)
	}

	if _, err := tx.NewInsert().Model(newMeasurementModel(m)).Exec(ctx); err != nil {
		return domain.Measurement{}, err
	}
	chainRow := &ChainStateModel{SensorID: m.SensorID, LastHash: m.OwnHash, ArchiveTip: chain.ArchiveTip}
	if _, err := tx.NewInsert().Model(chainRow).On("CONFLICT (sensor_id) DO UPDATE").Set("last_hash = EXCLUDED.last_hash").Exec(ctx); err != nil {
		return domain.Measurement{}, err
	}
	return m, nil
}

// AppendBatch appends every member in one transaction, stopping at the first
// failure that is not an AlreadyStored no-op.
func (s *BunStore) AppendBatch(ctx context.Context, b domain.Batch) (domain.Batch, error) {
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		for _, m := range b.Measurements {
			if _, err := s.appendInTx(ctx, tx, m); err != nil && !domainerrors.OfKind(err, domainerrors.AlreadyStored) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Batch{}, err
	}
	return b, nil
}

func (s *BunStore) Range(ctx context.Context, sensorID string, from, to time.Time, limit int) ([]domain.Measurement, error) {
	q := s.db.NewSelect().Model((*MeasurementModel)(nil))
	if sensorID != "" {
		q = q.Where("sensor_id = ?", sensorID)
	}
	if !from.IsZero() {
		q = q.Where("timestamp >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("timestamp <= ?", to)
	}
	q = q.Order("timestamp ASC", "own_hash ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var models []MeasurementModel
	if err := q.Scan(ctx, &models); err != nil {
		return nil, err
	}
	out := make([]domain.Measurement, len(models))
	for i, m := range models {
		out[i] = m.toDomain()
	}
	return out, nil
}

func (s *BunStore) LastHash(ctx context.Context, sensorID string) (string, error) {
	chain := new(ChainStateModel)
	err := s.db.NewSelect().Model(chain).Where("sensor_id = ?", sensorID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.GenesisHash, nil
	}
	if err != nil {
		return "", err
	}
	return chain.LastHash, nil
}

// ArchiveOlderThan moves every record older than cutoff into
// archived_measurements, keyed by (sensor, year-month), updates each
// sensor's archive tip, and deletes the hot-store rows.
func (s *BunStore) ArchiveOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	archivedCount := 0
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var stale []MeasurementModel
		if err := tx.NewSelect().Model(&stale).Where("timestamp < ?", cutoff).Order("sensor_id", "timestamp ASC").Scan(ctx); err != nil {
			return err
		}
		if len(stale) == 0 {
			return nil
		}

		tips := make(map[string]string)
		archives := make([]*ArchivedMeasurementModel, 0, len(stale))
		hashes := make([]string, 0, len(stale))
		for _, m := range stale {
			d := m.toDomain()
			archives = append(archives, newArchivedMeasurementModel(d))
			hashes = append(hashes, m.OwnHash)
			tips[m.SensorID] = m.OwnHash // last wins: rows are ordered by timestamp ascending
		}

		if _, err := tx.NewInsert().Model(&archives).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().Model((*MeasurementModel)(nil)).Where("own_hash IN (?)", bun.In(hashes)).Exec(ctx); err != nil {
			return err
		}
		for sensorID, tip := range tips {
			if _, err := tx.NewUpdate().Model((*ChainStateModel)(nil)).Set("archive_tip = ?", tip).Where("sensor_id = ?", sensorID).Exec(ctx); err != nil {
				return err
			}
		}
		archivedCount = len(stale)
		return nil
	})
	return archivedCount, err
}

func (s *BunStore) VerifyChainIntegrity(ctx context.Context, sensorID string) error {
	chain := new(ChainStateModel)
	err := s.db.NewSelect().Model(chain).Where("sensor_id = ?", sensorID).Scan(ctx)
	expectedFirst, expectedLast := domain.GenesisHash, domain.GenesisHash
	if err == nil {
		expectedLast = chain.LastHash
		if chain.ArchiveTip != "" {
			expectedFirst = chain.ArchiveTip
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	var models []MeasurementModel
	if err := s.db.NewSelect().Model(&models).Where("sensor_id = ?", sensorID).Order("timestamp ASC").Scan(ctx); err != nil {
		return err
	}
	records := make([]domain.Measurement, len(models))
	for i, m := range models {
		records[i] = m.toDomain()
	}

	result := s.hasher.VerifyChain(records, expectedFirst, expectedLast)
	if !result.OK {
		return domainerrors.New(domainerrors.IntegrityLost, "measurement chain verification failed", nil)
	}
	return nil
}

// PutGrid stores a cycle's cells, deduplicated by cell-hash within the
// snapshot, tagged with a shared insertion timestamp for GetLatest/
// GetAtOrBefore ordering.
func (s *BunStore) PutGrid(ctx context.Context, fieldID string, ts time.Time, cells []domain.GridCell) error {
	seen := make(map[string]bool, len(cells))
	models := make([]*GridCellModel, 0, len(cells))
	for _, c := range cells {
		key := c.CellHash
		if key == "" {
			key = gridCellKey(c)
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		models = append(models, newGridCellModel(fieldID, ts, c))
	}
	if len(models) == 0 {
		return nil
	}
	_, err := s.db.NewInsert().Model(&models).Exec(ctx)
	return err
}

func (s *BunStore) GetLatest(ctx context.Context, fieldID string, depth int) ([]domain.GridCell, error) {
	var latest time.Time
	err := s.db.NewSelect().Model((*GridCellModel)(nil)).
		ColumnExpr("MAX(timestamp)").
		Where("field_id = ?", fieldID).
		Scan(ctx, &latest)
	if err != nil {
		return nil, err
	}
	if latest.IsZero() {
		return nil, nil
	}
	return s.gridCellsAt(ctx, fieldID, latest, depth)
}

func (s *BunStore) GetAtOrBefore(ctx context.Context, fieldID string, t time.Time, depth int) ([]domain.GridCell, error) {
	var at time.Time
	err := s.db.NewSelect().Model((*GridCellModel)(nil)).
		ColumnExpr("MAX(timestamp)").
		Where("field_id = ?", fieldID).
		Where("timestamp <= ?", t).
		Scan(ctx, &at)
	if err != nil {
		return nil, err
	}
	if at.IsZero() {
		return nil, nil
	}
	return s.gridCellsAt(ctx, fieldID, at, depth)
}

func (s *BunStore) gridCellsAt(ctx context.Context, fieldID string, ts time.Time, depth int) ([]domain.GridCell, error) {
	var models []GridCellModel
	err := s.db.NewSelect().Model(&models).
		Where("field_id = ?", fieldID).
		Where("timestamp = ?", ts).
		Where("depth = ?", depth).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.GridCell, len(models))
	for i, m := range models {
		out[i] = m.toDomain()
	}
	return out, nil
}

// Append chains event onto the single audit hash chain, computing its
// own-hash here (unlike measurements, audit events arrive unhashed).
func (a *BunAuditLog) Append(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	var result domain.AuditEvent
	err := a.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var last AuditEventModel
		err := tx.NewSelect().Model(&last).Order("timestamp DESC").Limit(1).Scan(ctx)
		prev := domain.GenesisHash
		if err == nil {
			prev = last.OwnHash
		} else if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		event.PreviousHash = prev
		event.OwnHash = a.hasher.AuditHash(prev, event)
		if _, err := tx.NewInsert().Model(newAuditEventModel(event)).Exec(ctx); err != nil {
			return err
		}
		result = event
		return nil
	})
	return result, err
}

func (a *BunAuditLog) Query(ctx context.Context, kind domain.AuditEventKind, principal string, from, to time.Time) ([]domain.AuditEvent, error) {
	q := a.db.NewSelect().Model((*AuditEventModel)(nil))
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	if principal != "" {
		q = q.Where("principal = ?", principal)
	}
	if !from.IsZero() {
		q = q.Where("timestamp >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("timestamp <= ?", to)
	}
	q = q.Order("timestamp ASC")

	var models []AuditEventModel
	if err := q.Scan(ctx, &models); err != nil {
		return nil, err
	}
	out := make([]domain.AuditEvent, len(models))
	for i, m := range models {
		out[i] = m.toDomain()
	}
	return out, nil
}

func (s *BunStore) SaveZoneParameters(ctx context.Context, p domain.SoilParameters) error {
	p.LastUpdated = p.LastUpdated.UTC()
	model := newSoilParametersModel(p)
	_, err := s.db.NewInsert().Model(model).On("CONFLICT (zone_id) DO UPDATE").Exec(ctx)
	return err
}

func (s *BunStore) LoadZoneParameters(ctx context.Context, zoneID string) (domain.SoilParameters, error) {
	model := new(SoilParametersModel)
	err := s.db.NewSelect().Model(model).Where("zone_id = ?", zoneID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SoilParameters{}, domainerrors.New(domainerrors.InvalidInput, "no parameters stored for zone "+zoneID, nil)
	}
	if err != nil {
		return domain.SoilParameters{}, err
	}
	return model.toDomain(), nil
}

func (s *BunStore) LoadAllZoneParameters(ctx context.Context) ([]domain.SoilParameters, error) {
	var models []SoilParametersModel
	if err := s.db.NewSelect().Model(&models).Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]domain.SoilParameters, len(models))
	for i, m := range models {
		out[i] = m.toDomain()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ZoneID < out[j].ZoneID })
	return out, nil
}

func (s *BunStore) SaveValveState(ctx context.Context, valveID, zoneID string, state domain.ValveState) error {
	model := &ValveStateModel{ValveID: valveID, ZoneID: zoneID, State: state}
	_, err := s.db.NewInsert().Model(model).On("CONFLICT (valve_id) DO UPDATE").Exec(ctx)
	return err
}

func (s *BunStore) LoadValveStates(ctx context.Context) ([]domain.PersistedValveState, error) {
	var models []ValveStateModel
	if err := s.db.NewSelect().Model(&models).Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]domain.PersistedValveState, len(models))
	for i, m := range models {
		out[i] = domain.PersistedValveState{ValveID: m.ValveID, ZoneID: m.ZoneID, State: m.State}
	}
	return out, nil
}

// Ping checks database connectivity.
func (s *BunStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *BunStore) Close() error {
	return s.db.Close()
}
