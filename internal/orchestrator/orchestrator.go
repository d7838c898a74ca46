package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/farmsense/hub/internal/bayesian"
	"github.com/farmsense/hub/internal/domain"
	domainerrors "github.com/farmsense/hub/internal/domain/errors"
	"github.com/farmsense/hub/internal/forensic"
	"github.com/farmsense/hub/internal/infrastructure/monitoring"
	"github.com/farmsense/hub/internal/irrigation"
	"github.com/farmsense/hub/internal/kriging"
	mirrorsync "github.com/farmsense/hub/internal/sync"
	"github.com/farmsense/hub/internal/valve"
)

// Config holds the §6 enumerated options the orchestrator itself owns (the
// three cycle cadences); the sub-component configs (bayesian, kriging,
// irrigation, valve, sync) are constructed by the caller and passed in
// pre-built, mirroring EngineConfig's flat shape but split per component
// the way this module's packages are split.
type Config struct {
	HubID               string
	MeasurementInterval time.Duration // default 15min
	GridInterval        time.Duration // default 15min, offset by half interval
	SyncInterval        time.Duration // default 30s
	GridCycleDeadline   time.Duration // default 5s, §5 "grid cycle soft-deadline"
	ETRateMMPerDay      float64       // external weather input; fixed for now per reference's comment
}

func (c Config) withDefaults() Config {
	if c.MeasurementInterval == 0 {
		c.MeasurementInterval = 15 * time.Minute
	}
	if c.GridInterval == 0 {
		c.GridInterval = 15 * time.Minute
	}
	if c.SyncInterval == 0 {
		c.SyncInterval = 30 * time.Second
	}
	if c.GridCycleDeadline == 0 {
		c.GridCycleDeadline = 5 * time.Second
	}
	if c.ETRateMMPerDay == 0 {
		c.ETRateMMPerDay = 5.0
	}
	return c
}

// Orchestrator is the pipeline orchestrator (J): it owns the cold-start
// sequencing of §4.10a and drives the measurement, grid, and sync cycles of
// §4.10 as independent goroutines, one `time.Ticker` each.
type Orchestrator struct {
	cfg      Config
	topology Topology
	log      zerolog.Logger

	hasher     *forensic.Hasher
	storage    domain.Storage
	filter     *bayesian.Filter
	kriging    *kriging.Engine
	irrigation *irrigation.Engine
	dispatcher *valve.Dispatcher
	probes     ProbeSource
	trends     TrendSource
	mirror     *mirrorsync.Session // nil when running without a mirror link
	metrics    *monitoring.MetricsCollector
	backoff    BackoffPolicy

	onMeasurement []func(domain.Measurement)

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Deps bundles every already-constructed component the orchestrator wires
// together; New does not construct any of them so callers keep control over
// each component's own configuration (§6's per-component options).
type Deps struct {
	Hasher     *forensic.Hasher
	Storage    domain.Storage
	Filter     *bayesian.Filter
	Kriging    *kriging.Engine
	Irrigation *irrigation.Engine
	Dispatcher *valve.Dispatcher
	Probes     ProbeSource
	Trends     TrendSource // nil defaults to NoTrendSource
	Mirror     *mirrorsync.Session
	Metrics    *monitoring.MetricsCollector // nil defaults to a fresh collector
}

// New constructs an Orchestrator in its cold (not-yet-started) state. Start
// performs the actual cold-start sequencing of §4.10a.
func New(cfg Config, topology Topology, deps Deps, log zerolog.Logger) (*Orchestrator, error) {
	if deps.Hasher == nil || deps.Storage == nil || deps.Filter == nil ||
		deps.Kriging == nil || deps.Irrigation == nil || deps.Dispatcher == nil {
		return nil, fmt.Errorf("orchestrator: forensic hasher, storage, filter, kriging, irrigation, and dispatcher are all required")
	}
	if deps.Probes == nil {
		return nil, fmt.Errorf("orchestrator: a ProbeSource is required")
	}
	if deps.Trends == nil {
		deps.Trends = NoTrendSource{}
	}
	if deps.Metrics == nil {
		deps.Metrics = monitoring.NewMetricsCollector()
	}

	return &Orchestrator{
		cfg:        cfg.withDefaults(),
		topology:   topology,
		log:        log.With().Str("component", "orchestrator").Logger(),
		hasher:     deps.Hasher,
		storage:    deps.Storage,
		filter:     deps.Filter,
		kriging:    deps.Kriging,
		irrigation: deps.Irrigation,
		dispatcher: deps.Dispatcher,
		probes:     deps.Probes,
		trends:     deps.Trends,
		mirror:     deps.Mirror,
		metrics:    deps.Metrics,
		backoff:    DefaultBackoffPolicy(),
	}, nil
}

// OnMeasurement registers a push callback for every chained measurement
// (§6 "Consumers": subscription/broadcast of live measurements is a push
// callback registered on J). Must be called before Start.
func (o *Orchestrator) OnMeasurement(fn func(domain.Measurement)) {
	o.onMeasurement = append(o.onMeasurement, fn)
}

// Status returns a read-only snapshot of accumulated cycle/dispatch/sync
// statistics (§10 "Engine statistics"), grounded on FarmSenseEngine.get_status.
func (o *Orchestrator) Status() *monitoring.MetricsSummary {
	return o.metrics.GetSummary()
}

// Start performs the cold-start sequencing of §4.10a and then launches the
// three cycles as goroutines. It returns an error without starting any
// cycle if any stage fails, leaving no partially-initialized running state.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return fmt.Errorf("orchestrator: already started")
	}

	if err := o.coldStart(ctx); err != nil {
		return fmt.Errorf("orchestrator: cold start: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.running = true

	o.wg.Add(3)
	go o.runMeasurementCycle(runCtx)
	go o.runGridCycle(runCtx)
	go o.runSyncCycle(runCtx)

	o.log.Info().
		Dur("measurement_interval", o.cfg.MeasurementInterval).
		Dur("grid_interval", o.cfg.GridInterval).
		Dur("sync_interval", o.cfg.SyncInterval).
		Msg("orchestrator started")
	return nil
}

// coldStart replays persisted valve state and logs the one audit event
// every later failure mode depends on having been recorded: the rest of
// the system must never run unaudited (§4.10a).
func (o *Orchestrator) coldStart(ctx context.Context) error {
	states, err := o.storage.LoadValveStates(ctx)
	if err != nil {
		return fmt.Errorf("load persisted valve states: %w", err)
	}
	for _, s := range states {
		o.dispatcher.Register(domain.ReconstructValve(s.ValveID, s.ZoneID, s.State))
	}

	sensorCount := 0
	fieldIDs := make([]string, 0, len(o.topology.Fields))
	for _, f := range o.topology.Fields {
		sensorCount += len(f.Sensors)
		fieldIDs = append(fieldIDs, f.ID)
	}

	event := domain.NewAuditEvent(domain.AuditEngineInitialized, "system", map[string]any{
		"hub_id":       o.cfg.HubID,
		"fields":       fieldIDs,
		"sensor_count": sensorCount,
	}, time.Now().UTC())
	if _, err := o.storage.Audit().Append(ctx, event); err != nil {
		return fmt.Errorf("log engine_initialized: %w", err)
	}
	return nil
}

// Stop cancels every running cycle and waits for them to exit, logging the
// shutdown audit event the reference's shutdown() writes unconditionally.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.cancel()
	o.running = false
	o.mu.Unlock()

	o.wg.Wait()

	summary := o.metrics.GetSummary()
	event := domain.NewAuditEvent(domain.AuditEngineShutdown, "system", map[string]any{
		"hub_id":       o.cfg.HubID,
		"total_cycles": summary.TotalCycles,
	}, time.Now().UTC())
	_, err := o.storage.Audit().Append(ctx, event)
	return err
}

// runMeasurementCycle drives the 15-minute (default) measurement cycle:
// read probes, chain via A, write to B, run E, push to I, per §4.10.
func (o *Orchestrator) runMeasurementCycle(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.MeasurementInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.tickMeasurement(ctx)
		}
	}
}

func (o *Orchestrator) tickMeasurement(ctx context.Context) {
	start := time.Now()
	trace := monitoring.NewCycleTrace(fmt.Sprintf("measurement-%d", start.UnixNano()), o.topology.HubFieldID)
	trace.Record("measurement", "", "cycle started", nil, nil)

	var wg sync.WaitGroup
	for _, field := range o.topology.Fields {
		wg.Add(1)
		go func(f Field) {
			defer wg.Done()
			if err := o.processFieldMeasurements(ctx, f, trace); err != nil {
				o.log.Error().Err(err).Str("field_id", f.ID).Msg("measurement cycle failed for field")
				trace.Record("measurement", f.ID, "field failed", nil, err)
			}
		}(field)
	}
	wg.Wait()

	success := !trace.HasErrors()
	o.metrics.RecordFieldCycle(o.topology.HubFieldID, time.Since(start), success)
	trace.Record("measurement", "", "cycle completed", map[string]any{"duration": time.Since(start)}, nil)
}

// processFieldMeasurements reads one field's probes, chains and stores each
// reading, runs the Bayesian filter, and pushes to the mirror, following
// _collect_and_process_measurements/_run_bayesian_update.
func (o *Orchestrator) processFieldMeasurements(ctx context.Context, f Field, trace *monitoring.CycleTrace) error {
	var readings []RawReading
	err := o.backoff.Retry(ctx, func(ctx context.Context) error {
		r, err := o.probes.ReadField(ctx, f)
		if err != nil {
			return domainerrors.New(domainerrors.Transient, "read probes", err)
		}
		readings = r
		return nil
	})
	if err != nil {
		return fmt.Errorf("read probes for field %s: %w", f.ID, err)
	}

	sensorByID := make(map[string]domain.Sensor, len(f.Sensors))
	for _, s := range f.Sensors {
		sensorByID[s.ID] = s
	}

	now := time.Now().UTC()
	for _, r := range readings {
		sensor, ok := sensorByID[r.SensorID]
		if !ok {
			continue
		}

		prevHash, err := o.storage.LastHash(ctx, r.SensorID)
		if err != nil {
			return fmt.Errorf("last hash for sensor %s: %w", r.SensorID, err)
		}

		m := domain.Measurement{
			SensorID:      r.SensorID,
			Depth:         r.Depth,
			Timestamp:     now,
			VWC:           r.VWC,
			Temperature:   r.Temperature,
			Potential:     r.Potential,
			SignalQuality: r.SignalQuality,
			PreviousHash:  prevHash,
		}
		ownHash, err := o.hasher.ChainHash(prevHash, m)
		if err != nil {
			return fmt.Errorf("chain measurement for sensor %s: %w", r.SensorID, err)
		}
		m.OwnHash = ownHash

		stored, err := o.storage.Append(ctx, m)
		var de *domainerrors.DomainError
		if err != nil && !(errors.As(err, &de) && de.Kind == domainerrors.AlreadyStored) {
			return fmt.Errorf("append measurement for sensor %s: %w", r.SensorID, err)
		}

		trace.Record("measurement", sensor.ID, "chained", map[string]any{"depth": r.Depth}, nil)
		o.runFilterUpdate(sensor, stored)
		if err := o.storage.SaveZoneParameters(ctx, o.filter.ParametersFor(sensor.ZoneID)); err != nil {
			o.log.Warn().Err(err).Str("zone_id", sensor.ZoneID).Msg("persist zone parameters failed")
		}

		for _, cb := range o.onMeasurement {
			cb(stored)
		}
		if o.mirror != nil {
			if err := o.mirror.PushMeasurement(stored.OwnHash, stored); err != nil {
				o.log.Warn().Err(err).Str("sensor_id", sensor.ID).Msg("mirror push failed")
			}
		}
	}
	return nil
}

// runFilterUpdate runs one Predict/Update pair for a stored measurement,
// following _run_bayesian_update's per-reading residual check.
func (o *Orchestrator) runFilterUpdate(sensor domain.Sensor, m domain.Measurement) {
	predicted := o.filter.Predict(sensor.ZoneID, sensor.Latitude, sensor.Longitude, m.Depth, o.cfg.ETRateMMPerDay, o.cfg.MeasurementInterval.Hours())
	o.filter.Update(sensor.ZoneID, sensor.ID, m.Depth, m.VWC, predicted.VWC)
}

// runGridCycle drives the grid cycle: pull a recent window from B, call F
// per field, write to C, decide per zone via G, dispatch via H, per §4.10.
// It is started with the same ticker period as the measurement cycle but
// offset by half the interval, per §4.10's "offset by half interval".
func (o *Orchestrator) runGridCycle(ctx context.Context) {
	defer o.wg.Done()

	select {
	case <-ctx.Done():
		return
	case <-time.After(o.cfg.GridInterval / 2):
	}

	ticker := time.NewTicker(o.cfg.GridInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.tickGrid(ctx)
		}
	}
}

func (o *Orchestrator) tickGrid(ctx context.Context) {
	start := time.Now()
	cycleCtx, cancel := context.WithTimeout(ctx, o.cfg.GridCycleDeadline)
	defer cancel()

	trace := monitoring.NewCycleTrace(fmt.Sprintf("grid-%d", start.UnixNano()), o.topology.HubFieldID)
	trace.Record("grid", "", "cycle started", nil, nil)
	o.dispatcher.SweepExpired(ctx, start)

	var wg sync.WaitGroup
	for _, field := range o.topology.Fields {
		wg.Add(1)
		go func(f Field) {
			defer wg.Done()
			if err := o.processFieldGrid(cycleCtx, f, trace); err != nil {
				var de *domainerrors.DomainError
				if errors.As(err, &de) && de.Kind == domainerrors.Cancelled {
					o.log.Warn().Str("field_id", f.ID).Msg("grid cycle missed its soft deadline, skipping")
					return
				}
				o.log.Error().Err(err).Str("field_id", f.ID).Msg("grid cycle failed for field")
				trace.Record("grid", f.ID, "field failed", nil, err)
			}
		}(field)
	}
	wg.Wait()

	trace.Record("grid", "", "cycle completed", map[string]any{"duration": time.Since(start)}, nil)
}

// fieldDepths collects the distinct installed sensor depths present across
// a field, so a grid cycle krigings every depth a field actually reports at
// rather than a single configured depth — §3a installs sensors as deep as
// 42-60in specifically so the deep-percolation interlock (§4.7a) has cells
// to evaluate at those depths.
func fieldDepths(f Field) []int {
	seen := map[int]bool{}
	var depths []int
	for _, s := range f.Sensors {
		for _, d := range s.InstalledDepths {
			if !seen[d] {
				seen[d] = true
				depths = append(depths, d)
			}
		}
	}
	return depths
}

// processFieldGrid runs the kriging engine and irrigation decision engine
// for one field's zones, mirroring _generate_all_grids/_make_vri_decision.
// It krigings one grid per distinct installed sensor depth and merges their
// cells into a single stored snapshot, so a zone's decision sees both its
// shallow moisture cells and any deep cells an interlock check needs.
func (o *Orchestrator) processFieldGrid(ctx context.Context, f Field, trace *monitoring.CycleTrace) error {
	window := 2 * o.cfg.MeasurementInterval
	to := time.Now().UTC()
	from := to.Add(-window)

	depths := fieldDepths(f)
	if len(depths) == 0 {
		return nil
	}

	trend := o.trends.TrendFor(ctx, f.ID)
	var allCells []domain.GridCell
	for _, depth := range depths {
		probesBySensor := map[string]kriging.Probe{}
		for _, s := range f.Sensors {
			if !s.HasDepth(depth) {
				continue
			}
			recent, err := o.storage.Range(ctx, s.ID, from, to, 0)
			if err != nil {
				return domainerrors.New(domainerrors.Transient, "range query", err)
			}
			for _, m := range recent {
				if m.Depth != depth {
					continue
				}
				probesBySensor[s.ID] = kriging.Probe{SensorID: s.ID, Latitude: s.Latitude, Longitude: s.Longitude, VWC: m.VWC}
			}
			if ctx.Err() != nil {
				return domainerrors.New(domainerrors.Cancelled, "grid cycle deadline", ctx.Err())
			}
		}
		if len(probesBySensor) == 0 {
			continue
		}

		probes := make([]kriging.Probe, 0, len(probesBySensor))
		for _, p := range probesBySensor {
			probes = append(probes, p)
		}

		grid := o.kriging.GenerateGrid(f.ID, f.Bounds, probes, trend, depth, to)
		allCells = append(allCells, grid.Cells...)
	}
	if len(allCells) == 0 {
		return nil
	}

	if err := o.storage.PutGrid(ctx, f.ID, to, allCells); err != nil {
		return domainerrors.New(domainerrors.Transient, "put grid", err)
	}
	trace.Record("grid", "kriging", "grid stored", map[string]any{"cells": len(allCells)}, nil)

	merged := domain.Grid{FieldID: f.ID, Timestamp: to, Cells: allCells}
	for _, zone := range f.Zones {
		if err := o.decideAndDispatch(ctx, zone, merged, trace); err != nil {
			return err
		}
	}
	return nil
}

// decideAndDispatch evaluates one zone's irrigation decision and, if
// fireable, opens every valve assigned to the zone, per §4.7/§4.8. A
// deep-percolation-risk decision trips the interlock across the zone
// instead, per §4.7a's interlock precedence over any duration recommendation.
func (o *Orchestrator) decideAndDispatch(ctx context.Context, zone Zone, grid domain.Grid, trace *monitoring.CycleTrace) error {
	var cells []domain.GridCell
	for _, c := range grid.Cells {
		if zone.Contains(c.Latitude, c.Longitude) {
			cells = append(cells, c)
		}
	}
	if len(cells) == 0 {
		return nil
	}

	soil := o.filter.ParametersFor(zone.ID)
	decision := o.irrigation.Evaluate(zone.ID, cells, soil, zone.CropTag, grid.Timestamp)
	trace.Record("decision", "interlock", string(decision.Status), map[string]any{"zone_id": zone.ID}, nil)

	if decision.Status == domain.DecisionDeepPercolationRisk {
		details := irrigation.DeepPercolationDetails(zone.ID, cells, 0)
		if _, err := o.dispatcher.TripDeepPercolationInterlock(ctx, zone.ID, details); err != nil {
			return fmt.Errorf("trip deep percolation interlock for zone %s: %w", zone.ID, err)
		}
		event := domain.NewAuditEvent(domain.AuditDeepPercolationAlert, "system", details, grid.Timestamp)
		if _, err := o.storage.Audit().Append(ctx, event); err != nil {
			return fmt.Errorf("log deep_percolation_alert for zone %s: %w", zone.ID, err)
		}
		return nil
	}

	if !decision.Fireable() {
		return nil
	}
	for _, valveID := range zone.ValveIDs {
		dispatchStart := time.Now()
		outcome, err := o.dispatcher.Open(ctx, valveID, time.Duration(decision.DurationMinutes)*time.Minute)
		o.metrics.RecordValveDispatch(valveID, zone.ID, time.Since(dispatchStart), err == nil && outcome == valve.Acked, false)
		if err != nil {
			o.log.Error().Err(err).Str("valve_id", valveID).Msg("valve dispatch failed")
		}
	}
	return nil
}

// runSyncCycle drives the 30-second (default) state-push cycle, mirroring
// _cloud_sync_loop's snapshot-and-push loop.
func (o *Orchestrator) runSyncCycle(ctx context.Context) {
	defer o.wg.Done()
	if o.mirror == nil {
		return
	}

	ticker := time.NewTicker(o.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.tickSync(ctx)
		}
	}
}

func (o *Orchestrator) tickSync(ctx context.Context) {
	snapshot, err := o.buildSnapshot(ctx)
	if err != nil {
		o.log.Warn().Err(err).Msg("sync snapshot build failed")
		return
	}
	if err := o.mirror.PushStateSync(snapshot); err != nil {
		o.log.Warn().Err(err).Msg("sync push failed")
	}
}

func (o *Orchestrator) buildSnapshot(ctx context.Context) (domain.SystemStateSnapshot, error) {
	zoneParams := map[string]domain.SoilParameters{}
	for _, f := range o.topology.Fields {
		for _, z := range f.Zones {
			zoneParams[z.ID] = o.filter.ParametersFor(z.ID)
		}
	}

	lastHash, err := o.storage.LastHash(ctx, "")
	if err != nil {
		return domain.SystemStateSnapshot{}, fmt.Errorf("last hash: %w", err)
	}

	return domain.SystemStateSnapshot{
		Timestamp:           time.Now().UTC(),
		ZoneParameters:      zoneParams,
		LastMeasurementHash: lastHash,
		GridMerkleRoot:      "",
	}, nil
}
