package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmsense/hub/internal/bayesian"
	"github.com/farmsense/hub/internal/domain"
	"github.com/farmsense/hub/internal/forensic"
	"github.com/farmsense/hub/internal/irrigation"
	"github.com/farmsense/hub/internal/kriging"
	"github.com/farmsense/hub/internal/valve"
)

type fakeProbeSource struct {
	readings map[string][]RawReading
}

func (f *fakeProbeSource) ReadField(ctx context.Context, field Field) ([]RawReading, error) {
	return f.readings[field.ID], nil
}

type fakeTransport struct{}

func (fakeTransport) Open(ctx context.Context, valveID string, duration time.Duration) (valve.CommandOutcome, error) {
	return valve.Acked, nil
}

func (fakeTransport) Close(ctx context.Context, valveID string) (valve.CommandOutcome, error) {
	return valve.Acked, nil
}

func testTopology() Topology {
	zone := Zone{
		ID:      "zone-1",
		FieldID: "field-1",
		Bounds: kriging.Bounds{
			MinLat: 36.00, MaxLat: 36.02,
			MinLon: -120.02, MaxLon: -120.00,
		},
		CropTag:  "almonds",
		ValveIDs: []string{"valve-1"},
	}
	field := Field{
		ID: "field-1",
		Bounds: kriging.Bounds{
			MinLat: 36.00, MaxLat: 36.02,
			MinLon: -120.02, MaxLon: -120.00,
		},
		Sensors: []domain.Sensor{
			domain.NewSensor("sensor-1", domain.SensorKindSurfaceBlanket2Depth, "field-1", "zone-1", 36.005, -120.015, []int{18}),
			domain.NewSensor("sensor-2", domain.SensorKindSurfaceBlanket2Depth, "field-1", "zone-1", 36.015, -120.005, []int{18}),
			domain.NewSensor("sensor-3", domain.SensorKindVerticalLarge7Depth, "field-1", "zone-1", 36.010, -120.010, []int{18}),
		},
		Zones: []Zone{zone},
	}
	return Topology{HubFieldID: "field-1", Fields: []Field{field}}
}

func newTestOrchestrator(t *testing.T, probes ProbeSource) (*Orchestrator, *fakeStorage, *valve.Dispatcher) {
	t.Helper()

	storage := newFakeStorage()
	hasher := forensic.NewHasher("test-signing-key")
	filter := bayesian.NewFilter(bayesian.Config{})
	krige := kriging.NewEngine(kriging.Config{})
	modifiers, err := irrigation.NewCropModifierTable(map[string]float64{"almonds": 1.0})
	require.NoError(t, err)
	irrEngine := irrigation.NewEngine(irrigation.Config{}, modifiers)

	dispatcher := valve.NewDispatcher(fakeTransport{}, storage.Audit(), valve.Config{CommandDeadline: 50 * time.Millisecond})
	dispatcher.Register(domain.NewValve("valve-1", "zone-1"))

	orch, err := New(Config{
		HubID:               "hub-test",
		MeasurementInterval: 20 * time.Millisecond,
		GridInterval:        20 * time.Millisecond,
		SyncInterval:        20 * time.Millisecond,
		GridCycleDeadline:   time.Second,
	}, testTopology(), Deps{
		Hasher:     hasher,
		Storage:    storage,
		Filter:     filter,
		Kriging:    krige,
		Irrigation: irrEngine,
		Dispatcher: dispatcher,
		Probes:     probes,
	}, zerolog.Nop())
	require.NoError(t, err)

	return orch, storage, dispatcher
}

func TestNew_RequiresCoreDependencies(t *testing.T) {
	_, err := New(Config{}, Topology{}, Deps{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestStart_LogsEngineInitialized(t *testing.T) {
	orch, storage, _ := newTestOrchestrator(t, &fakeProbeSource{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, orch.Start(ctx))
	defer orch.Stop(context.Background())

	events, err := storage.Audit().Query(ctx, domain.AuditEngineInitialized, "", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestStart_FailsAtomicallyWithoutProbeSource(t *testing.T) {
	storage := newFakeStorage()
	hasher := forensic.NewHasher("test-signing-key")
	filter := bayesian.NewFilter(bayesian.Config{})
	krige := kriging.NewEngine(kriging.Config{})
	modifiers, err := irrigation.NewCropModifierTable(nil)
	require.NoError(t, err)
	irrEngine := irrigation.NewEngine(irrigation.Config{}, modifiers)
	dispatcher := valve.NewDispatcher(fakeTransport{}, storage.Audit(), valve.Config{})

	_, err = New(Config{}, Topology{}, Deps{
		Hasher:     hasher,
		Storage:    storage,
		Filter:     filter,
		Kriging:    krige,
		Irrigation: irrEngine,
		Dispatcher: dispatcher,
	}, zerolog.Nop())
	require.Error(t, err)
}

func TestTickMeasurement_ChainsAndStoresReadings(t *testing.T) {
	orch, storage, _ := newTestOrchestrator(t, &fakeProbeSource{
		readings: map[string][]RawReading{
			"field-1": {
				{SensorID: "sensor-1", Depth: 18, VWC: 0.22, SignalQuality: 0.9},
				{SensorID: "sensor-2", Depth: 18, VWC: 0.24, SignalQuality: 0.9},
			},
		},
	})

	ctx := context.Background()
	require.NoError(t, orch.coldStart(ctx))
	orch.tickMeasurement(ctx)

	stored, err := storage.Range(ctx, "", time.Time{}, time.Now().Add(time.Hour), 0)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
	for _, m := range stored {
		assert.NotEmpty(t, m.OwnHash)
		assert.Equal(t, domain.GenesisHash, m.PreviousHash)
	}
}

func TestTickMeasurement_InvokesRegisteredCallback(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t, &fakeProbeSource{
		readings: map[string][]RawReading{
			"field-1": {{SensorID: "sensor-1", Depth: 18, VWC: 0.22}},
		},
	})

	var received []domain.Measurement
	orch.OnMeasurement(func(m domain.Measurement) {
		received = append(received, m)
	})

	ctx := context.Background()
	require.NoError(t, orch.coldStart(ctx))
	orch.tickMeasurement(ctx)

	assert.Len(t, received, 1)
	assert.Equal(t, "sensor-1", received[0].SensorID)
}

func TestTickGrid_StoresGridAndSkipsEmptyField(t *testing.T) {
	orch, storage, _ := newTestOrchestrator(t, &fakeProbeSource{})

	ctx := context.Background()
	require.NoError(t, orch.coldStart(ctx))

	now := time.Now().UTC()
	for _, s := range []string{"sensor-1", "sensor-2"} {
		_, err := storage.Append(ctx, domain.Measurement{
			SensorID:  s,
			Depth:     18,
			Timestamp: now,
			VWC:       0.2,
			OwnHash:   "hash-" + s,
		})
		require.NoError(t, err)
	}

	orch.tickGrid(ctx)

	cells, err := storage.GetLatest(ctx, "field-1", 18)
	require.NoError(t, err)
	assert.NotEmpty(t, cells)
}

func TestTickGrid_TripsDeepPercolationInterlock_WhenDeepCellExceedsThreshold(t *testing.T) {
	zone := Zone{
		ID:      "zone-1",
		FieldID: "field-1",
		Bounds: kriging.Bounds{
			MinLat: 36.00, MaxLat: 36.02,
			MinLon: -120.02, MaxLon: -120.00,
		},
		CropTag:  "almonds",
		ValveIDs: []string{"valve-1"},
	}
	field := Field{
		ID: "field-1",
		Bounds: kriging.Bounds{
			MinLat: 36.00, MaxLat: 36.02,
			MinLon: -120.02, MaxLon: -120.00,
		},
		Sensors: []domain.Sensor{
			domain.NewSensor("sensor-1", domain.SensorKindSurfaceBlanket2Depth, "field-1", "zone-1", 36.005, -120.015, []int{18}),
			domain.NewSensor("sensor-2", domain.SensorKindVerticalLarge7Depth, "field-1", "zone-1", 36.015, -120.005, []int{42}),
		},
		Zones: []Zone{zone},
	}
	topology := Topology{HubFieldID: "field-1", Fields: []Field{field}}

	storage := newFakeStorage()
	hasher := forensic.NewHasher("test-signing-key")
	filter := bayesian.NewFilter(bayesian.Config{})
	krige := kriging.NewEngine(kriging.Config{})
	modifiers, err := irrigation.NewCropModifierTable(map[string]float64{"almonds": 1.0})
	require.NoError(t, err)
	irrEngine := irrigation.NewEngine(irrigation.Config{DeepPercolationThreshold: 0.42}, modifiers)

	dispatcher := valve.NewDispatcher(fakeTransport{}, storage.Audit(), valve.Config{CommandDeadline: 50 * time.Millisecond})
	dispatcher.Register(domain.NewValve("valve-1", "zone-1"))

	orch, err := New(Config{
		HubID:               "hub-test",
		MeasurementInterval: 20 * time.Millisecond,
		GridInterval:        20 * time.Millisecond,
		SyncInterval:        20 * time.Millisecond,
		GridCycleDeadline:   time.Second,
	}, topology, Deps{
		Hasher:     hasher,
		Storage:    storage,
		Filter:     filter,
		Kriging:    krige,
		Irrigation: irrEngine,
		Dispatcher: dispatcher,
		Probes:     &fakeProbeSource{},
	}, zerolog.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, orch.coldStart(ctx))

	now := time.Now().UTC()
	_, err = storage.Append(ctx, domain.Measurement{
		SensorID: "sensor-1", Depth: 18, Timestamp: now, VWC: 0.2, OwnHash: "hash-sensor-1",
	})
	require.NoError(t, err)
	_, err = storage.Append(ctx, domain.Measurement{
		SensorID: "sensor-2", Depth: 42, Timestamp: now, VWC: 0.5, OwnHash: "hash-sensor-2",
	})
	require.NoError(t, err)

	orch.tickGrid(ctx)

	deepCells, err := storage.GetLatest(ctx, "field-1", 42)
	require.NoError(t, err)
	assert.NotEmpty(t, deepCells, "the 42in grid must be stored alongside the 18in grid")

	events, err := storage.Audit().Query(ctx, domain.AuditDeepPercolationAlert, "", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.NotEmpty(t, events, "deep percolation interlock must trip and audit")
}

func TestStop_IsIdempotentWithoutStart(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t, &fakeProbeSource{})
	assert.NoError(t, orch.Stop(context.Background()))
}

func TestStatus_ReflectsCompletedMeasurementCycles(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t, &fakeProbeSource{
		readings: map[string][]RawReading{
			"field-1": {{SensorID: "sensor-1", Depth: 18, VWC: 0.22}},
		},
	})

	ctx := context.Background()
	require.NoError(t, orch.coldStart(ctx))
	orch.tickMeasurement(ctx)

	summary := orch.Status()
	require.NotNil(t, summary)
	assert.GreaterOrEqual(t, summary.TotalCycles, 1)
}
