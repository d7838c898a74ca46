package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/farmsense/hub"
	"github.com/farmsense/hub/internal/bayesian"
	"github.com/farmsense/hub/internal/domain"
	"github.com/farmsense/hub/internal/forensic"
	"github.com/farmsense/hub/internal/infrastructure/config"
	"github.com/farmsense/hub/internal/infrastructure/logger"
	"github.com/farmsense/hub/internal/infrastructure/monitoring"
	"github.com/farmsense/hub/internal/infrastructure/storage"
	"github.com/farmsense/hub/internal/irrigation"
	"github.com/farmsense/hub/internal/kriging"
	"github.com/farmsense/hub/internal/orchestrator"
	mirrorsync "github.com/farmsense/hub/internal/sync"
	"github.com/farmsense/hub/internal/valve"
)

func main() {
	topologyPath := flag.String("topology", "", "Path to the hub's sensor/field/zone topology JSON file (overrides HUB_TOPOLOGY_FILE)")
	valveBaseURL := flag.String("valve-base-url", "", "Base URL of the valve controller HTTP endpoint (overrides HUB_VALVE_BASE_URL)")
	gatewayBaseURL := flag.String("gateway-base-url", "", "Base URL of the sensor gateway HTTP endpoint (overrides HUB_GATEWAY_BASE_URL); omit to run against simulated probes")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.Setup(cfg.LogLevel)
	log.Info().Str("hub_id", cfg.HubID).Str("hub_field_id", cfg.HubFieldID).Msg("starting farmsense hub")

	if *topologyPath == "" {
		*topologyPath = os.Getenv("HUB_TOPOLOGY_FILE")
	}
	if *topologyPath == "" {
		log.Fatal().Msg("a topology file is required: pass -topology or set HUB_TOPOLOGY_FILE")
	}
	topology, err := config.LoadTopology(*topologyPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load topology")
	}

	hasher := forensic.NewHasher(cfg.SigningKey)

	store := storage.NewBunStore(cfg.DatabaseDSN, hasher)
	ctx := context.Background()
	if err := store.InitSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database schema")
	}

	filter := bayesian.NewFilter(bayesian.Config{
		LearningRate:    cfg.LearningRate,
		UpdateThreshold: cfg.UpdateThreshold,
	})
	if persisted, err := store.LoadAllZoneParameters(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to load persisted zone parameters, starting from priors")
	} else if len(persisted) > 0 {
		state := make(map[string]domain.SoilParameters, len(persisted))
		for _, p := range persisted {
			state[p.ZoneID] = p
		}
		filter.ImportState(state)
	}

	krigeEngine := kriging.NewEngine(kriging.Config{
		Variogram: kriging.Variogram{
			Nugget: cfg.VariogramNugget,
			Sill:   cfg.VariogramSill,
			RangeM: cfg.VariogramRangeM,
		},
		TrendWeight:     cfg.TrendWeight,
		GridResolutionM: cfg.GridResolutionM,
		MaxCells:        cfg.GridMaxCells,
	})

	modifiers := irrigation.MustDefaultCropModifierTable()
	irrEngine := irrigation.NewEngine(irrigation.Config{
		DeepPercolationThreshold: cfg.DeepPercolationThreshold,
	}, modifiers)

	if *valveBaseURL == "" {
		*valveBaseURL = os.Getenv("HUB_VALVE_BASE_URL")
	}
	var transport valve.Transport
	if *valveBaseURL != "" {
		transport = valve.NewHTTPTransport(*valveBaseURL)
	} else {
		transport = valve.NewHTTPTransport("http://localhost:9200")
	}

	dispatcher := valve.NewDispatcher(transport, store.Audit(), valve.Config{
		CommandDeadline:      cfg.ValveTimeout,
		CircuitBreakerConfig: valve.DefaultCircuitBreakerConfig(),
	})
	// Register every topology valve closed by default; Hub.Start's cold-start
	// sequencing re-registers any valve with persisted state over top of this.
	for _, field := range topology.Fields {
		for _, zone := range field.Zones {
			for _, valveID := range zone.ValveIDs {
				dispatcher.Register(domain.NewValve(valveID, zone.ID))
			}
		}
	}

	var mirror *mirrorsync.Session
	if cfg.MirrorEndpoint != "" {
		conn, err := mirrorsync.DialMirror(ctx, cfg.MirrorEndpoint, cfg.MirrorAPIKey, cfg.HubID)
		if err != nil {
			log.Warn().Err(err).Msg("failed to dial mirror link, continuing without sync")
		} else {
			mirror = mirrorsync.NewSession(conn, mirrorsync.Config{
				HubID:             cfg.HubID,
				HeartbeatInterval: cfg.HeartbeatInterval,
				FailoverTimeout:   cfg.FailoverTimeout,
			})
		}
	}

	if *gatewayBaseURL == "" {
		*gatewayBaseURL = os.Getenv("HUB_GATEWAY_BASE_URL")
	}
	var probes orchestrator.ProbeSource
	if *gatewayBaseURL != "" {
		probes = newHTTPProbeSource(*gatewayBaseURL)
	} else {
		log.Warn().Msg("no gateway configured, running against simulated probe readings")
		probes = newSimulatedProbeSource(1)
	}

	metrics := monitoring.NewMetricsCollector()

	h, err := hub.New(hub.Config{
		HubID:               cfg.HubID,
		MeasurementInterval: cfg.MeasurementInterval,
		GridInterval:        cfg.GridInterval,
		SyncInterval:        cfg.SyncInterval,
		GridCycleDeadline:   5 * time.Second,
	}, topology, hub.Deps{
		Hasher:     hasher,
		Storage:    store,
		Filter:     filter,
		Kriging:    krigeEngine,
		Irrigation: irrEngine,
		Dispatcher: dispatcher,
		Probes:     probes,
		Mirror:     mirror,
		Metrics:    metrics,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct hub")
	}

	if err := h.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start hub")
	}
	log.Info().Msg("hub started")

	var metricsPersistence *monitoring.MetricsPersistence
	if cfg.MetricsSnapshotDir != "" {
		metricsPersistence = monitoring.NewMetricsPersistence(metrics, cfg.MetricsSnapshotDir, cfg.MetricsSnapshotInterval)
		metricsPersistence.Start()
		log.Info().Str("dir", cfg.MetricsSnapshotDir).Dur("interval", cfg.MetricsSnapshotInterval).Msg("periodic metrics snapshot enabled")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down hub...")
	if metricsPersistence != nil {
		metricsPersistence.Stop()
		if _, err := metricsPersistence.SaveNow(); err != nil {
			log.Warn().Err(err).Msg("failed to save final metrics snapshot")
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("hub forced to shutdown")
		os.Exit(1)
	}
	log.Info().Msg("hub exited gracefully")
}
