package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the hub's runtime configuration (§6). It is loaded once at
// startup from environment variables and passed to the orchestrator at
// construction — no package-level mutable configuration.
type Config struct {
	// Ambient identity and connectivity (§6, "ambient additions").
	HubID          string
	HubFieldID     string
	SpokeFieldIDs  []string
	DatabaseDSN    string
	MirrorEndpoint string
	MirrorAPIKey   string
	LogLevel       string
	SigningKey     string

	// Behavioral options (§6, enumerated table).
	MeasurementInterval      time.Duration
	GridInterval             time.Duration
	SyncInterval             time.Duration
	HeartbeatInterval        time.Duration
	FailoverTimeout          time.Duration
	ValveTimeout             time.Duration
	RetentionMonths          int
	LearningRate             float64
	UpdateThreshold          float64
	VariogramNugget          float64
	VariogramSill            float64
	VariogramRangeM          float64
	TrendWeight              float64
	GridResolutionM          float64
	GridMaxCells             int
	DeepPercolationThreshold float64

	// Operator diagnostics: periodic metrics-snapshot dump to disk. An empty
	// directory disables it.
	MetricsSnapshotDir      string
	MetricsSnapshotInterval time.Duration
}

// Load builds a Config from environment variables, applying the defaults
// named throughout SPEC_FULL.md §6.
func Load() (*Config, error) {
	cfg := &Config{
		HubID:          getEnv("HUB_ID", ""),
		HubFieldID:     getEnv("HUB_FIELD_ID", ""),
		SpokeFieldIDs:  getEnvList("HUB_SPOKE_FIELD_IDS", nil),
		DatabaseDSN:    getEnv("HUB_DATABASE_DSN", ""),
		MirrorEndpoint: getEnv("HUB_MIRROR_ENDPOINT", ""),
		MirrorAPIKey:   getEnv("HUB_MIRROR_API_KEY", ""),
		LogLevel:       getEnv("HUB_LOG_LEVEL", "info"),
		SigningKey:     getEnv("HUB_SIGNING_KEY", ""),
	}

	var err error
	if cfg.MeasurementInterval, err = getEnvDuration("HUB_MEASUREMENT_INTERVAL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.GridInterval, err = getEnvDuration("HUB_GRID_INTERVAL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SyncInterval, err = getEnvDuration("HUB_SYNC_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.HeartbeatInterval, err = getEnvDuration("HUB_HEARTBEAT_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.FailoverTimeout, err = getEnvDuration("HUB_FAILOVER_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.ValveTimeout, err = getEnvDuration("HUB_VALVE_TIMEOUT", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.RetentionMonths, err = getEnvInt("HUB_RETENTION_MONTHS", 24); err != nil {
		return nil, err
	}
	if cfg.LearningRate, err = getEnvFloat("HUB_LEARNING_RATE", 0.05); err != nil {
		return nil, err
	}
	if cfg.UpdateThreshold, err = getEnvFloat("HUB_UPDATE_THRESHOLD", 0.03); err != nil {
		return nil, err
	}
	if cfg.VariogramNugget, err = getEnvFloat("HUB_VARIOGRAM_NUGGET", 0.001); err != nil {
		return nil, err
	}
	if cfg.VariogramSill, err = getEnvFloat("HUB_VARIOGRAM_SILL", 0.05); err != nil {
		return nil, err
	}
	if cfg.VariogramRangeM, err = getEnvFloat("HUB_VARIOGRAM_RANGE_M", 150); err != nil {
		return nil, err
	}
	if cfg.TrendWeight, err = getEnvFloat("HUB_TREND_WEIGHT", 0.3); err != nil {
		return nil, err
	}
	if cfg.GridResolutionM, err = getEnvFloat("HUB_GRID_RESOLUTION_M", 1); err != nil {
		return nil, err
	}
	if cfg.GridMaxCells, err = getEnvInt("HUB_GRID_MAX_CELLS", 10_000); err != nil {
		return nil, err
	}
	if cfg.DeepPercolationThreshold, err = getEnvFloat("HUB_DEEP_PERCOLATION_THRESHOLD", 0.42); err != nil {
		return nil, err
	}
	cfg.MetricsSnapshotDir = getEnv("HUB_METRICS_SNAPSHOT_DIR", "")
	if cfg.MetricsSnapshotInterval, err = getEnvDuration("HUB_METRICS_SNAPSHOT_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects a configuration that cannot construct a runnable hub.
func (c *Config) Validate() error {
	if c.HubID == "" {
		return fmt.Errorf("config: HUB_ID is required")
	}
	if c.HubFieldID == "" {
		return fmt.Errorf("config: HUB_FIELD_ID is required")
	}
	if c.DatabaseDSN == "" {
		return fmt.Errorf("config: HUB_DATABASE_DSN is required")
	}
	if c.SigningKey == "" {
		return fmt.Errorf("config: HUB_SIGNING_KEY is required")
	}
	if c.RetentionMonths <= 0 {
		return fmt.Errorf("config: HUB_RETENTION_MONTHS must be positive, got %d", c.RetentionMonths)
	}
	if c.GridMaxCells <= 0 {
		return fmt.Errorf("config: HUB_GRID_MAX_CELLS must be positive, got %d", c.GridMaxCells)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

func getEnvInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return f, nil
}
