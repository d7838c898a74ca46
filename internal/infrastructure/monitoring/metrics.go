package monitoring

import (
	"sync"
	"time"
)

// MetricsCollector collects operational metrics for the hub's recurring
// cycles (J's measurement/grid cycles per field) and actuation (H's valve
// dispatches), plus hub↔mirror sync health (I).
type MetricsCollector struct {
	fieldMetrics map[string]*FieldMetrics
	valveMetrics map[string]*ValveMetrics
	syncMetrics  *SyncMetrics
	mu           sync.RWMutex
}

// FieldMetrics represents cycle metrics for one field.
type FieldMetrics struct {
	FieldID         string        `json:"field_id"`
	CycleCount      int           `json:"cycle_count"`
	SuccessCount    int           `json:"success_count"`
	FailureCount    int           `json:"failure_count"`
	TotalDuration   time.Duration `json:"total_duration"`
	AverageDuration time.Duration `json:"average_duration"`
	MinDuration     time.Duration `json:"min_duration"`
	MaxDuration     time.Duration `json:"max_duration"`
	LastCycleAt     time.Time     `json:"last_cycle_at"`
}

// ValveMetrics represents dispatch metrics for a specific valve.
type ValveMetrics struct {
	ValveID         string        `json:"valve_id"`
	ZoneID          string        `json:"zone_id"`
	DispatchCount   int           `json:"dispatch_count"`
	SuccessCount    int           `json:"success_count"`
	FailureCount    int           `json:"failure_count"`
	RetryCount      int           `json:"retry_count"`
	TotalDuration   time.Duration `json:"total_duration"`
	AverageDuration time.Duration `json:"average_duration"`
	MinDuration     time.Duration `json:"min_duration"`
	MaxDuration     time.Duration `json:"max_duration"`
}

// SyncMetrics represents hub↔mirror heartbeat and failover health.
type SyncMetrics struct {
	TotalHeartbeats  int           `json:"total_heartbeats"`
	MissedHeartbeats int           `json:"missed_heartbeats"`
	FailoverCount    int           `json:"failover_count"`
	AverageRoundTrip time.Duration `json:"average_round_trip"`
	mu               sync.RWMutex
}

// NewMetricsCollector creates a new MetricsCollector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		fieldMetrics: make(map[string]*FieldMetrics),
		valveMetrics: make(map[string]*ValveMetrics),
		syncMetrics:  &SyncMetrics{},
	}
}

// RecordFieldCycle records metrics for one measurement or grid cycle over fieldID.
func (mc *MetricsCollector) RecordFieldCycle(fieldID string, duration time.Duration, success bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	metrics, ok := mc.fieldMetrics[fieldID]
	if !ok {
		metrics = &FieldMetrics{
			FieldID:     fieldID,
			MinDuration: duration,
			MaxDuration: duration,
		}
		mc.fieldMetrics[fieldID] = metrics
	}

	metrics.CycleCount++
	if success {
		metrics.SuccessCount++
	} else {
		metrics.FailureCount++
	}

	metrics.TotalDuration += duration
	metrics.AverageDuration = metrics.TotalDuration / time.Duration(metrics.CycleCount)
	metrics.LastCycleAt = time.Now()

	if duration < metrics.MinDuration {
		metrics.MinDuration = duration
	}
	if duration > metrics.MaxDuration {
		metrics.MaxDuration = duration
	}
}

// RecordValveDispatch records metrics for one valve open/close dispatch.
func (mc *MetricsCollector) RecordValveDispatch(valveID, zoneID string, duration time.Duration, success bool, isRetry bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	metrics, ok := mc.valveMetrics[valveID]
	if !ok {
		metrics = &ValveMetrics{
			ValveID:     valveID,
			ZoneID:      zoneID,
			MinDuration: duration,
			MaxDuration: duration,
		}
		mc.valveMetrics[valveID] = metrics
	}

	metrics.DispatchCount++
	if success {
		metrics.SuccessCount++
	} else {
		metrics.FailureCount++
	}
	if isRetry {
		metrics.RetryCount++
	}

	metrics.TotalDuration += duration
	metrics.AverageDuration = metrics.TotalDuration / time.Duration(metrics.DispatchCount)

	if duration < metrics.MinDuration {
		metrics.MinDuration = duration
	}
	if duration > metrics.MaxDuration {
		metrics.MaxDuration = duration
	}
}

// RecordHeartbeat records one mirror heartbeat round trip. missed marks a
// heartbeat that received no ack within the configured timeout.
func (mc *MetricsCollector) RecordHeartbeat(roundTrip time.Duration, missed bool) {
	mc.syncMetrics.mu.Lock()
	defer mc.syncMetrics.mu.Unlock()

	mc.syncMetrics.TotalHeartbeats++
	if missed {
		mc.syncMetrics.MissedHeartbeats++
		return
	}

	totalRoundTrip := time.Duration(mc.syncMetrics.TotalHeartbeats-mc.syncMetrics.MissedHeartbeats-1) * mc.syncMetrics.AverageRoundTrip
	acked := mc.syncMetrics.TotalHeartbeats - mc.syncMetrics.MissedHeartbeats
	mc.syncMetrics.AverageRoundTrip = (totalRoundTrip + roundTrip) / time.Duration(acked)
}

// RecordFailover records one hub→mirror failover event.
func (mc *MetricsCollector) RecordFailover() {
	mc.syncMetrics.mu.Lock()
	defer mc.syncMetrics.mu.Unlock()
	mc.syncMetrics.FailoverCount++
}

// GetFieldMetrics returns a copy of the metrics for one field.
func (mc *MetricsCollector) GetFieldMetrics(fieldID string) *FieldMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	if metrics, ok := mc.fieldMetrics[fieldID]; ok {
		c := *metrics
		return &c
	}
	return nil
}

// GetAllFieldMetrics returns copies of metrics for every field.
func (mc *MetricsCollector) GetAllFieldMetrics() map[string]*FieldMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	result := make(map[string]*FieldMetrics)
	for k, v := range mc.fieldMetrics {
		c := *v
		result[k] = &c
	}
	return result
}

// GetValveMetricsByID returns a copy of the metrics for one valve.
func (mc *MetricsCollector) GetValveMetricsByID(valveID string) *ValveMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	if metrics, ok := mc.valveMetrics[valveID]; ok {
		c := *metrics
		return &c
	}
	return nil
}

// GetValveMetricsByZone returns aggregated dispatch metrics for every valve in zoneID.
func (mc *MetricsCollector) GetValveMetricsByZone(zoneID string) *ValveMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	aggregated := &ValveMetrics{ZoneID: zoneID}
	found := false
	for _, m := range mc.valveMetrics {
		if m.ZoneID != zoneID {
			continue
		}
		if !found {
			aggregated.MinDuration = m.MinDuration
			aggregated.MaxDuration = m.MaxDuration
			found = true
		}

		aggregated.DispatchCount += m.DispatchCount
		aggregated.SuccessCount += m.SuccessCount
		aggregated.FailureCount += m.FailureCount
		aggregated.RetryCount += m.RetryCount
		aggregated.TotalDuration += m.TotalDuration

		if m.MinDuration < aggregated.MinDuration {
			aggregated.MinDuration = m.MinDuration
		}
		if m.MaxDuration > aggregated.MaxDuration {
			aggregated.MaxDuration = m.MaxDuration
		}
	}

	if !found {
		return nil
	}
	if aggregated.DispatchCount > 0 {
		aggregated.AverageDuration = aggregated.TotalDuration / time.Duration(aggregated.DispatchCount)
	}
	return aggregated
}

// GetAllValveMetrics returns copies of metrics for every valve.
func (mc *MetricsCollector) GetAllValveMetrics() map[string]*ValveMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	result := make(map[string]*ValveMetrics)
	for k, v := range mc.valveMetrics {
		c := *v
		result[k] = &c
	}
	return result
}

// GetSyncMetrics returns a copy of the current hub↔mirror sync metrics.
func (mc *MetricsCollector) GetSyncMetrics() *SyncMetrics {
	mc.syncMetrics.mu.RLock()
	defer mc.syncMetrics.mu.RUnlock()

	return &SyncMetrics{
		TotalHeartbeats:  mc.syncMetrics.TotalHeartbeats,
		MissedHeartbeats: mc.syncMetrics.MissedHeartbeats,
		FailoverCount:    mc.syncMetrics.FailoverCount,
		AverageRoundTrip: mc.syncMetrics.AverageRoundTrip,
	}
}

// GetFieldSuccessRate returns the cycle success rate for fieldID.
func (mc *MetricsCollector) GetFieldSuccessRate(fieldID string) float64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	if metrics, ok := mc.fieldMetrics[fieldID]; ok {
		if metrics.CycleCount == 0 {
			return 0.0
		}
		return float64(metrics.SuccessCount) / float64(metrics.CycleCount)
	}
	return 0.0
}

// GetValveSuccessRate returns the dispatch success rate for valveID.
func (mc *MetricsCollector) GetValveSuccessRate(valveID string) float64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	if metrics, ok := mc.valveMetrics[valveID]; ok {
		if metrics.DispatchCount == 0 {
			return 0.0
		}
		return float64(metrics.SuccessCount) / float64(metrics.DispatchCount)
	}
	return 0.0
}

// Reset clears all collected metrics.
func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.fieldMetrics = make(map[string]*FieldMetrics)
	mc.valveMetrics = make(map[string]*ValveMetrics)
	mc.syncMetrics = &SyncMetrics{}
}

// MetricsSummary aggregates every field/valve/sync metric into one report.
type MetricsSummary struct {
	TotalFields        int     `json:"total_fields"`
	TotalCycles        int     `json:"total_cycles"`
	TotalSuccesses     int     `json:"total_successes"`
	TotalFailures      int     `json:"total_failures"`
	OverallSuccessRate float64 `json:"overall_success_rate"`
	TotalDispatches    int     `json:"total_dispatches"`
	TotalRetries       int     `json:"total_retries"`
	TotalHeartbeats    int     `json:"total_heartbeats"`
	TotalFailovers     int     `json:"total_failovers"`
}

// GetSummary returns a summary of all metrics.
func (mc *MetricsCollector) GetSummary() *MetricsSummary {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	summary := &MetricsSummary{
		TotalFields: len(mc.fieldMetrics),
	}

	for _, fm := range mc.fieldMetrics {
		summary.TotalCycles += fm.CycleCount
		summary.TotalSuccesses += fm.SuccessCount
		summary.TotalFailures += fm.FailureCount
	}

	if summary.TotalCycles > 0 {
		summary.OverallSuccessRate = float64(summary.TotalSuccesses) / float64(summary.TotalCycles)
	}

	for _, vm := range mc.valveMetrics {
		summary.TotalDispatches += vm.DispatchCount
		summary.TotalRetries += vm.RetryCount
	}

	mc.syncMetrics.mu.RLock()
	summary.TotalHeartbeats = mc.syncMetrics.TotalHeartbeats
	summary.TotalFailovers = mc.syncMetrics.FailoverCount
	mc.syncMetrics.mu.RUnlock()

	return summary
}

// MetricsSnapshot represents a complete snapshot of all metrics at a point in time.
type MetricsSnapshot struct {
	Timestamp    time.Time                `json:"timestamp"`
	FieldMetrics map[string]*FieldMetrics `json:"field_metrics,omitempty"`
	ValveMetrics map[string]*ValveMetrics `json:"valve_metrics,omitempty"`
	SyncMetrics  *SyncMetrics             `json:"sync_metrics,omitempty"`
	Summary      *MetricsSummary          `json:"summary"`
}

// Snapshot creates a complete, thread-safe snapshot of all current metrics.
func (mc *MetricsCollector) Snapshot() *MetricsSnapshot {
	return &MetricsSnapshot{
		Timestamp:    time.Now(),
		FieldMetrics: mc.GetAllFieldMetrics(),
		ValveMetrics: mc.GetAllValveMetrics(),
		SyncMetrics:  mc.GetSyncMetrics(),
		Summary:      mc.GetSummary(),
	}
}
