package monitoring

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// SaveMetricsToFile saves a metrics snapshot to a JSON file.
// The file will be created if it doesn't exist, or overwritten if it does.
func SaveMetricsToFile(snapshot *MetricsSnapshot, filePath string) error {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}

// LoadMetricsFromFile loads a metrics snapshot from a JSON file.
func LoadMetricsFromFile(filePath string) (*MetricsSnapshot, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var snapshot MetricsSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metrics: %w", err)
	}

	return &snapshot, nil
}

// SaveMetricsToFileWithTimestamp saves metrics to a file with a timestamp in the filename.
// Returns the actual filepath used.
func SaveMetricsToFileWithTimestamp(snapshot *MetricsSnapshot, directory, prefix string) (string, error) {
	timestamp := time.Now().Format("20060102-150405")
	filename := fmt.Sprintf("%s-%s.json", prefix, timestamp)
	filePath := filepath.Join(directory, filename)

	if err := SaveMetricsToFile(snapshot, filePath); err != nil {
		return "", err
	}

	return filePath, nil
}

// MetricsPersistence periodically dumps a MetricsCollector's snapshot to
// disk, the operator-facing counterpart to Status()'s in-process read: a
// hub running unattended still leaves a trail of what §10's engine
// statistics looked like at each interval, independent of whatever log
// retention the deployment has.
type MetricsPersistence struct {
	collector    *MetricsCollector
	directory    string
	saveInterval time.Duration
	stopChan     chan struct{}
	filePrefix   string
	keepLastN    int // Number of recent files to keep (0 = keep all)
}

// NewMetricsPersistence creates a new metrics persistence manager.
func NewMetricsPersistence(collector *MetricsCollector, directory string, saveInterval time.Duration) *MetricsPersistence {
	return &MetricsPersistence{
		collector:    collector,
		directory:    directory,
		saveInterval: saveInterval,
		stopChan:     make(chan struct{}),
		filePrefix:   "metrics",
		keepLastN:    10, // Keep last 10 snapshots by default
	}
}

// SetFilePrefix sets the prefix for saved metric files.
func (mp *MetricsPersistence) SetFilePrefix(prefix string) {
	mp.filePrefix = prefix
}

// SetRetention sets how many recent metric files to keep (0 = keep all).
func (mp *MetricsPersistence) SetRetention(keepLastN int) {
	mp.keepLastN = keepLastN
}

// Start begins periodic saving of metrics.
func (mp *MetricsPersistence) Start() {
	ticker := time.NewTicker(mp.saveInterval)
	go func() {
		for {
			select {
			case <-ticker.C:
				snapshot := mp.collector.Snapshot()
				_, _ = SaveMetricsToFileWithTimestamp(snapshot, mp.directory, mp.filePrefix)
				mp.cleanupOldFiles()
			case <-mp.stopChan:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the periodic saving.
func (mp *MetricsPersistence) Stop() {
	close(mp.stopChan)
}

// SaveNow immediately saves the current metrics.
func (mp *MetricsPersistence) SaveNow() (string, error) {
	snapshot := mp.collector.Snapshot()
	return SaveMetricsToFileWithTimestamp(snapshot, mp.directory, mp.filePrefix)
}

// cleanupOldFiles removes old metric files keeping only the most recent ones.
func (mp *MetricsPersistence) cleanupOldFiles() {
	if mp.keepLastN <= 0 {
		return // Keep all files
	}

	matches, err := filepath.Glob(filepath.Join(mp.directory, mp.filePrefix+"-*.json"))
	if err != nil || len(matches) <= mp.keepLastN {
		return
	}
	sort.Strings(matches) // timestamp suffix sorts lexically in creation order
	for _, stale := range matches[:len(matches)-mp.keepLastN] {
		_ = os.Remove(stale)
	}
}
