package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/farmsense/hub"

// StartSpan starts a span from ctx under the hub's tracer. Callers get a
// real span when an OpenTelemetry SDK has been installed by the process
// (e.g. via OTEL_* env vars understood by an autoexporter) and a no-op
// span otherwise — orchestrator code never needs to branch on that.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// RecordError records err on the span active in ctx, if any.
func RecordError(ctx context.Context, err error, opts ...trace.EventOption) {
	span := trace.SpanFromContext(ctx)
	if err != nil && span.IsRecording() {
		span.RecordError(err, opts...)
	}
}

// CycleTrace accumulates the events of one orchestrator cycle (a
// measurement, grid, or sync pass over a field) for post-hoc debugging —
// what a consumer would ask for when a cycle behaved unexpectedly.
type CycleTrace struct {
	CycleID string
	FieldID string
	Events  []*CycleEvent
	mu      sync.Mutex
}

// CycleEvent is a single step recorded within a CycleTrace.
type CycleEvent struct {
	Timestamp time.Time
	Stage     string
	Component string
	Message   string
	Data      map[string]any
	Err       error
}

// NewCycleTrace starts a trace for one orchestrator cycle.
func NewCycleTrace(cycleID, fieldID string) *CycleTrace {
	return &CycleTrace{
		CycleID: cycleID,
		FieldID: fieldID,
		Events:  make([]*CycleEvent, 0),
	}
}

// Record appends an event to the trace.
func (t *CycleTrace) Record(stage, component, message string, data map[string]any, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Events = append(t.Events, &CycleEvent{
		Timestamp: time.Now(),
		Stage:     stage,
		Component: component,
		Message:   message,
		Data:      data,
		Err:       err,
	})
}

// Snapshot returns a copy of the events recorded so far.
func (t *CycleTrace) Snapshot() []*CycleEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*CycleEvent, len(t.Events))
	copy(out, t.Events)
	return out
}

// Duration is the span between the trace's first and last event.
func (t *CycleTrace) Duration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.Events) < 2 {
		return 0
	}
	return t.Events[len(t.Events)-1].Timestamp.Sub(t.Events[0].Timestamp)
}

// ByStage filters the trace's events to a single stage name.
func (t *CycleTrace) ByStage(stage string) []*CycleEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*CycleEvent
	for _, e := range t.Events {
		if e.Stage == stage {
			out = append(out, e)
		}
	}
	return out
}

// ByComponent filters the trace's events to a single component name.
func (t *CycleTrace) ByComponent(component string) []*CycleEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*CycleEvent
	for _, e := range t.Events {
		if e.Component == component {
			out = append(out, e)
		}
	}
	return out
}

// Errors returns every event that carries a non-nil error.
func (t *CycleTrace) Errors() []*CycleEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*CycleEvent
	for _, e := range t.Events {
		if e.Err != nil {
			out = append(out, e)
		}
	}
	return out
}

// HasErrors reports whether any recorded event carries an error.
func (t *CycleTrace) HasErrors() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range t.Events {
		if e.Err != nil {
			return true
		}
	}
	return false
}

// CycleSummary aggregates a trace for a one-line operator report.
type CycleSummary struct {
	CycleID     string
	FieldID     string
	TotalEvents int
	ErrorCount  int
	Components  []string
	StageCounts map[string]int
	Duration    time.Duration
}

// Summary computes a CycleSummary over the trace's current events.
func (t *CycleTrace) Summary() CycleSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	summary := CycleSummary{
		CycleID:     t.CycleID,
		FieldID:     t.FieldID,
		TotalEvents: len(t.Events),
		StageCounts: make(map[string]int),
	}

	seen := make(map[string]bool)
	for _, e := range t.Events {
		summary.StageCounts[e.Stage]++
		if e.Err != nil {
			summary.ErrorCount++
		}
		if e.Component != "" && !seen[e.Component] {
			seen[e.Component] = true
			summary.Components = append(summary.Components, e.Component)
		}
	}

	if len(t.Events) >= 2 {
		summary.Duration = t.Events[len(t.Events)-1].Timestamp.Sub(t.Events[0].Timestamp)
	}
	return summary
}

// String renders the trace for logs or an operator console.
func (t *CycleTrace) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := fmt.Sprintf("Cycle Trace [%s] field=%s\n", t.CycleID, t.FieldID)
	result += fmt.Sprintf("Events: %d\n\n", len(t.Events))

	for i, event := range t.Events {
		result += fmt.Sprintf("%d. [%s] %s", i+1, event.Timestamp.Format("15:04:05.000"), event.Stage)
		if event.Component != "" {
			result += fmt.Sprintf(" component=%s", event.Component)
		}
		if event.Message != "" {
			result += fmt.Sprintf(" - %s", event.Message)
		}
		if event.Err != nil {
			result += fmt.Sprintf(" [ERROR: %v]", event.Err)
		}
		result += "\n"
	}

	return result
}
