package monitoring

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestCycleTrace_Basic(t *testing.T) {
	trace := NewCycleTrace("cycle-123", "field-1")

	if trace.CycleID != "cycle-123" {
		t.Errorf("Expected cycle ID 'cycle-123', got '%s'", trace.CycleID)
	}
	if trace.FieldID != "field-1" {
		t.Errorf("Expected field ID 'field-1', got '%s'", trace.FieldID)
	}
	if len(trace.Events) != 0 {
		t.Errorf("Expected 0 events, got %d", len(trace.Events))
	}
}

func TestCycleTrace_Record(t *testing.T) {
	trace := NewCycleTrace("cycle-123", "field-1")

	trace.Record("measurement", "", "cycle started", nil, nil)
	trace.Record("grid", "kriging", "grid engine invoked", nil, nil)

	events := trace.Snapshot()
	if len(events) != 2 {
		t.Errorf("Expected 2 events, got %d", len(events))
	}
	if events[0].Stage != "measurement" {
		t.Errorf("Expected first event stage 'measurement', got '%s'", events[0].Stage)
	}
	if events[1].Component != "kriging" {
		t.Errorf("Expected second event component 'kriging', got '%s'", events[1].Component)
	}
}

func TestCycleTrace_Duration(t *testing.T) {
	trace := NewCycleTrace("cycle-123", "field-1")

	if trace.Duration() != 0 {
		t.Errorf("Expected 0 duration for empty trace, got %v", trace.Duration())
	}

	trace.Record("measurement", "", "first", nil, nil)
	time.Sleep(50 * time.Millisecond)
	trace.Record("grid", "", "second", nil, nil)

	d := trace.Duration()
	if d < 40*time.Millisecond || d > 200*time.Millisecond {
		t.Errorf("Expected duration between 40ms and 200ms, got %v", d)
	}
}

func TestCycleTrace_ByStage(t *testing.T) {
	trace := NewCycleTrace("cycle-123", "field-1")

	trace.Record("measurement", "", "m1", nil, nil)
	trace.Record("grid", "kriging", "g1", nil, nil)
	trace.Record("grid", "kriging", "g2", nil, nil)
	trace.Record("sync", "mirror", "s1", nil, nil)

	gridEvents := trace.ByStage("grid")
	if len(gridEvents) != 2 {
		t.Errorf("Expected 2 grid events, got %d", len(gridEvents))
	}
	measurementEvents := trace.ByStage("measurement")
	if len(measurementEvents) != 1 {
		t.Errorf("Expected 1 measurement event, got %d", len(measurementEvents))
	}
	if len(trace.ByStage("nonexistent")) != 0 {
		t.Error("Expected 0 events for nonexistent stage")
	}
}

func TestCycleTrace_ByComponent(t *testing.T) {
	trace := NewCycleTrace("cycle-123", "field-1")

	trace.Record("grid", "kriging", "start", nil, nil)
	trace.Record("grid", "kriging", "done", nil, nil)
	trace.Record("decision", "interlock", "checked", nil, nil)

	krigingEvents := trace.ByComponent("kriging")
	if len(krigingEvents) != 2 {
		t.Errorf("Expected 2 kriging events, got %d", len(krigingEvents))
	}
	interlockEvents := trace.ByComponent("interlock")
	if len(interlockEvents) != 1 {
		t.Errorf("Expected 1 interlock event, got %d", len(interlockEvents))
	}
}

func TestCycleTrace_Errors(t *testing.T) {
	trace := NewCycleTrace("cycle-123", "field-1")

	trace.Record("measurement", "", "ok", nil, nil)
	trace.Record("measurement", "hasher", "bad", nil, fmt.Errorf("chain broken"))
	trace.Record("grid", "kriging", "bad", nil, fmt.Errorf("singular matrix"))

	errs := trace.Errors()
	if len(errs) != 2 {
		t.Errorf("Expected 2 error events, got %d", len(errs))
	}
	for _, e := range errs {
		if e.Err == nil {
			t.Error("Error event should have non-nil error")
		}
	}
}

func TestCycleTrace_HasErrors(t *testing.T) {
	trace := NewCycleTrace("cycle-123", "field-1")

	if trace.HasErrors() {
		t.Error("New trace should not have errors")
	}

	trace.Record("measurement", "", "ok", nil, nil)
	if trace.HasErrors() {
		t.Error("Trace with no error events should return false")
	}

	trace.Record("grid", "kriging", "failed", nil, fmt.Errorf("error"))
	if !trace.HasErrors() {
		t.Error("Trace with error events should return true")
	}
}

func TestCycleTrace_Summary(t *testing.T) {
	trace := NewCycleTrace("cycle-123", "field-1")

	trace.Record("measurement", "", "started", nil, nil)
	trace.Record("grid", "kriging", "started", nil, nil)
	trace.Record("grid", "kriging", "done", nil, nil)
	trace.Record("decision", "interlock", "started", nil, nil)
	trace.Record("decision", "interlock", "failed", nil, fmt.Errorf("error"))
	time.Sleep(10 * time.Millisecond)
	trace.Record("sync", "mirror", "failed", nil, fmt.Errorf("link down"))

	summary := trace.Summary()

	if summary.CycleID != "cycle-123" {
		t.Errorf("Expected cycle ID 'cycle-123', got '%s'", summary.CycleID)
	}
	if summary.FieldID != "field-1" {
		t.Errorf("Expected field ID 'field-1', got '%s'", summary.FieldID)
	}
	if summary.TotalEvents != 6 {
		t.Errorf("Expected 6 total events, got %d", summary.TotalEvents)
	}
	if summary.ErrorCount != 2 {
		t.Errorf("Expected 2 errors, got %d", summary.ErrorCount)
	}
	if len(summary.Components) != 3 {
		t.Errorf("Expected 3 unique components, got %d", len(summary.Components))
	}
	if summary.StageCounts["grid"] != 2 {
		t.Errorf("Expected 2 grid events, got %d", summary.StageCounts["grid"])
	}
	if summary.Duration <= 0 {
		t.Errorf("Expected positive duration, got %v", summary.Duration)
	}
}

func TestCycleTrace_String(t *testing.T) {
	trace := NewCycleTrace("cycle-123", "field-1")

	trace.Record("measurement", "", "started", nil, nil)
	trace.Record("grid", "kriging", "invoked", nil, nil)
	trace.Record("grid", "kriging", "failed", nil, fmt.Errorf("timeout"))

	output := trace.String()

	if output == "" {
		t.Error("String output should not be empty")
	}
	if !strings.Contains(output, "cycle-123") {
		t.Error("Output should contain cycle ID")
	}
	if !strings.Contains(output, "field-1") {
		t.Error("Output should contain field ID")
	}
	if !strings.Contains(output, "3") {
		t.Error("Output should contain event count")
	}
}

func TestCycleTrace_ConcurrentAccess(t *testing.T) {
	trace := NewCycleTrace("cycle-123", "field-1")

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(id int) {
			trace.Record("measurement", fmt.Sprintf("sensor-%d", id), fmt.Sprintf("event %d", id), nil, nil)
			done <- true
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	for i := 0; i < 10; i++ {
		go func() {
			_ = trace.Snapshot()
			_ = trace.Summary()
			_ = trace.String()
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	events := trace.Snapshot()
	if len(events) != 10 {
		t.Errorf("Expected 10 events after concurrent writes, got %d", len(events))
	}
}
