package monitor

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordEvent(t *testing.T) {
	m := NewMetrics()

	m.RecordEvent("success", "var_value")
	m.RecordEvent("failure", "unknown")
	m.RecordEvent("failure", "unknown")

	if got := testutil.ToFloat64(m.EventsTotal.WithLabelValues("failure", "unknown")); got != 2 {
		t.Errorf("events_total{failure,unknown} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.LastOutcome.WithLabelValues("failure")); got != 1 {
		t.Errorf("last_outcome{failure} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.LastOutcome.WithLabelValues("success")); got != 0 {
		t.Errorf("last_outcome{success} = %v, want 0", got)
	}
}

func TestRecordRun(t *testing.T) {
	m := NewMetrics()

	m.RecordRun("completed", 0.2)
	m.RecordRun("not_found", 0)

	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues("completed")); got != 1 {
		t.Errorf("runs_total{completed} = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.RunsTotal); got != 2 {
		t.Errorf("runs_total series = %d, want 2", got)
	}
}
