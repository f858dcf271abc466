package telemetry_test

import (
	"testing"
	"time"

	"github.com/lotreace/skill-flywheel/pkg/telemetry"
)

func TestRecordCrankOnIndependentMetrics(t *testing.T) {
	m := telemetry.NewMetrics()
	m.RecordCrank("passed", 82.5, 1.5)
	m.ObserveRunnerDuration(250 * time.Millisecond)
	// Registering the same collectors twice on one registry panics, so
	// constructing two independent instances in the same test process
	// exercises the dedicated-registry isolation this package relies on.
	m2 := telemetry.NewMetrics()
	m2.RecordCrank("failed", 79.0, -3.0)
}

func TestNewMetricsRegistersWithoutPanicking(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("expected no panic constructing metrics, got %v", r)
		}
	}()
	_ = telemetry.NewMetrics()
}
