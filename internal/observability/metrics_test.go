package observability

import (
	"testing"
	"time"

	"github.com/valter-silva-au/vaultq/pkg/models"
)

func TestMetricsCalculator_Counts(t *testing.T) {
	log := newTestEventLog(t)
	now := time.Now().UTC()
	old := now.Add(-30 * 24 * time.Hour)

	write := func(e Event) {
		t.Helper()
		if err := log.Write(e); err != nil {
			t.Fatal(err)
		}
	}
	write(Event{Time: old, Type: models.EventIngested, Record: "old.md"})
	write(Event{Time: now, Type: models.EventIngested, Record: "Plan_a.md", Data: map[string]any{"priority": "high", "task_type": "bug_fix"}})
	write(Event{Time: now, Type: models.EventIngested, Record: "Plan_b.md", Data: map[string]any{"priority": "low", "task_type": "research"}})
	write(Event{Time: now, Type: models.EventDispatched, Record: "Plan_a.md"})
	write(Event{Time: now, Type: models.EventCompleted, Record: "Plan_a.md"})
	write(Event{Time: now, Type: models.EventRetried, Record: "hook.md"})
	write(Event{Time: now, Type: models.EventFailed, Record: "hook.md"})
	write(Event{Time: now, Type: models.EventParked, Record: "mail.md"})
	write(Event{Time: now, Type: models.EventApprovalResolved, Record: "mail.md", Data: map[string]any{"outcome": "timeout"}})
	write(Event{Time: now, Type: models.EventCycleFinished})

	m, err := NewMetricsCalculator(log).Calculate(now.Add(-7 * 24 * time.Hour))
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	checks := []struct {
		name      string
		got, want int
	}{
		{"ingested", m.Ingested, 2},
		{"dispatched", m.Dispatched, 1},
		{"completed", m.Completed, 1},
		{"failed", m.Failed, 1},
		{"retries", m.Retries, 1},
		{"parked", m.Parked, 1},
		{"cycles", m.Cycles, 1},
		{"high", m.ByPriority["high"], 1},
		{"bug_fix", m.ByTaskType["bug_fix"], 1},
		{"timeout", m.ApprovalOutcomes["timeout"], 1},
		{"events", m.EventCount, 9},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}
	if m.OldestEvent == nil || m.NewestEvent == nil {
		t.Error("expected event time bounds")
	}
}

func TestMetricsCalculator_Empty(t *testing.T) {
	m, err := NewMetricsCalculator(newTestEventLog(t)).Calculate(time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if m.EventCount != 0 || m.OldestEvent != nil {
		t.Errorf("expected empty metrics, got %+v", m)
	}
}
