package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/valter-silva-au/vaultq/pkg/models"
)

func TestAlertEngine_PendingApproval(t *testing.T) {
	log := newTestEventLog(t)
	now := time.Now().UTC()
	_ = log.Write(Event{Time: now.Add(-30 * time.Hour), Type: models.EventParked, Record: "stale.md"})
	_ = log.Write(Event{Time: now.Add(-30 * time.Hour), Type: models.EventParked, Record: "resolved.md"})
	_ = log.Write(Event{Time: now.Add(-29 * time.Hour), Type: models.EventApprovalResolved, Record: "resolved.md"})
	_ = log.Write(Event{Time: now.Add(-time.Hour), Type: models.EventApprovalCreated, Record: "approval_fresh.md"})

	alerts, err := NewAlertEngine(log, DefaultAlertThresholds(), nil).Evaluate()
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 1 {
		t.Fatalf("got %d alerts, want 1: %+v", len(alerts), alerts)
	}
	if alerts[0].ID != "approval-stale.md" || alerts[0].Severity != SeverityHigh {
		t.Errorf("unexpected alert %+v", alerts[0])
	}
}

func TestAlertEngine_FailureSpike(t *testing.T) {
	log := newTestEventLog(t)
	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		_ = log.Write(Event{Time: now.Add(-time.Hour), Type: models.EventFailed, Record: "x.md"})
	}
	_ = log.Write(Event{Time: now.Add(-48 * time.Hour), Type: models.EventFailed, Record: "old.md"})

	th := DefaultAlertThresholds()
	th.FailureSpike = 3
	alerts, err := NewAlertEngine(log, th, nil).Evaluate()
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 1 || alerts[0].Condition != "failure_spike" {
		t.Fatalf("unexpected alerts: %+v", alerts)
	}

	th.FailureSpike = 4
	alerts, _ = NewAlertEngine(log, th, nil).Evaluate()
	if len(alerts) != 0 {
		t.Errorf("expected no alerts below threshold, got %+v", alerts)
	}
}

func TestAlertEngine_Backlog(t *testing.T) {
	log := newTestEventLog(t)
	th := DefaultAlertThresholds()
	th.MaxBacklogSize = 2

	alerts, err := NewAlertEngine(log, th, func() (int, error) { return 3, nil }).Evaluate()
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 1 || alerts[0].Condition != "backlog_too_large" {
		t.Fatalf("unexpected alerts: %+v", alerts)
	}

	_, err = NewAlertEngine(log, th, func() (int, error) { return 0, errors.New("boom") }).Evaluate()
	if err == nil {
		t.Error("expected backlog error to propagate")
	}
}
