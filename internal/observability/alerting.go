package observability

import (
	"fmt"
	"sort"
	"time"

	"github.com/valter-silva-au/vaultq/pkg/models"
)

// AlertSeverity represents the urgency of an alert.
type AlertSeverity string

const (
	SeverityHigh   AlertSeverity = "high"
	SeverityMedium AlertSeverity = "medium"
	SeverityLow    AlertSeverity = "low"
)

// Alert is a triggered alert condition.
type Alert struct {
	ID          string        `json:"id"`
	Condition   string        `json:"condition"`
	Severity    AlertSeverity `json:"severity"`
	Message     string        `json:"message"`
	TriggeredAt time.Time     `json:"triggered_at"`
}

// AlertThresholds configures when alerts fire.
type AlertThresholds struct {
	ApprovalPendingHours int `yaml:"approval_pending_hours" json:"approval_pending_hours"`
	FailureSpike         int `yaml:"failure_spike" json:"failure_spike"`
	MaxBacklogSize       int `yaml:"max_backlog_size" json:"max_backlog_size"`
}

// DefaultAlertThresholds returns the default thresholds.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		ApprovalPendingHours: 24,
		FailureSpike:         5,
		MaxBacklogSize:       25,
	}
}

// BacklogFunc reports the number of records currently waiting for dispatch.
type BacklogFunc func() (int, error)

// AlertEngine evaluates alert conditions.
type AlertEngine interface {
	Evaluate() ([]Alert, error)
}

type alertEngine struct {
	eventLog   EventLog
	thresholds AlertThresholds
	backlog    BacklogFunc
	now        func() time.Time
}

// NewAlertEngine creates an AlertEngine. backlog may be nil, which disables
// the backlog size check.
func NewAlertEngine(eventLog EventLog, thresholds AlertThresholds, backlog BacklogFunc) AlertEngine {
	return &alertEngine{
		eventLog:   eventLog,
		thresholds: thresholds,
		backlog:    backlog,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (ae *alertEngine) Evaluate() ([]Alert, error) {
	now := ae.now()
	var alerts []Alert

	pending, err := ae.checkPendingApprovals(now)
	if err != nil {
		return nil, fmt.Errorf("checking pending approvals: %w", err)
	}
	alerts = append(alerts, pending...)

	failures, err := ae.checkFailureSpike(now)
	if err != nil {
		return nil, fmt.Errorf("checking failures: %w", err)
	}
	alerts = append(alerts, failures...)

	backlog, err := ae.checkBacklogSize(now)
	if err != nil {
		return nil, fmt.Errorf("checking backlog size: %w", err)
	}
	alerts = append(alerts, backlog...)

	return alerts, nil
}

// checkPendingApprovals finds parked records and approval requests that have
// waited longer than the threshold without a resolution event.
func (ae *alertEngine) checkPendingApprovals(now time.Time) ([]Alert, error) {
	events, err := ae.eventLog.Read(EventFilter{})
	if err != nil {
		return nil, err
	}

	waitingSince := make(map[string]time.Time)
	for _, event := range events {
		if event.Record == "" {
			continue
		}
		switch event.Type {
		case models.EventParked, models.EventApprovalCreated:
			waitingSince[event.Record] = event.Time
		case models.EventApprovalResolved, models.EventCompleted, models.EventFailed:
			delete(waitingSince, event.Record)
		}
	}

	threshold := time.Duration(ae.thresholds.ApprovalPendingHours) * time.Hour
	names := make([]string, 0, len(waitingSince))
	for name := range waitingSince {
		names = append(names, name)
	}
	sort.Strings(names)

	var alerts []Alert
	for _, name := range names {
		if now.Sub(waitingSince[name]) > threshold {
			alerts = append(alerts, Alert{
				ID:          "approval-" + name,
				Condition:   "approval_pending_too_long",
				Severity:    SeverityHigh,
				Message:     fmt.Sprintf("%s has waited for a decision for more than %d hours", name, ae.thresholds.ApprovalPendingHours),
				TriggeredAt: now,
			})
		}
	}
	return alerts, nil
}

// checkFailureSpike counts failures in the last 24 hours.
func (ae *alertEngine) checkFailureSpike(now time.Time) ([]Alert, error) {
	since := now.Add(-24 * time.Hour)
	events, err := ae.eventLog.Read(EventFilter{Type: models.EventFailed, Since: &since})
	if err != nil {
		return nil, err
	}
	if ae.thresholds.FailureSpike <= 0 || len(events) < ae.thresholds.FailureSpike {
		return nil, nil
	}
	return []Alert{{
		ID:          "failure-spike",
		Condition:   "failure_spike",
		Severity:    SeverityMedium,
		Message:     fmt.Sprintf("%d records failed in the last 24 hours", len(events)),
		TriggeredAt: now,
	}}, nil
}

func (ae *alertEngine) checkBacklogSize(now time.Time) ([]Alert, error) {
	if ae.backlog == nil {
		return nil, nil
	}
	n, err := ae.backlog()
	if err != nil {
		return nil, err
	}
	if n <= ae.thresholds.MaxBacklogSize {
		return nil, nil
	}
	return []Alert{{
		ID:          "backlog-size",
		Condition:   "backlog_too_large",
		Severity:    SeverityLow,
		Message:     fmt.Sprintf("%d records are waiting for dispatch, exceeding the maximum of %d", n, ae.thresholds.MaxBacklogSize),
		TriggeredAt: now,
	}}, nil
}
