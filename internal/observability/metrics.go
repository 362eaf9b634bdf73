package observability

import (
	"fmt"
	"time"

	"github.com/valter-silva-au/vaultq/pkg/models"
)

// Metrics holds counters derived from the event log.
type Metrics struct {
	Ingested         int            `json:"ingested"`
	IngestSkipped    int            `json:"ingest_skipped"`
	Dispatched       int            `json:"dispatched"`
	Parked           int            `json:"parked"`
	Completed        int            `json:"completed"`
	Failed           int            `json:"failed"`
	Retries          int            `json:"retries"`
	Recovered        int            `json:"recovered"`
	Cycles           int            `json:"cycles"`
	ByPriority       map[string]int `json:"by_priority"`
	ByTaskType       map[string]int `json:"by_task_type"`
	ApprovalOutcomes map[string]int `json:"approval_outcomes"`
	EventCount       int            `json:"event_count"`
	OldestEvent      *time.Time     `json:"oldest_event,omitempty"`
	NewestEvent      *time.Time     `json:"newest_event,omitempty"`
}

// MetricsCalculator derives metrics from the event log.
type MetricsCalculator interface {
	Calculate(since time.Time) (*Metrics, error)
}

type metricsCalculator struct {
	eventLog EventLog
}

// NewMetricsCalculator creates a MetricsCalculator reading from eventLog.
func NewMetricsCalculator(eventLog EventLog) MetricsCalculator {
	return &metricsCalculator{eventLog: eventLog}
}

// Calculate replays every event since the given time.
func (mc *metricsCalculator) Calculate(since time.Time) (*Metrics, error) {
	events, err := mc.eventLog.Read(EventFilter{Since: &since})
	if err != nil {
		return nil, fmt.Errorf("reading events for metrics: %w", err)
	}

	m := &Metrics{
		ByPriority:       make(map[string]int),
		ByTaskType:       make(map[string]int),
		ApprovalOutcomes: make(map[string]int),
		EventCount:       len(events),
	}

	for i, event := range events {
		t := event.Time
		if i == 0 {
			m.OldestEvent = &t
		}
		m.NewestEvent = &t

		switch event.Type {
		case models.EventIngested:
			m.Ingested++
			if p, ok := event.Data["priority"].(string); ok {
				m.ByPriority[p]++
			}
			if tt, ok := event.Data["task_type"].(string); ok {
				m.ByTaskType[tt]++
			}
		case models.EventIngestSkipped:
			m.IngestSkipped++
		case models.EventDispatched:
			m.Dispatched++
		case models.EventParked:
			m.Parked++
		case models.EventCompleted:
			m.Completed++
		case models.EventFailed:
			m.Failed++
		case models.EventRetried:
			m.Retries++
		case models.EventRecovered:
			m.Recovered++
		case models.EventCycleFinished:
			m.Cycles++
		case models.EventApprovalResolved:
			if outcome, ok := event.Data["outcome"].(string); ok {
				m.ApprovalOutcomes[outcome]++
			}
		}
	}

	return m, nil
}
