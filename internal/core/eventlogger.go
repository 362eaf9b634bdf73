package core

// EventLogger is the subset of the observability event log that core
// services need. Defining it here avoids importing the observability package.
type EventLogger interface {
	LogEvent(eventType, record string, data map[string]any) error
}

// logEvent records an event if a logger is configured, ignoring failures.
func logEvent(l EventLogger, eventType, record string, data map[string]any) {
	if l == nil {
		return
	}
	_ = l.LogEvent(eventType, record, data)
}
