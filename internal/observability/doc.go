// Package observability provides the human-readable activity log, the JSONL
// event log, and the metrics and alerts derived from it. Metrics are computed
// on demand by replaying the event log.
package observability
