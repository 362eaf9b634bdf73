// Package mcp provides an MCP (Model Context Protocol) server that exposes the
// vaultq queue to AI assistants: inspecting records and deciding approvals.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/valter-silva-au/vaultq/internal/core"
	"github.com/valter-silva-au/vaultq/internal/observability"
	"github.com/valter-silva-au/vaultq/pkg/models"
)

// Services are the vaultq components the server reads from and acts on.
// MetricsCalc and AlertEngine may be nil if observability is disabled.
type Services struct {
	Store       core.RecordStore
	Scheduler   core.Scheduler
	Gate        core.ApprovalGate
	Registry    core.IngestRegistry
	MetricsCalc observability.MetricsCalculator
	AlertEngine observability.AlertEngine
}

// Server wraps vaultq services and exposes them as MCP tools.
type Server struct {
	server *gomcp.Server
	svc    Services
}

// NewServer creates a new MCP server over the given services.
func NewServer(svc Services, version string) *Server {
	if version == "" {
		version = "dev"
	}

	s := &Server{svc: svc}
	s.server = gomcp.NewServer(
		&gomcp.Implementation{Name: "vaultq", Version: version},
		nil,
	)

	s.registerTools()

	return s
}

// Run starts the MCP server on stdio, blocking until the client disconnects or
// the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// MCPServer returns the underlying mcp.Server for testing purposes.
func (s *Server) MCPServer() *gomcp.Server {
	return s.server
}

// --- Tool input/output types ---

type queueStatusInput struct{}

type queueStatusOutput struct {
	Folders   map[string]int `json:"folders"`
	Queued    []string       `json:"queued"`
	Processed int            `json:"processed"`
}

type recordSummary struct {
	Name         string `json:"name"`
	Folder       string `json:"folder"`
	Status       string `json:"status"`
	Priority     string `json:"priority"`
	Type         string `json:"type,omitempty"`
	ActionType   string `json:"action_type,omitempty"`
	CreatedAt    string `json:"created_at,omitempty"`
	TimeoutAt    string `json:"timeout_at,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type listRecordsInput struct {
	Folder string `json:"folder,omitempty" jsonschema:"lifecycle folder to list (needs_action, needs_approval, actions, done). Defaults to all."`
	Status string `json:"status,omitempty" jsonschema:"filter records by status (pending, scheduled, awaiting_approval, approved, completed, failed, rejected, timeout)"`
}

type listRecordsOutput struct {
	Records []recordSummary `json:"records"`
	Count   int             `json:"count"`
}

type getRecordInput struct {
	Name string `json:"name" jsonschema:"required,the record filename (e.g. Plan_report.md)"`
}

type recordOutput struct {
	Record recordSummary     `json:"record"`
	Header map[string]string `json:"header"`
	Body   string            `json:"body"`
}

type listApprovalsInput struct{}

type decideApprovalInput struct {
	Name     string `json:"name" jsonschema:"required,the record filename in the approval folder"`
	Decision string `json:"decision" jsonschema:"required,approved or rejected"`
	Notes    string `json:"notes,omitempty" jsonschema:"optional reviewer notes"`
}

type decideApprovalOutput struct {
	Message string `json:"message"`
}

type getMetricsInput struct {
	Since string `json:"since,omitempty" jsonschema:"time window for metrics (e.g. 7d, 30d, 24h). Defaults to 7d."`
}

type metricsOutput struct {
	Ingested         int            `json:"ingested"`
	Dispatched       int            `json:"dispatched"`
	Parked           int            `json:"parked"`
	Completed        int            `json:"completed"`
	Failed           int            `json:"failed"`
	Retries          int            `json:"retries"`
	Cycles           int            `json:"cycles"`
	ByPriority       map[string]int `json:"by_priority"`
	ApprovalOutcomes map[string]int `json:"approval_outcomes"`
	EventCount       int            `json:"event_count"`
	OldestEvent      string         `json:"oldest_event,omitempty"`
	NewestEvent      string         `json:"newest_event,omitempty"`
}

type getAlertsInput struct{}

type alertOutput struct {
	ID          string `json:"id"`
	Condition   string `json:"condition"`
	Severity    string `json:"severity"`
	Message     string `json:"message"`
	TriggeredAt string `json:"triggered_at"`
}

type getAlertsOutput struct {
	Alerts []alertOutput `json:"alerts"`
	Count  int           `json:"count"`
}

// --- Tool registration ---

func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "queue_status",
		Description: "Count the records in each folder and list the dispatch order of the current queue.",
	}, s.handleQueueStatus)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "list_records",
		Description: "List task records with optional folder and status filters.",
	}, s.handleListRecords)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_record",
		Description: "Get a task record by filename, including its full header and body.",
	}, s.handleGetRecord)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "list_approvals",
		Description: "List the records and approval requests waiting for a human decision.",
	}, s.handleListApprovals)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "decide_approval",
		Description: "Write an APPROVED or REJECTED decision into the decision slot of a waiting record.",
	}, s.handleDecideApproval)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_metrics",
		Description: "Get aggregated queue metrics from the event log: ingested, completed, failed, retries and approval outcomes.",
	}, s.handleGetMetrics)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_alerts",
		Description: "Evaluate and return active alerts (stale approvals, failure spikes, backlog size).",
	}, s.handleGetAlerts)
}

// --- Tool handlers ---

// statusFolders are reported by queue_status, Inbox included.
var statusFolders = []models.Folder{
	models.FolderInbox,
	models.FolderNeedsAction,
	models.FolderActions,
	models.FolderNeedsApproval,
	models.FolderDone,
}

func (s *Server) handleQueueStatus(_ context.Context, _ *gomcp.CallToolRequest, _ queueStatusInput) (*gomcp.CallToolResult, queueStatusOutput, error) {
	out := queueStatusOutput{Folders: make(map[string]int), Queued: []string{}}
	for _, f := range statusFolders {
		names, err := s.svc.Store.Names(f)
		if err != nil {
			return errorResult(fmt.Sprintf("listing %s: %s", f, err)), emptyQueueStatusOutput(), nil
		}
		out.Folders[string(f)] = len(names)
	}

	queue, err := s.svc.Scheduler.Queue("")
	if err != nil {
		return errorResult(fmt.Sprintf("loading queue: %s", err)), emptyQueueStatusOutput(), nil
	}
	for _, rec := range queue {
		out.Queued = append(out.Queued, rec.Name)
	}
	if s.svc.Registry != nil {
		out.Processed = s.svc.Registry.Len()
	}
	return nil, out, nil
}

func (s *Server) handleListRecords(_ context.Context, _ *gomcp.CallToolRequest, input listRecordsInput) (*gomcp.CallToolResult, listRecordsOutput, error) {
	folders := models.LifecycleFolders
	if input.Folder != "" {
		f, ok := parseFolder(input.Folder)
		if !ok {
			return errorResult(fmt.Sprintf("invalid folder %q: must be one of needs_action, needs_approval, actions, done", input.Folder)), emptyListRecordsOutput(), nil
		}
		folders = []models.Folder{f}
	}
	status := strings.ToLower(strings.TrimSpace(input.Status))

	out := listRecordsOutput{Records: []recordSummary{}}
	for _, f := range folders {
		names, err := s.svc.Store.Names(f)
		if err != nil {
			return errorResult(fmt.Sprintf("listing %s: %s", f, err)), emptyListRecordsOutput(), nil
		}
		for _, name := range names {
			rec, err := s.svc.Store.Read(f, name)
			if err != nil {
				continue
			}
			if status != "" && strings.ToLower(rec.Header.Get(models.KeyStatus)) != status {
				continue
			}
			out.Records = append(out.Records, summarize(rec))
		}
	}
	out.Count = len(out.Records)
	return nil, out, nil
}

func (s *Server) handleGetRecord(_ context.Context, _ *gomcp.CallToolRequest, input getRecordInput) (*gomcp.CallToolResult, recordOutput, error) {
	if input.Name == "" {
		return errorResult("name is required"), emptyRecordOutput(), nil
	}
	name := input.Name
	if !strings.HasSuffix(name, ".md") {
		name += ".md"
	}

	f, ok := s.svc.Store.Locate(name)
	if !ok {
		return errorResult(fmt.Sprintf("record %s not found", name)), emptyRecordOutput(), nil
	}
	rec, err := s.svc.Store.Read(f, name)
	if err != nil {
		return errorResult(fmt.Sprintf("reading %s: %s", name, err)), emptyRecordOutput(), nil
	}

	out := recordOutput{
		Record: summarize(rec),
		Header: make(map[string]string, rec.Header.Len()),
		Body:   rec.Body,
	}
	for _, key := range rec.Header.Keys() {
		out.Header[key] = rec.Header.Get(key)
	}
	return nil, out, nil
}

func (s *Server) handleListApprovals(_ context.Context, _ *gomcp.CallToolRequest, _ listApprovalsInput) (*gomcp.CallToolResult, listRecordsOutput, error) {
	pending, err := s.svc.Gate.Pending()
	if err != nil {
		return errorResult(fmt.Sprintf("listing approvals: %s", err)), emptyListRecordsOutput(), nil
	}

	out := listRecordsOutput{Records: make([]recordSummary, 0, len(pending))}
	for _, rec := range pending {
		if core.ReadDecision(rec.Body) != models.DecisionNone {
			continue
		}
		out.Records = append(out.Records, summarize(rec))
	}
	out.Count = len(out.Records)
	return nil, out, nil
}

func (s *Server) handleDecideApproval(_ context.Context, _ *gomcp.CallToolRequest, input decideApprovalInput) (*gomcp.CallToolResult, decideApprovalOutput, error) {
	if input.Name == "" {
		return errorResult("name is required"), decideApprovalOutput{}, nil
	}
	decision, ok := parseDecision(input.Decision)
	if !ok {
		return errorResult(fmt.Sprintf("invalid decision %q: must be approved or rejected", input.Decision)), decideApprovalOutput{}, nil
	}

	if err := s.svc.Gate.Decide(input.Name, decision, input.Notes); err != nil {
		if errors.Is(err, models.ErrRecordNotFound) {
			return errorResult(fmt.Sprintf("%s is not waiting for approval", input.Name)), decideApprovalOutput{}, nil
		}
		return errorResult(fmt.Sprintf("deciding %s: %s", input.Name, err)), decideApprovalOutput{}, nil
	}

	out := decideApprovalOutput{
		Message: fmt.Sprintf("%s marked %s; the scheduler applies it on its next cycle", input.Name, decision),
	}
	return nil, out, nil
}

func (s *Server) handleGetMetrics(_ context.Context, _ *gomcp.CallToolRequest, input getMetricsInput) (*gomcp.CallToolResult, metricsOutput, error) {
	if s.svc.MetricsCalc == nil {
		return errorResult("metrics calculator not available (observability may be disabled)"), emptyMetricsOutput(), nil
	}

	sinceStr := input.Since
	if sinceStr == "" {
		sinceStr = "7d"
	}

	sinceTime, err := parseSince(sinceStr)
	if err != nil {
		return errorResult(fmt.Sprintf("parsing since duration: %s", err)), emptyMetricsOutput(), nil
	}

	metrics, err := s.svc.MetricsCalc.Calculate(sinceTime)
	if err != nil {
		return errorResult(fmt.Sprintf("calculating metrics: %s", err)), emptyMetricsOutput(), nil
	}

	out := metricsOutput{
		Ingested:         metrics.Ingested,
		Dispatched:       metrics.Dispatched,
		Parked:           metrics.Parked,
		Completed:        metrics.Completed,
		Failed:           metrics.Failed,
		Retries:          metrics.Retries,
		Cycles:           metrics.Cycles,
		ByPriority:       metrics.ByPriority,
		ApprovalOutcomes: metrics.ApprovalOutcomes,
		EventCount:       metrics.EventCount,
	}
	if metrics.OldestEvent != nil {
		out.OldestEvent = metrics.OldestEvent.Format(time.RFC3339)
	}
	if metrics.NewestEvent != nil {
		out.NewestEvent = metrics.NewestEvent.Format(time.RFC3339)
	}

	return nil, out, nil
}

func (s *Server) handleGetAlerts(_ context.Context, _ *gomcp.CallToolRequest, _ getAlertsInput) (*gomcp.CallToolResult, getAlertsOutput, error) {
	if s.svc.AlertEngine == nil {
		return errorResult("alert engine not available (observability may be disabled)"), emptyAlertsOutput(), nil
	}

	alerts, err := s.svc.AlertEngine.Evaluate()
	if err != nil {
		return errorResult(fmt.Sprintf("evaluating alerts: %s", err)), emptyAlertsOutput(), nil
	}

	out := getAlertsOutput{
		Alerts: make([]alertOutput, len(alerts)),
		Count:  len(alerts),
	}
	for i, a := range alerts {
		out.Alerts[i] = alertOutput{
			ID:          a.ID,
			Condition:   a.Condition,
			Severity:    string(a.Severity),
			Message:     a.Message,
			TriggeredAt: a.TriggeredAt.Format(time.RFC3339),
		}
	}

	return nil, out, nil
}

// --- Helpers ---

func summarize(rec *models.TaskRecord) recordSummary {
	return recordSummary{
		Name:         rec.Name,
		Folder:       string(rec.Folder),
		Status:       rec.Header.Get(models.KeyStatus),
		Priority:     string(rec.Priority()),
		Type:         rec.Header.Get(models.KeyType),
		ActionType:   rec.ActionType(),
		CreatedAt:    rec.Header.Get(models.KeyCreatedAt),
		TimeoutAt:    rec.Header.Get(models.KeyTimeoutAt),
		ErrorMessage: rec.Header.Get(models.KeyErrorMessage),
	}
}

func parseFolder(s string) (models.Folder, bool) {
	f := models.Folder(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range models.LifecycleFolders {
		if f == known {
			return f, true
		}
	}
	return "", false
}

func parseDecision(s string) (models.Decision, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approve", "approved":
		return models.DecisionApproved, true
	case "reject", "rejected":
		return models.DecisionRejected, true
	}
	return models.DecisionNone, false
}

// Error results still carry a structured output that must validate against
// the tool's schema, so maps and slices are never nil.

func emptyQueueStatusOutput() queueStatusOutput {
	return queueStatusOutput{Folders: map[string]int{}, Queued: []string{}}
}

func emptyListRecordsOutput() listRecordsOutput {
	return listRecordsOutput{Records: []recordSummary{}}
}

func emptyRecordOutput() recordOutput {
	return recordOutput{Header: map[string]string{}}
}

func emptyAlertsOutput() getAlertsOutput {
	return getAlertsOutput{Alerts: []alertOutput{}}
}

func emptyMetricsOutput() metricsOutput {
	return metricsOutput{
		ByPriority:       make(map[string]int),
		ApprovalOutcomes: make(map[string]int),
	}
}

func errorResult(msg string) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: msg}},
		IsError: true,
	}
}

// parseSince parses a human-friendly duration string like "7d", "30d", or "24h"
// into the corresponding time in the past.
func parseSince(s string) (time.Time, error) {
	now := time.Now().UTC()

	if len(s) < 2 {
		return time.Time{}, fmt.Errorf("invalid duration %q", s)
	}

	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]
	var num int
	if _, err := fmt.Sscanf(numStr, "%d", &num); err != nil {
		return time.Time{}, fmt.Errorf("invalid duration %q: %w", s, err)
	}

	switch suffix {
	case 'd':
		return now.AddDate(0, 0, -num), nil
	case 'h':
		return now.Add(-time.Duration(num) * time.Hour), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported duration suffix %q (use d or h)", string(suffix))
	}
}
