package core

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/valter-silva-au/vaultq/pkg/models"
)

// Approval request header keys.
const (
	keyRequestID     = "request_id"
	keyRequester     = "requester"
	keyReviewerNotes = "reviewer_notes"
)

// DecisionSlot is the line a human completes with APPROVED or REJECTED.
const DecisionSlot = "**YOUR DECISION**:"

// stillWaitingEvery controls how often a blocking wait logs progress.
const stillWaitingEvery = 5

// ErrApprovalTimeout is the sentinel wrapped by ApprovalTimeoutError.
var ErrApprovalTimeout = errors.New("approval timed out")

// ApprovalTimeoutError reports that nobody decided a request before its
// deadline. Callers must treat it as a rejection, never as an approval.
type ApprovalTimeoutError struct {
	RequestID string
	Timeout   time.Duration
}

func (e *ApprovalTimeoutError) Error() string {
	return fmt.Sprintf("approval request %s timed out after %s", e.RequestID, e.Timeout)
}

func (e *ApprovalTimeoutError) Unwrap() error {
	return ErrApprovalTimeout
}

// decisionPattern matches a completed decision slot, case-insensitively.
var decisionPattern = regexp.MustCompile(`(?i)decision\*\*:\s*(approved|rejected)`)

// ReadDecision returns the decision written into a record body.
func ReadDecision(body string) models.Decision {
	m := decisionPattern.FindStringSubmatch(body)
	if m == nil {
		return models.DecisionNone
	}
	return models.Decision(strings.ToUpper(m[1]))
}

// RecordDecision resolves the decision on a parked task record. The header
// may say so directly with status approved or approved: true; otherwise the
// decision slot in the body is read.
func RecordDecision(rec *models.TaskRecord) models.Decision {
	switch rec.Status() {
	case models.StatusApproved:
		return models.DecisionApproved
	case models.StatusRejected:
		return models.DecisionRejected
	}
	if rec.Header.Has(models.KeyApproved) && models.ParseBool(rec.Header.Get(models.KeyApproved)) {
		return models.DecisionApproved
	}
	return ReadDecision(rec.Body)
}

// SweepResult counts the parked records resolved by a sweep.
type SweepResult struct {
	Approved []string
	Rejected []string
	TimedOut []string
}

// ApprovalGate is the human-in-the-loop decision primitive. It exclusively
// owns transitions out of awaiting_approval.
type ApprovalGate interface {
	// Request creates an approval request and blocks until it is decided, it
	// times out, or ctx is cancelled.
	Request(ctx context.Context, req *models.ApprovalRequest, timeout time.Duration) (models.Decision, error)
	// Create writes a new approval request without waiting.
	Create(req *models.ApprovalRequest, timeout time.Duration) error
	// Await polls an existing approval request until it is resolved.
	Await(ctx context.Context, req *models.ApprovalRequest) (models.Decision, error)
	// AwaitRecord polls a parked task record until it is decided or its
	// timeout_at passes. On cancellation the record stays parked.
	AwaitRecord(ctx context.Context, rec *models.TaskRecord) (models.Decision, error)
	// Sweep resolves every parked record whose decision is written or whose
	// deadline has passed.
	Sweep(ctx context.Context) (*SweepResult, error)
	// Decide writes a decision into the slot of a waiting record in place.
	Decide(name string, decision models.Decision, notes string) error
	// Pending lists the records waiting for a decision.
	Pending() ([]*models.TaskRecord, error)
}

// ApprovalGateConfig configures an ApprovalGate.
type ApprovalGateConfig struct {
	PollInterval time.Duration
	Timeout      time.Duration
}

type approvalGate struct {
	store  RecordStore
	cfg    ApprovalGateConfig
	log    zerolog.Logger
	events EventLogger
	now    func() time.Time
}

// NewApprovalGate creates an ApprovalGate over the Needs_Approval folder.
func NewApprovalGate(store RecordStore, cfg ApprovalGateConfig, log zerolog.Logger, events EventLogger) ApprovalGate {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Hour
	}
	return &approvalGate{store: store, cfg: cfg, log: log, events: events, now: time.Now}
}

// newRequestID returns a time-ordered unique id, falling back to a
// timestamp if the random source fails.
func newRequestID(now time.Time) string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return now.Format("20060102_150405.000000000")
}

func (g *approvalGate) Request(ctx context.Context, req *models.ApprovalRequest, timeout time.Duration) (models.Decision, error) {
	if err := g.Create(req, timeout); err != nil {
		return models.DecisionNone, err
	}
	return g.Await(ctx, req)
}

func (g *approvalGate) Create(req *models.ApprovalRequest, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = g.cfg.Timeout
	}
	now := g.now()
	if req.ID == "" {
		req.ID = newRequestID(now)
	}
	if req.Requester == "" {
		req.Requester = "unknown"
	}
	if req.Priority == "" {
		req.Priority = models.PriorityMedium
	}
	req.Status = models.ApprovalPending
	req.CreatedAt = now
	req.TimeoutAt = now.Add(timeout)

	rec := models.NewTaskRecord(req.Filename())
	rec.Folder = models.FolderNeedsApproval
	h := rec.Header
	h.Set(keyRequestID, req.ID)
	h.Set(models.KeyStatus, string(req.Status))
	rec.Stamp(models.KeyCreatedAt, req.CreatedAt)
	rec.Stamp(models.KeyTimeoutAt, req.TimeoutAt)
	h.Set(keyRequester, req.Requester)
	h.Set(models.KeyPriority, string(req.Priority))
	rec.Body = renderRequestBody(req)

	if err := g.store.Create(rec); err != nil {
		return fmt.Errorf("creating approval request: %w", err)
	}

	g.log.Info().
		Str("request", req.ID).
		Str("title", req.Title).
		Str("priority", string(req.Priority)).
		Dur("timeout", timeout).
		Msg("approval request created")
	logEvent(g.events, models.EventApprovalCreated, rec.Name, map[string]any{
		"title":     req.Title,
		"requester": req.Requester,
	})
	return nil
}

func renderRequestBody(req *models.ApprovalRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n# Approval Request: %s\n\n## Description\n%s\n", req.Title, req.Description)
	if len(req.Details) > 0 {
		b.WriteString("\n## Details\n")
		for _, d := range req.Details {
			fmt.Fprintf(&b, "- **%s**: %s\n", d.Key, d.Value)
		}
	}
	b.WriteString(decisionSection)
	return b.String()
}

const decisionSection = `
## Decision Required

Please review the information above and make a decision.

Write **APPROVED** or **REJECTED** below:

---

` + DecisionSlot + `

`

// approvalHeading opens the section appended to a parked record.
const approvalHeading = "## Approval Required"

// parkedDecisionSection is appended to a task record when it is parked.
const parkedDecisionSection = `

` + approvalHeading + `

This action needs a human decision before it runs.

Write **APPROVED** or **REJECTED** below:

` + DecisionSlot + `

`

func (g *approvalGate) Await(ctx context.Context, req *models.ApprovalRequest) (models.Decision, error) {
	name := req.Filename()
	deadline := req.TimeoutAt
	timeout := deadline.Sub(req.CreatedAt)
	log := g.log.With().Str("request", req.ID).Logger()
	log.Info().Dur("timeout", timeout).Msg("waiting for human decision")

	for attempt := 1; ; attempt++ {
		now := g.now()
		if !now.Before(deadline) {
			log.Error().Dur("timeout", timeout).Msg("approval request timed out")
			if err := g.resolveRequest(name, models.ApprovalTimeout, "Request timed out"); err != nil && !errors.Is(err, models.ErrRecordNotFound) {
				log.Error().Err(err).Msg("moving timed out request to done")
			}
			return models.DecisionNone, &ApprovalTimeoutError{RequestID: req.ID, Timeout: timeout}
		}

		rec, err := g.store.Read(models.FolderNeedsApproval, name)
		switch {
		case errors.Is(err, models.ErrRecordNotFound):
			// Resolved elsewhere, e.g. by a sweep in another process.
			return g.resolvedElsewhere(req, timeout)
		case err != nil:
			log.Warn().Err(err).Msg("reading approval request")
		default:
			if d := ReadDecision(rec.Body); d != models.DecisionNone {
				if err := g.resolveRequest(name, models.ApprovalStatus(d), ""); err != nil && !errors.Is(err, models.ErrRecordNotFound) {
					log.Error().Err(err).Msg("moving decided request to done")
				}
				log.Info().Str("decision", string(d)).Msg("approval request resolved")
				return d, nil
			}
		}

		if attempt%stillWaitingEvery == 0 {
			log.Info().
				Dur("remaining", deadline.Sub(now).Truncate(time.Second)).
				Int("attempt", attempt).
				Msg("still waiting")
		}

		if err := g.sleep(ctx, min(g.cfg.PollInterval, deadline.Sub(now))); err != nil {
			log.Warn().Msg("wait cancelled, request left pending")
			return models.DecisionNone, err
		}
	}
}

// resolvedElsewhere reads the outcome of a request that left Needs_Approval
// without this waiter moving it.
func (g *approvalGate) resolvedElsewhere(req *models.ApprovalRequest, timeout time.Duration) (models.Decision, error) {
	rec, err := g.store.Read(models.FolderDone, req.Filename())
	if err != nil {
		return models.DecisionNone, fmt.Errorf("approval request %s: %w", req.ID, err)
	}
	switch models.ApprovalStatus(strings.ToUpper(rec.Header.Get(models.KeyStatus))) {
	case models.ApprovalApproved:
		return models.DecisionApproved, nil
	case models.ApprovalRejected:
		return models.DecisionRejected, nil
	case models.ApprovalTimeout:
		return models.DecisionNone, &ApprovalTimeoutError{RequestID: req.ID, Timeout: timeout}
	}
	return models.DecisionNone, fmt.Errorf("approval request %s left pending folder unresolved", req.ID)
}

// resolveRequest stamps and moves an approval request to Done. The move never
// overwrites, so a request reaches Done exactly once.
func (g *approvalGate) resolveRequest(name string, status models.ApprovalStatus, notes string) error {
	rec, err := g.store.Read(models.FolderNeedsApproval, name)
	if err != nil {
		return err
	}
	rec.Header.Set(models.KeyStatus, string(status))
	rec.Stamp(models.KeyReviewedAt, g.now())
	if notes != "" {
		rec.Header.Set(keyReviewerNotes, notes)
	}
	if err := g.store.Relocate(rec, models.FolderDone); err != nil {
		return err
	}
	logEvent(g.events, models.EventApprovalResolved, name, map[string]any{
		"outcome": strings.ToLower(string(status)),
	})
	return nil
}

func (g *approvalGate) AwaitRecord(ctx context.Context, rec *models.TaskRecord) (models.Decision, error) {
	log := g.log.With().Str("record", rec.Name).Logger()
	log.Info().Msg("waiting for human decision")

	for attempt := 1; ; attempt++ {
		current, err := g.store.Read(models.FolderNeedsApproval, rec.Name)
		if err != nil {
			return models.DecisionNone, err
		}
		outcome, err := g.resolveParked(current)
		if err != nil {
			return models.DecisionNone, err
		}
		if outcome != "" {
			*rec = *current
			switch outcome {
			case models.StatusApproved:
				return models.DecisionApproved, nil
			case models.StatusRejected:
				return models.DecisionRejected, nil
			default:
				return models.DecisionNone, &ApprovalTimeoutError{RequestID: rec.Name, Timeout: g.cfg.Timeout}
			}
		}

		wait := g.cfg.PollInterval
		if deadline, ok := models.ParseTime(current.Header.Get(models.KeyTimeoutAt)); ok {
			wait = min(wait, max(deadline.Sub(g.now()), time.Millisecond))
		}
		if attempt%stillWaitingEvery == 0 {
			log.Info().Int("attempt", attempt).Msg("still waiting")
		}
		if err := g.sleep(ctx, wait); err != nil {
			log.Warn().Msg("wait cancelled, record left parked")
			return models.DecisionNone, err
		}
	}
}

// resolveParked applies a written decision or an expired deadline to a parked
// task record. It returns the new status, or "" when still waiting.
func (g *approvalGate) resolveParked(rec *models.TaskRecord) (models.Status, error) {
	switch st := rec.Status(); {
	case st == models.StatusApproved:
		return models.StatusApproved, nil
	case st == models.StatusScheduled || st.Terminal():
		return "", nil
	}

	var to models.Status
	switch RecordDecision(rec) {
	case models.DecisionApproved:
		to = models.StatusApproved
	case models.DecisionRejected:
		to = models.StatusRejected
	default:
		deadline, ok := models.ParseTime(rec.Header.Get(models.KeyTimeoutAt))
		if !ok || g.now().Before(deadline) {
			return "", nil
		}
		to = models.StatusTimeout
	}

	if rec.Status() != models.StatusAwaitingApproval {
		// Hand-written records may arrive here pending; normalize first.
		rec.Header.Set(models.KeyStatus, string(models.StatusAwaitingApproval))
	}
	if err := rec.Transition(to); err != nil {
		return "", err
	}
	rec.Stamp(models.KeyReviewedAt, g.now())

	var err error
	if to == models.StatusApproved {
		err = g.store.Save(rec)
	} else {
		if to == models.StatusTimeout {
			rec.Header.Set(models.KeyErrorMessage, "approval timed out without a decision")
		} else {
			rec.Header.Set(models.KeyErrorMessage, "rejected by reviewer")
		}
		err = g.store.Relocate(rec, models.FolderDone)
	}
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", rec.Name, err)
	}

	g.log.Info().Str("record", rec.Name).Str("outcome", string(to)).Msg("approval resolved")
	logEvent(g.events, models.EventApprovalResolved, rec.Name, map[string]any{"outcome": string(to)})
	return to, nil
}

func isApprovalRequest(rec *models.TaskRecord) bool {
	return rec.Header.Has(keyRequestID)
}

func (g *approvalGate) Sweep(ctx context.Context) (*SweepResult, error) {
	result := &SweepResult{}
	names, err := g.store.Names(models.FolderNeedsApproval)
	if err != nil {
		return result, err
	}
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		rec, err := g.store.Read(models.FolderNeedsApproval, name)
		if err != nil {
			g.log.Warn().Err(err).Str("record", name).Msg("sweep: unreadable record")
			continue
		}

		if isApprovalRequest(rec) {
			g.sweepRequest(rec, result)
			continue
		}

		outcome, err := g.resolveParked(rec)
		if err != nil {
			g.log.Error().Err(err).Str("record", name).Msg("sweep: resolving record")
			continue
		}
		switch outcome {
		case models.StatusApproved:
			result.Approved = append(result.Approved, name)
		case models.StatusRejected:
			result.Rejected = append(result.Rejected, name)
		case models.StatusTimeout:
			result.TimedOut = append(result.TimedOut, name)
		}
	}
	return result, nil
}

// sweepRequest only touches approval requests whose deadline has passed.
// Live requests belong to the process waiting on them.
func (g *approvalGate) sweepRequest(rec *models.TaskRecord, result *SweepResult) {
	deadline, ok := models.ParseTime(rec.Header.Get(models.KeyTimeoutAt))
	if !ok || g.now().Before(deadline) {
		return
	}
	status := models.ApprovalTimeout
	notes := "Request timed out"
	if d := ReadDecision(rec.Body); d != models.DecisionNone {
		status, notes = models.ApprovalStatus(d), ""
	}
	if err := g.resolveRequest(rec.Name, status, notes); err != nil {
		g.log.Error().Err(err).Str("record", rec.Name).Msg("sweep: resolving orphaned request")
		return
	}
	switch status {
	case models.ApprovalApproved:
		result.Approved = append(result.Approved, rec.Name)
	case models.ApprovalRejected:
		result.Rejected = append(result.Rejected, rec.Name)
	default:
		result.TimedOut = append(result.TimedOut, rec.Name)
	}
}

func (g *approvalGate) Decide(name string, decision models.Decision, notes string) error {
	if decision != models.DecisionApproved && decision != models.DecisionRejected {
		return fmt.Errorf("invalid decision %q: must be APPROVED or REJECTED", decision)
	}
	if !strings.HasSuffix(name, ".md") {
		name += ".md"
	}
	rec, err := g.store.Read(models.FolderNeedsApproval, name)
	if err != nil {
		return err
	}
	if ReadDecision(rec.Body) != models.DecisionNone {
		return fmt.Errorf("%s already has a decision", name)
	}

	line := " " + string(decision) + "\n"
	if notes != "" {
		line += "\n**Notes**: " + strings.ReplaceAll(notes, "\n", " ") + "\n"
	}
	if i := strings.LastIndex(rec.Body, DecisionSlot); i >= 0 {
		rest := strings.TrimLeft(rec.Body[i+len(DecisionSlot):], " \t")
		rec.Body = rec.Body[:i+len(DecisionSlot)] + line + strings.TrimLeft(rest, "\n")
	} else {
		rec.Body = strings.TrimRight(rec.Body, "\n") + "\n\n" + DecisionSlot + line
	}
	if err := g.store.Save(rec); err != nil {
		return err
	}
	g.log.Info().Str("record", name).Str("decision", string(decision)).Msg("decision recorded")
	return nil
}

func (g *approvalGate) Pending() ([]*models.TaskRecord, error) {
	names, err := g.store.Names(models.FolderNeedsApproval)
	if err != nil {
		return nil, err
	}
	var out []*models.TaskRecord
	for _, name := range names {
		rec, err := g.store.Read(models.FolderNeedsApproval, name)
		if err != nil {
			continue
		}
		if rec.Status() == models.StatusApproved {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// sleep waits for d or until ctx is done.
func (g *approvalGate) sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ActionBody returns a record body without the approval section added when
// it was parked.
func ActionBody(body string) string {
	if i := strings.LastIndex(body, "\n"+approvalHeading+"\n"); i >= 0 {
		return strings.TrimRight(body[:i], "\n") + "\n"
	}
	return body
}

// ParkRecord marks a record as awaiting approval, appends a decision slot and
// moves it into Needs_Approval.
func ParkRecord(store RecordStore, rec *models.TaskRecord, timeout time.Duration, now time.Time) error {
	if err := rec.Transition(models.StatusAwaitingApproval); err != nil {
		return err
	}
	rec.Stamp(models.KeyTimeoutAt, now.Add(timeout))
	if !strings.Contains(rec.Body, DecisionSlot) {
		rec.Body = strings.TrimRight(rec.Body, "\n") + parkedDecisionSection
	}
	return store.Relocate(rec, models.FolderNeedsApproval)
}
