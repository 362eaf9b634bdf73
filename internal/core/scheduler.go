package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/valter-silva-au/vaultq/pkg/models"
)

// ScheduleOptions controls a single scheduling cycle.
type ScheduleOptions struct {
	// DryRun reports the dispatch order without moving, rewriting or
	// executing anything.
	DryRun bool
	// Force bypasses the approval gate for every record in this cycle.
	Force bool
	// Target restricts the cycle to one record filename.
	Target string
	// ApprovalMode overrides the configured approval mode when set.
	ApprovalMode models.ApprovalMode
	// ApprovalTimeout overrides the configured approval timeout when positive.
	ApprovalTimeout time.Duration
}

// ScheduleResult summarizes one scheduling cycle.
type ScheduleResult struct {
	Recovered  []string
	Dispatched []string
	Completed  []string
	Failed     []string
	Parked     []string
	Rejected   []string
	TimedOut   []string
	Sweep      *SweepResult
	// Errors counts records that could not be processed because of a
	// storage fault.
	Errors int
}

// HasFailures reports whether any record ended failed, rejected, timed out or
// hit a storage fault.
func (r *ScheduleResult) HasFailures() bool {
	return len(r.Failed) > 0 || len(r.Rejected) > 0 || len(r.TimedOut) > 0 || r.Errors > 0
}

// Scheduler loads eligible records each cycle and dispatches them one at a
// time in priority order. It exclusively owns transitions out of pending.
type Scheduler interface {
	// Schedule runs one cycle. Cancelling ctx stops the cycle between records;
	// an in-flight execution always runs to its terminal move.
	Schedule(ctx context.Context, opts ScheduleOptions) (*ScheduleResult, error)
	// Queue returns the eligible records in dispatch order without side effects.
	Queue(target string) ([]*models.TaskRecord, error)
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	ApprovalMode    models.ApprovalMode
	ApprovalTimeout time.Duration
}

type scheduler struct {
	store    RecordStore
	gate     ApprovalGate
	executor Executor
	cfg      SchedulerConfig
	log      zerolog.Logger
	events   EventLogger
	now      func() time.Time

	mu         sync.Mutex
	dispatched map[string]struct{}
}

// NewScheduler creates a Scheduler.
func NewScheduler(store RecordStore, gate ApprovalGate, executor Executor, cfg SchedulerConfig, log zerolog.Logger, events EventLogger) Scheduler {
	if cfg.ApprovalMode == "" {
		cfg.ApprovalMode = models.ApprovalModePark
	}
	if cfg.ApprovalTimeout <= 0 {
		cfg.ApprovalTimeout = time.Hour
	}
	return &scheduler{
		store:      store,
		gate:       gate,
		executor:   executor,
		cfg:        cfg,
		log:        log,
		events:     events,
		now:        time.Now,
		dispatched: make(map[string]struct{}),
	}
}

// sourceFolders are scanned for eligible records each cycle.
var sourceFolders = []models.Folder{models.FolderNeedsAction, models.FolderActions, models.FolderNeedsApproval}

// eligible reports whether a record in folder f may be dispatched.
func eligible(rec *models.TaskRecord, f models.Folder) bool {
	st := rec.Status()
	if f == models.FolderNeedsApproval {
		// scheduled here means an approved record whose run was interrupted.
		return st == models.StatusApproved || st == models.StatusScheduled
	}
	switch st {
	case models.StatusPending, models.StatusScheduled, models.StatusApproved:
		return true
	}
	return false
}

func matchesTarget(name, target string) bool {
	if target == "" {
		return true
	}
	return name == target || name == target+".md"
}

func (s *scheduler) Queue(target string) ([]*models.TaskRecord, error) {
	var records []*models.TaskRecord
	for _, f := range sourceFolders {
		names, err := s.store.Names(f)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			if !strings.HasSuffix(name, ".md") || !matchesTarget(name, target) {
				continue
			}
			rec, err := s.store.Read(f, name)
			if err != nil {
				s.log.Warn().Err(err).Str("record", name).Msg("skipping unreadable record")
				continue
			}
			if !rec.HasHeader {
				s.log.Warn().Str("record", name).Msg("record has no header, using defaults")
			}
			if eligible(rec, f) {
				records = append(records, rec)
			}
		}
	}
	return OrderRecords(records), nil
}

func (s *scheduler) Schedule(ctx context.Context, opts ScheduleOptions) (*ScheduleResult, error) {
	result := &ScheduleResult{}
	if !opts.DryRun {
		result.Recovered = s.recover()
		sweep, err := s.gate.Sweep(ctx)
		if err != nil {
			s.log.Error().Err(err).Msg("sweeping approvals")
		}
		result.Sweep = sweep
		if sweep != nil {
			result.Rejected = append(result.Rejected, sweep.Rejected...)
			result.TimedOut = append(result.TimedOut, sweep.TimedOut...)
		}
	}

	queue, err := s.Queue(opts.Target)
	if err != nil {
		return result, fmt.Errorf("loading queue: %w", err)
	}
	if opts.Target != "" && len(queue) == 0 {
		s.log.Warn().Str("target", opts.Target).Msg("target record not found or not eligible")
	}

	for _, rec := range queue {
		if ctx.Err() != nil {
			s.log.Info().Msg("shutdown requested, stopping cycle")
			break
		}
		if s.alreadyDispatched(rec.Name) {
			continue
		}
		if err := s.dispatch(ctx, rec, opts, result); err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			result.Errors++
			s.log.Error().Err(err).Str("record", rec.Name).Msg("dispatch failed")
		}
	}
	return result, nil
}

func (s *scheduler) alreadyDispatched(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.dispatched[name]
	return ok
}

func (s *scheduler) markDispatched(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatched[name] = struct{}{}
}

// needsApproval applies the approval policy: an explicit requires_approval
// wins; otherwise action records need approval and generated records do not.
func needsApproval(rec *models.TaskRecord, force bool) bool {
	if force || rec.Folder == models.FolderNeedsApproval || rec.Status() == models.StatusApproved || RecordDecision(rec) == models.DecisionApproved {
		return false
	}
	if required, set := rec.RequiresApproval(); set {
		return required
	}
	return rec.ActionType() != "" || rec.Folder == models.FolderActions
}

func (s *scheduler) dispatch(ctx context.Context, rec *models.TaskRecord, opts ScheduleOptions, result *ScheduleResult) error {
	log := s.log.With().Str("record", rec.Name).Str("priority", string(rec.Priority())).Logger()

	if needsApproval(rec, opts.Force) {
		if opts.DryRun {
			log.Info().Msg("dry run: would park for approval")
			result.Parked = append(result.Parked, rec.Name)
			return nil
		}
		proceed, err := s.park(ctx, log, rec, opts, result)
		if err != nil || !proceed {
			return err
		}
	} else if opts.DryRun {
		log.Info().Msg("dry run: would execute")
		result.Dispatched = append(result.Dispatched, rec.Name)
		return nil
	}
	s.markDispatched(rec.Name)

	if rec.Status() != models.StatusScheduled {
		if err := rec.Transition(models.StatusScheduled); err != nil {
			return err
		}
	}
	if err := s.store.Save(rec); err != nil {
		return err
	}
	result.Dispatched = append(result.Dispatched, rec.Name)
	log.Info().Msg("dispatching")
	logEvent(s.events, models.EventDispatched, rec.Name, map[string]any{
		"priority":    string(rec.Priority()),
		"action_type": rec.ActionType(),
	})

	// The execution is detached from cancellation so a shutdown never leaves
	// a record half-transitioned.
	res, err := s.executor.Execute(context.WithoutCancel(ctx), rec)
	if err != nil {
		return err
	}
	switch res.Status {
	case models.StatusCompleted:
		result.Completed = append(result.Completed, rec.Name)
	default:
		result.Failed = append(result.Failed, rec.Name)
	}
	return nil
}

// park moves rec into Needs_Approval. In wait mode it then blocks on the
// gate and reports whether the record was approved and should execute.
func (s *scheduler) park(ctx context.Context, log zerolog.Logger, rec *models.TaskRecord, opts ScheduleOptions, result *ScheduleResult) (bool, error) {
	timeout := s.cfg.ApprovalTimeout
	if opts.ApprovalTimeout > 0 {
		timeout = opts.ApprovalTimeout
	}
	if err := ParkRecord(s.store, rec, timeout, s.now()); err != nil {
		return false, err
	}
	result.Parked = append(result.Parked, rec.Name)
	log.Info().Dur("timeout", timeout).Msg("parked for approval")
	logEvent(s.events, models.EventParked, rec.Name, map[string]any{
		"action_type": rec.ActionType(),
		"timeout_at":  rec.Header.Get(models.KeyTimeoutAt),
	})

	mode := s.cfg.ApprovalMode
	if opts.ApprovalMode != "" {
		mode = opts.ApprovalMode
	}
	if mode != models.ApprovalModeWait {
		return false, nil
	}

	decision, err := s.gate.AwaitRecord(ctx, rec)
	var timeoutErr *ApprovalTimeoutError
	switch {
	case errors.As(err, &timeoutErr):
		result.TimedOut = append(result.TimedOut, rec.Name)
		return false, nil
	case err != nil:
		return false, err
	case decision == models.DecisionApproved:
		return true, nil
	default:
		result.Rejected = append(result.Rejected, rec.Name)
		return false, nil
	}
}

// recover repairs records a crashed run left behind: terminal records still
// in a working folder move to Done, and records marked awaiting approval
// outside Needs_Approval move there.
func (s *scheduler) recover() []string {
	var recovered []string
	for _, f := range []models.Folder{models.FolderNeedsAction, models.FolderActions} {
		names, err := s.store.Names(f)
		if err != nil {
			s.log.Error().Err(err).Msg("recovery: listing folder")
			continue
		}
		for _, name := range names {
			if !strings.HasSuffix(name, ".md") {
				continue
			}
			rec, err := s.store.Read(f, name)
			if err != nil {
				continue
			}
			var to models.Folder
			switch st := rec.Status(); {
			case st.Terminal():
				to = models.FolderDone
			case st == models.StatusAwaitingApproval:
				to = models.FolderNeedsApproval
			default:
				continue
			}
			if err := s.store.Move(rec, to); err != nil {
				s.log.Error().Err(err).Str("record", name).Msg("recovery: moving record")
				continue
			}
			s.log.Warn().Str("record", name).Str("status", string(rec.Status())).Str("to", string(to)).Msg("recovered record left by an earlier run")
			logEvent(s.events, models.EventRecovered, name, map[string]any{"status": string(rec.Status())})
			recovered = append(recovered, name)
		}
	}
	return recovered
}
