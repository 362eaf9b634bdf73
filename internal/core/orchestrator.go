package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/valter-silva-au/vaultq/pkg/models"
)

// Run modes.
const (
	ModeOnce   = "once"
	ModeDaemon = "daemon"
)

// heartbeatEvery controls how often the daemon logs a session summary.
const heartbeatEvery = 5

// LogRotator archives the activity log once it exceeds its size limit.
type LogRotator interface {
	RotateIfNeeded() (string, error)
}

// RunOptions controls an orchestrated run.
type RunOptions struct {
	Mode            string
	DryRun          bool
	Force           bool
	Target          string
	ApprovalMode    models.ApprovalMode
	ApprovalTimeout time.Duration
	// Interval overrides the configured scheduling interval in daemon mode.
	Interval time.Duration
}

func (o RunOptions) schedule() ScheduleOptions {
	return ScheduleOptions{
		DryRun:          o.DryRun,
		Force:           o.Force,
		Target:          o.Target,
		ApprovalMode:    o.ApprovalMode,
		ApprovalTimeout: o.ApprovalTimeout,
	}
}

// CycleResult is the outcome of one ingest and schedule cycle.
type CycleResult struct {
	Ingest   *IngestResult
	Schedule *ScheduleResult
}

// SessionStats accumulates results across the cycles of one process.
type SessionStats struct {
	Cycles    int
	Ingested  int
	Completed int
	Failed    int
	Parked    int
	Rejected  int
	TimedOut  int
	Errors    int
}

// HasFailures reports whether any record failed, was rejected, timed out, or
// a cycle hit an error.
func (s SessionStats) HasFailures() bool {
	return s.Failed > 0 || s.Rejected > 0 || s.TimedOut > 0 || s.Errors > 0
}

// Orchestrator runs the ingest and schedule stages in process, once or as a
// daemon with independent polling loops.
type Orchestrator interface {
	// RunCycle performs one rotate, ingest and schedule pass.
	RunCycle(ctx context.Context, opts RunOptions) (*CycleResult, error)
	// Run takes the process lock and runs in the requested mode until done or
	// ctx is cancelled.
	Run(ctx context.Context, opts RunOptions) (SessionStats, error)
	// Stats returns the session totals so far.
	Stats() SessionStats
}

// OrchestratorConfig configures an Orchestrator.
type OrchestratorConfig struct {
	ScheduleInterval time.Duration
	WatchInterval    time.Duration
}

type orchestrator struct {
	store     RecordStore
	registry  IngestRegistry
	ingestor  Ingestor
	scheduler Scheduler
	lock      ProcessLock
	rotator   LogRotator
	cfg       OrchestratorConfig
	log       zerolog.Logger
	events    EventLogger

	mu    sync.Mutex
	stats SessionStats

	// ingestMu serializes the watcher loop and the cycle's ingest stage.
	ingestMu sync.Mutex
}

// NewOrchestrator creates an Orchestrator. rotator may be nil.
func NewOrchestrator(store RecordStore, registry IngestRegistry, ingestor Ingestor, scheduler Scheduler, lock ProcessLock, rotator LogRotator, cfg OrchestratorConfig, log zerolog.Logger, events EventLogger) Orchestrator {
	if cfg.ScheduleInterval <= 0 {
		cfg.ScheduleInterval = 300 * time.Second
	}
	if cfg.WatchInterval <= 0 {
		cfg.WatchInterval = 5 * time.Second
	}
	return &orchestrator{
		store:     store,
		registry:  registry,
		ingestor:  ingestor,
		scheduler: scheduler,
		lock:      lock,
		rotator:   rotator,
		cfg:       cfg,
		log:       log,
		events:    events,
	}
}

func (o *orchestrator) Stats() SessionStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats
}

func (o *orchestrator) addIngest(r *IngestResult) {
	if r == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stats.Ingested += len(r.Created)
}

func (o *orchestrator) addSchedule(r *ScheduleResult) {
	if r == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stats.Cycles++
	o.stats.Completed += len(r.Completed)
	o.stats.Failed += len(r.Failed)
	o.stats.Parked += len(r.Parked)
	o.stats.Rejected += len(r.Rejected)
	o.stats.TimedOut += len(r.TimedOut)
	o.stats.Errors += r.Errors
}

func (o *orchestrator) addError() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stats.Errors++
}

func (o *orchestrator) rotate() {
	if o.rotator == nil {
		return
	}
	archive, err := o.rotator.RotateIfNeeded()
	if err != nil {
		o.log.Warn().Err(err).Msg("rotating activity log")
		return
	}
	if archive != "" {
		o.log.Info().Str("archive", archive).Msg("activity log rotated")
	}
}

func (o *orchestrator) ingest(ctx context.Context, dryRun bool) (*IngestResult, error) {
	o.ingestMu.Lock()
	defer o.ingestMu.Unlock()
	res, err := o.ingestor.Ingest(ctx, IngestOptions{DryRun: dryRun})
	if err != nil {
		o.addError()
		return nil, err
	}
	if !dryRun {
		o.addIngest(res)
	}
	if n := len(res.Created); n > 0 {
		o.log.Info().Int("created", n).Int("skipped", len(res.Skipped)).Msg("processed new inbox items")
	}
	return res, nil
}

func (o *orchestrator) RunCycle(ctx context.Context, opts RunOptions) (*CycleResult, error) {
	if !opts.DryRun {
		o.rotate()
	}
	o.logStatistics()

	result := &CycleResult{}
	ing, err := o.ingest(ctx, opts.DryRun)
	if err != nil {
		o.log.Error().Err(err).Msg("ingest stage failed")
	}
	result.Ingest = ing

	sched, err := o.scheduler.Schedule(ctx, opts.schedule())
	if err != nil {
		o.addError()
		return result, fmt.Errorf("schedule stage: %w", err)
	}
	result.Schedule = sched
	o.addSchedule(sched)

	o.log.Info().
		Int("dispatched", len(sched.Dispatched)).
		Int("completed", len(sched.Completed)).
		Int("failed", len(sched.Failed)).
		Int("parked", len(sched.Parked)).
		Bool("dry_run", opts.DryRun).
		Msg("cycle finished")
	if !opts.DryRun {
		logEvent(o.events, models.EventCycleFinished, "", map[string]any{
			"dispatched": len(sched.Dispatched),
			"completed":  len(sched.Completed),
			"failed":     len(sched.Failed),
			"parked":     len(sched.Parked),
		})
	}
	return result, nil
}

// logStatistics writes the per-cycle inbox and queue summary.
func (o *orchestrator) logStatistics() {
	inbox, _ := o.store.Names(models.FolderInbox)
	unseen, _ := o.ingestor.Scan()
	active := 0
	for _, f := range []models.Folder{models.FolderNeedsAction, models.FolderActions} {
		names, _ := o.store.Names(f)
		for _, n := range names {
			if strings.HasSuffix(n, ".md") {
				active++
			}
		}
	}
	st := o.Stats()
	o.log.Info().
		Int("inbox_new", len(unseen)).
		Int("inbox_total", len(inbox)).
		Int("active", active).
		Int("processed_session", st.Ingested).
		Int("processed_total", o.registry.Len()).
		Msg("stats")
}

func (o *orchestrator) Run(ctx context.Context, opts RunOptions) (SessionStats, error) {
	mode := opts.Mode
	if mode == "" {
		mode = ModeOnce
	}
	o.mu.Lock()
	o.stats = SessionStats{}
	o.mu.Unlock()

	if !opts.DryRun {
		if err := o.lock.Acquire(mode); err != nil {
			return SessionStats{}, err
		}
		defer func() {
			if err := o.lock.Release(); err != nil {
				o.log.Warn().Err(err).Msg("releasing lock")
			}
		}()
		if _, err := o.ingestor.Reconcile(); err != nil {
			o.log.Warn().Err(err).Msg("reconciling registry")
		}
	}

	if mode == ModeOnce {
		o.log.Info().Str("mode", mode).Msg("vaultq started")
		_, err := o.RunCycle(ctx, opts)
		st := o.Stats()
		o.log.Info().Int("processed", st.Ingested).Int("completed", st.Completed).Int("errors", st.Errors).Msg("session complete")
		return st, err
	}
	return o.runDaemon(ctx, opts)
}

// runDaemon runs the inbox watcher and the scheduler as two independent
// polling loops until ctx is cancelled. A cycle in progress always finishes.
func (o *orchestrator) runDaemon(ctx context.Context, opts RunOptions) (SessionStats, error) {
	interval := o.cfg.ScheduleInterval
	if opts.Interval > 0 {
		interval = opts.Interval
	}
	o.log.Info().Str("mode", ModeDaemon).Dur("interval", interval).Dur("watch_interval", o.cfg.WatchInterval).Msg("vaultq started")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		o.loop(ctx, o.cfg.WatchInterval, func(n int) {
			if _, err := o.ingest(ctx, opts.DryRun); err != nil {
				o.log.Error().Err(err).Msg("ingest stage failed")
			}
		})
	}()
	go func() {
		defer wg.Done()
		o.loop(ctx, interval, func(n int) {
			if _, err := o.RunCycle(ctx, opts); err != nil {
				o.log.Error().Err(err).Int("cycle", n).Msg("cycle failed")
			}
			if n%heartbeatEvery == 0 {
				st := o.Stats()
				o.log.Info().Int("cycles", st.Cycles).Int("processed", st.Ingested).Int("errors", st.Errors).Msg("heartbeat")
			}
		})
	}()
	wg.Wait()

	st := o.Stats()
	o.log.Info().Int("cycles", st.Cycles).Int("processed", st.Ingested).Int("errors", st.Errors).Msg("shutdown requested, session ended")
	return st, nil
}

// loop calls fn immediately and then every interval until ctx is done.
func (o *orchestrator) loop(ctx context.Context, interval time.Duration, fn func(n int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for n := 1; ; n++ {
		fn(n)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
