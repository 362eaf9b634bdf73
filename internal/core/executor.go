package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/valter-silva-au/vaultq/pkg/models"
)

// Canonical capability names.
const (
	ActionGeneric    = "generic"
	ActionEmail      = "email"
	ActionSocialPost = "social_post"
	ActionWebhook    = "webhook"
)

// actionAliases maps the action_type spellings found in records to a
// canonical capability name.
var actionAliases = map[string]string{
	"":            ActionGeneric,
	"generic":     ActionGeneric,
	"task":        ActionGeneric,
	"email":       ActionEmail,
	"send_email":  ActionEmail,
	"social":      ActionSocialPost,
	"social_post": ActionSocialPost,
	"social-post": ActionSocialPost,
	"linkedin":    ActionSocialPost,
	"webhook":     ActionWebhook,
	"http":        ActionWebhook,
}

// CanonicalAction returns the capability name for an action_type value.
func CanonicalAction(actionType string) (string, bool) {
	name, ok := actionAliases[strings.ToLower(strings.TrimSpace(actionType))]
	return name, ok
}

// Capability performs one external action for a record. Implementations
// return models.Transient or models.Permanent errors; unclassified errors
// are classified by message.
type Capability interface {
	Execute(ctx context.Context, rec *models.TaskRecord) error
}

// CapabilityFunc adapts a function to the Capability interface.
type CapabilityFunc func(ctx context.Context, rec *models.TaskRecord) error

// Execute calls f.
func (f CapabilityFunc) Execute(ctx context.Context, rec *models.TaskRecord) error {
	return f(ctx, rec)
}

// Sleeper waits for d, returning early with an error if ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// CompletionHook runs after a record completes. Failures are logged and
// never fail the execution.
type CompletionHook interface {
	OnCompleted(rec *models.TaskRecord) error
}

// ExecutorConfig configures the retry policy.
type ExecutorConfig struct {
	MaxRetries int
	RetryBase  time.Duration
	Sleep      Sleeper
}

// ExecResult describes the outcome of one execution.
type ExecResult struct {
	Status   models.Status
	Attempts int
	Err      error
}

// Executor runs a scheduled record through its capability with retry and
// retires it to Done. It exclusively owns transitions into completed and
// failed.
type Executor interface {
	// Execute runs rec, which must be scheduled. The returned error reports a
	// persistence failure; action failures are in the result.
	Execute(ctx context.Context, rec *models.TaskRecord) (*ExecResult, error)
	// Capabilities returns the registered capability names.
	Capabilities() []string
}

type executor struct {
	store        RecordStore
	capabilities map[string]Capability
	hooks        []CompletionHook
	cfg          ExecutorConfig
	log          zerolog.Logger
	events       EventLogger
	now          func() time.Time
}

// NewExecutor creates an Executor dispatching to capabilities keyed by
// canonical action name.
func NewExecutor(store RecordStore, capabilities map[string]Capability, cfg ExecutorConfig, log zerolog.Logger, events EventLogger, hooks ...CompletionHook) Executor {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.Sleep == nil {
		cfg.Sleep = SleepContext
	}
	return &executor{
		store:        store,
		capabilities: capabilities,
		hooks:        hooks,
		cfg:          cfg,
		log:          log,
		events:       events,
		now:          time.Now,
	}
}

func (e *executor) Capabilities() []string {
	names := make([]string, 0, len(e.capabilities))
	for name := range e.capabilities {
		names = append(names, name)
	}
	return names
}

// Backoff returns the delay before retry n (1-based): base * 2^(n-1).
func Backoff(base time.Duration, n int) time.Duration {
	return base << (n - 1)
}

func (e *executor) Execute(ctx context.Context, rec *models.TaskRecord) (*ExecResult, error) {
	if st := rec.Status(); st != models.StatusScheduled {
		return nil, fmt.Errorf("record %s is %s, not scheduled", rec.Name, st)
	}
	log := e.log.With().Str("record", rec.Name).Logger()

	result := &ExecResult{}
	capability, err := e.resolve(rec)
	if err != nil {
		result.Err = err
	} else {
		result.Attempts, result.Err = e.attempt(ctx, log, rec, capability)
	}

	if result.Err == nil {
		result.Status = models.StatusCompleted
		return result, e.complete(log, rec, result)
	}
	result.Status = models.StatusFailed
	return result, e.fail(log, rec, result)
}

func (e *executor) resolve(rec *models.TaskRecord) (Capability, error) {
	name, ok := CanonicalAction(rec.ActionType())
	if !ok {
		return nil, models.Permanentf("unknown action type %q", rec.ActionType())
	}
	capability, ok := e.capabilities[name]
	if !ok {
		return nil, models.Permanentf("no capability registered for %q", name)
	}
	return capability, nil
}

// attempt runs the capability up to the record's attempt budget. Only
// transient failures are retried.
func (e *executor) attempt(ctx context.Context, log zerolog.Logger, rec *models.TaskRecord, capability Capability) (int, error) {
	budget := rec.MaxRetries(e.cfg.MaxRetries)
	view := *rec
	view.Body = ActionBody(rec.Body)
	var lastErr error
	for n := 1; n <= budget; n++ {
		err := capability.Execute(ctx, &view)
		if err == nil {
			return n, nil
		}
		lastErr = err
		kind := models.ClassifyError(err)
		if kind == models.ErrorPermanent {
			log.Error().Err(err).Int("attempt", n).Msg("permanent failure, not retrying")
			return n, err
		}
		if n == budget {
			log.Error().Err(err).Int("attempts", n).Msg("retries exhausted")
			return n, err
		}

		delay := Backoff(e.cfg.RetryBase, n)
		rec.Header.Set(models.KeyRetryCount, strconv.Itoa(n))
		log.Warn().Err(err).Int("attempt", n).Dur("backoff", delay).Msg("transient failure, retrying")
		logEvent(e.events, models.EventRetried, rec.Name, map[string]any{
			"attempt": n,
			"error":   err.Error(),
		})
		if err := e.cfg.Sleep(ctx, delay); err != nil {
			return n, fmt.Errorf("retry interrupted: %w", err)
		}
	}
	return budget, lastErr
}

func (e *executor) complete(log zerolog.Logger, rec *models.TaskRecord, result *ExecResult) error {
	if err := rec.Transition(models.StatusCompleted); err != nil {
		return err
	}
	rec.Stamp(models.KeyCompletedAt, e.now())
	if result.Attempts > 1 {
		rec.Header.Set(models.KeyRetryCount, strconv.Itoa(result.Attempts-1))
	}
	rec.Header.Delete(models.KeyErrorMessage)
	if err := e.store.Relocate(rec, models.FolderDone); err != nil {
		return fmt.Errorf("retiring %s: %w", rec.Name, err)
	}

	log.Info().Int("attempts", result.Attempts).Msg("record completed")
	logEvent(e.events, models.EventCompleted, rec.Name, map[string]any{
		"attempts":    result.Attempts,
		"action_type": rec.ActionType(),
	})

	for _, hook := range e.hooks {
		if err := hook.OnCompleted(rec); err != nil {
			log.Warn().Err(err).Msg("completion hook failed")
		}
	}
	return nil
}

func (e *executor) fail(log zerolog.Logger, rec *models.TaskRecord, result *ExecResult) error {
	if err := rec.Transition(models.StatusFailed); err != nil {
		return err
	}
	rec.Header.Set(models.KeyErrorMessage, result.Err.Error())
	if result.Attempts > 1 {
		rec.Header.Set(models.KeyRetryCount, strconv.Itoa(result.Attempts-1))
	}
	if err := e.store.Relocate(rec, models.FolderDone); err != nil {
		return fmt.Errorf("retiring %s: %w", rec.Name, err)
	}

	log.Error().Err(result.Err).Int("attempts", result.Attempts).Msg("record failed")
	logEvent(e.events, models.EventFailed, rec.Name, map[string]any{
		"attempts":    result.Attempts,
		"action_type": rec.ActionType(),
		"error":       result.Err.Error(),
		"kind":        string(models.ClassifyError(result.Err)),
	})
	return nil
}
