package integration

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/valter-silva-au/vaultq/pkg/models"
)

// CommandSpec holds everything needed to run an external command for a record.
type CommandSpec struct {
	Command string
	Args    []string
	Record  *models.TaskRecord // nil when not acting on a record
	Stdin   io.Reader
	Stdout  io.Writer
	Stderr  io.Writer
}

// CommandResult captures the outcome of an external command.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// CommandRunner invokes external commands with record context injected into
// the environment.
type CommandRunner interface {
	// Run executes the command until it exits or ctx is done. A non-zero exit
	// is reported in the result, not as an error.
	Run(ctx context.Context, spec CommandSpec) (*CommandResult, error)
	// BuildEnv returns base with VAULTQ_* variables describing rec appended.
	BuildEnv(base []string, rec *models.TaskRecord) []string
}

// waitDelay bounds how long Run waits for output pipes after the command is
// killed, since grandchildren may still hold them open.
const waitDelay = 2 * time.Second

type commandRunner struct{}

// NewCommandRunner creates a CommandRunner.
func NewCommandRunner() CommandRunner {
	return &commandRunner{}
}

// BuildEnv appends VAULTQ_* variables when a record is provided. When rec is
// nil, the base is returned unchanged.
func (r *commandRunner) BuildEnv(base []string, rec *models.TaskRecord) []string {
	if rec == nil {
		return base
	}
	env := make([]string, len(base), len(base)+4)
	copy(env, base)
	env = append(env,
		"VAULTQ_RECORD="+rec.Name,
		"VAULTQ_ACTION_TYPE="+rec.ActionType(),
		"VAULTQ_PRIORITY="+string(rec.Priority()),
		"VAULTQ_STATUS="+string(rec.Status()),
	)
	return env
}

func (r *commandRunner) Run(ctx context.Context, spec CommandSpec) (*CommandResult, error) {
	if spec.Command == "" {
		return nil, errors.New("no command configured")
	}
	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
	cmd.Env = r.BuildEnv(os.Environ(), spec.Record)
	cmd.WaitDelay = waitDelay

	// Output is always captured for the result and teed to the provided
	// writers if set.
	var stdoutBuf, stderrBuf bytes.Buffer
	if spec.Stdout != nil {
		cmd.Stdout = io.MultiWriter(&stdoutBuf, spec.Stdout)
	} else {
		cmd.Stdout = &stdoutBuf
	}
	if spec.Stderr != nil {
		cmd.Stderr = io.MultiWriter(&stderrBuf, spec.Stderr)
	} else {
		cmd.Stderr = &stderrBuf
	}
	if spec.Stdin != nil {
		cmd.Stdin = spec.Stdin
	}

	err := cmd.Run()

	result := &CommandResult{
		Stdout: stdoutBuf.String(),
		Stderr: stderrBuf.String(),
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, fmt.Errorf("running %s: %w", spec.Command, ctxErr)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			// Command could not be started (e.g., not found).
			return result, fmt.Errorf("executing %s: %w", spec.Command, err)
		}
	}
	return result, nil
}
