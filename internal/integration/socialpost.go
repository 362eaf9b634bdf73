package integration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/valter-silva-au/vaultq/pkg/models"
)

// SocialPoster publishes a record's post content through an external command.
// The content is passed as the final argument.
type SocialPoster struct {
	cfg    models.SocialConfig
	runner CommandRunner
	log    zerolog.Logger
}

// NewSocialPoster creates a SocialPoster. A nil runner uses NewCommandRunner.
func NewSocialPoster(cfg models.SocialConfig, runner CommandRunner, log zerolog.Logger) *SocialPoster {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if runner == nil {
		runner = NewCommandRunner()
	}
	return &SocialPoster{cfg: cfg, runner: runner, log: log}
}

// PostContent returns everything after the first heading line of body.
func PostContent(body string) string {
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, "#") {
			return strings.TrimSpace(strings.Join(lines[i+1:], "\n"))
		}
	}
	return ""
}

// Execute runs the configured command. A timeout is transient; a non-zero
// exit or a missing command is permanent.
func (p *SocialPoster) Execute(ctx context.Context, rec *models.TaskRecord) error {
	content := PostContent(rec.Body)
	if content == "" {
		return models.Permanentf("empty post content")
	}
	if p.cfg.Command == "" {
		return models.Permanentf("social.command is not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	args := append(append([]string{}, p.cfg.Args...), content)
	res, err := p.runner.Run(ctx, CommandSpec{Command: p.cfg.Command, Args: args, Record: rec})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return models.Transient(fmt.Errorf("social posting timed out after %s", p.cfg.Timeout))
		}
		return models.Permanent(fmt.Errorf("social posting failed: %w", err))
	}
	if res.ExitCode != 0 {
		stderr := strings.TrimSpace(res.Stderr)
		if len(stderr) > maxErrorBody {
			stderr = stderr[:maxErrorBody]
		}
		return models.Permanentf("social posting failed (exit %d): %s", res.ExitCode, stderr)
	}
	p.log.Info().Str("record", rec.Name).Int("chars", len(content)).Msg("social post published")
	return nil
}
