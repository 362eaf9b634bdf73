package integration

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/valter-silva-au/vaultq/internal/core"
	"github.com/valter-silva-au/vaultq/pkg/models"
)

// GenericAction completes plain task records. The work itself is done by the
// human or agent reading the record; execution only retires it.
type GenericAction struct {
	log zerolog.Logger
}

// NewGenericAction creates a GenericAction.
func NewGenericAction(log zerolog.Logger) *GenericAction {
	return &GenericAction{log: log}
}

func (g *GenericAction) Execute(_ context.Context, rec *models.TaskRecord) error {
	g.log.Debug().Str("record", rec.Name).Str("type", rec.Header.Get(models.KeyType)).Msg("generic task completed")
	return nil
}

// Capabilities builds the capability set for the executor from cfg.
func Capabilities(cfg *models.Config, log zerolog.Logger) map[string]core.Capability {
	return map[string]core.Capability{
		core.ActionGeneric:    NewGenericAction(log),
		core.ActionEmail:      NewEmailSender(cfg.Email, nil, log),
		core.ActionSocialPost: NewSocialPoster(cfg.Social, nil, log),
		core.ActionWebhook:    NewWebhookCaller(cfg.Webhook.Timeout, log),
	}
}
