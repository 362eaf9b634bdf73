package integration

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/valter-silva-au/vaultq/pkg/models"
)

// maxErrorBody caps how much of a failed response is kept in error_message.
const maxErrorBody = 200

// WebhookCaller sends the HTTP request described by an action record.
type WebhookCaller struct {
	client *http.Client
	log    zerolog.Logger
}

// NewWebhookCaller creates a WebhookCaller with the given request timeout.
func NewWebhookCaller(timeout time.Duration, log zerolog.Logger) *WebhookCaller {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebhookCaller{client: &http.Client{Timeout: timeout}, log: log}
}

// WebhookHeaders collects header_<Name> fields from a record header.
// Underscores in the name become dashes; Content-Type defaults to JSON.
func WebhookHeaders(h *models.Header) http.Header {
	out := make(http.Header)
	for key, value := range h.WithPrefix(models.KeyHeaderPrefix) {
		out.Set(strings.ReplaceAll(key, "_", "-"), value)
	}
	if out.Get("Content-Type") == "" {
		out.Set("Content-Type", "application/json")
	}
	return out
}

// Execute sends the record body to its url. 5xx and 429 responses and
// transport errors are transient; other non-2xx responses are permanent.
func (w *WebhookCaller) Execute(ctx context.Context, rec *models.TaskRecord) error {
	url := strings.TrimSpace(rec.Header.Get(models.KeyURL))
	if url == "" {
		return models.Permanentf("missing webhook url")
	}
	method := strings.ToUpper(strings.TrimSpace(rec.Header.Get(models.KeyMethod)))
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	switch method {
	case http.MethodPost, http.MethodPut:
		body = strings.NewReader(strings.TrimSpace(rec.Body))
	case http.MethodGet:
	default:
		return models.Permanentf("unsupported HTTP method: %s", method)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return models.Permanent(fmt.Errorf("building webhook request: %w", err))
	}
	req.Header = WebhookHeaders(rec.Header)

	resp, err := w.client.Do(req)
	if err != nil {
		return models.Transient(fmt.Errorf("webhook %s %s: %w", method, url, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		w.log.Info().Str("record", rec.Name).Str("method", method).Int("status", resp.StatusCode).Msg("webhook succeeded")
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	err = fmt.Errorf("webhook failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return models.Transient(err)
	}
	return models.Permanent(err)
}
