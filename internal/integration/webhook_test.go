package integration

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valter-silva-au/vaultq/pkg/models"
)

func webhookRecord(url, method string) *models.TaskRecord {
	rec := models.NewTaskRecord("webhook_deploy.md")
	rec.Header.Set(models.KeyActionType, "webhook")
	rec.Header.Set(models.KeyURL, url)
	if method != "" {
		rec.Header.Set(models.KeyMethod, method)
	}
	rec.Body = "\n{\"event\": \"deploy\"}\n"
	return rec
}

func TestWebhookCaller_PostsBodyAndHeaders(t *testing.T) {
	var gotMethod, gotBody, gotKey, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotKey = r.Header.Get("X-Api-Key")
		gotType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	rec := webhookRecord(srv.URL, "")
	rec.Header.Set("header_X_Api_Key", "k-123")

	err := NewWebhookCaller(time.Second, zerolog.Nop()).Execute(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, `{"event": "deploy"}`, gotBody)
	assert.Equal(t, "k-123", gotKey)
	assert.Equal(t, "application/json", gotType)
}

func TestWebhookCaller_GetSendsNoBody(t *testing.T) {
	var gotLen int64 = -2
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLen = r.ContentLength
	}))
	defer srv.Close()

	err := NewWebhookCaller(time.Second, zerolog.Nop()).Execute(context.Background(), webhookRecord(srv.URL, "get"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), gotLen)
}

func TestWebhookCaller_StatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   models.ErrorKind
	}{
		{http.StatusBadGateway, models.ErrorTransient},
		{http.StatusTooManyRequests, models.ErrorTransient},
		{http.StatusNotFound, models.ErrorPermanent},
		{http.StatusUnauthorized, models.ErrorPermanent},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			err := NewWebhookCaller(time.Second, zerolog.Nop()).Execute(context.Background(), webhookRecord(srv.URL, "PUT"))
			require.Error(t, err)
			assert.Equal(t, tt.want, models.ClassifyError(err))
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestWebhookCaller_InvalidRecords(t *testing.T) {
	caller := NewWebhookCaller(time.Second, zerolog.Nop())

	err := caller.Execute(context.Background(), webhookRecord("", ""))
	require.Error(t, err)
	assert.Equal(t, models.ErrorPermanent, models.ClassifyError(err))

	err = caller.Execute(context.Background(), webhookRecord("http://127.0.0.1:1", "DELETE"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported HTTP method")
	assert.Equal(t, models.ErrorPermanent, models.ClassifyError(err))
}

func TestWebhookCaller_UnreachableIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewWebhookCaller(time.Second, zerolog.Nop()).Execute(context.Background(), webhookRecord(url, ""))
	require.Error(t, err)
	assert.Equal(t, models.ErrorTransient, models.ClassifyError(err))
}

func TestWebhookHeaders_DoesNotOverrideContentType(t *testing.T) {
	h := models.NewHeader()
	h.Set("header_Content_Type", "text/plain")
	assert.Equal(t, "text/plain", WebhookHeaders(h).Get("Content-Type"))
}
