package webhook_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cmdflow/internal/domain"
	"cmdflow/internal/handlers/webhook"
)

func TestHandle(t *testing.T) {
	t.Parallel()

	var (
		gotMethod, gotID, gotHeader string
		gotBody                     []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotID = r.Header.Get("X-Command-Id")
		gotHeader = r.Header.Get("X-Tenant")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cmd := webhook.Command{
		Base:    domain.NewBase(),
		URL:     srv.URL,
		Headers: map[string]string{"X-Tenant": "acme"},
		Body:    []byte(`{"ok":true}`),
	}
	require.NoError(t, webhook.New().Handle(context.Background(), cmd))
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, cmd.ID, gotID)
	assert.Equal(t, "acme", gotHeader)
	assert.JSONEq(t, `{"ok":true}`, string(gotBody))
}

func TestHandleErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	h := webhook.New()
	err := h.Handle(context.Background(), webhook.Command{Base: domain.NewBase(), URL: srv.URL, Method: http.MethodGet})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")

	assert.Error(t, h.Handle(context.Background(), webhook.Command{Base: domain.NewBase()}))
}
