package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"alertengine/internal/errorc"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookNotifier_SendsRenderedPayload(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(map[string]string{"dest1": srv.URL})
	err := n.Send(context.Background(), "action1", "subject", "body", "dest1", Principal{Name: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "action1", got.ActionID)
	assert.Equal(t, "subject", got.Subject)
	assert.Equal(t, "body", got.Body)
	assert.Equal(t, "alice", got.User)
}

func TestWebhookNotifier_UnknownDestinationIsNotFound(t *testing.T) {
	n := NewWebhookNotifier(nil)
	err := n.Send(context.Background(), "action1", "subject", "body", "missing", Principal{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errorc.CodeNotFound))
}

func TestWebhookNotifier_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(map[string]string{"dest1": srv.URL})
	err := n.Send(context.Background(), "action1", "subject", "body", "dest1", Principal{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errorc.CodeTransient))
}

func TestWebhookNotifier_ClientErrorIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(map[string]string{"dest1": srv.URL})
	err := n.Send(context.Background(), "action1", "subject", "body", "dest1", Principal{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errorc.CodeFatal))
}
