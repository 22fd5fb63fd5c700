package query

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"alertengine/internal/errorc"

	"github.com/olivere/elastic/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*elastic.Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	client, err := elastic.NewClient(
		elastic.SetURL(srv.URL),
		elastic.SetSniff(false),
		elastic.SetHealthcheck(false),
	)
	require.NoError(t, err)
	return client, srv
}

func TestPPLExecutor_ExecuteParsesResponse(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/_plugins/_ppl", r.URL.Path)
		assert.Equal(t, "alice", r.Header.Get("X-Alertengine-User"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(pplResponseBody{
			Schema:   []Column{{Name: "count", Type: "integer"}},
			Datarows: []Row{{float64(5)}},
			Total:    1,
			Size:     1,
		})
	})
	defer srv.Close()

	executor := NewPPLExecutor(client, "")
	resp, err := executor.Execute(context.Background(), Request{Query: "source=logs | stats count()"}, Principal{Name: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "count", resp.Schema[0].Name)
}

func TestPPLExecutor_ClassifiesForbiddenAsAuthZ(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"forbidden"}`))
	})
	defer srv.Close()

	executor := NewPPLExecutor(client, "")
	_, err := executor.Execute(context.Background(), Request{Query: "source=logs"}, Principal{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errorc.CodeAuthZ))
}

func TestPPLExecutor_ClassifiesNotFound(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not found"}`))
	})
	defer srv.Close()

	executor := NewPPLExecutor(client, "")
	_, err := executor.Execute(context.Background(), Request{Query: "source=logs"}, Principal{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errorc.CodeNotFound))
}

func TestPPLExecutor_ServerTimeReadsDateHeader(t *testing.T) {
	want := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Date", want.Format(http.TimeFormat))
		w.Write([]byte(`{}`))
	})
	defer srv.Close()

	executor := NewPPLExecutor(client, "")
	ms, err := executor.ServerTime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want.UnixMilli(), ms)
}

func TestPPLExecutor_ProbeFuncAdaptsServerTime(t *testing.T) {
	want := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Date", want.Format(http.TimeFormat))
		w.Write([]byte(`{}`))
	})
	defer srv.Close()

	executor := NewPPLExecutor(client, "")
	probe := executor.ProbeFunc()
	got, err := probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want.Unix(), got.Unix())
}
