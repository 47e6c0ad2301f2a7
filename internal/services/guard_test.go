package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mindgrate/backend/internal/apperr"
)

func testGuardConfig() GuardConfig {
	cfg := DefaultGuardConfig("test")
	cfg.RatePerSecond = 0
	cfg.MinRequests = 3
	cfg.Timeout = time.Minute
	return cfg
}

func TestGuardedEmbedder_OpensAfterFailures(t *testing.T) {
	emb := &fakeEmbedder{err: apperr.External(errors.New("503"), true, "provider down")}
	g := NewGuardedEmbedder(emb, testGuardConfig(), nil)

	for range 3 {
		_, err := g.Embed(context.Background(), []string{"x"})
		assert.True(t, apperr.IsKind(err, apperr.KindExternal))
	}

	_, err := g.Embed(context.Background(), []string{"x"})
	assert.True(t, apperr.IsKind(err, apperr.KindUnavailable))
	assert.True(t, apperr.IsRetryable(err))
	assert.Len(t, emb.calls, 3, "open breaker must not reach the provider")
}

func TestGuardedEmbedder_PermanentErrorsDoNotTrip(t *testing.T) {
	emb := &fakeEmbedder{err: apperr.External(nil, false, "bad request")}
	g := NewGuardedEmbedder(emb, testGuardConfig(), nil)

	for range 5 {
		_, err := g.Embed(context.Background(), []string{"x"})
		assert.True(t, apperr.IsKind(err, apperr.KindExternal))
	}
	assert.Len(t, emb.calls, 5)
}

func TestGuardedGenerator_PassesThrough(t *testing.T) {
	gen := &fakeGenerator{reply: "hi"}
	g := NewGuardedGenerator(gen, testGuardConfig(), nil)

	out, err := g.Generate(context.Background(), "sys", "prompt")
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
	assert.Equal(t, "fake-model", g.Model())
	assert.Equal(t, "prompt", gen.prompt)
}

func TestGuard_RespectsCancelledContext(t *testing.T) {
	cfg := testGuardConfig()
	cfg.RatePerSecond = 0.001
	cfg.Burst = 1
	g := NewGuardedEmbedder(&fakeEmbedder{}, cfg, nil)

	_, err := g.Embed(context.Background(), []string{"first"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Embed(ctx, []string{"second"})
	assert.Error(t, err)
}

func TestHTTPMLClient_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embeddings": [[0.1, 0.2], [0.3, 0.4]]}`))
	}))
	defer srv.Close()

	client := NewHTTPMLClient(srv.URL, srv.Client())
	vectors, err := client.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.1, 0.2}, {0.3, 0.4}}, vectors)

	_, err = client.Embed(context.Background(), []string{"only one"})
	assert.True(t, apperr.IsKind(err, apperr.KindExternal))
	assert.False(t, apperr.IsRetryable(err))
}

func TestHTTPMLClient_StatusErrors(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusServiceUnavailable)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "busy", int(status.Load()))
	}))
	defer srv.Close()
	client := NewHTTPMLClient(srv.URL, srv.Client())

	_, err := client.Embed(context.Background(), []string{"a"})
	assert.True(t, apperr.IsRetryable(err))

	status.Store(http.StatusBadRequest)
	_, err = client.Embed(context.Background(), []string{"a"})
	assert.True(t, apperr.IsKind(err, apperr.KindExternal))
	assert.False(t, apperr.IsRetryable(err))
}
