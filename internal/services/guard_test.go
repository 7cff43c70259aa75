package services

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"facture-fec/internal/apperr"
	"facture-fec/internal/metrics"
	"facture-fec/internal/ocr"
	"facture-fec/internal/testpdf"
)

func TestLLMGuardOpensAfterConsecutiveFailures(t *testing.T) {
	m := metrics.New()
	g := NewLLMGuard(GuardConfig{FailureThreshold: 3, Cooldown: time.Hour}, m, nil)
	ctx := context.Background()

	calls := 0
	failing := func(context.Context) (string, error) {
		calls++
		return "", apperr.New(apperr.CodeLLM, "provider down")
	}

	for i := 0; i < 3; i++ {
		_, err := g.Do(ctx, "fec_text", failing)
		require.Error(t, err)
	}
	assert.Equal(t, "open", g.State())

	_, err := g.Do(ctx, "fec_text", failing)
	assert.ErrorIs(t, err, apperr.ErrLLM)
	assert.Contains(t, err.Error(), "temporarily disabled")
	assert.Equal(t, 3, calls)

	assert.Contains(t, scrape(t, m), `fec_llm_requests_total{kind="fec_text",status="error"} 4`)
}

func TestLLMGuardIgnoresConfigurationErrors(t *testing.T) {
	g := NewLLMGuard(GuardConfig{FailureThreshold: 2}, nil, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := g.Do(ctx, "fec_text", func(context.Context) (string, error) {
			return "", apperr.ErrLLMUnavailable
		})
		assert.ErrorIs(t, err, apperr.ErrLLMUnavailable)
	}
	assert.Equal(t, "closed", g.State())

	out, err := g.Do(ctx, "fec_text", func(context.Context) (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestLLMGuardRateLimitHonoursContext(t *testing.T) {
	g := NewLLMGuard(GuardConfig{RPM: 1}, nil, nil)
	ctx := context.Background()

	_, err := g.Do(ctx, "fec_text", func(context.Context) (string, error) { return "first", nil })
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = g.Do(short, "fec_text", func(context.Context) (string, error) { return "second", nil })
	require.Error(t, err)
	assert.False(t, errors.Is(err, apperr.ErrLLM))
}

func TestLLMGuardNil(t *testing.T) {
	var g *LLMGuard
	out, err := g.Do(context.Background(), "x", func(context.Context) (string, error) { return "direct", nil })
	require.NoError(t, err)
	assert.Equal(t, "direct", out)
	assert.Equal(t, "closed", g.State())
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestLLMGuardCoversRemoteOCR(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	m := metrics.New()
	g := NewLLMGuard(GuardConfig{FailureThreshold: 1, Cooldown: time.Hour}, m, nil)
	client := ocr.NewDocumentClient(ocr.ClientOptions{
		APIKey:       "test-key",
		BaseURL:      srv.URL + "/v1",
		RetryBackoff: time.Nanosecond,
	})
	ex := ocr.NewMistralExtractor(client, g, nil)
	ctx := context.Background()

	_, err := ex.Extract(ctx, testpdf.Build("x"))
	require.ErrorIs(t, err, apperr.ErrLLM)
	sent := atomic.LoadInt32(&hits)
	assert.Positive(t, sent)
	assert.Equal(t, "open", g.State())

	_, err = ex.Extract(ctx, testpdf.Build("x"))
	require.ErrorIs(t, err, apperr.ErrLLM)
	assert.Contains(t, err.Error(), "temporarily disabled")
	assert.Equal(t, sent, atomic.LoadInt32(&hits))

	assert.Contains(t, scrape(t, m), `fec_llm_requests_total{kind="ocr_upload",status="error"} 2`)
}
