package http

import (
	"context"
	"encoding/json"
	"fmt"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openeeap/haloalign/internal/api/http/handler"
	"github.com/openeeap/haloalign/internal/observability/metrics"
	"github.com/openeeap/haloalign/internal/platform/training/trainer"
	"github.com/openeeap/haloalign/pkg/config"
	"github.com/openeeap/haloalign/pkg/types"
)

func newTestRouter(t *testing.T, progress trainer.ProgressReporter, mutate func(*RouterOptions)) *Router {
	t.Helper()
	collector := metrics.NewMetricsCollector(metrics.CollectorConfig{Namespace: "haloalign"})
	collector.RecordRunMetrics(map[string]float64{"loss/train": 0.5})
	opts := RouterOptions{
		Server:   config.ServerConfig{Mode: gin.TestMode, CORSAllowedOrigins: []string{"*"}},
		RunName:  "kto-tiny",
		RunID:    "run-1",
		Version:  "test",
		Progress: progress,
		Metrics:  collector,
	}
	if mutate != nil {
		mutate(&opts)
	}
	return NewRouter(opts)
}

func get(r nethttp.Handler, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(nethttp.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestProgressEndpoint(t *testing.T) {
	tracker := trainer.NewProgressTracker()
	tracker.SetState(types.RunStateTrain)
	tracker.SetCounters(128, 4)
	tracker.SetTrain(map[string]float64{"loss/train": 0.5})
	r := newTestRouter(t, tracker, nil)

	rec := get(r, "/v1/progress", nil)
	require.Equal(t, nethttp.StatusOK, rec.Code)

	var body handler.ProgressResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "kto-tiny", body.RunName)
	assert.Equal(t, "run-1", body.RunID)
	assert.Equal(t, types.RunStateTrain, body.State)
	assert.Equal(t, 128, body.Examples)
	assert.Equal(t, 4, body.Updates)
	assert.Equal(t, 0.5, body.LastTrain["loss/train"])
	assert.Nil(t, body.LastEval)

	t.Run("Not ready without a tracker", func(t *testing.T) {
		r := newTestRouter(t, nil, nil)
		assert.Equal(t, nethttp.StatusServiceUnavailable, get(r, "/v1/progress", nil).Code)
		assert.Equal(t, nethttp.StatusServiceUnavailable, get(r, "/readyz", nil).Code)
	})
}

func TestHealthAndMetrics(t *testing.T) {
	r := newTestRouter(t, trainer.NewProgressTracker(), nil)

	rec := get(r, "/healthz", nil)
	require.Equal(t, nethttp.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	assert.Equal(t, nethttp.StatusOK, get(r, "/readyz", nil).Code)

	rec = get(r, "/metrics", nil)
	require.Equal(t, nethttp.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "haloalign_run_metric_value")

	rec = get(r, "/", nil)
	assert.Contains(t, rec.Body.String(), `"run_id":"run-1"`)

	assert.Equal(t, nethttp.StatusNotFound, get(r, "/debug/pprof/", nil).Code)
}

func TestMiddleware(t *testing.T) {
	t.Run("Gzip", func(t *testing.T) {
		r := newTestRouter(t, trainer.NewProgressTracker(), nil)
		rec := get(r, "/v1/progress", map[string]string{"Accept-Encoding": "gzip"})
		assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	})

	t.Run("CORS", func(t *testing.T) {
		r := newTestRouter(t, trainer.NewProgressTracker(), func(o *RouterOptions) {
			o.Server.CORSAllowedOrigins = []string{"https://dash.example.com"}
		})
		rec := get(r, "/v1/progress", map[string]string{"Origin": "https://dash.example.com"})
		assert.Equal(t, "https://dash.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

		rec = get(r, "/v1/progress", map[string]string{"Origin": "https://other.example.com"})
		assert.Equal(t, nethttp.StatusForbidden, rec.Code)
	})

	t.Run("Rate limit", func(t *testing.T) {
		r := newTestRouter(t, trainer.NewProgressTracker(), func(o *RouterOptions) {
			o.ProgressRateLimit = 2
		})
		headers := map[string]string{"X-Real-IP": "10.0.0.1"}
		assert.Equal(t, nethttp.StatusOK, get(r, "/v1/progress", headers).Code)
		assert.Equal(t, nethttp.StatusOK, get(r, "/v1/progress", headers).Code)
		rec := get(r, "/v1/progress", headers)
		assert.Equal(t, nethttp.StatusTooManyRequests, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))

		// 其他客户端与健康检查不受影响
		assert.Equal(t, nethttp.StatusOK, get(r, "/v1/progress", map[string]string{"X-Real-IP": "10.0.0.2"}).Code)
		assert.Equal(t, nethttp.StatusOK, get(r, "/healthz", headers).Code)
	})

	t.Run("Pprof", func(t *testing.T) {
		r := newTestRouter(t, nil, func(o *RouterOptions) { o.Server.EnablePprof = true })
		rec := get(r, "/debug/pprof/", nil)
		assert.Equal(t, nethttp.StatusOK, rec.Code)
		assert.True(t, strings.Contains(rec.Body.String(), "goroutine"))
	})
}

func TestServerLifecycle(t *testing.T) {
	tracker := trainer.NewProgressTracker()
	srv := NewServer("127.0.0.1:0", newTestRouter(t, tracker, nil), 0, nil)
	require.NoError(t, srv.Start())

	resp, err := nethttp.Get(fmt.Sprintf("http://%s/healthz", srv.Addr()))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Shutdown(context.Background()))
	_, err = nethttp.Get(fmt.Sprintf("http://%s/healthz", srv.Addr()))
	assert.Error(t, err)
}
