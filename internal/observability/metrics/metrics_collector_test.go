package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCollector(t *testing.T) {
	c := NewMetricsCollector(CollectorConfig{Namespace: "test"})

	t.Run("Run metrics by key", func(t *testing.T) {
		c.RecordRunMetrics(map[string]float64{
			"loss/train":           0.5,
			"rewards_eval/margins": 0.25,
			"counters/examples":    64,
		})

		gauge := c.gauges[MetricRunValue]
		assert.Equal(t, 0.5, testutil.ToFloat64(gauge.With(prometheus.Labels{"key": "loss/train", "mode": "train"})))
		assert.Equal(t, 0.25, testutil.ToFloat64(gauge.With(prometheus.Labels{"key": "rewards_eval/margins", "mode": "eval"})))
		assert.Equal(t, 64.0, testutil.ToFloat64(gauge.With(prometheus.Labels{"key": "counters/examples", "mode": ""})))
	})

	t.Run("Collective outcomes", func(t *testing.T) {
		c.RecordCollective("all_gather", time.Now(), nil)
		c.RecordCollective("all_gather", time.Now(), errors.New("reset"))

		ops := c.counters[MetricCollectiveOps]
		assert.Equal(t, 1.0, testutil.ToFloat64(ops.With(prometheus.Labels{"op": "all_gather", "status": "ok"})))
		assert.Equal(t, 1.0, testutil.ToFloat64(ops.With(prometheus.Labels{"op": "all_gather", "status": "error"})))
	})

	t.Run("Unregistered names are ignored", func(t *testing.T) {
		assert.NotPanics(t, func() {
			c.IncrementCounter("missing", nil)
			c.SetGauge("missing", 1, nil)
			c.ObserveHistogram("missing", 1, nil)
		})
	})

	t.Run("Exposition", func(t *testing.T) {
		c.RecordCheckpoint("policy", nil)
		rec := httptest.NewRecorder()
		c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, strings.Contains(rec.Body.String(), "test_checkpoint_writes_total"))
	})
}
