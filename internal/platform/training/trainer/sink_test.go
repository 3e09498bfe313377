package trainer

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openeeap/haloalign/internal/infrastructure/message/kafka"
	"github.com/openeeap/haloalign/internal/observability/logging"
	"github.com/openeeap/haloalign/internal/observability/metrics"
	"github.com/openeeap/haloalign/internal/observability/trace"
	"github.com/openeeap/haloalign/pkg/types"
)

type funcSink struct {
	name string
	fn   func(rec *MetricsRecord) error
}

func (s *funcSink) Name() string { return s.name }

func (s *funcSink) Emit(ctx context.Context, rec *MetricsRecord) error { return s.fn(rec) }

func testRecord() *MetricsRecord {
	return &MetricsRecord{
		RunID:   "run-1",
		Step:    64,
		Mode:    types.ModeTrain,
		Metrics: map[string]float64{"loss/train": 0.5, "counters/examples": 64},
		Time:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func gaugeValue(t *testing.T, c *metrics.MetricsCollector, name, key string) (float64, bool) {
	t.Helper()
	families, err := c.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "key" && l.GetValue() == key {
					return m.GetGauge().GetValue(), true
				}
			}
		}
	}
	return 0, false
}

func TestPrometheusSink(t *testing.T) {
	c := metrics.NewMetricsCollector(metrics.CollectorConfig{})
	sink := NewPrometheusSink(c)
	require.NoError(t, sink.Emit(context.Background(), testRecord()))

	v, ok := gaugeValue(t, c, metrics.MetricRunValue, "loss/train")
	require.True(t, ok)
	assert.Equal(t, 0.5, v)
	assert.Equal(t, "prometheus", sink.Name())
}

func TestPublisherSink(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var rec MetricsRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return err
		}
		if rec.RunID != "run-1" || rec.Metrics["loss/train"] != 0.5 || rec.Mode != types.ModeTrain {
			return errors.New("unexpected payload " + string(val))
		}
		return nil
	})

	pub := kafka.NewKafkaPublisherFromProducer(producer, "training.metrics", trace.NewNoopTracer())
	sink := NewPublisherSink(pub)
	require.NoError(t, sink.Emit(context.Background(), testRecord()))
	assert.Equal(t, "kafka", sink.Name())
	require.NoError(t, pub.Close())
}

func TestFanOut(t *testing.T) {
	c := metrics.NewMetricsCollector(metrics.CollectorConfig{})
	var delivered int32
	ok := &funcSink{name: "ok", fn: func(*MetricsRecord) error {
		atomic.AddInt32(&delivered, 1)
		return nil
	}}
	broken := &funcSink{name: "broken", fn: func(*MetricsRecord) error { return errors.New("unreachable") }}

	fan := NewFanOut(logging.NewNoopLogger(), c, ok, broken, NewPrometheusSink(c))
	assert.NoError(t, fan.Emit(context.Background(), testRecord()))
	assert.NoError(t, fan.Emit(context.Background(), testRecord()))

	assert.Equal(t, int32(2), atomic.LoadInt32(&delivered))
	assert.Equal(t, 2.0, counterValue(t, c, metrics.MetricSinkErrors))
	_, found := gaugeValue(t, c, metrics.MetricRunValue, "counters/examples")
	assert.True(t, found)
}
