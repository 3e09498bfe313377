// internal/platform/training/trainer/sink.go
package trainer

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/openeeap/haloalign/internal/infrastructure/message"
	"github.com/openeeap/haloalign/internal/observability/logging"
	"github.com/openeeap/haloalign/internal/observability/metrics"
	"github.com/openeeap/haloalign/pkg/types"
)

// Sink 接收每个日志或评估边界上的扁平指标
type Sink interface {
	Name() string
	Emit(ctx context.Context, rec *MetricsRecord) error
}

// MetricsRecord 一次刷新的指标
type MetricsRecord struct {
	RunID   string             `json:"run_id"`
	Rank    int                `json:"rank"`
	Step    int                `json:"step"`
	Mode    types.Mode         `json:"mode"`
	Metrics map[string]float64 `json:"metrics"`
	Time    time.Time          `json:"time"`
}

// ============================================================================
// Prometheus
// ============================================================================

type prometheusSink struct {
	collector *metrics.MetricsCollector
}

// NewPrometheusSink 写入运行指标仪表
func NewPrometheusSink(collector *metrics.MetricsCollector) Sink {
	return &prometheusSink{collector: collector}
}

func (s *prometheusSink) Name() string { return "prometheus" }

func (s *prometheusSink) Emit(ctx context.Context, rec *MetricsRecord) error {
	s.collector.RecordRunMetrics(rec.Metrics)
	return nil
}

// ============================================================================
// 消息队列
// ============================================================================

type publisherSink struct {
	publisher message.Publisher
}

// NewPublisherSink 将每条记录编码为 JSON 发布，键为 run_id
func NewPublisherSink(publisher message.Publisher) Sink {
	return &publisherSink{publisher: publisher}
}

func (s *publisherSink) Name() string { return "kafka" }

func (s *publisherSink) Emit(ctx context.Context, rec *MetricsRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.publisher.Publish(ctx, &message.Message{
		Key:       []byte(rec.RunID),
		Value:     body,
		Headers:   map[string]string{"mode": string(rec.Mode), "rank": strconv.Itoa(rec.Rank)},
		Timestamp: rec.Time,
	})
	return err
}

// ============================================================================
// 扇出
// ============================================================================

type fanOut struct {
	sinks     []Sink
	logger    logging.Logger
	collector *metrics.MetricsCollector
}

// NewFanOut 并发投递到所有下游；单个下游失败只记录，不影响训练
func NewFanOut(logger logging.Logger, collector *metrics.MetricsCollector, sinks ...Sink) Sink {
	return &fanOut{sinks: sinks, logger: logger, collector: collector}
}

func (f *fanOut) Name() string { return "fanout" }

func (f *fanOut) Emit(ctx context.Context, rec *MetricsRecord) error {
	var g errgroup.Group
	for _, sink := range f.sinks {
		sink := sink
		g.Go(func() error {
			if err := sink.Emit(ctx, rec); err != nil {
				if f.collector != nil {
					f.collector.IncrementCounter(metrics.MetricSinkErrors, prometheus.Labels{"sink": sink.Name()})
				}
				f.logger.WithContext(ctx).Warn("metrics sink failed",
					logging.String("sink", sink.Name()),
					logging.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}

//Personal.AI order the ending
