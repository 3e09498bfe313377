// internal/platform/training/dist/instrumented.go
package dist

import (
	"context"
	"time"

	"github.com/openeeap/haloalign/internal/observability/logging"
	"github.com/openeeap/haloalign/internal/observability/metrics"
	"github.com/openeeap/haloalign/internal/observability/trace"
)

// instrumented 为集合操作添加指标、链路追踪与错误日志
type instrumented struct {
	inner   Communicator
	logger  logging.Logger
	metrics *metrics.MetricsCollector
	tracer  trace.Tracer
}

// Instrument 包装进程组
func Instrument(inner Communicator, logger logging.Logger, collector *metrics.MetricsCollector, tracer trace.Tracer) Communicator {
	return &instrumented{inner: inner, logger: logger, metrics: collector, tracer: tracer}
}

func (c *instrumented) Rank() int      { return c.inner.Rank() }
func (c *instrumented) WorldSize() int { return c.inner.WorldSize() }
func (c *instrumented) Close() error   { return c.inner.Close() }

func (c *instrumented) AllGather(ctx context.Context, local []float64) ([][]float64, error) {
	var out [][]float64
	err := c.observe(ctx, OpAllGather, len(local), func(ctx context.Context) error {
		var err error
		out, err = c.inner.AllGather(ctx, local)
		return err
	})
	return out, err
}

func (c *instrumented) AllReduceSum(ctx context.Context, values []float64) ([]float64, error) {
	var out []float64
	err := c.observe(ctx, OpAllReduceSum, len(values), func(ctx context.Context) error {
		var err error
		out, err = c.inner.AllReduceSum(ctx, values)
		return err
	})
	return out, err
}

func (c *instrumented) Barrier(ctx context.Context) error {
	return c.observe(ctx, OpBarrier, 0, c.inner.Barrier)
}

func (c *instrumented) observe(ctx context.Context, op string, n int, fn func(context.Context) error) error {
	ctx, span := c.tracer.Start(ctx, "Communicator."+op, trace.SpanKindInternal())
	defer span.End()
	span.SetAttributes(trace.CollectiveOpAttr(op), trace.RankAttr(c.Rank()), trace.WorldSizeAttr(c.WorldSize()))

	start := time.Now()
	err := fn(ctx)
	if c.metrics != nil {
		c.metrics.RecordCollective(op, start, err)
	}
	if err != nil {
		trace.RecordSpanError(ctx, err)
		c.logger.WithContext(ctx).Error("collective failed",
			logging.String("op", op),
			logging.Int("rank", c.Rank()),
			logging.Int("values", n),
			logging.Error(err))
	}
	return err
}

//Personal.AI order the ending
