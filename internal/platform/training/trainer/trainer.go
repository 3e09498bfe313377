// internal/platform/training/trainer/trainer.go
package trainer

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/openeeap/haloalign/internal/observability/logging"
	"github.com/openeeap/haloalign/internal/observability/metrics"
	"github.com/openeeap/haloalign/internal/observability/trace"
	"github.com/openeeap/haloalign/internal/platform/training/batch"
	"github.com/openeeap/haloalign/internal/platform/training/checkpoint"
	"github.com/openeeap/haloalign/internal/platform/training/data"
	"github.com/openeeap/haloalign/internal/platform/training/dist"
	"github.com/openeeap/haloalign/internal/platform/training/loss"
	"github.com/openeeap/haloalign/internal/platform/training/model"
	"github.com/openeeap/haloalign/internal/platform/training/optim"
	"github.com/openeeap/haloalign/internal/platform/training/sharding"
	"github.com/openeeap/haloalign/pkg/config"
	"github.com/openeeap/haloalign/pkg/errors"
	"github.com/openeeap/haloalign/pkg/types"
)

// Trainer 训练骨架：INIT → (EVAL ⇄ TRAIN_STEP)* → TERMINAL
type Trainer interface {
	// Train 消费训练迭代器直到耗尽，期间按样本数周期性评估
	Train(ctx context.Context) error

	// Eval 在全部评估批次上计算平均指标
	Eval(ctx context.Context) (*EvalResults, error)

	// Sample 从策略模型为评估批次采样
	Sample(ctx context.Context, includeOriginalPrompt bool) ([]SampleRecord, error)

	// Save 保存策略模型，modelOnly 为 false 时同时保存优化器与调度器
	Save(ctx context.Context, dir string, values map[string]float64, modelOnly bool) error

	// Restore 从检查点恢复，full 为 true 时同时恢复优化器与调度器
	Restore(ctx context.Context, src checkpoint.Source, full bool) error

	// State 当前状态
	State() types.RunState

	// Progress 进度快照
	Progress() Progress
}

// Options 训练器依赖
type Options struct {
	Config    *config.Config
	Policy    model.LanguageModel
	Reference model.LanguageModel
	Strategy  loss.Strategy
	Comm      dist.Communicator

	// Sharder 为空时不分片
	Sharder sharding.Controller

	TrainIterator data.Iterator
	EvalBatches   []*batch.Batch
	Tokenizer     data.Tokenizer

	Writer    *checkpoint.Writer
	Artifacts checkpoint.ArtifactSaver

	// Sink 只在 0 号进程投递
	Sink     Sink
	Progress *ProgressTracker

	Logger  logging.Logger
	Tracer  trace.Tracer
	Metrics *metrics.MetricsCollector

	// Memory 与 Clock 为空时使用运行时内存统计与 time.Now
	Memory MemoryStats
	Clock  func() time.Time
}

// trainer 训练器实现
type trainer struct {
	cfg       *config.Config
	policy    model.LanguageModel
	reference model.LanguageModel
	strategy  loss.Strategy
	comm      dist.Communicator
	sharded   bool

	trainIter   data.Iterator
	evalBatches []*batch.Batch
	tokenizer   data.Tokenizer

	optimizer optim.Optimizer
	scheduler *optim.Scheduler

	writer    *checkpoint.Writer
	artifacts checkpoint.ArtifactSaver
	sink      Sink
	progress  *ProgressTracker

	logger  logging.Logger
	tracer  trace.Tracer
	metrics *metrics.MetricsCollector
	labels  prometheus.Labels
	memory  MemoryStats
	now     func() time.Time

	accum                *Accumulator
	logEvery             *rate.Sometimes
	gradientsAccumulated int
	batchCounter         int
	exampleCounter       int
	state                types.RunState
}

// New 构造训练器：分片模型、绑定优化器与预热调度器
// 配置错误在任何前向计算之前返回
func New(ctx context.Context, opts Options) (Trainer, error) {
	if opts.Config == nil {
		return nil, errors.ConfigurationError("trainer requires a config")
	}
	if opts.Policy == nil {
		return nil, errors.ConfigurationError("trainer requires a policy model")
	}
	if opts.Strategy == nil {
		return nil, errors.ConfigurationError("trainer requires a loss strategy")
	}
	if opts.Strategy.NeedsReference() && opts.Reference == nil {
		return nil, errors.NewFromCodef(errors.ErrCfgMissingReference, string(opts.Strategy.Name()))
	}

	t := &trainer{
		cfg:         opts.Config,
		strategy:    opts.Strategy,
		comm:        opts.Comm,
		trainIter:   opts.TrainIterator,
		evalBatches: opts.EvalBatches,
		tokenizer:   opts.Tokenizer,
		writer:      opts.Writer,
		artifacts:   opts.Artifacts,
		sink:        opts.Sink,
		progress:    opts.Progress,
		tracer:      opts.Tracer,
		metrics:     opts.Metrics,
		memory:      opts.Memory,
		now:         opts.Clock,
		accum:       NewAccumulator(),
		state:       types.RunStateInit,
	}
	if t.comm == nil {
		t.comm = dist.NewSingle()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	t.logger = logging.RankZero(logger, t.comm.Rank())
	if t.tracer == nil {
		t.tracer = trace.NewNoopTracer()
	}
	if t.metrics == nil {
		t.metrics = metrics.NewMetricsCollector(metrics.CollectorConfig{})
	}
	if t.progress == nil {
		t.progress = NewProgressTracker()
	}
	if t.memory == nil {
		t.memory = RuntimeMemory
	}
	if t.now == nil {
		t.now = time.Now
	}
	if t.writer == nil {
		t.writer = checkpoint.NewWriter(t.cfg.Run.RunDir,
			checkpoint.WithLogger(t.logger), checkpoint.WithMetrics(t.metrics), checkpoint.WithTracer(t.tracer))
	}
	if interval := t.cfg.Trainer.MinimumLogInterval(); interval > 0 {
		t.logEvery = &rate.Sometimes{Interval: interval}
	}
	t.labels = prometheus.Labels{"rank": strconv.Itoa(t.comm.Rank())}
	t.progress.SetState(types.RunStateInit)

	ctx, span := t.tracer.Start(ctx, "Trainer.New")
	defer span.End()
	span.SetAttributes(trace.RankAttr(t.comm.Rank()), trace.WorldSizeAttr(t.comm.WorldSize()))

	policy, reference := opts.Policy, opts.Reference
	if opts.Sharder != nil {
		var err error
		policy, reference, err = opts.Sharder.Shard(ctx, policy, reference)
		if err != nil {
			trace.RecordSpanError(ctx, err)
			return nil, err
		}
	}
	t.policy, t.reference = policy, reference
	_, t.sharded = policy.(sharding.FullStateModel)
	if t.reference != nil {
		t.reference.SetTraining(false)
	}

	t.logger.WithContext(ctx).Info(fmt.Sprintf("Using %s optimizer with learning rate %g", t.cfg.Trainer.Optimizer, t.cfg.Trainer.LR))
	optimizer, err := optim.New(t.cfg.Trainer.Optimizer, t.policy.Parameters(), t.cfg.Trainer.LR)
	if err != nil {
		return nil, err
	}
	t.optimizer = optimizer
	t.scheduler = optim.NewWarmupScheduler(optimizer, t.cfg.Trainer.WarmupSteps)
	return t, nil
}

// State 当前状态
func (t *trainer) State() types.RunState { return t.state }

// Progress 进度快照
func (t *trainer) Progress() Progress { return t.progress.Progress() }

func (t *trainer) setState(state types.RunState) {
	t.state = state
	t.progress.SetState(state)
}

// ============================================================================
// 训练
// ============================================================================

// Train 训练主循环
func (t *trainer) Train(ctx context.Context) error {
	ctx, span := t.tracer.Start(ctx, "Trainer.Train")
	defer span.End()

	if t.trainIter == nil {
		return errors.ConfigurationError("trainer has no train iterator")
	}

	for {
		b, err := t.trainIter.Next(ctx)
		if stderrors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			trace.RecordSpanError(ctx, err)
			return err
		}

		if t.evalDue() {
			if err := t.evalAndCheckpoint(ctx); err != nil {
				trace.RecordSpanError(ctx, err)
				return err
			}
		}

		if err := t.trainStep(ctx, b); err != nil {
			trace.RecordSpanError(ctx, err)
			return err
		}

		if t.gradientsAccumulated == 0 && t.shouldFlush() {
			t.flush(ctx)
		} else {
			t.logger.WithContext(ctx).Info(fmt.Sprintf("skipping logging after %d examples to avoid logging too frequently", t.exampleCounter))
			trace.AddSpanEvent(ctx, "logging skipped", trace.ExamplesAttr(t.exampleCounter))
			t.metrics.IncrementCounter(metrics.MetricLogsSkippedTotal, t.labels)
		}
	}

	t.setState(types.RunStateTerminal)
	t.logger.WithContext(ctx).Info("training finished",
		logging.Int("examples", t.exampleCounter),
		logging.Int("batches", t.batchCounter))
	return nil
}

// evalDue 每 eval_every 个样本评估一次，第 0 个样本只在 do_first_eval 时评估
func (t *trainer) evalDue() bool {
	every := t.cfg.Trainer.EvalEvery
	if every <= 0 {
		return false
	}
	return t.exampleCounter%every == 0 && (t.exampleCounter > 0 || t.cfg.Trainer.DoFirstEval)
}

// evalAndCheckpoint 周期性评估，之后按配置写中间检查点
func (t *trainer) evalAndCheckpoint(ctx context.Context) error {
	t.logger.WithContext(ctx).Info(fmt.Sprintf("Running evaluation after %d train examples", t.exampleCounter))
	res, err := t.Eval(ctx)
	if err != nil {
		return err
	}
	if t.exampleCounter == 0 {
		return nil
	}
	if t.cfg.Run.Debug {
		t.logger.WithContext(ctx).Info("skipping save in debug mode")
		return nil
	}
	if !t.cfg.Trainer.IntermediateCheckpoints {
		return nil
	}
	dir := filepath.Join(t.writer.RunDir(), fmt.Sprintf("step-%d", t.exampleCounter))
	t.logger.WithContext(ctx).Info(fmt.Sprintf("creating checkpoint to write to %s...", dir))
	return t.Save(ctx, dir, res.Results, true)
}

// trainStep 单个训练步：分片、计算指标、反向，在累积边界上更新参数
func (t *trainer) trainStep(ctx context.Context, b *batch.Batch) error {
	ctx, span := t.tracer.Start(ctx, "Trainer.TrainStep")
	defer span.End()
	span.SetAttributes(trace.RankAttr(t.comm.Rank()), trace.ExamplesAttr(t.exampleCounter))

	t.setState(types.RunStateTrain)
	t.policy.SetTraining(true)
	start := t.now()

	local, err := batch.Shard(b, t.comm.Rank(), t.comm.WorldSize())
	if err != nil {
		return err
	}
	res, err := t.strategy.BatchMetrics(ctx, t.policy, t.reference, local, types.ModeTrain)
	if err != nil {
		return err
	}
	accumSteps := t.cfg.Model.GradientAccumulationSteps
	if err := res.Backward(ctx, 1/float64(accumSteps)); err != nil {
		return err
	}
	t.accum.Extend(res.Metrics)
	span.SetAttributes(trace.LossAttr(res.Loss))

	t.gradientsAccumulated++
	if t.gradientsAccumulated == accumSteps {
		var clipComm dist.Communicator
		if t.sharded {
			clipComm = t.comm
		}
		gradNorm, err := optim.ClipGradNorm(ctx, clipComm, t.optimizer.Params(), t.cfg.Model.MaxGradNorm)
		if err != nil {
			return err
		}
		t.accum.Append("grad_norm", gradNorm)
		span.SetAttributes(trace.Float64Attr("train.grad_norm", gradNorm), trace.Float64Attr("train.lr", t.optimizer.LR()))

		t.optimizer.Step()
		t.optimizer.ZeroGrad()
		t.scheduler.Step()
		t.gradientsAccumulated = 0
		t.metrics.IncrementCounter(metrics.MetricUpdatesTotal, t.labels)
	}

	batchSize := t.cfg.Model.BatchSize
	if stepTime := t.now().Sub(start).Seconds(); stepTime > 0 {
		t.accum.Append("examples_per_second", float64(batchSize)/stepTime)
	}

	t.batchCounter++
	t.exampleCounter += batchSize
	t.metrics.ObserveDuration(metrics.MetricStepDuration, start, t.labels)
	t.metrics.AddCounter(metrics.MetricExamplesTotal, float64(batchSize), t.labels)
	t.progress.SetCounters(t.exampleCounter, t.batchCounter)
	return nil
}

// shouldFlush 距上次刷新超过最小间隔；间隔为 0 时每次都刷新
func (t *trainer) shouldFlush() bool {
	if t.logEvery == nil {
		return true
	}
	due := false
	t.logEvery.Do(func() { due = true })
	return due
}

// flush 输出区间平均指标并清空累加器
func (t *trainer) flush(ctx context.Context) {
	means := t.accum.Means()
	means["counters/examples"] = float64(t.exampleCounter)
	means["counters/updates"] = float64(t.batchCounter)
	t.logger.WithContext(ctx).Info(fmt.Sprintf("train stats after %d examples: %s", t.exampleCounter, FormatMetrics(means)))

	t.emit(ctx, types.ModeTrain, means)
	t.progress.SetTrain(means)
	t.accum.Reset()

	if lowFreeMemory(t.memory) {
		releaseMemory()
		t.metrics.IncrementCounter(metrics.MetricForcedGCTotal, t.labels)
		t.logger.WithContext(ctx).Debug("released memory after flush")
	}
}

// emit 只有 0 号进程投递到下游
func (t *trainer) emit(ctx context.Context, mode types.Mode, values map[string]float64) {
	if t.sink == nil || !dist.IsCoordinator(t.comm) {
		return
	}
	rec := &MetricsRecord{
		RunID:   t.cfg.Distributed.RunID,
		Rank:    t.comm.Rank(),
		Step:    t.exampleCounter,
		Mode:    mode,
		Metrics: values,
		Time:    t.now(),
	}
	if err := t.sink.Emit(ctx, rec); err != nil {
		t.metrics.IncrementCounter(metrics.MetricSinkErrors, prometheus.Labels{"sink": t.sink.Name()})
		t.logger.WithContext(ctx).Warn("metrics sink failed", logging.String("sink", t.sink.Name()), logging.Error(err))
	}
}

// ============================================================================
// 评估
// ============================================================================

// EvalResults 评估结果文档
type EvalResults struct {
	Metadata *config.Config     `yaml:"metadata" json:"metadata"`
	Results  map[string]float64 `yaml:"results" json:"results"`
}

// Eval 关闭梯度，在每个评估批次上计算指标后取平均
func (t *trainer) Eval(ctx context.Context) (*EvalResults, error) {
	ctx, span := t.tracer.Start(ctx, "Trainer.Eval")
	defer span.End()
	span.SetAttributes(trace.ModeAttr(string(types.ModeEval)), trace.ExamplesAttr(t.exampleCounter))

	t.setState(types.RunStateEval)
	t.policy.SetTraining(false)
	if t.reference != nil {
		t.reference.SetTraining(false)
	}

	all := NewAccumulator()
	for _, eb := range t.evalBatches {
		local, err := batch.Shard(eb, t.comm.Rank(), t.comm.WorldSize())
		if err != nil {
			trace.RecordSpanError(ctx, err)
			return nil, err
		}
		res, err := t.strategy.BatchMetrics(ctx, t.policy, t.reference, local, types.ModeEval)
		if err != nil {
			trace.RecordSpanError(ctx, err)
			return nil, err
		}
		all.Extend(res.Metrics)
	}

	means := all.Means()
	t.logger.WithContext(ctx).Info(fmt.Sprintf("eval after %d: %s", t.exampleCounter, FormatMetrics(means)))
	t.emit(ctx, types.ModeEval, means)
	t.progress.SetEval(means)
	return &EvalResults{Metadata: t.cfg, Results: means}, nil
}

//Personal.AI order the ending
