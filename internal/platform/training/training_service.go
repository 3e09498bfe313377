// internal/platform/training/training_service.go
package training

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/openeeap/haloalign/internal/infrastructure/message"
	"github.com/openeeap/haloalign/internal/infrastructure/message/kafka"
	redisrepo "github.com/openeeap/haloalign/internal/infrastructure/repository/redis"
	"github.com/openeeap/haloalign/internal/infrastructure/storage"
	"github.com/openeeap/haloalign/internal/infrastructure/storage/minio"
	"github.com/openeeap/haloalign/internal/observability/logging"
	"github.com/openeeap/haloalign/internal/observability/metrics"
	"github.com/openeeap/haloalign/internal/observability/trace"
	"github.com/openeeap/haloalign/internal/platform/training/batch"
	"github.com/openeeap/haloalign/internal/platform/training/checkpoint"
	"github.com/openeeap/haloalign/internal/platform/training/data"
	"github.com/openeeap/haloalign/internal/platform/training/dist"
	"github.com/openeeap/haloalign/internal/platform/training/loss"
	"github.com/openeeap/haloalign/internal/platform/training/model"
	"github.com/openeeap/haloalign/internal/platform/training/precision"
	"github.com/openeeap/haloalign/internal/platform/training/sharding"
	"github.com/openeeap/haloalign/internal/platform/training/trainer"
	"github.com/openeeap/haloalign/pkg/config"
	"github.com/openeeap/haloalign/pkg/errors"
	"github.com/openeeap/haloalign/pkg/types"
)

// 运行目录下的输出文件
const (
	EvalResultsFile = "eval_results.yaml"
	SamplesFile     = "samples.json"
)

// MirrorScheme resume_from 以此前缀开头时从对象存储镜像读取
const MirrorScheme = "minio://"

// TrainingService 由配置构建一次完整运行：进程组、模型、分片、损失策略、训练器与指标下游
type TrainingService interface {
	// Run 按模式执行：train 训练后保存，eval 写出评估结果，sample 写出采样结果
	Run(ctx context.Context, mode types.Mode) error

	// Progress 0 号进程的进度
	Progress() trainer.Progress
}

// Dependencies 外部依赖，为空的基础设施按配置创建
type Dependencies struct {
	Logger  logging.Logger
	Tracer  trace.Tracer
	Metrics *metrics.MetricsCollector

	// Rendezvous redis 后端的交换仓储
	Rendezvous redisrepo.RendezvousStore

	// ObjectStore 检查点镜像的对象存储
	ObjectStore storage.ObjectStore

	// Publisher 指标记录的消息发布者
	Publisher message.Publisher
}

// trainingService 训练服务实现
type trainingService struct {
	cfg      *config.Config
	deps     Dependencies
	progress *trainer.ProgressTracker
}

// NewTrainingService 创建训练服务
func NewTrainingService(cfg *config.Config, deps Dependencies) (TrainingService, error) {
	if cfg == nil {
		return nil, errors.ConfigurationError("training service requires a config")
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNoopLogger()
	}
	if deps.Tracer == nil {
		deps.Tracer = trace.NewNoopTracer()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewMetricsCollector(metrics.CollectorConfig{})
	}
	if cfg.Distributed.RunID == "" {
		cfg.Distributed.RunID = types.NewID().String()
	}
	return &trainingService{cfg: cfg, deps: deps, progress: trainer.NewProgressTracker()}, nil
}

// Progress 0 号进程的进度
func (s *trainingService) Progress() trainer.Progress {
	return s.progress.Progress()
}

// Run 执行一次运行
func (s *trainingService) Run(ctx context.Context, mode types.Mode) error {
	ctx, span := s.deps.Tracer.Start(ctx, "TrainingService.Run")
	defer span.End()
	span.SetAttributes(trace.ModeAttr(string(mode)), trace.RunIDAttr(s.cfg.Distributed.RunID))

	ctx = logging.WithRunID(ctx, s.cfg.Distributed.RunID)
	s.deps.Logger.WithContext(ctx).Info("starting run",
		logging.String("name", s.cfg.Run.Name),
		logging.String("mode", string(mode)),
		logging.String("loss", s.cfg.Loss.Name),
		logging.String("backend", s.cfg.Distributed.Backend),
		logging.Int("world_size", s.cfg.Distributed.WorldSize))

	env, err := s.prepare(ctx)
	if err != nil {
		trace.RecordSpanError(ctx, err)
		return err
	}
	defer env.close()

	comms, closeComms, err := s.communicators()
	if err != nil {
		trace.RecordSpanError(ctx, err)
		return err
	}
	defer closeComms()

	g, gctx := errgroup.WithContext(ctx)
	for _, comm := range comms {
		comm := comm
		g.Go(func() error { return s.runRank(gctx, env, comm, mode) })
	}
	if err := g.Wait(); err != nil {
		trace.RecordSpanError(ctx, err)
		return err
	}
	return nil
}

// ============================================================================
// 运行环境
// ============================================================================

// environment 所有 rank 共享的只读输入与基础设施
type environment struct {
	tokenizer *data.VocabTokenizer
	train     []data.Example
	eval      []data.Example
	mirror    *checkpoint.Mirror
	sink      trainer.Sink
	publisher message.Publisher
}

func (e *environment) close() {
	if e.publisher != nil {
		_ = e.publisher.Close()
	}
}

func (s *trainingService) prepare(ctx context.Context) (*environment, error) {
	tok, train, eval, err := s.dataset()
	if err != nil {
		return nil, err
	}
	env := &environment{tokenizer: tok, train: train, eval: eval}

	if env.mirror, err = s.checkpointMirror(ctx); err != nil {
		return nil, err
	}
	sinks := []trainer.Sink{trainer.NewPrometheusSink(s.deps.Metrics)}
	if env.publisher, err = s.metricsPublisher(); err != nil {
		return nil, err
	}
	if env.publisher != nil {
		sinks = append(sinks, trainer.NewPublisherSink(env.publisher))
	}
	env.sink = trainer.NewFanOut(s.deps.Logger, s.deps.Metrics, sinks...)
	return env, nil
}

// dataset 配置了文件时读取 JSONL，分词器取自 model.name_or_path；否则按种子生成合成数据
func (s *trainingService) dataset() (*data.VocabTokenizer, []data.Example, []data.Example, error) {
	dc := s.cfg.Data
	if dc.TrainFile == "" {
		tok := data.NewSyntheticTokenizer(s.cfg.Model.VocabSize)
		gen := data.SyntheticConfig{
			NumExamples:      dc.NumExamples,
			PromptLength:     dc.PromptLength,
			TargetLength:     dc.TargetLength,
			VocabSize:        s.cfg.Model.VocabSize,
			RejectedFraction: dc.RejectedFraction,
			Seed:             s.cfg.Run.Seed,
		}
		train, err := data.GenerateSynthetic(gen)
		if err != nil {
			return nil, nil, nil, err
		}
		gen.NumExamples, gen.Seed = dc.NumEvalExamples, s.cfg.Run.Seed+1
		eval, err := data.GenerateSynthetic(gen)
		if err != nil {
			return nil, nil, nil, err
		}
		return tok, train, eval, nil
	}

	tok, err := data.LoadTokenizer(s.cfg.Model.NameOrPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if tok.VocabSize() > s.cfg.Model.VocabSize {
		return nil, nil, nil, errors.ConfigurationError("tokenizer has %d entries but model.vocab_size is %d", tok.VocabSize(), s.cfg.Model.VocabSize)
	}
	train, err := data.LoadJSONL(dc.TrainFile, tok)
	if err != nil {
		return nil, nil, nil, err
	}
	eval := train
	if dc.EvalFile != "" {
		if eval, err = data.LoadJSONL(dc.EvalFile, tok); err != nil {
			return nil, nil, nil, err
		}
	}
	return tok, train, eval, nil
}

func (s *trainingService) checkpointMirror(ctx context.Context) (*checkpoint.Mirror, error) {
	mc := s.cfg.MinIO
	if !mc.Enabled {
		return nil, nil
	}
	store := s.deps.ObjectStore
	if store == nil {
		var err error
		store, err = minio.NewMinIOClient(ctx, &minio.MinIOConfig{
			Endpoint:        mc.Endpoint,
			AccessKeyID:     mc.AccessKeyID,
			SecretAccessKey: mc.SecretAccessKey,
			UseSSL:          mc.UseSSL,
			Region:          mc.Region,
		})
		if err != nil {
			return nil, err
		}
	}
	return checkpoint.NewMirror(ctx, store, mc.Bucket, s.cfg.Run.Name)
}

func (s *trainingService) metricsPublisher() (message.Publisher, error) {
	if s.deps.Publisher != nil {
		return s.deps.Publisher, nil
	}
	kc := s.cfg.Kafka
	if !kc.Enabled {
		return nil, nil
	}
	return kafka.NewKafkaPublisher(&kafka.KafkaConfig{
		Brokers:      kc.Brokers,
		ClientID:     kc.ClientID,
		Topic:        kc.Topic,
		Timeout:      kc.DialTimeout,
		MaxRetries:   kc.MaxRetries,
		RequiredAcks: kafka.RequiredAcks(kc.RequiredAcks),
		Tracer:       s.deps.Tracer,
	})
}

// communicators 本进程负责的 rank：local 后端在进程内启动整组
func (s *trainingService) communicators() ([]dist.Communicator, func(), error) {
	dc := s.cfg.Distributed
	backend, err := types.FromStringBackend(dc.Backend)
	if err != nil {
		return nil, nil, err
	}

	switch backend {
	case types.BackendLocal:
		group := dist.NewLocalGroup(dc.WorldSize)
		return group.Communicators(), group.Close, nil

	case types.BackendRedis:
		store := s.deps.Rendezvous
		if store == nil {
			rc := s.cfg.Redis
			store, err = redisrepo.NewRendezvousStore(&redisrepo.StoreConfig{
				Addr:       rc.Addr,
				Password:   rc.Password,
				DB:         rc.DB,
				PoolSize:   rc.PoolSize,
				KeyPrefix:  rc.KeyPrefix,
				DefaultTTL: rc.KeyTTL,
			})
			if err != nil {
				return nil, nil, err
			}
		}
		comm, err := dist.NewRedis(store, dist.RedisOptions{
			RunID:        dc.RunID,
			Rank:         dc.Rank,
			WorldSize:    dc.WorldSize,
			PollInterval: dc.PollInterval,
			OpTimeout:    dc.OpTimeout,
			KeyTTL:       s.cfg.Redis.KeyTTL,
		})
		if err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		return []dist.Communicator{comm}, func() { _ = comm.Close() }, nil

	default:
		return []dist.Communicator{dist.NewSingle()}, func() {}, nil
	}
}

// ============================================================================
// 单个 rank
// ============================================================================

func (s *trainingService) runRank(ctx context.Context, env *environment, comm dist.Communicator, mode types.Mode) error {
	rank := comm.Rank()
	ctx = logging.WithRank(ctx, rank)
	logger := s.deps.Logger.With(logging.Int("rank", rank))
	comm = dist.Instrument(comm, logger, s.deps.Metrics, s.deps.Tracer)

	tr, err := s.buildTrainer(ctx, env, comm, logger)
	if err != nil {
		return err
	}

	if from := s.cfg.Run.ResumeFrom; from != "" {
		src, err := s.resumeSource(env, from)
		if err != nil {
			return err
		}
		if err := tr.Restore(ctx, src, !s.cfg.Trainer.SaveModelOnly); err != nil {
			return err
		}
	}

	coordinator := dist.IsCoordinator(comm)
	switch mode {
	case types.ModeTrain:
		if err := tr.Train(ctx); err != nil {
			return err
		}
		return tr.Save(ctx, "", tr.Progress().LastEval, s.cfg.Trainer.SaveModelOnly)

	case types.ModeEval:
		res, err := tr.Eval(ctx)
		if err != nil {
			return err
		}
		if !coordinator {
			return nil
		}
		return res.WriteYAML(filepath.Join(s.cfg.Run.RunDir, EvalResultsFile))

	case types.ModeSample:
		samples, err := tr.Sample(ctx, true)
		if err != nil {
			return err
		}
		if !coordinator {
			return nil
		}
		return trainer.WriteSamples(filepath.Join(s.cfg.Run.RunDir, SamplesFile), samples)

	default:
		return errors.ConfigurationError("unknown run mode %q", string(mode))
	}
}

func (s *trainingService) buildTrainer(ctx context.Context, env *environment, comm dist.Communicator, logger logging.Logger) (trainer.Trainer, error) {
	cfg := s.cfg

	name, err := types.FromStringLossName(cfg.Loss.Name)
	if err != nil {
		return nil, errors.NewFromCodef(errors.ErrCfgUnknownLoss, cfg.Loss.Name)
	}
	dtype, err := precision.Parse(cfg.Model.PolicyDType)
	if err != nil {
		return nil, err
	}
	strategy, err := loss.New(name, loss.Options{
		Beta:              cfg.Loss.Beta,
		DesirableWeight:   cfg.Loss.DesirableWeight,
		UndesirableWeight: cfg.Loss.UndesirableWeight,
		AverageLogProb:    cfg.Loss.AverageLogProb,
		PolicyDType:       dtype,
	}, comm)
	if err != nil {
		return nil, err
	}

	// 参考模型与策略模型同种子初始化
	tiny := model.TinyConfig{
		VocabSize:  cfg.Model.VocabSize,
		HiddenSize: cfg.Model.HiddenSize,
		NumBlocks:  cfg.Model.NumBlocks,
		ValueHead:  cfg.Model.ValueHead,
		Seed:       cfg.Run.Seed,
	}
	policy, err := model.NewTinyLM(tiny)
	if err != nil {
		return nil, err
	}
	var reference model.LanguageModel
	if name.NeedsReference() {
		if reference, err = model.NewTinyLM(tiny); err != nil {
			return nil, err
		}
	}

	var sharder sharding.Controller
	if cfg.Model.Sharded {
		desc, err := sharding.NewDescriptor(cfg.Model)
		if err != nil {
			return nil, err
		}
		sharder = sharding.NewController(comm, desc, logger, s.deps.Tracer)
	}

	collator := data.NewCollator(env.tokenizer, cfg.Model.MaxLength, cfg.Data.MaxPromptLength)
	trainIter, err := data.NewExampleIterator(env.train, collator, data.IteratorConfig{
		BatchSize: cfg.Model.BatchSize,
		Epochs:    cfg.Trainer.Epochs,
		Shuffle:   cfg.Data.Shuffle,
		Seed:      cfg.Run.Seed,
	})
	if err != nil {
		return nil, err
	}
	evalBatches, err := s.evalBatches(ctx, env, collator)
	if err != nil {
		return nil, err
	}

	writerOpts := []checkpoint.WriterOption{
		checkpoint.WithLogger(logger),
		checkpoint.WithMetrics(s.deps.Metrics),
		checkpoint.WithTracer(s.deps.Tracer),
	}
	if env.mirror != nil {
		writerOpts = append(writerOpts, checkpoint.WithMirror(env.mirror))
	}

	var progress *trainer.ProgressTracker
	if dist.IsCoordinator(comm) {
		progress = s.progress
	}

	return trainer.New(ctx, trainer.Options{
		Config:        cfg,
		Policy:        policy,
		Reference:     reference,
		Strategy:      strategy,
		Comm:          comm,
		Sharder:       sharder,
		TrainIterator: trainIter,
		EvalBatches:   evalBatches,
		Tokenizer:     env.tokenizer,
		Writer:        checkpoint.NewWriter(cfg.Run.RunDir, writerOpts...),
		Artifacts:     env.tokenizer,
		Sink:          env.sink,
		Progress:      progress,
		Logger:        logger,
		Tracer:        s.deps.Tracer,
		Metrics:       s.deps.Metrics,
	})
}

func (s *trainingService) evalBatches(ctx context.Context, env *environment, collator *data.Collator) ([]*batch.Batch, error) {
	it, err := data.NewExampleIterator(env.eval, collator, data.IteratorConfig{BatchSize: s.cfg.Model.EvalBatchSize})
	if err != nil {
		return nil, err
	}
	return data.Collect(ctx, it)
}

// resumeSource minio://rel 读取镜像中运行目录的相对路径，其余视为本地目录
func (s *trainingService) resumeSource(env *environment, from string) (checkpoint.Source, error) {
	if rel := strings.TrimPrefix(from, MirrorScheme); rel != from {
		if env.mirror == nil {
			return nil, errors.ConfigurationError("resume_from %q requires minio.enabled", from)
		}
		return env.mirror.Source(rel), nil
	}
	if _, err := os.Stat(from); err != nil {
		return nil, errors.NotFoundError("checkpoint directory " + from).WithCause(err)
	}
	return checkpoint.DirSource(from), nil
}

//Personal.AI order the ending
