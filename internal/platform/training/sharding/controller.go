// internal/platform/training/sharding/controller.go
package sharding

import (
	"context"

	"github.com/openeeap/haloalign/internal/observability/logging"
	"github.com/openeeap/haloalign/internal/observability/trace"
	"github.com/openeeap/haloalign/internal/platform/training/dist"
	"github.com/openeeap/haloalign/internal/platform/training/model"
	"github.com/openeeap/haloalign/pkg/errors"
)

// Controller 模型分片控制器，构造训练器时调用一次
type Controller interface {
	// Shard 分片策略模型与可选的参考模型，完成后所有进程在屏障处同步
	// 单进程拓扑下原样返回
	Shard(ctx context.Context, policy, reference model.LanguageModel) (model.LanguageModel, model.LanguageModel, error)

	// Descriptor 分片描述
	Descriptor() Descriptor
}

// FullStateModel 可汇集/分发完整状态的分片模型
type FullStateModel interface {
	model.LanguageModel

	// FullStateDict 在 0 号进程返回完整状态，其他进程返回 nil
	FullStateDict(ctx context.Context) (model.StateDict, error)

	// LoadFullStateDict 从完整状态中取出本进程持有的切片
	LoadFullStateDict(sd model.StateDict) error

	// GatherFull 汇集与分片参数一一对应的向量（如优化器状态槽）到 0 号进程
	GatherFull(ctx context.Context, local map[string][]float64) (map[string][]float64, error)

	// ScatterFull 从完整向量中取出本进程持有的切片
	ScatterFull(full map[string][]float64) (map[string][]float64, error)
}

// controller 分片控制器实现
type controller struct {
	comm   dist.Communicator
	desc   Descriptor
	logger logging.Logger
	tracer trace.Tracer
}

// NewController 创建分片控制器
func NewController(comm dist.Communicator, desc Descriptor, logger logging.Logger, tracer trace.Tracer) Controller {
	return &controller{comm: comm, desc: desc, logger: logger, tracer: tracer}
}

// Descriptor 分片描述
func (c *controller) Descriptor() Descriptor {
	return c.desc
}

// Shard 分片策略模型与参考模型
func (c *controller) Shard(ctx context.Context, policy, reference model.LanguageModel) (model.LanguageModel, model.LanguageModel, error) {
	ctx, span := c.tracer.Start(ctx, "ShardingController.Shard")
	defer span.End()
	span.SetAttributes(trace.RankAttr(c.comm.Rank()), trace.WorldSizeAttr(c.comm.WorldSize()))

	if c.comm.WorldSize() == 1 {
		c.logger.WithContext(ctx).Info("single process topology, sharding skipped")
		return policy, reference, nil
	}
	if c.desc.BlockName == "" {
		return nil, nil, errors.NewFromCode(errors.ErrCfgMissingBlockName)
	}

	c.logger.WithContext(ctx).Info("Sharding policy...",
		logging.String("block_name", c.desc.BlockName),
		logging.String("mixed_precision", string(c.desc.Precision.Param)))

	if c.desc.ActivationCheckpointing {
		c.enableActivationCheckpointing(ctx, "policy", policy)
	}

	shardedPolicy, err := c.wrap(ctx, "policy", policy)
	if err != nil {
		return nil, nil, err
	}

	var shardedReference model.LanguageModel
	if reference != nil {
		c.logger.WithContext(ctx).Info("Sharding reference model...")
		if c.desc.ActivationCheckpointing {
			c.enableActivationCheckpointing(ctx, "reference", reference)
		}
		ref, err := c.wrap(ctx, "reference", reference)
		if err != nil {
			return nil, nil, err
		}
		shardedReference = ref
	}

	c.logger.WithContext(ctx).Info("Loaded model on rank", logging.Int("rank", c.comm.Rank()))
	if err := c.comm.Barrier(ctx); err != nil {
		trace.RecordSpanError(ctx, err)
		return nil, nil, err
	}
	return shardedPolicy, shardedReference, nil
}

// enableActivationCheckpointing 无法开启时记录日志后继续
func (c *controller) enableActivationCheckpointing(ctx context.Context, role string, m model.LanguageModel) {
	logger := c.logger.WithContext(ctx).With(logging.String("model", role))
	cp, ok := m.(model.Checkpointable)
	if !ok {
		logger.Warn("activation checkpointing not supported by model, continuing without it")
		return
	}
	if err := cp.EnableActivationCheckpointing(c.desc.BlockName); err != nil {
		logger.Warn("activation checkpointing failed, continuing without it", logging.Error(err))
		return
	}
	logger.Info("Applied activation checkpointing", logging.String("block_name", c.desc.BlockName))
}

// wrap 按块类型与参数量划分分片单元
func (c *controller) wrap(ctx context.Context, role string, m model.LanguageModel) (*ShardedModel, error) {
	hookable, ok := m.(model.Hookable)
	if !ok {
		return nil, errors.ConfigurationError("%s model does not expose module hooks required for sharding", role)
	}
	if len(model.FindModules(m, c.desc.BlockName)) == 0 {
		return nil, errors.NewFromCodef(errors.ErrCfgBlockNotFound, c.desc.BlockName)
	}

	var units []*unit
	var rootParams []*model.Parameter
	byModule := make(map[string]*unit)
	for _, mod := range m.Modules() {
		params := mod.Parameters()
		if mod.TypeName() == c.desc.BlockName || model.CountParameters(params) >= c.desc.MinNumParams {
			u := newUnit(mod.Name(), params, c.comm.Rank(), c.comm.WorldSize())
			units = append(units, u)
			byModule[mod.Name()] = u
			continue
		}
		rootParams = append(rootParams, params...)
	}
	root := newUnit("root", rootParams, c.comm.Rank(), c.comm.WorldSize())
	units = append(units, root)

	sm := &ShardedModel{
		inner:    m,
		comm:     c.comm,
		policy:   c.desc.Precision,
		units:    units,
		byModule: byModule,
		root:     root,
	}
	for _, u := range units {
		sm.shards = append(sm.shards, u.shards...)
	}
	hookable.SetHooks(sm.hooks())
	sm.releaseAll()

	c.logger.WithContext(ctx).Info("wrapped model for sharding",
		logging.String("role", role),
		logging.Int("units", len(units)-1),
		logging.Int("root_params", model.CountParameters(rootParams)),
		logging.Int("local_params", model.CountParameters(sm.shards)))
	return sm, nil
}

//Personal.AI order the ending
