// internal/platform/training/loss/strategy.go
package loss

import (
	"context"

	"github.com/openeeap/haloalign/internal/platform/training/batch"
	"github.com/openeeap/haloalign/internal/platform/training/dist"
	"github.com/openeeap/haloalign/internal/platform/training/model"
	"github.com/openeeap/haloalign/internal/platform/training/precision"
	"github.com/openeeap/haloalign/pkg/errors"
	"github.com/openeeap/haloalign/pkg/types"
)

// Strategy 可替换的对齐目标
// Forward 与 Loss 由各变体提供，BatchMetrics 由公共模板组合提供
type Strategy interface {
	// Name 损失名称
	Name() types.LossName

	// Forward 在模型上运行批次，返回按类别拆分的对数概率
	Forward(ctx context.Context, m model.LanguageModel, b *batch.Batch) (*Output, error)

	// Loss 由策略与参考对数概率计算逐样本损失与奖励
	Loss(ctx context.Context, in *Inputs) (*Result, error)

	// BatchMetrics 计算微批次平均损失与跨进程汇集后的指标
	BatchMetrics(ctx context.Context, policy, reference model.LanguageModel, b *batch.Batch, mode types.Mode) (*BatchResult, error)

	// NeedsReference 是否需要参考模型
	NeedsReference() bool
}

// Options 损失超参数
type Options struct {
	Beta              float64
	DesirableWeight   float64
	UndesirableWeight float64
	AverageLogProb    bool
	// PolicyDType 对数概率计算前 logits 的取整宽度
	PolicyDType precision.DType
}

// Output 一次前向的结果；Chosen 在 SFT 中为全部目标样本
type Output struct {
	Chosen   []float64
	Rejected []float64
	KL       []float64

	backward func(ctx context.Context, dChosen, dRejected, dKL []float64) error
}

// Backward 将对数概率梯度传回模型；nil 切片视为全零
func (o *Output) Backward(ctx context.Context, dChosen, dRejected, dKL []float64) error {
	if o.backward == nil {
		return errors.ContractError("output has no gradient path")
	}
	return o.backward(ctx, dChosen, dRejected, dKL)
}

// Inputs 损失输入，参考项对 SFT 为空
type Inputs struct {
	PolicyChosen      []float64
	PolicyRejected    []float64
	PolicyKL          []float64
	ReferenceChosen   []float64
	ReferenceRejected []float64
	ReferenceKL       []float64
}

// Result 损失结果
// Grad* 为 Σ Losses 对策略对数概率的梯度（保留梯度路径的部分），奖励不参与梯度
type Result struct {
	Losses          []float64
	ChosenRewards   []float64
	RejectedRewards []float64

	// KL 全局 KL 估计，仅 KTO 使用
	KL    float64
	HasKL bool

	GradChosen   []float64
	GradRejected []float64
	GradKL       []float64
}

// BatchResult 微批次的平均损失、指标与反向入口
type BatchResult struct {
	Loss    float64
	Metrics map[string][]float64

	output *Output
	result *Result
}

// Backward 对 scale × mean(Losses) 反向传播
// 本地无样本时仍以零梯度调用模型反向，保证集合操作次序一致
func (r *BatchResult) Backward(ctx context.Context, scale float64) error {
	n := len(r.result.Losses)
	factor := 0.0
	if n > 0 {
		factor = scale / float64(n)
	}
	return r.output.Backward(ctx,
		scaled(r.result.GradChosen, factor),
		scaled(r.result.GradRejected, factor),
		scaled(r.result.GradKL, factor))
}

func scaled(xs []float64, f float64) []float64 {
	if xs == nil {
		return nil
	}
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = x * f
	}
	return out
}

// New 按名称创建损失策略
func New(name types.LossName, opts Options, comm dist.Communicator) (Strategy, error) {
	if opts.DesirableWeight == 0 {
		opts.DesirableWeight = 1
	}
	if opts.UndesirableWeight == 0 {
		opts.UndesirableWeight = 1
	}
	if comm == nil {
		comm = dist.NewSingle()
	}
	switch name {
	case types.LossSFT:
		return newSFT(opts, comm), nil
	case types.LossKTO:
		return newKTO(opts, comm), nil
	case types.LossSimpleKTO:
		return newSimpleKTO(opts, comm), nil
	case types.LossKTOZero:
		return newKTOZero(opts, comm), nil
	default:
		return nil, errors.NewFromCodef(errors.ErrCfgUnknownLoss, string(name))
	}
}

//Personal.AI order the ending
