// internal/platform/training/loss/template.go
package loss

import (
	"context"
	"fmt"

	"github.com/openeeap/haloalign/internal/platform/training/batch"
	"github.com/openeeap/haloalign/internal/platform/training/dist"
	"github.com/openeeap/haloalign/internal/platform/training/model"
	"github.com/openeeap/haloalign/pkg/errors"
	"github.com/openeeap/haloalign/pkg/types"
)

// variant 各损失变体实现的部分
type variant interface {
	Name() types.LossName
	Forward(ctx context.Context, m model.LanguageModel, b *batch.Batch) (*Output, error)
	Loss(ctx context.Context, in *Inputs) (*Result, error)
	NeedsReference() bool
}

// reporter 汇集并整理指标
type reporter func(ctx context.Context, mode types.Mode, out *Output, res *Result) (map[string][]float64, error)

// template 公共批次计算流程
type template struct {
	opts   Options
	comm   dist.Communicator
	impl   variant
	report reporter
}

// BatchMetrics 策略前向 → 参考前向 → 损失 → 跨进程汇集
func (t *template) BatchMetrics(ctx context.Context, policy, reference model.LanguageModel, b *batch.Batch, mode types.Mode) (*BatchResult, error) {
	if t.impl.NeedsReference() && reference == nil {
		return nil, errors.NewFromCodef(errors.ErrCfgMissingReference, string(t.impl.Name()))
	}

	out, err := t.impl.Forward(ctx, policy, b)
	if err != nil {
		return nil, err
	}
	in := &Inputs{PolicyChosen: out.Chosen, PolicyRejected: out.Rejected, PolicyKL: out.KL}

	if t.impl.NeedsReference() {
		ref, err := t.impl.Forward(ctx, reference, b)
		if err != nil {
			return nil, err
		}
		in.ReferenceChosen, in.ReferenceRejected, in.ReferenceKL = ref.Chosen, ref.Rejected, ref.KL
	}

	res, err := t.impl.Loss(ctx, in)
	if err != nil {
		return nil, err
	}
	metrics, err := t.report(ctx, mode, out, res)
	if err != nil {
		return nil, err
	}
	return &BatchResult{Loss: meanOr(res.Losses, 0), Metrics: metrics, output: out, result: res}, nil
}

// sftReport logps_{mode}/chosen 与 loss/{mode}
func (t *template) sftReport(ctx context.Context, mode types.Mode, out *Output, res *Result) (map[string][]float64, error) {
	logps, err := batch.Gather(ctx, t.comm, out.Chosen)
	if err != nil {
		return nil, err
	}
	losses, err := batch.Gather(ctx, t.comm, res.Losses)
	if err != nil {
		return nil, err
	}
	return map[string][]float64{
		fmt.Sprintf("logps_%s/chosen", mode): logps,
		fmt.Sprintf("loss/%s", mode):         losses,
	}, nil
}

// unpairedReport 奖励与状态向量拼接后汇集，避免空分区参与集合操作
func (t *template) unpairedReport(ctx context.Context, mode types.Mode, _ *Output, res *Result) (map[string][]float64, error) {
	combined := make([]float64, 0, len(res.ChosenRewards)+len(res.RejectedRewards))
	combined = append(combined, res.ChosenRewards...)
	combined = append(combined, res.RejectedRewards...)
	statuses := make([]float64, len(combined))
	for i := range res.ChosenRewards {
		statuses[i] = 1
	}

	allRewards, err := batch.Gather(ctx, t.comm, combined)
	if err != nil {
		return nil, err
	}
	allStatuses, err := batch.Gather(ctx, t.comm, statuses)
	if err != nil {
		return nil, err
	}
	if len(allRewards) != len(allStatuses) {
		return nil, errors.ContractError("gathered %d rewards but %d statuses", len(allRewards), len(allStatuses))
	}

	var chosen, rejected []float64
	for i, s := range allStatuses {
		if s == 1 {
			chosen = append(chosen, allRewards[i])
		} else {
			rejected = append(rejected, allRewards[i])
		}
	}

	metrics := map[string][]float64{
		fmt.Sprintf("rewards_%s/chosen", mode):   nonNil(chosen),
		fmt.Sprintf("rewards_%s/rejected", mode): nonNil(rejected),
		fmt.Sprintf("rewards_%s/margins", mode):  {Margin(chosen, rejected)},
	}

	if res.HasKL {
		kl, err := batch.Gather(ctx, t.comm, []float64{res.KL})
		if err != nil {
			return nil, err
		}
		metrics[fmt.Sprintf("rewards_%s/KL_estimate", mode)] = kl
	}

	losses, err := batch.Gather(ctx, t.comm, res.Losses)
	if err != nil {
		return nil, err
	}
	metrics[fmt.Sprintf("loss/%s", mode)] = losses
	return metrics, nil
}

// Margin mean(chosen) - mean(rejected)，空分区的均值记为 0
func Margin(chosen, rejected []float64) float64 {
	return meanOr(chosen, 0) - meanOr(rejected, 0)
}

func meanOr(xs []float64, empty float64) float64 {
	if len(xs) == 0 {
		return empty
	}
	s := 0.0
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func nonNil(xs []float64) []float64 {
	if xs == nil {
		return []float64{}
	}
	return xs
}

//Personal.AI order the ending
