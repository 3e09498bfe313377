// internal/platform/training/loss/kto.go
package loss

import (
	"context"
	"math"

	"github.com/openeeap/haloalign/internal/platform/training/batch"
	"github.com/openeeap/haloalign/internal/platform/training/dist"
	"github.com/openeeap/haloalign/internal/platform/training/model"
	"github.com/openeeap/haloalign/pkg/types"
)

// kto KL 项由不相关的 prompt/response 组估计，并在所有进程间求平均
type kto struct {
	template
}

func newKTO(opts Options, comm dist.Communicator) *kto {
	s := &kto{}
	s.template = template{opts: opts, comm: comm, impl: s}
	s.report = s.template.unpairedReport
	return s
}

func (s *kto) Name() types.LossName { return types.LossKTO }

func (s *kto) NeedsReference() bool { return true }

// Forward 目标组与 KL 组补齐到同一宽度后在一次前向中计算，前 N 行为目标组
func (s *kto) Forward(ctx context.Context, m model.LanguageModel, b *batch.Batch) (*Output, error) {
	target, err := targetGroup(b)
	if err != nil {
		return nil, err
	}
	kl, err := klGroup(b)
	if err != nil {
		return nil, err
	}
	width := batch.MaxWidth(target.ids, target.labels, kl.ids, kl.labels)
	all := target.padded(width).concat(kl.padded(width))

	logps, backward, err := runLogps(ctx, m, all, s.opts.PolicyDType, s.opts.AverageLogProb)
	if err != nil {
		return nil, err
	}
	n := len(target.ids)
	chosenIdx, rejectedIdx, err := b.Partition(n)
	if err != nil {
		return nil, err
	}
	targetLogps := logps[:n]
	klRows := rowRange(n, len(logps))

	return &Output{
		Chosen:   batch.SelectRows(targetLogps, chosenIdx),
		Rejected: batch.SelectRows(targetLogps, rejectedIdx),
		KL:       append([]float64(nil), logps[n:]...),
		backward: func(ctx context.Context, dChosen, dRejected, dKL []float64) error {
			return backward(ctx, scatter(len(logps),
				rowGrad{chosenIdx, dChosen},
				rowGrad{rejectedIdx, dRejected},
				rowGrad{klRows, dKL}))
		},
	}, nil
}

// Loss KL = clamp(Σ_rank mean(pKL - rKL) / world, 0)，不参与梯度
// 没有 KL 行的进程贡献 0，仍计入 world
// 空分区得到显式的空损失与空奖励
func (s *kto) Loss(ctx context.Context, in *Inputs) (*Result, error) {
	klRatios, err := logratios(in.PolicyKL, in.ReferenceKL, "KL")
	if err != nil {
		return nil, err
	}
	local := meanOr(klRatios, 0)
	summed, err := s.comm.AllReduceSum(ctx, []float64{local})
	if err != nil {
		return nil, err
	}
	kl := math.Max(summed[0]/float64(s.comm.WorldSize()), 0)

	clr, err := logratios(in.PolicyChosen, in.ReferenceChosen, "chosen")
	if err != nil {
		return nil, err
	}
	rlr, err := logratios(in.PolicyRejected, in.ReferenceRejected, "rejected")
	if err != nil {
		return nil, err
	}
	beta := s.opts.Beta

	chosenLosses, dChosen, _ := sigmoidTerms(clr, beta, kl, 1)
	rejectedLosses, dRejected, _ := sigmoidTerms(rlr, beta, kl, -1)
	weigh(chosenLosses, dChosen, s.opts.DesirableWeight)
	weigh(rejectedLosses, dRejected, s.opts.UndesirableWeight)

	res := unpairedResult(chosenLosses, rejectedLosses, dChosen, dRejected,
		rewards(beta, clr), rewards(beta, rlr))
	res.KL = kl
	res.HasKL = true
	res.GradKL = make([]float64, len(klRatios))
	return res, nil
}

func weigh(losses, grads []float64, w float64) {
	for i := range losses {
		losses[i] *= w
		grads[i] *= w
	}
}

//Personal.AI order the ending
