// internal/platform/training/loss/simple_kto.go
package loss

import (
	"context"

	"github.com/openeeap/haloalign/internal/platform/training/batch"
	"github.com/openeeap/haloalign/internal/platform/training/dist"
	"github.com/openeeap/haloalign/internal/platform/training/model"
	"github.com/openeeap/haloalign/pkg/types"
)

// simpleKTO 以本地微批次各分区的平均 log-ratio 作为 KL 代理，无跨进程通信
type simpleKTO struct {
	template
}

func newSimpleKTO(opts Options, comm dist.Communicator) *simpleKTO {
	s := &simpleKTO{}
	s.template = template{opts: opts, comm: comm, impl: s}
	s.report = s.template.unpairedReport
	return s
}

func (s *simpleKTO) Name() types.LossName { return types.LossSimpleKTO }

func (s *simpleKTO) NeedsReference() bool { return true }

func (s *simpleKTO) Forward(ctx context.Context, m model.LanguageModel, b *batch.Batch) (*Output, error) {
	return unpairedForward(ctx, m, b, s.opts)
}

// Loss chosen: 1-σ(β(clr - rejected_KL))，rejected: 1-σ(β(chosen_KL - rlr))
// 代理项 clamp(mean, 0) 保留梯度，空分区的代理记为 0
func (s *simpleKTO) Loss(_ context.Context, in *Inputs) (*Result, error) {
	clr, err := logratios(in.PolicyChosen, in.ReferenceChosen, "chosen")
	if err != nil {
		return nil, err
	}
	rlr, err := logratios(in.PolicyRejected, in.ReferenceRejected, "rejected")
	if err != nil {
		return nil, err
	}
	beta := s.opts.Beta

	chosenKL, chosenPass := clampedMean(clr)
	rejectedKL, rejectedPass := clampedMean(rlr)

	chosenLosses, dChosen, chosenSlopes := sigmoidTerms(clr, beta, rejectedKL, 1)
	rejectedLosses, dRejected, rejectedSlopes := sigmoidTerms(rlr, beta, chosenKL, -1)

	// 代理项的梯度：chosen_KL 出现在每个 rejected 损失中，反之亦然
	if chosenPass {
		share := -sum(rejectedSlopes) / float64(len(clr))
		for i := range dChosen {
			dChosen[i] += share
		}
	}
	if rejectedPass {
		share := sum(chosenSlopes) / float64(len(rlr))
		for j := range dRejected {
			dRejected[j] += share
		}
	}

	return unpairedResult(chosenLosses, rejectedLosses, dChosen, dRejected,
		rewards(beta, clr), rewards(beta, rlr)), nil
}

// clampedMean max(mean, 0) 以及梯度是否通过 clamp
func clampedMean(xs []float64) (float64, bool) {
	if len(xs) == 0 {
		return 0, false
	}
	m := sum(xs) / float64(len(xs))
	if m < 0 {
		return 0, false
	}
	return m, true
}

//Personal.AI order the ending
