// internal/platform/training/loss/kto_zero.go
package loss

import (
	"context"

	"github.com/openeeap/haloalign/internal/platform/training/batch"
	"github.com/openeeap/haloalign/internal/platform/training/dist"
	"github.com/openeeap/haloalign/internal/platform/training/model"
	"github.com/openeeap/haloalign/pkg/types"
)

// ktoZero 参考点固定为 0 的 KTO，仅用于考察 KL 项的作用
type ktoZero struct {
	template
}

func newKTOZero(opts Options, comm dist.Communicator) *ktoZero {
	s := &ktoZero{}
	s.template = template{opts: opts, comm: comm, impl: s}
	s.report = s.template.unpairedReport
	return s
}

func (s *ktoZero) Name() types.LossName { return types.LossKTOZero }

func (s *ktoZero) NeedsReference() bool { return true }

func (s *ktoZero) Forward(ctx context.Context, m model.LanguageModel, b *batch.Batch) (*Output, error) {
	return unpairedForward(ctx, m, b, s.opts)
}

// Loss chosen: 1-σ(β·clr)，rejected: 1-σ(-β·rlr)
func (s *ktoZero) Loss(_ context.Context, in *Inputs) (*Result, error) {
	clr, err := logratios(in.PolicyChosen, in.ReferenceChosen, "chosen")
	if err != nil {
		return nil, err
	}
	rlr, err := logratios(in.PolicyRejected, in.ReferenceRejected, "rejected")
	if err != nil {
		return nil, err
	}
	beta := s.opts.Beta

	chosenLosses, dChosen, _ := sigmoidTerms(clr, beta, 0, 1)
	rejectedLosses, dRejected, _ := sigmoidTerms(rlr, beta, 0, -1)
	return unpairedResult(chosenLosses, rejectedLosses, dChosen, dRejected,
		rewards(beta, clr), rewards(beta, rlr)), nil
}

//Personal.AI order the ending
