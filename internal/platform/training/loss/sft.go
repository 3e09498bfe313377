// internal/platform/training/loss/sft.go
package loss

import (
	"context"

	"github.com/openeeap/haloalign/internal/platform/training/batch"
	"github.com/openeeap/haloalign/internal/platform/training/dist"
	"github.com/openeeap/haloalign/internal/platform/training/model"
	"github.com/openeeap/haloalign/pkg/types"
)

// sft 目标序列的负对数似然
type sft struct {
	template
}

func newSFT(opts Options, comm dist.Communicator) *sft {
	s := &sft{}
	s.template = template{opts: opts, comm: comm, impl: s}
	s.report = s.template.sftReport
	return s
}

func (s *sft) Name() types.LossName { return types.LossSFT }

func (s *sft) NeedsReference() bool { return false }

// Forward 对数概率按总和计算，不做长度归一
func (s *sft) Forward(ctx context.Context, m model.LanguageModel, b *batch.Batch) (*Output, error) {
	g, err := targetGroup(b)
	if err != nil {
		return nil, err
	}
	g = g.padded(batch.MaxWidth(g.ids, g.labels))

	logps, backward, err := runLogps(ctx, m, g, s.opts.PolicyDType, false)
	if err != nil {
		return nil, err
	}
	return &Output{
		Chosen:   logps,
		Rejected: []float64{},
		backward: func(ctx context.Context, dChosen, _, _ []float64) error {
			return backward(ctx, scatter(len(logps), rowGrad{rowRange(0, len(logps)), dChosen}))
		},
	}, nil
}

// Loss losses = -logp
func (s *sft) Loss(_ context.Context, in *Inputs) (*Result, error) {
	losses := make([]float64, len(in.PolicyChosen))
	grad := make([]float64, len(in.PolicyChosen))
	for i, lp := range in.PolicyChosen {
		losses[i] = -lp
		grad[i] = -1
	}
	return &Result{Losses: losses, GradChosen: grad}, nil
}

//Personal.AI order the ending
