// internal/platform/training/loss/forward.go
package loss

import (
	"context"

	"github.com/openeeap/haloalign/internal/platform/training/batch"
	"github.com/openeeap/haloalign/internal/platform/training/logprob"
	"github.com/openeeap/haloalign/internal/platform/training/model"
	"github.com/openeeap/haloalign/internal/platform/training/precision"
)

// group 一组同宽度的输入
type group struct {
	ids    [][]int
	mask   [][]int
	labels [][]int
}

func targetGroup(b *batch.Batch) (group, error) {
	return fieldGroup(b, batch.FieldTargetInputIDs, batch.FieldTargetAttentionMask, batch.FieldTargetLabels)
}

func klGroup(b *batch.Batch) (group, error) {
	return fieldGroup(b, batch.FieldKLInputIDs, batch.FieldKLAttentionMask, batch.FieldKLLabels)
}

func fieldGroup(b *batch.Batch, idsName, maskName, labelsName string) (group, error) {
	if err := b.Require(idsName, maskName, labelsName); err != nil {
		return group{}, err
	}
	ids, _ := b.Tensor(idsName)
	mask, _ := b.Tensor(maskName)
	labels, _ := b.Tensor(labelsName)
	return group{ids: ids, mask: mask, labels: labels}, nil
}

// padded 右侧补齐到 width，标签以 IgnoreIndex 填充
func (g group) padded(width int) group {
	return group{
		ids:    batch.PadToLength(g.ids, width, 0),
		mask:   batch.PadToLength(g.mask, width, 0),
		labels: batch.PadToLength(g.labels, width, batch.IgnoreIndex),
	}
}

func (g group) concat(o group) group {
	return group{
		ids:    batch.ConcatRows(g.ids, o.ids),
		mask:   batch.ConcatRows(g.mask, o.mask),
		labels: batch.ConcatRows(g.labels, o.labels),
	}
}

// runLogps 单次前向得到每行对数概率，backward 接收每行的梯度
func runLogps(ctx context.Context, m model.LanguageModel, g group, dtype precision.DType, average bool) ([]float64, func(context.Context, []float64) error, error) {
	logits, err := m.Forward(ctx, g.ids, g.mask)
	if err != nil {
		return nil, nil, err
	}
	dtype.RoundSlice(logits.Data)

	logps, err := logprob.BatchLogps(logits, g.labels, average)
	if err != nil {
		return nil, nil, err
	}
	backward := func(ctx context.Context, dLogps []float64) error {
		dLogits, err := logprob.Backward(logits, g.labels, average, dLogps)
		if err != nil {
			return err
		}
		return m.Backward(ctx, dLogits)
	}
	return logps, backward, nil
}

// scatter 将按类别的梯度写回到行位置
func scatter(n int, parts ...rowGrad) []float64 {
	out := make([]float64, n)
	for _, p := range parts {
		for i, row := range p.rows {
			if i < len(p.grad) {
				out[row] += p.grad[i]
			}
		}
	}
	return out
}

type rowGrad struct {
	rows []int
	grad []float64
}

func rowRange(start, end int) []int {
	rows := make([]int, 0, end-start)
	for i := start; i < end; i++ {
		rows = append(rows, i)
	}
	return rows
}

// unpairedForward 目标组前向后按 status 拆分为 chosen/rejected
func unpairedForward(ctx context.Context, m model.LanguageModel, b *batch.Batch, opts Options) (*Output, error) {
	g, err := targetGroup(b)
	if err != nil {
		return nil, err
	}
	g = g.padded(batch.MaxWidth(g.ids, g.labels))

	logps, backward, err := runLogps(ctx, m, g, opts.PolicyDType, opts.AverageLogProb)
	if err != nil {
		return nil, err
	}
	chosenIdx, rejectedIdx, err := b.Partition(len(logps))
	if err != nil {
		return nil, err
	}
	return &Output{
		Chosen:   batch.SelectRows(logps, chosenIdx),
		Rejected: batch.SelectRows(logps, rejectedIdx),
		backward: func(ctx context.Context, dChosen, dRejected, _ []float64) error {
			return backward(ctx, scatter(len(logps), rowGrad{chosenIdx, dChosen}, rowGrad{rejectedIdx, dRejected}))
		},
	}, nil
}

//Personal.AI order the ending
