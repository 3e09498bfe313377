// internal/platform/training/logprob/logprob.go
package logprob

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/openeeap/haloalign/internal/platform/training/batch"
	"github.com/openeeap/haloalign/internal/platform/training/model"
	"github.com/openeeap/haloalign/pkg/errors"
)

// BatchLogps 计算每个样本标签 token 的对数概率
// 位置 t 的 logits 给位置 t+1 的标签打分，标签为 IgnoreIndex 的位置不计入；
// average 为 true 时返回按有效 token 数平均的值，否则为总和，无有效 token 时为 0
func BatchLogps(logits *model.Logits, labels [][]int, average bool) ([]float64, error) {
	if err := checkShape(logits, labels); err != nil {
		return nil, err
	}

	out := make([]float64, logits.Examples)
	for i := range labels {
		sum, count := 0.0, 0
		forEachScored(logits, labels[i], func(t, label int) {
			row := logits.Row(i, t)
			sum += row[label] - floats.LogSumExp(row)
			count++
		})
		switch {
		case count == 0:
			out[i] = 0
		case average:
			out[i] = sum / float64(count)
		default:
			out[i] = sum
		}
	}
	return out, nil
}

// Backward 给定 dLoss/dLogps，返回 dLoss/dLogits
// 有效位置上 d logp / d logits = onehot(label) - softmax(logits)
func Backward(logits *model.Logits, labels [][]int, average bool, dLogps []float64) (*model.Logits, error) {
	if err := checkShape(logits, labels); err != nil {
		return nil, err
	}
	if len(dLogps) != logits.Examples {
		return nil, errors.ContractError("got %d logp gradients for %d examples", len(dLogps), logits.Examples)
	}

	grad := model.NewLogits(logits.Examples, logits.SeqLen, logits.Vocab)
	for i := range labels {
		if dLogps[i] == 0 {
			continue
		}
		scale := dLogps[i]
		if average {
			count := 0
			forEachScored(logits, labels[i], func(int, int) { count++ })
			if count == 0 {
				continue
			}
			scale /= float64(count)
		}

		forEachScored(logits, labels[i], func(t, label int) {
			row := logits.Row(i, t)
			g := grad.Row(i, t)
			lse := floats.LogSumExp(row)
			for k, l := range row {
				g[k] -= scale * math.Exp(l-lse)
			}
			g[label] += scale
		})
	}
	return grad, nil
}

func forEachScored(logits *model.Logits, labels []int, fn func(t, label int)) {
	for t := 0; t+1 < logits.SeqLen; t++ {
		label := labels[t+1]
		if label == batch.IgnoreIndex {
			continue
		}
		fn(t, label)
	}
}

func checkShape(logits *model.Logits, labels [][]int) error {
	width := 0
	if len(labels) > 0 {
		width = len(labels[0])
	}
	mismatch := logits.Examples != len(labels) || (len(labels) > 0 && width != logits.SeqLen)
	for _, row := range labels {
		if len(row) != width {
			mismatch = true
		}
		for _, label := range row {
			if label != batch.IgnoreIndex && (label < 0 || label >= logits.Vocab) {
				return errors.ContractError("label %d outside vocabulary of size %d", label, logits.Vocab)
			}
		}
	}
	if mismatch {
		return errors.NewFromCodef(errors.ErrShapeLogits, logits.Examples, logits.SeqLen, len(labels), width)
	}
	return nil
}

//Personal.AI order the ending
