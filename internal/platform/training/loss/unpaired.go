// internal/platform/training/loss/unpaired.go
package loss

import (
	"math"

	"github.com/openeeap/haloalign/pkg/errors"
)

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// logratios policy - reference
func logratios(policy, reference []float64, what string) ([]float64, error) {
	if len(policy) != len(reference) {
		return nil, errors.ContractError("%s: %d policy logps but %d reference logps", what, len(policy), len(reference))
	}
	out := make([]float64, len(policy))
	for i := range policy {
		out[i] = policy[i] - reference[i]
	}
	return out, nil
}

// rewards beta × logratio，仅用于观测
func rewards(beta float64, lr []float64) []float64 {
	out := make([]float64, len(lr))
	for i, x := range lr {
		out[i] = beta * x
	}
	return out
}

// sigmoidTerms 对 z_i = beta × sign × (lr_i - ref) 计算 1 - σ(z_i)
// 以及 d(1 - σ(z_i))/d lr_i
func sigmoidTerms(lr []float64, beta, ref, sign float64) (losses, grads, slopes []float64) {
	losses = make([]float64, len(lr))
	grads = make([]float64, len(lr))
	slopes = make([]float64, len(lr))
	for i, x := range lr {
		s := sigmoid(beta * sign * (x - ref))
		slope := s * (1 - s) * beta
		losses[i] = 1 - s
		grads[i] = -sign * slope
		slopes[i] = slope
	}
	return losses, grads, slopes
}

// unpairedResult 拼接 chosen 与 rejected 的损失与梯度
func unpairedResult(chosenLosses, rejectedLosses, dChosen, dRejected, chosenRewards, rejectedRewards []float64) *Result {
	losses := make([]float64, 0, len(chosenLosses)+len(rejectedLosses))
	losses = append(losses, chosenLosses...)
	losses = append(losses, rejectedLosses...)
	return &Result{
		Losses:          losses,
		ChosenRewards:   chosenRewards,
		RejectedRewards: rejectedRewards,
		GradChosen:      dChosen,
		GradRejected:    dRejected,
	}
}

func sum(xs []float64) float64 {
	s := 0.0
	for _, x := range xs {
		s += x
	}
	return s
}

//Personal.AI order the ending
