// internal/platform/training/data/synthetic.go
package data

import (
	"math/rand"

	"github.com/openeeap/haloalign/internal/platform/training/batch"
	"github.com/openeeap/haloalign/pkg/errors"
)

// SyntheticConfig 合成数据配置
// desirable 回复延续提示的递增序列，undesirable 回复是随机 token
type SyntheticConfig struct {
	NumExamples      int
	PromptLength     int
	TargetLength     int
	VocabSize        int
	RejectedFraction float64
	Seed             int64
}

// GenerateSynthetic 按种子确定地生成样本
func GenerateSynthetic(cfg SyntheticConfig) ([]Example, error) {
	first := UnkTokenID + 1
	span := cfg.VocabSize - first
	if span < 2 {
		return nil, errors.ConfigurationError("synthetic data needs vocab_size > %d, got %d", first+1, cfg.VocabSize)
	}
	if cfg.PromptLength < 1 || cfg.TargetLength < 1 {
		return nil, errors.ConfigurationError("synthetic prompt and target lengths must be positive")
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	examples := make([]Example, cfg.NumExamples)
	for i := range examples {
		prompt := make([]int, cfg.PromptLength)
		for t := range prompt {
			prompt[t] = first + rng.Intn(span)
		}

		status := batch.StatusChosen
		if rng.Float64() < cfg.RejectedFraction {
			status = batch.StatusRejected
		}

		target := make([]int, cfg.TargetLength)
		prev := prompt[len(prompt)-1]
		for t := range target {
			if status == batch.StatusChosen {
				target[t] = first + (prev-first+1)%span
			} else {
				target[t] = first + rng.Intn(span)
			}
			prev = target[t]
		}

		examples[i] = Example{Prompt: prompt, Target: target, Status: status}
	}
	return examples, nil
}

//Personal.AI order the ending
