// internal/platform/training/trainer/sample.go
package trainer

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"github.com/openeeap/haloalign/internal/observability/trace"
	"github.com/openeeap/haloalign/internal/platform/training/batch"
	"github.com/openeeap/haloalign/internal/platform/training/model"
	"github.com/openeeap/haloalign/pkg/errors"
	"github.com/openeeap/haloalign/pkg/types"
)

// SampleRecord 一条采样结果
type SampleRecord struct {
	Prompt         string `json:"prompt" yaml:"prompt"`
	Chosen         string `json:"chosen" yaml:"chosen"`
	Policy         string `json:"policy" yaml:"policy"`
	OriginalPrompt string `json:"original_prompt,omitempty" yaml:"original_prompt,omitempty"`
}

// Sample 对每个评估批次采样，超过 n_samples 条后停止
// 生成结果补齐到 max_length 后跨进程汇集，每个进程返回同样的完整列表
func (t *trainer) Sample(ctx context.Context, includeOriginalPrompt bool) ([]SampleRecord, error) {
	ctx, span := t.tracer.Start(ctx, "Trainer.Sample")
	defer span.End()
	span.SetAttributes(trace.ModeAttr(string(types.ModeSample)))

	if t.tokenizer == nil {
		return nil, errors.ConfigurationError("sampling requires a tokenizer")
	}
	t.policy.SetTraining(false)
	if t.reference != nil {
		t.reference.SetTraining(false)
	}

	rng := rand.New(rand.NewSource(t.cfg.Run.Seed + int64(t.comm.Rank())))
	var prompts, originals, chosen, generated []string
	for _, eb := range t.evalBatches {
		local, err := batch.Shard(eb, t.comm.Rank(), t.comm.WorldSize())
		if err != nil {
			trace.RecordSpanError(ctx, err)
			return nil, err
		}
		policySamples, err := t.batchSamples(ctx, local, rng)
		if err != nil {
			trace.RecordSpanError(ctx, err)
			return nil, err
		}

		targets, ok := eb.Text(batch.FieldTargetText)
		if !ok {
			targets, _ = eb.Text(batch.FieldChosenText)
		}
		eos := t.tokenizer.EOSToken()
		for _, x := range targets {
			if i := strings.LastIndex(x, eos); i >= 0 {
				x = x[:i]
			}
			chosen = append(chosen, strings.TrimSpace(x))
		}

		batchPrompts, _ := eb.Text(batch.FieldPromptText)
		batchOriginals, _ := eb.Text(batch.FieldOriginalPrompt)
		prompts = append(prompts, batchPrompts...)
		originals = append(originals, batchOriginals...)
		generated = append(generated, policySamples...)

		if n := t.cfg.Run.NSamples; n > 0 && len(prompts) > n {
			break
		}
		t.logger.WithContext(ctx).Info(fmt.Sprintf("Generated %d samples ...", len(prompts)))
	}

	samples := make([]SampleRecord, 0, len(prompts))
	for i := range prompts {
		rec := SampleRecord{Prompt: prompts[i]}
		if i < len(chosen) {
			rec.Chosen = chosen[i]
		}
		if i < len(generated) {
			rec.Policy = strings.TrimSpace(strings.TrimPrefix(generated[i], prompts[i]))
		}
		if includeOriginalPrompt && i < len(originals) {
			rec.OriginalPrompt = originals[i]
		}
		samples = append(samples, rec)
	}
	return samples, nil
}

// batchSamples 生成、补齐或截断到 max_length、汇集后解码，解码在第一个 EOS 处截止
func (t *trainer) batchSamples(ctx context.Context, local *batch.Batch, rng *rand.Rand) ([]string, error) {
	if err := local.Require(batch.FieldPromptInputIDs, batch.FieldPromptAttentionMask); err != nil {
		return nil, err
	}
	ids, _ := local.Tensor(batch.FieldPromptInputIDs)
	mask, _ := local.Tensor(batch.FieldPromptAttentionMask)

	maxLength := t.cfg.Model.MaxLength
	out, err := t.policy.Generate(ctx, ids, mask, model.GenerateOptions{
		MaxLength:  maxLength,
		TopP:       t.cfg.Run.TopP,
		PadTokenID: t.tokenizer.PadTokenID(),
		EOSTokenID: t.tokenizer.EOSTokenID(),
		Rand:       rng,
	})
	if err != nil {
		return nil, err
	}
	out = batch.PadToLength(out, maxLength, t.tokenizer.PadTokenID())
	for i, row := range out {
		if len(row) > maxLength {
			out[i] = row[:maxLength]
		}
	}

	all, err := batch.GatherRows(ctx, t.comm, out, maxLength)
	if err != nil {
		return nil, err
	}
	decoded := make([]string, len(all))
	for i, row := range all {
		for j, id := range row {
			if id == t.tokenizer.EOSTokenID() {
				row = row[:j]
				break
			}
		}
		decoded[i] = t.tokenizer.Decode(row)
	}
	return decoded, nil
}

//Personal.AI order the ending
