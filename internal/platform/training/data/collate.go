// internal/platform/training/data/collate.go
package data

import (
	"github.com/openeeap/haloalign/internal/platform/training/batch"
	"github.com/openeeap/haloalign/pkg/errors"
)

// Example 一个无配对的样本：提示、回复与 chosen/rejected 标签
type Example struct {
	Prompt []int
	Target []int
	Status batch.Status

	// 为空时由分词器解码生成
	PromptText string
	TargetText string
}

// Collator 将样本拼成批次字段
type Collator struct {
	tok             Tokenizer
	maxLength       int
	maxPromptLength int
}

// NewCollator 创建拼接器；maxPromptLength 为 0 时取 maxLength 的一半
func NewCollator(tok Tokenizer, maxLength, maxPromptLength int) *Collator {
	if maxPromptLength <= 0 || maxPromptLength > maxLength {
		maxPromptLength = maxLength / 2
	}
	return &Collator{tok: tok, maxLength: maxLength, maxPromptLength: maxPromptLength}
}

// Collate 生成 target、KL 与 prompt 三组张量字段以及文本字段
// KL 组将第 i 个提示与第 i+1 个样本的回复配对
func (c *Collator) Collate(examples []Example) (*batch.Batch, error) {
	if c.maxLength < 2 {
		return nil, errors.ConfigurationError("max_length must be at least 2, got %d", c.maxLength)
	}

	n := len(examples)
	b := batch.New()
	b.Status = make([]batch.Status, 0, n)

	var (
		targetIDs, targetMask, targetLabels [][]int
		klIDs, klMask, klLabels             [][]int
		promptIDs, promptMask               [][]int
		promptText, targetText              []string
	)

	for i, ex := range examples {
		status := ex.Status
		if status == "" {
			status = batch.StatusChosen
		}
		b.Status = append(b.Status, status)

		prompt := c.truncatePrompt(ex.Prompt)

		ids, mask, labels := c.combine(prompt, ex.Target)
		targetIDs = append(targetIDs, ids)
		targetMask = append(targetMask, mask)
		targetLabels = append(targetLabels, labels)

		ids, mask, labels = c.combine(prompt, examples[(i+1)%n].Target)
		klIDs = append(klIDs, ids)
		klMask = append(klMask, mask)
		klLabels = append(klLabels, labels)

		promptIDs = append(promptIDs, append([]int(nil), prompt...))
		promptMask = append(promptMask, ones(len(prompt)))

		pt := ex.PromptText
		if pt == "" {
			pt = c.tok.Decode(prompt)
		}
		tt := ex.TargetText
		if tt == "" {
			tt = c.tok.Decode(ex.Target)
		}
		promptText = append(promptText, pt)
		targetText = append(targetText, joinText(tt, c.tok.EOSToken()))
	}

	pad := c.tok.PadTokenID()
	setGroup(b, batch.FieldTargetInputIDs, batch.FieldTargetAttentionMask, batch.FieldTargetLabels, targetIDs, targetMask, targetLabels, pad)
	setGroup(b, batch.FieldKLInputIDs, batch.FieldKLAttentionMask, batch.FieldKLLabels, klIDs, klMask, klLabels, pad)

	width := batch.MaxWidth(promptIDs)
	b.Tensors[batch.FieldPromptInputIDs] = batch.PadToLength(promptIDs, width, pad)
	b.Tensors[batch.FieldPromptAttentionMask] = batch.PadToLength(promptMask, width, 0)

	b.Texts[batch.FieldPromptText] = promptText
	b.Texts[batch.FieldOriginalPrompt] = append([]string(nil), promptText...)
	b.Texts[batch.FieldTargetText] = targetText

	return b, b.Validate()
}

// truncatePrompt 保留提示末尾
func (c *Collator) truncatePrompt(prompt []int) []int {
	if len(prompt) > c.maxPromptLength {
		return prompt[len(prompt)-c.maxPromptLength:]
	}
	return prompt
}

// combine 提示 + 回复 + EOS，截断到 maxLength；提示位置的标签为 IgnoreIndex
func (c *Collator) combine(prompt, target []int) (ids, mask, labels []int) {
	ids = make([]int, 0, len(prompt)+len(target)+1)
	ids = append(ids, prompt...)
	ids = append(ids, target...)
	ids = append(ids, c.tok.EOSTokenID())
	if len(ids) > c.maxLength {
		ids = ids[:c.maxLength]
	}

	labels = make([]int, len(ids))
	for t := range ids {
		if t < len(prompt) {
			labels[t] = batch.IgnoreIndex
		} else {
			labels[t] = ids[t]
		}
	}
	return ids, ones(len(ids)), labels
}

func setGroup(b *batch.Batch, idsName, maskName, labelsName string, ids, mask, labels [][]int, pad int) {
	width := batch.MaxWidth(ids)
	b.Tensors[idsName] = batch.PadToLength(ids, width, pad)
	b.Tensors[maskName] = batch.PadToLength(mask, width, 0)
	b.Tensors[labelsName] = batch.PadToLength(labels, width, batch.IgnoreIndex)
}

func ones(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

func joinText(text, eos string) string {
	if text == "" {
		return eos
	}
	return text + " " + eos
}

//Personal.AI order the ending
