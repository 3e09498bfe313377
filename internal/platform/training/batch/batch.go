// internal/platform/training/batch/batch.go
package batch

import (
	"sort"

	"github.com/openeeap/haloalign/pkg/errors"
)

// IgnoreIndex 标签中被忽略位置的哨兵值
const IgnoreIndex = -100

// 批次字段名
const (
	FieldTargetInputIDs      = "target_combined_input_ids"
	FieldTargetAttentionMask = "target_combined_attention_mask"
	FieldTargetLabels        = "target_labels"

	FieldKLInputIDs      = "KL_combined_input_ids"
	FieldKLAttentionMask = "KL_combined_attention_mask"
	FieldKLLabels        = "KL_labels"

	FieldPromptInputIDs      = "prompt_input_ids"
	FieldPromptAttentionMask = "prompt_attention_mask"

	FieldPromptText     = "prompt_text"
	FieldTargetText     = "target_text"
	FieldChosenText     = "chosen_text"
	FieldOriginalPrompt = "original_prompt"
)

// Status 无配对偏好样本的类别标签
type Status string

const (
	StatusChosen   Status = "chosen"
	StatusRejected Status = "rejected"
)

// Batch 一个全局批次或某个 rank 的微批次
// 所有字段共享同一个首维度（样本数）
type Batch struct {
	// Tensors 整数张量字段（token id、attention mask、标签）
	Tensors map[string][][]int

	// Texts 文本字段
	Texts map[string][]string

	// Status 每个样本的 chosen/rejected 标签，可为空
	Status []Status
}

// New 创建空批次
func New() *Batch {
	return &Batch{
		Tensors: make(map[string][][]int),
		Texts:   make(map[string][]string),
	}
}

// Len 样本数
func (b *Batch) Len() int {
	if b.Status != nil {
		return len(b.Status)
	}
	if names := b.tensorNames(); len(names) > 0 {
		return len(b.Tensors[names[0]])
	}
	if names := b.textNames(); len(names) > 0 {
		return len(b.Texts[names[0]])
	}
	return 0
}

// Validate 校验所有字段首维度一致、状态标签合法
func (b *Batch) Validate() error {
	n := b.Len()
	for _, name := range b.tensorNames() {
		if rows := len(b.Tensors[name]); rows != n {
			return errors.NewFromCodef(errors.ErrShapeLeadingDim, name, rows, n)
		}
	}
	for _, name := range b.textNames() {
		if rows := len(b.Texts[name]); rows != n {
			return errors.NewFromCodef(errors.ErrShapeLeadingDim, name, rows, n)
		}
	}
	for i, s := range b.Status {
		if s != StatusChosen && s != StatusRejected {
			return errors.NewFromCodef(errors.ErrShapeStatusValue, string(s), i)
		}
	}
	return nil
}

// Tensor 读取必需的张量字段
func (b *Batch) Tensor(name string) ([][]int, error) {
	t, ok := b.Tensors[name]
	if !ok {
		return nil, errors.NewFromCodef(errors.ErrShapeMissingField, name)
	}
	return t, nil
}

// Text 读取文本字段
func (b *Batch) Text(name string) ([]string, bool) {
	t, ok := b.Texts[name]
	return t, ok
}

// Require 校验必需字段存在
func (b *Batch) Require(names ...string) error {
	for _, name := range names {
		_, isTensor := b.Tensors[name]
		_, isText := b.Texts[name]
		if !isTensor && !isText {
			return errors.NewFromCodef(errors.ErrShapeMissingField, name)
		}
	}
	return nil
}

// Partition 按状态标签拆分样本下标，n 为 log-prob 数量
func (b *Batch) Partition(n int) (chosen, rejected []int, err error) {
	if b.Status == nil {
		return nil, nil, errors.NewFromCodef(errors.ErrShapeMissingField, "status")
	}
	if len(b.Status) != n {
		return nil, nil, errors.NewFromCodef(errors.ErrShapeStatusCount, len(b.Status), n)
	}
	chosen = make([]int, 0, n)
	rejected = make([]int, 0, n)
	for i, s := range b.Status {
		switch s {
		case StatusChosen:
			chosen = append(chosen, i)
		case StatusRejected:
			rejected = append(rejected, i)
		default:
			return nil, nil, errors.NewFromCodef(errors.ErrShapeStatusValue, string(s), i)
		}
	}
	return chosen, rejected, nil
}

// Slice 深拷贝 [start, end) 范围内的样本
func (b *Batch) Slice(start, end int) *Batch {
	out := New()
	for name, rows := range b.Tensors {
		part := make([][]int, 0, end-start)
		for _, row := range rows[start:end] {
			part = append(part, append([]int(nil), row...))
		}
		out.Tensors[name] = part
	}
	for name, rows := range b.Texts {
		out.Texts[name] = append([]string(nil), rows[start:end]...)
	}
	if b.Status != nil {
		out.Status = append(make([]Status, 0, end-start), b.Status[start:end]...)
	}
	return out
}

func (b *Batch) tensorNames() []string {
	names := make([]string, 0, len(b.Tensors))
	for name := range b.Tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (b *Batch) textNames() []string {
	names := make([]string, 0, len(b.Texts))
	for name := range b.Texts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ============================================================================
// 张量辅助函数
// ============================================================================

// SelectRows 按下标复制行
func SelectRows(values []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, j := range idx {
		out[i] = values[j]
	}
	return out
}

// PadToLength 将每行右侧填充到 length，超长的行保持不变
func PadToLength(rows [][]int, length, pad int) [][]int {
	out := make([][]int, len(rows))
	for i, row := range rows {
		padded := make([]int, 0, max(length, len(row)))
		padded = append(padded, row...)
		for len(padded) < length {
			padded = append(padded, pad)
		}
		out[i] = padded
	}
	return out
}

// ConcatRows 沿首维度拼接
func ConcatRows(a, b [][]int) [][]int {
	out := make([][]int, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

// MaxWidth 最长行的长度
func MaxWidth(groups ...[][]int) int {
	w := 0
	for _, rows := range groups {
		for _, row := range rows {
			w = max(w, len(row))
		}
	}
	return w
}

//Personal.AI order the ending
