// internal/platform/training/model/tensor.go
package model

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/openeeap/haloalign/pkg/errors"
)

// Parameter 可训练参数，Value 与 Grad 为行优先的扁平存储
type Parameter struct {
	Name  string
	Rows  int
	Cols  int
	Value []float64
	Grad  []float64
}

// NewParameter 创建全零参数
func NewParameter(name string, rows, cols int) *Parameter {
	return &Parameter{
		Name:  name,
		Rows:  rows,
		Cols:  cols,
		Value: make([]float64, rows*cols),
		Grad:  make([]float64, rows*cols),
	}
}

// Size 元素个数
func (p *Parameter) Size() int {
	return len(p.Value)
}

// Matrix 共享存储的矩阵视图
func (p *Parameter) Matrix() *mat.Dense {
	return mat.NewDense(p.Rows, p.Cols, p.Value)
}

// GradMatrix 共享存储的梯度矩阵视图
func (p *Parameter) GradMatrix() *mat.Dense {
	return mat.NewDense(p.Rows, p.Cols, p.Grad)
}

// ZeroGrad 清零梯度
func (p *Parameter) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// ZeroGrads 清零一组参数的梯度
func ZeroGrads(params []*Parameter) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// CountParameters 参数元素总数
func CountParameters(params []*Parameter) int {
	n := 0
	for _, p := range params {
		n += p.Size()
	}
	return n
}

// GradNorm 梯度的 L2 范数
func GradNorm(params []*Parameter) float64 {
	sq := 0.0
	for _, p := range params {
		sq += floats.Dot(p.Grad, p.Grad)
	}
	return math.Sqrt(sq)
}

// ============================================================================
// 状态字典
// ============================================================================

// Tensor 序列化的参数
type Tensor struct {
	Rows int       `cbor:"rows" json:"rows"`
	Cols int       `cbor:"cols" json:"cols"`
	Data []float64 `cbor:"data" json:"data"`
}

// StateDict 参数名到参数的映射
type StateDict map[string]*Tensor

// StateDictOf 复制参数当前值
func StateDictOf(params []*Parameter) StateDict {
	sd := make(StateDict, len(params))
	for _, p := range params {
		sd[p.Name] = &Tensor{Rows: p.Rows, Cols: p.Cols, Data: append([]float64(nil), p.Value...)}
	}
	return sd
}

// LoadStateDict 将状态写回参数，缺失或形状不符的条目返回错误
func LoadStateDict(params []*Parameter, sd StateDict) error {
	for _, p := range params {
		t, ok := sd[p.Name]
		if !ok || t.Rows != p.Rows || t.Cols != p.Cols || len(t.Data) != len(p.Value) {
			return errors.NewFromCodef(errors.ErrCkptStateMismatch, p.Name)
		}
	}
	for _, p := range params {
		copy(p.Value, sd[p.Name].Data)
	}
	return nil
}

// ============================================================================
// Logits
// ============================================================================

// Logits 样本 × 序列 × 词表 的输出分数，行优先
type Logits struct {
	Examples int
	SeqLen   int
	Vocab    int
	Data     []float64
}

// NewLogits 创建全零 logits
func NewLogits(examples, seqLen, vocab int) *Logits {
	return &Logits{
		Examples: examples,
		SeqLen:   seqLen,
		Vocab:    vocab,
		Data:     make([]float64, examples*seqLen*vocab),
	}
}

// Row 第 i 个样本第 t 个位置的分数，共享存储
func (l *Logits) Row(i, t int) []float64 {
	off := (i*l.SeqLen + t) * l.Vocab
	return l.Data[off : off+l.Vocab]
}

// SameShape 形状是否一致
func (l *Logits) SameShape(o *Logits) bool {
	return l.Examples == o.Examples && l.SeqLen == o.SeqLen && l.Vocab == o.Vocab
}

//Personal.AI order the ending
