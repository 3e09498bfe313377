// internal/platform/training/optim/optimizer.go
package optim

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/openeeap/haloalign/internal/platform/training/model"
	"github.com/openeeap/haloalign/pkg/errors"
)

// 优化器名称
const (
	NameSGD     = "SGD"
	NameAdam    = "Adam"
	NameAdamW   = "AdamW"
	NameRMSprop = "RMSprop"
)

// Optimizer 绑定到（分片后）参数的优化器
type Optimizer interface {
	// Name 优化器名称
	Name() string

	// Step 用当前梯度更新参数
	Step()

	// ZeroGrad 清零梯度
	ZeroGrad()

	// LR 当前学习率
	LR() float64

	// SetLR 设置学习率
	SetLR(lr float64)

	// Params 绑定的参数
	Params() []*model.Parameter

	// StateDict 导出状态
	StateDict() *State

	// LoadStateDict 恢复状态
	LoadStateDict(st *State) error
}

// State 优化器状态，Slots 为 槽名 -> 参数名 -> 值
type State struct {
	Name  string                          `cbor:"name" json:"name"`
	Step  int                             `cbor:"step" json:"step"`
	LR    float64                         `cbor:"lr" json:"lr"`
	Slots map[string]map[string][]float64 `cbor:"slots" json:"slots"`
}

// Hyper 超参数，零值取各优化器的默认值
type Hyper struct {
	Beta1       float64
	Beta2       float64
	Alpha       float64
	Eps         float64
	WeightDecay float64
}

// New 按名称创建优化器
func New(name string, params []*model.Parameter, lr float64) (Optimizer, error) {
	return NewWithHyper(name, params, lr, Hyper{})
}

// NewWithHyper 按名称与超参数创建优化器
func NewWithHyper(name string, params []*model.Parameter, lr float64, h Hyper) (Optimizer, error) {
	base := newBase(name, params, lr)
	switch name {
	case NameSGD:
		return &sgd{base: base}, nil
	case NameAdam, NameAdamW:
		h.Beta1 = orDefault(h.Beta1, 0.9)
		h.Beta2 = orDefault(h.Beta2, 0.999)
		h.Eps = orDefault(h.Eps, 1e-8)
		if name == NameAdamW {
			h.WeightDecay = orDefault(h.WeightDecay, 0.01)
		}
		o := &adam{base: base, hyper: h, decoupled: name == NameAdamW}
		o.slot("exp_avg")
		o.slot("exp_avg_sq")
		return o, nil
	case NameRMSprop:
		h.Alpha = orDefault(h.Alpha, 0.99)
		h.Eps = orDefault(h.Eps, 1e-8)
		o := &rmsprop{base: base, hyper: h}
		o.slot("square_avg")
		return o, nil
	default:
		return nil, errors.NewFromCodef(errors.ErrCfgUnknownOptimizer, name)
	}
}

func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

// ============================================================================
// 公共部分
// ============================================================================

type base struct {
	name   string
	params []*model.Parameter
	lr     float64
	step   int
	slots  map[string]map[string][]float64
}

func newBase(name string, params []*model.Parameter, lr float64) base {
	return base{name: name, params: params, lr: lr, slots: make(map[string]map[string][]float64)}
}

func (b *base) Name() string               { return b.name }
func (b *base) LR() float64                { return b.lr }
func (b *base) SetLR(lr float64)           { b.lr = lr }
func (b *base) Params() []*model.Parameter { return b.params }
func (b *base) ZeroGrad()                  { model.ZeroGrads(b.params) }

func (b *base) state(slot, param string) []float64 { return b.slots[slot][param] }

func (b *base) slot(name string) {
	s := make(map[string][]float64, len(b.params))
	for _, p := range b.params {
		s[p.Name] = make([]float64, p.Size())
	}
	b.slots[name] = s
}

// StateDict 导出状态副本
func (b *base) StateDict() *State {
	st := &State{Name: b.name, Step: b.step, LR: b.lr, Slots: make(map[string]map[string][]float64, len(b.slots))}
	for slot, values := range b.slots {
		cp := make(map[string][]float64, len(values))
		for name, v := range values {
			cp[name] = append([]float64(nil), v...)
		}
		st.Slots[slot] = cp
	}
	return st
}

// LoadStateDict 恢复状态，槽与参数形状需一致
func (b *base) LoadStateDict(st *State) error {
	if st.Name != b.name {
		return errors.ConfigurationError("optimizer state for %q cannot be loaded into %q", st.Name, b.name)
	}
	for slot, values := range b.slots {
		src, ok := st.Slots[slot]
		if !ok {
			return errors.NewFromCodef(errors.ErrCkptStateMismatch, slot)
		}
		for name, v := range values {
			if len(src[name]) != len(v) {
				return errors.NewFromCodef(errors.ErrCkptStateMismatch, slot+"."+name)
			}
		}
	}
	for slot, values := range b.slots {
		for name, v := range values {
			copy(v, st.Slots[slot][name])
		}
	}
	b.step = st.Step
	b.lr = st.LR
	return nil
}

// ============================================================================
// 优化器实现
// ============================================================================

type sgd struct {
	base
}

func (o *sgd) Step() {
	o.step++
	for _, p := range o.params {
		floats.AddScaled(p.Value, -o.lr, p.Grad)
	}
}

type adam struct {
	base
	hyper     Hyper
	decoupled bool
}

func (o *adam) Step() {
	o.step++
	h := o.hyper
	bc1 := 1 - math.Pow(h.Beta1, float64(o.step))
	bc2 := 1 - math.Pow(h.Beta2, float64(o.step))
	for _, p := range o.params {
		m := o.state("exp_avg", p.Name)
		v := o.state("exp_avg_sq", p.Name)
		if o.decoupled && h.WeightDecay != 0 {
			floats.Scale(1-o.lr*h.WeightDecay, p.Value)
		}
		for k, g := range p.Grad {
			if !o.decoupled && h.WeightDecay != 0 {
				g += h.WeightDecay * p.Value[k]
			}
			m[k] = h.Beta1*m[k] + (1-h.Beta1)*g
			v[k] = h.Beta2*v[k] + (1-h.Beta2)*g*g
			p.Value[k] -= o.lr * (m[k] / bc1) / (math.Sqrt(v[k]/bc2) + h.Eps)
		}
	}
}

type rmsprop struct {
	base
	hyper Hyper
}

func (o *rmsprop) Step() {
	o.step++
	h := o.hyper
	for _, p := range o.params {
		sq := o.state("square_avg", p.Name)
		for k, g := range p.Grad {
			if h.WeightDecay != 0 {
				g += h.WeightDecay * p.Value[k]
			}
			sq[k] = h.Alpha*sq[k] + (1-h.Alpha)*g*g
			p.Value[k] -= o.lr * g / (math.Sqrt(sq[k]) + h.Eps)
		}
	}
}

//Personal.AI order the ending
