// internal/platform/training/model/tinylm.go
package model

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/openeeap/haloalign/pkg/errors"
)

// TinyBlockType TinyLM 重复块的类型名
const TinyBlockType = "TinyBlock"

// TinyConfig TinyLM 结构参数
type TinyConfig struct {
	VocabSize  int
	HiddenSize int
	NumBlocks  int
	ValueHead  bool
	Seed       int64
}

// TinyLM 残差 tanh 块堆叠的小型因果语言模型
// embed -> blocks.i (x + tanh(xW)) -> head，反向传播手写
type TinyLM struct {
	cfg TinyConfig

	embed     *Parameter
	blocks    []*Parameter
	head      *Parameter
	valueHead *Parameter

	modules []Module
	params  []*Parameter

	hooks         *Hooks
	training      bool
	recomputeType string
	cache         *forwardCache
}

type forwardCache struct {
	ids    [][]int
	mask   [][]int
	seqLen int
	// xs[l][i] 第 l 层输入，l == NumBlocks 时为 head 输入
	xs [][]*mat.Dense
	// hs[b][i] 块激活，开启激活重计算时为 nil
	hs [][]*mat.Dense
}

// NewTinyLM 按种子初始化 TinyLM
func NewTinyLM(cfg TinyConfig) (*TinyLM, error) {
	if cfg.VocabSize <= 0 || cfg.HiddenSize <= 0 || cfg.NumBlocks < 0 {
		return nil, errors.ConfigurationError("invalid tiny model shape: vocab=%d hidden=%d blocks=%d",
			cfg.VocabSize, cfg.HiddenSize, cfg.NumBlocks)
	}

	r := rand.New(rand.NewSource(cfg.Seed))
	h := cfg.HiddenSize
	m := &TinyLM{cfg: cfg, training: true}

	m.embed = NewParameter("embed.weight", cfg.VocabSize, h)
	fillNormal(r, m.embed.Value, 1.0)
	m.modules = append(m.modules, NewModule("embed", "Embedding", m.embed))

	for b := 0; b < cfg.NumBlocks; b++ {
		p := NewParameter(fmt.Sprintf("blocks.%d.weight", b), h, h)
		fillNormal(r, p.Value, 0.5/math.Sqrt(float64(h)))
		m.blocks = append(m.blocks, p)
		m.modules = append(m.modules, NewModule(fmt.Sprintf("blocks.%d", b), TinyBlockType, p))
	}

	m.head = NewParameter("head.weight", h, cfg.VocabSize)
	fillNormal(r, m.head.Value, 1/math.Sqrt(float64(h)))
	m.modules = append(m.modules, NewModule("head", "Linear", m.head))

	if cfg.ValueHead {
		m.valueHead = NewParameter("value_head.weight", h, 1)
		fillNormal(r, m.valueHead.Value, 1/math.Sqrt(float64(h)))
		m.modules = append(m.modules, NewModule("value_head", "ValueHead", m.valueHead))
	}

	for _, mod := range m.modules {
		m.params = append(m.params, mod.Parameters()...)
	}
	return m, nil
}

func fillNormal(r *rand.Rand, dst []float64, scale float64) {
	for i := range dst {
		dst[i] = r.NormFloat64() * scale
	}
}

// Config 结构参数
func (m *TinyLM) Config() TinyConfig { return m.cfg }

// Modules 按前向顺序列出子模块
func (m *TinyLM) Modules() []Module { return m.modules }

// Parameters 全部参数
func (m *TinyLM) Parameters() []*Parameter { return m.params }

// SetTraining 评估模式不保留反向缓存
func (m *TinyLM) SetTraining(training bool) {
	m.training = training
	if !training {
		m.cache = nil
	}
}

// SetHooks 设置模块钩子，nil 表示移除
func (m *TinyLM) SetHooks(h *Hooks) { m.hooks = h }

// EnableActivationCheckpointing 块激活不缓存，反向时重算
func (m *TinyLM) EnableActivationCheckpointing(typeName string) error {
	if typeName != TinyBlockType {
		return errors.NewFromCodef(errors.ErrCfgBlockNotFound, typeName)
	}
	m.recomputeType = typeName
	return nil
}

func (m *TinyLM) hook(pick func(*Hooks) func(context.Context, Module) error) func(context.Context, Module) error {
	if m.hooks == nil {
		return nil
	}
	return pick(m.hooks)
}

func (m *TinyLM) run(ctx context.Context, mod Module, pre, post func(context.Context, Module) error, body func()) error {
	if err := callHook(ctx, pre, mod); err != nil {
		return err
	}
	body()
	return callHook(ctx, post, mod)
}

// ============================================================================
// 前向
// ============================================================================

// Forward 计算 logits，位置 t 的分数用于预测 t+1 的 token
func (m *TinyLM) Forward(ctx context.Context, inputIDs, attentionMask [][]int) (*Logits, error) {
	seqLen, err := m.checkInputs(inputIDs, attentionMask)
	if err != nil {
		return nil, err
	}

	n := len(inputIDs)
	h, v := m.cfg.HiddenSize, m.cfg.VocabSize
	nb := len(m.blocks)
	pre := m.hook(func(h *Hooks) func(context.Context, Module) error { return h.PreForward })
	post := m.hook(func(h *Hooks) func(context.Context, Module) error { return h.PostForward })

	xs := make([][]*mat.Dense, nb+1)
	hs := make([][]*mat.Dense, nb)
	for l := range xs {
		xs[l] = make([]*mat.Dense, n)
	}
	for b := range hs {
		hs[b] = make([]*mat.Dense, n)
	}

	err = m.run(ctx, m.modules[0], pre, post, func() {
		for i := 0; i < n && seqLen > 0; i++ {
			x := mat.NewDense(seqLen, h, nil)
			for t, id := range inputIDs[i] {
				if attentionMask[i][t] != 0 {
					x.SetRow(t, m.embed.Value[id*h:(id+1)*h])
				}
			}
			xs[0][i] = x
		}
	})
	if err != nil {
		return nil, err
	}

	keep := m.training && m.recomputeType == ""
	for b := 0; b < nb; b++ {
		b := b
		err = m.run(ctx, m.modules[1+b], pre, post, func() {
			w := m.blocks[b].Matrix()
			for i := 0; i < n && seqLen > 0; i++ {
				act := blockActivation(xs[b][i], w)
				next := mat.NewDense(seqLen, h, nil)
				next.Add(xs[b][i], act)
				xs[b+1][i] = next
				if keep {
					hs[b][i] = act
				}
			}
		})
		if err != nil {
			return nil, err
		}
	}

	logits := NewLogits(n, seqLen, v)
	err = m.run(ctx, m.modules[1+nb], pre, post, func() {
		u := m.head.Matrix()
		for i := 0; i < n && seqLen > 0; i++ {
			out := mat.NewDense(seqLen, v, logits.Data[i*seqLen*v:(i+1)*seqLen*v])
			out.Mul(xs[nb][i], u)
		}
	})
	if err != nil {
		return nil, err
	}

	if m.training {
		m.cache = &forwardCache{ids: inputIDs, mask: attentionMask, seqLen: seqLen, xs: xs, hs: hs}
	}
	return logits, nil
}

func blockActivation(x, w *mat.Dense) *mat.Dense {
	var act mat.Dense
	act.Mul(x, w)
	act.Apply(func(_, _ int, a float64) float64 { return math.Tanh(a) }, &act)
	return &act
}

func (m *TinyLM) checkInputs(inputIDs, attentionMask [][]int) (int, error) {
	if len(inputIDs) != len(attentionMask) {
		return 0, errors.ContractError("input_ids has %d rows but attention_mask has %d", len(inputIDs), len(attentionMask))
	}
	seqLen := 0
	if len(inputIDs) > 0 {
		seqLen = len(inputIDs[0])
	}
	for i, row := range inputIDs {
		if len(row) != seqLen || len(attentionMask[i]) != seqLen {
			return 0, errors.ContractError("row %d has width %d/%d, expected %d", i, len(row), len(attentionMask[i]), seqLen)
		}
		for _, id := range row {
			if id < 0 || id >= m.cfg.VocabSize {
				return 0, errors.ContractError("token id %d outside vocabulary of size %d", id, m.cfg.VocabSize)
			}
		}
	}
	return seqLen, nil
}

// ============================================================================
// 反向
// ============================================================================

// Backward 将 dLogits 反向传播并累加到参数梯度，随后释放缓存
func (m *TinyLM) Backward(ctx context.Context, dLogits *Logits) error {
	c := m.cache
	if !m.training || c == nil {
		return errors.ContractError("backward called without a training forward pass")
	}
	n := len(c.ids)
	if dLogits.Examples != n || dLogits.SeqLen != c.seqLen || dLogits.Vocab != m.cfg.VocabSize {
		return errors.NewFromCodef(errors.ErrShapeLogits, dLogits.Examples, dLogits.SeqLen, n, c.seqLen)
	}
	m.cache = nil

	seqLen := c.seqLen
	h, v := m.cfg.HiddenSize, m.cfg.VocabSize
	nb := len(m.blocks)
	pre := m.hook(func(h *Hooks) func(context.Context, Module) error { return h.PreBackward })
	post := m.hook(func(h *Hooks) func(context.Context, Module) error { return h.PostBackward })

	dx := make([]*mat.Dense, n)
	err := m.run(ctx, m.modules[1+nb], pre, post, func() {
		u := m.head.Matrix()
		du := m.head.GradMatrix()
		for i := 0; i < n && seqLen > 0; i++ {
			dl := mat.NewDense(seqLen, v, dLogits.Data[i*seqLen*v:(i+1)*seqLen*v])
			var gu mat.Dense
			gu.Mul(c.xs[nb][i].T(), dl)
			du.Add(du, &gu)
			var d mat.Dense
			d.Mul(dl, u.T())
			dx[i] = &d
		}
	})
	if err != nil {
		return err
	}

	for b := nb - 1; b >= 0; b-- {
		b := b
		err = m.run(ctx, m.modules[1+b], pre, post, func() {
			w := m.blocks[b].Matrix()
			dw := m.blocks[b].GradMatrix()
			for i := 0; i < n && seqLen > 0; i++ {
				x := c.xs[b][i]
				act := c.hs[b][i]
				if act == nil {
					act = blockActivation(x, w)
				}
				var da mat.Dense
				da.Apply(func(r, col int, g float64) float64 {
					a := act.At(r, col)
					return g * (1 - a*a)
				}, dx[i])
				var gw mat.Dense
				gw.Mul(x.T(), &da)
				dw.Add(dw, &gw)
				var back mat.Dense
				back.Mul(&da, w.T())
				dx[i].Add(dx[i], &back)
			}
		})
		if err != nil {
			return err
		}
	}

	return m.run(ctx, m.modules[0], pre, post, func() {
		for i := 0; i < n && seqLen > 0; i++ {
			for t, id := range c.ids[i] {
				if c.mask[i][t] != 0 {
					floats.Add(m.embed.Grad[id*h:(id+1)*h], dx[i].RawRowView(t))
				}
			}
		}
	})
}

// ============================================================================
// 生成
// ============================================================================

// Generate 逐 token 采样直到 MaxLength 或 EOS，结果右侧补齐到 MaxLength
// 生成不触发模块钩子，调用方负责参数可用
func (m *TinyLM) Generate(ctx context.Context, inputIDs, attentionMask [][]int, opts GenerateOptions) ([][]int, error) {
	if _, err := m.checkInputs(inputIDs, attentionMask); err != nil {
		return nil, err
	}
	r := opts.Rand
	if r == nil {
		r = rand.New(rand.NewSource(m.cfg.Seed))
	}

	out := make([][]int, len(inputIDs))
	for i, row := range inputIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seq := make([]int, 0, opts.MaxLength)
		for t, id := range row {
			if attentionMask[i][t] != 0 {
				seq = append(seq, id)
			}
		}
		last := opts.PadTokenID
		if len(seq) > 0 {
			last = seq[len(seq)-1]
		}
		for len(seq) < opts.MaxLength {
			next := sampleTopP(m.nextTokenLogits(last), opts.TopP, r)
			seq = append(seq, next)
			if next == opts.EOSTokenID {
				break
			}
			last = next
		}
		for len(seq) < opts.MaxLength {
			seq = append(seq, opts.PadTokenID)
		}
		out[i] = seq
	}
	return out, nil
}

func (m *TinyLM) nextTokenLogits(token int) []float64 {
	h := m.cfg.HiddenSize
	x := mat.NewVecDense(h, append([]float64(nil), m.embed.Value[token*h:(token+1)*h]...))
	for _, p := range m.blocks {
		var a mat.VecDense
		a.MulVec(p.Matrix().T(), x)
		for k := 0; k < h; k++ {
			x.SetVec(k, x.AtVec(k)+math.Tanh(a.AtVec(k)))
		}
	}
	var logits mat.VecDense
	logits.MulVec(m.head.Matrix().T(), x)
	return logits.RawVector().Data
}

// sampleTopP 核采样：保留累计概率达到 topP 的最小前缀
func sampleTopP(logits []float64, topP float64, r *rand.Rand) int {
	probs := make([]float64, len(logits))
	maxLogit := floats.Max(logits)
	for k, l := range logits {
		probs[k] = math.Exp(l - maxLogit)
	}
	floats.Scale(1/floats.Sum(probs), probs)

	order := make([]int, len(probs))
	for k := range order {
		order[k] = k
	}
	sort.SliceStable(order, func(a, b int) bool { return probs[order[a]] > probs[order[b]] })

	if topP <= 0 || topP > 1 {
		topP = 1
	}
	cum := 0.0
	cut := len(order)
	for k, idx := range order {
		cum += probs[idx]
		if cum >= topP {
			cut = k + 1
			break
		}
	}

	u := r.Float64() * cum
	acc := 0.0
	for _, idx := range order[:cut] {
		acc += probs[idx]
		if u < acc {
			return idx
		}
	}
	return order[cut-1]
}

//Personal.AI order the ending
