// internal/platform/training/sharding/sharded_model.go
package sharding

import (
	"context"

	"github.com/openeeap/haloalign/internal/platform/training/batch"
	"github.com/openeeap/haloalign/internal/platform/training/dist"
	"github.com/openeeap/haloalign/internal/platform/training/model"
	"github.com/openeeap/haloalign/internal/platform/training/precision"
	"github.com/openeeap/haloalign/pkg/errors"
)

// unit 一个独立分片单元：每个参数按元素切分，本进程只持有自己的切片
type unit struct {
	name   string
	full   []*model.Parameter
	shards []*model.Parameter
	// ranges[j][r] 第 j 个参数在 r 号进程上的 [start, end)
	ranges [][][2]int
	rank   int
	world  int
}

func newUnit(name string, params []*model.Parameter, rank, world int) *unit {
	u := &unit{name: name, full: params, rank: rank, world: world}
	for _, p := range params {
		rs := make([][2]int, world)
		for r := 0; r < world; r++ {
			start, end := batch.ShardRange(p.Size(), r, world)
			rs[r] = [2]int{start, end}
		}
		own := rs[rank]
		u.ranges = append(u.ranges, rs)
		u.shards = append(u.shards, &model.Parameter{
			Name:  p.Name,
			Rows:  1,
			Cols:  own[1] - own[0],
			Value: append([]float64(nil), p.Value[own[0]:own[1]]...),
			Grad:  make([]float64, own[1]-own[0]),
		})
	}
	return u
}

func (u *unit) empty() bool { return len(u.full) == 0 }

// assemble 按进程顺序拼回各参数的完整向量
func (u *unit) assemble(parts [][]float64, dst func(j int) []float64) {
	for r, part := range parts {
		off := 0
		for j := range u.full {
			rg := u.ranges[j][r]
			n := rg[1] - rg[0]
			copy(dst(j)[rg[0]:rg[1]], part[off:off+n])
			off += n
		}
	}
}

// ShardedModel 全参数分片后的模型
type ShardedModel struct {
	inner    model.LanguageModel
	comm     dist.Communicator
	policy   precision.Policy
	units    []*unit
	byModule map[string]*unit
	root     *unit
	shards   []*model.Parameter
}

var _ FullStateModel = (*ShardedModel)(nil)

func (m *ShardedModel) unitFor(mod model.Module) *unit {
	return m.byModule[mod.Name()]
}

func (m *ShardedModel) hooks() *model.Hooks {
	materialize := func(ctx context.Context, mod model.Module) error {
		if u := m.unitFor(mod); u != nil {
			return m.materialize(ctx, u)
		}
		return nil
	}
	return &model.Hooks{
		PreForward: materialize,
		PostForward: func(_ context.Context, mod model.Module) error {
			if u := m.unitFor(mod); u != nil {
				m.release(u)
			}
			return nil
		},
		PreBackward: materialize,
		PostBackward: func(ctx context.Context, mod model.Module) error {
			if u := m.unitFor(mod); u != nil {
				return m.reduceGrads(ctx, u)
			}
			return nil
		},
	}
}

// materialize all-gather 切片还原完整参数，按参数精度取整
func (m *ShardedModel) materialize(ctx context.Context, u *unit) error {
	if u.empty() {
		return nil
	}
	local := make([]float64, 0, model.CountParameters(u.shards))
	for _, s := range u.shards {
		local = append(local, s.Value...)
	}
	m.policy.Buffer.RoundSlice(local)

	parts, err := m.comm.AllGather(ctx, local)
	if err != nil {
		return err
	}
	for _, p := range u.full {
		p.Value = make([]float64, p.Rows*p.Cols)
		p.Grad = make([]float64, p.Rows*p.Cols)
	}
	u.assemble(parts, func(j int) []float64 { return u.full[j].Value })
	for _, p := range u.full {
		m.policy.Param.RoundSlice(p.Value)
	}
	return nil
}

// release 丢弃完整参数与梯度
func (m *ShardedModel) release(u *unit) {
	for _, p := range u.full {
		p.Value = nil
		p.Grad = nil
	}
}

// reduceGrads 梯度求和归约后除以进程数，只累加本进程持有的切片
func (m *ShardedModel) reduceGrads(ctx context.Context, u *unit) error {
	if u.empty() {
		return nil
	}
	local := make([]float64, 0, len(u.full))
	for _, p := range u.full {
		local = append(local, p.Grad...)
	}
	m.policy.Reduce.RoundSlice(local)

	summed, err := m.comm.AllReduceSum(ctx, local)
	if err != nil {
		return err
	}
	world := float64(m.comm.WorldSize())
	off := 0
	for j, p := range u.full {
		own := u.ranges[j][u.rank]
		shard := u.shards[j]
		for k := own[0]; k < own[1]; k++ {
			shard.Grad[k-own[0]] += summed[off+k] / world
		}
		off += p.Size()
	}
	m.release(u)
	return nil
}

func (m *ShardedModel) releaseAll() {
	for _, u := range m.units {
		m.release(u)
	}
}

// Forward 顶层参数在整个前向期间保持完整
func (m *ShardedModel) Forward(ctx context.Context, inputIDs, attentionMask [][]int) (*model.Logits, error) {
	if err := m.materialize(ctx, m.root); err != nil {
		return nil, err
	}
	defer m.release(m.root)
	return m.inner.Forward(ctx, inputIDs, attentionMask)
}

// Backward 各单元梯度在其反向结束时归约
func (m *ShardedModel) Backward(ctx context.Context, dLogits *model.Logits) error {
	if err := m.materialize(ctx, m.root); err != nil {
		return err
	}
	if err := m.inner.Backward(ctx, dLogits); err != nil {
		m.release(m.root)
		return err
	}
	return m.reduceGrads(ctx, m.root)
}

// Generate 生成期间所有单元保持完整
func (m *ShardedModel) Generate(ctx context.Context, inputIDs, attentionMask [][]int, opts model.GenerateOptions) ([][]int, error) {
	defer m.releaseAll()
	for _, u := range m.units {
		if err := m.materialize(ctx, u); err != nil {
			return nil, err
		}
	}
	return m.inner.Generate(ctx, inputIDs, attentionMask, opts)
}

// Modules 内部模型的模块
func (m *ShardedModel) Modules() []model.Module { return m.inner.Modules() }

// Parameters 本进程持有的分片
func (m *ShardedModel) Parameters() []*model.Parameter { return m.shards }

// SetTraining 切换内部模型模式
func (m *ShardedModel) SetTraining(training bool) { m.inner.SetTraining(training) }

// ============================================================================
// 完整状态
// ============================================================================

// GatherFull 按单元顺序汇集，每个单元一次 all-gather
func (m *ShardedModel) GatherFull(ctx context.Context, local map[string][]float64) (map[string][]float64, error) {
	var out map[string][]float64
	if m.comm.Rank() == 0 {
		out = make(map[string][]float64, len(m.shards))
	}
	for _, u := range m.units {
		if u.empty() {
			continue
		}
		buf := make([]float64, 0, model.CountParameters(u.shards))
		for _, s := range u.shards {
			v, ok := local[s.Name]
			if !ok || len(v) != len(s.Value) {
				return nil, errors.NewFromCodef(errors.ErrCkptStateMismatch, s.Name)
			}
			buf = append(buf, v...)
		}
		parts, err := m.comm.AllGather(ctx, buf)
		if err != nil {
			return nil, err
		}
		if out == nil {
			continue
		}
		full := make([][]float64, len(u.full))
		for j, p := range u.full {
			full[j] = make([]float64, p.Rows*p.Cols)
		}
		u.assemble(parts, func(j int) []float64 { return full[j] })
		for j, p := range u.full {
			out[p.Name] = full[j]
		}
	}
	return out, nil
}

// ScatterFull 取出本进程的切片
func (m *ShardedModel) ScatterFull(full map[string][]float64) (map[string][]float64, error) {
	out := make(map[string][]float64, len(m.shards))
	for _, u := range m.units {
		for j, p := range u.full {
			v, ok := full[p.Name]
			if !ok || len(v) != p.Rows*p.Cols {
				return nil, errors.NewFromCodef(errors.ErrCkptStateMismatch, p.Name)
			}
			own := u.ranges[j][u.rank]
			out[p.Name] = append([]float64(nil), v[own[0]:own[1]]...)
		}
	}
	return out, nil
}

// FullStateDict 汇集完整参数到 0 号进程
func (m *ShardedModel) FullStateDict(ctx context.Context) (model.StateDict, error) {
	local := make(map[string][]float64, len(m.shards))
	for _, s := range m.shards {
		local[s.Name] = s.Value
	}
	full, err := m.GatherFull(ctx, local)
	if err != nil || full == nil {
		return nil, err
	}

	sd := make(model.StateDict, len(full))
	for _, u := range m.units {
		for _, p := range u.full {
			sd[p.Name] = &model.Tensor{Rows: p.Rows, Cols: p.Cols, Data: full[p.Name]}
		}
	}
	return sd, nil
}

// LoadFullStateDict 每个进程从同一份完整状态取自己的切片
func (m *ShardedModel) LoadFullStateDict(sd model.StateDict) error {
	full := make(map[string][]float64, len(sd))
	for _, u := range m.units {
		for _, p := range u.full {
			t, ok := sd[p.Name]
			if !ok || t.Rows != p.Rows || t.Cols != p.Cols {
				return errors.NewFromCodef(errors.ErrCkptStateMismatch, p.Name)
			}
			full[p.Name] = t.Data
		}
	}
	local, err := m.ScatterFull(full)
	if err != nil {
		return err
	}
	for _, s := range m.shards {
		copy(s.Value, local[s.Name])
	}
	return nil
}

// UnitNames 分片单元名称，顶层单元排在最后
func (m *ShardedModel) UnitNames() []string {
	names := make([]string, 0, len(m.units))
	for _, u := range m.units {
		names = append(names, u.name)
	}
	return names
}

//Personal.AI order the ending
