package loss

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/openeeap/haloalign/internal/platform/training/batch"
	"github.com/openeeap/haloalign/internal/platform/training/dist"
	"github.com/openeeap/haloalign/internal/platform/training/model"
	"github.com/openeeap/haloalign/pkg/errors"
	"github.com/openeeap/haloalign/pkg/types"
)

func newTiny(t *testing.T, seed int64) *model.TinyLM {
	t.Helper()
	m, err := model.NewTinyLM(model.TinyConfig{VocabSize: 7, HiddenSize: 4, NumBlocks: 1, Seed: seed})
	require.NoError(t, err)
	return m
}

func makeBatch(status ...batch.Status) *batch.Batch {
	b := batch.New()
	for i := range status {
		a, c := 1+i%5, 1+(i+2)%6
		b.Tensors[batch.FieldTargetInputIDs] = append(b.Tensors[batch.FieldTargetInputIDs], []int{a, c, a, 0})
		b.Tensors[batch.FieldTargetAttentionMask] = append(b.Tensors[batch.FieldTargetAttentionMask], []int{1, 1, 1, 0})
		b.Tensors[batch.FieldTargetLabels] = append(b.Tensors[batch.FieldTargetLabels], []int{-100, c, a, -100})
		b.Tensors[batch.FieldKLInputIDs] = append(b.Tensors[batch.FieldKLInputIDs], []int{c, a, 2})
		b.Tensors[batch.FieldKLAttentionMask] = append(b.Tensors[batch.FieldKLAttentionMask], []int{1, 1, 1})
		b.Tensors[batch.FieldKLLabels] = append(b.Tensors[batch.FieldKLLabels], []int{-100, a, 2})
	}
	b.Status = status
	return b
}

var ktoFamily = []types.LossName{types.LossKTO, types.LossSimpleKTO, types.LossKTOZero}

func TestPolicyAtReferenceGivesHalf(t *testing.T) {
	ctx := context.Background()
	b := makeBatch(batch.StatusChosen, batch.StatusRejected, batch.StatusChosen, batch.StatusRejected)

	for _, name := range ktoFamily {
		t.Run(string(name), func(t *testing.T) {
			s, err := New(name, Options{Beta: 0.1, DesirableWeight: 1, UndesirableWeight: 1}, nil)
			require.NoError(t, err)

			policy, reference := newTiny(t, 1), newTiny(t, 1)
			reference.SetTraining(false)

			res, err := s.BatchMetrics(ctx, policy, reference, b, types.ModeTrain)
			require.NoError(t, err)

			assert.Equal(t, 0.5, res.Loss)
			assert.Equal(t, []float64{0.5, 0.5, 0.5, 0.5}, res.Metrics["loss/train"])
			assert.Equal(t, []float64{0, 0}, res.Metrics["rewards_train/chosen"])
			assert.Equal(t, []float64{0, 0}, res.Metrics["rewards_train/rejected"])
			assert.Equal(t, []float64{0}, res.Metrics["rewards_train/margins"])
			if name == types.LossKTO {
				assert.Equal(t, []float64{0}, res.Metrics["rewards_train/KL_estimate"])
			} else {
				assert.NotContains(t, res.Metrics, "rewards_train/KL_estimate")
			}
		})
	}
}

func TestKTOAllChosen(t *testing.T) {
	s, err := New(types.LossKTO, Options{Beta: 0.1, DesirableWeight: 2, UndesirableWeight: 1}, nil)
	require.NoError(t, err)

	res, err := s.Loss(context.Background(), &Inputs{
		PolicyChosen:      []float64{-1, -2},
		ReferenceChosen:   []float64{-1.5, -2},
		PolicyRejected:    []float64{},
		ReferenceRejected: []float64{},
		PolicyKL:          []float64{-1},
		ReferenceKL:       []float64{-1},
	})
	require.NoError(t, err)

	require.NotNil(t, res.RejectedRewards)
	assert.Len(t, res.RejectedRewards, 0)
	assert.Equal(t, []float64{2 * (1 - sigmoid(0.05)), 2 * 0.5}, res.Losses)
	assert.InDeltaSlice(t, []float64{0.05, 0}, res.ChosenRewards, 1e-12)
	assert.Equal(t, 0.0, res.KL)
}

func TestKLReduction(t *testing.T) {
	tests := []struct {
		name  string
		local [][]float64
		want  float64
	}{
		{"Mean across ranks", [][]float64{{0.3}, {0.5}}, 0.4},
		{"Negative clamps to zero", [][]float64{{-0.5}, {0.1}}, 0},
		{"Local means before the reduction", [][]float64{{0.2, 0.4}, {0.5}}, 0.4},
		// 空分区贡献 0，仍计入 world
		{"Empty rank still counts in the divisor", [][]float64{{}, {0.4}}, 0.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			group := dist.NewLocalGroup(len(tt.local))
			defer group.Close()

			got := make([]float64, len(tt.local))
			g, ctx := errgroup.WithContext(context.Background())
			for _, comm := range group.Communicators() {
				comm := comm
				g.Go(func() error {
					s, err := New(types.LossKTO, Options{Beta: 0.1}, comm)
					if err != nil {
						return err
					}
					local := tt.local[comm.Rank()]
					res, err := s.Loss(ctx, &Inputs{
						PolicyKL:    local,
						ReferenceKL: make([]float64, len(local)),
					})
					if err != nil {
						return err
					}
					got[comm.Rank()] = res.KL
					return nil
				})
			}
			require.NoError(t, g.Wait())
			for _, kl := range got {
				assert.InDelta(t, tt.want, kl, 1e-12)
			}
		})
	}
}

func TestMargin(t *testing.T) {
	assert.Equal(t, 2.0, Margin([]float64{1, 3}, nil))
	assert.Equal(t, -1.0, Margin(nil, []float64{1}))
	assert.Equal(t, 0.5, Margin([]float64{1}, []float64{0.5}))
}

func TestLossGradients(t *testing.T) {
	in := &Inputs{
		PolicyChosen:      []float64{-1.0, -2.5, -0.3},
		ReferenceChosen:   []float64{-3.0, -1.0, -0.9},
		PolicyRejected:    []float64{-4.0, -0.5},
		ReferenceRejected: []float64{-1.0, -2.0},
		PolicyKL:          []float64{-1.0, -2.0},
		ReferenceKL:       []float64{-1.5, -2.2},
	}
	names := append([]types.LossName{types.LossSFT}, ktoFamily...)

	for _, name := range names {
		t.Run(string(name), func(t *testing.T) {
			s, err := New(name, Options{Beta: 0.7, DesirableWeight: 1.5, UndesirableWeight: 0.5}, nil)
			require.NoError(t, err)
			res, err := s.Loss(context.Background(), in)
			require.NoError(t, err)

			total := func() float64 {
				r, err := s.Loss(context.Background(), in)
				require.NoError(t, err)
				return sum(r.Losses)
			}
			check := func(values, grads []float64, what string) {
				const eps = 1e-6
				for i := range values {
					orig := values[i]
					values[i] = orig + eps
					up := total()
					values[i] = orig - eps
					down := total()
					values[i] = orig
					g := 0.0
					if grads != nil {
						g = grads[i]
					}
					assert.InDelta(t, (up-down)/(2*eps), g, 1e-6, "%s[%d]", what, i)
				}
			}
			check(in.PolicyChosen, res.GradChosen, "chosen")
			if name != types.LossSFT {
				check(in.PolicyRejected, res.GradRejected, "rejected")
			}
			if name == types.LossKTO {
				// KL 不参与梯度
				assert.Equal(t, []float64{0, 0}, res.GradKL)
			}
		})
	}
}

func TestSimpleKTOEmptyPartition(t *testing.T) {
	s, err := New(types.LossSimpleKTO, Options{Beta: 0.1}, nil)
	require.NoError(t, err)

	res, err := s.Loss(context.Background(), &Inputs{
		PolicyChosen:    []float64{-1},
		ReferenceChosen: []float64{-2},
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{1 - sigmoid(0.1)}, res.Losses)
	assert.Empty(t, res.RejectedRewards)
}

func TestSFT(t *testing.T) {
	ctx := context.Background()
	s, err := New(types.LossSFT, Options{}, nil)
	require.NoError(t, err)
	assert.False(t, s.NeedsReference())

	b := makeBatch(batch.StatusChosen, batch.StatusChosen)
	b.Status = nil
	res, err := s.BatchMetrics(ctx, newTiny(t, 2), nil, b, types.ModeEval)
	require.NoError(t, err)

	logps := res.Metrics["logps_eval/chosen"]
	require.Len(t, logps, 2)
	assert.Equal(t, []float64{-logps[0], -logps[1]}, res.Metrics["loss/eval"])
	assert.InDelta(t, -(logps[0]+logps[1])/2, res.Loss, 1e-12)
}

func TestBatchMetricsErrors(t *testing.T) {
	ctx := context.Background()

	_, err := New("dpo", Options{}, nil)
	assert.True(t, errors.Is(err, errors.ErrCfgUnknownLoss.Code))

	s, err := New(types.LossKTO, Options{Beta: 0.1}, nil)
	require.NoError(t, err)
	_, err = s.BatchMetrics(ctx, newTiny(t, 1), nil, makeBatch(batch.StatusChosen), types.ModeTrain)
	assert.True(t, errors.Is(err, errors.ErrCfgMissingReference.Code))

	b := makeBatch(batch.StatusChosen)
	delete(b.Tensors, batch.FieldKLLabels)
	_, err = s.BatchMetrics(ctx, newTiny(t, 1), newTiny(t, 1), b, types.ModeTrain)
	assert.True(t, errors.Is(err, errors.ErrShapeMissingField.Code))

	b = makeBatch(batch.StatusChosen, batch.StatusRejected)
	b.Status = b.Status[:1]
	_, err = s.BatchMetrics(ctx, newTiny(t, 1), newTiny(t, 1), b, types.ModeTrain)
	assert.True(t, errors.Is(err, errors.ErrShapeStatusCount.Code))
}

func TestBatchResultBackward(t *testing.T) {
	ctx := context.Background()
	b := makeBatch(batch.StatusChosen, batch.StatusRejected, batch.StatusChosen)

	// KTO 的 KL 项不参与梯度，数值差分会包含它，因此单独检查
	for _, name := range []types.LossName{types.LossSFT, types.LossSimpleKTO, types.LossKTOZero} {
		t.Run(string(name), func(t *testing.T) {
			s, err := New(name, Options{Beta: 0.5}, nil)
			require.NoError(t, err)
			policy, reference := newTiny(t, 1), newTiny(t, 4)
			reference.SetTraining(false)

			res, err := s.BatchMetrics(ctx, policy, reference, b, types.ModeTrain)
			require.NoError(t, err)
			require.NoError(t, res.Backward(ctx, 0.5))

			policy.SetTraining(false)
			p := policy.Parameters()[1]
			meanLoss := func() float64 {
				r, err := s.BatchMetrics(ctx, policy, reference, b, types.ModeTrain)
				require.NoError(t, err)
				return r.Loss
			}
			const eps = 1e-6
			for _, k := range []int{0, 5, 11} {
				orig := p.Value[k]
				p.Value[k] = orig + eps
				up := meanLoss()
				p.Value[k] = orig - eps
				down := meanLoss()
				p.Value[k] = orig
				assert.InDelta(t, 0.5*(up-down)/(2*eps), p.Grad[k], 1e-6, "%s[%d]", p.Name, k)
			}
		})
	}
}

func TestKTOBackwardSkipsKLRows(t *testing.T) {
	ctx := context.Background()
	s, err := New(types.LossKTO, Options{Beta: 0.5}, nil)
	require.NoError(t, err)
	policy, reference := newTiny(t, 1), newTiny(t, 4)
	reference.SetTraining(false)

	res, err := s.BatchMetrics(ctx, policy, reference, makeBatch(batch.StatusChosen, batch.StatusRejected), types.ModeTrain)
	require.NoError(t, err)
	require.NoError(t, res.Backward(ctx, 1))
	assert.Greater(t, model.GradNorm(policy.Parameters()), 0.0)

	// 本地无样本时仍执行一次反向
	empty, err := s.BatchMetrics(ctx, policy, reference, makeBatch(batch.StatusChosen).Slice(0, 0), types.ModeTrain)
	require.NoError(t, err)
	assert.Equal(t, 0.0, empty.Loss)
	assert.NoError(t, empty.Backward(ctx, 1))
}

func TestUnpairedMetricsGatherInRankOrder(t *testing.T) {
	global := makeBatch(batch.StatusChosen, batch.StatusChosen, batch.StatusRejected, batch.StatusRejected)
	group := dist.NewLocalGroup(2)
	defer group.Close()

	results := make([]*BatchResult, 2)
	g, ctx := errgroup.WithContext(context.Background())
	for _, comm := range group.Communicators() {
		comm := comm
		g.Go(func() error {
			local, err := batch.Shard(global, comm.Rank(), 2)
			if err != nil {
				return err
			}
			s, err := New(types.LossKTO, Options{Beta: 0.1}, comm)
			if err != nil {
				return err
			}
			reference := newTiny(t, 9)
			reference.SetTraining(false)
			res, err := s.BatchMetrics(ctx, newTiny(t, 1), reference, local, types.ModeEval)
			results[comm.Rank()] = res
			return err
		})
	}
	require.NoError(t, g.Wait())

	for _, res := range results {
		assert.Len(t, res.Metrics["rewards_eval/chosen"], 2)
		assert.Len(t, res.Metrics["rewards_eval/rejected"], 2)
		assert.Len(t, res.Metrics["loss/eval"], 4)
		kl := res.Metrics["rewards_eval/KL_estimate"]
		require.Len(t, kl, 2)
		assert.Equal(t, kl[0], kl[1])
		assert.False(t, math.IsNaN(res.Metrics["rewards_eval/margins"][0]))
	}
	assert.Equal(t, results[0].Metrics, results[1].Metrics)
}
