package model

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openeeap/haloalign/pkg/errors"
)

func newTestModel(t *testing.T) *TinyLM {
	t.Helper()
	m, err := NewTinyLM(TinyConfig{VocabSize: 7, HiddenSize: 4, NumBlocks: 2, Seed: 3})
	require.NoError(t, err)
	return m
}

var (
	testIDs  = [][]int{{1, 2, 3, 0}, {4, 5, 0, 0}}
	testMask = [][]int{{1, 1, 1, 0}, {1, 1, 0, 0}}
)

// weightedSum 以固定权重 g 计算 sum(logits * g)
func weightedSum(l *Logits, g []float64) float64 {
	s := 0.0
	for k, v := range l.Data {
		s += v * g[k]
	}
	return s
}

func TestTinyLMGradientsMatchFiniteDifferences(t *testing.T) {
	ctx := context.Background()
	m := newTestModel(t)

	logits, err := m.Forward(ctx, testIDs, testMask)
	require.NoError(t, err)
	assert.Equal(t, 2, logits.Examples)
	assert.Equal(t, 4, logits.SeqLen)
	assert.Equal(t, 7, logits.Vocab)

	r := rand.New(rand.NewSource(11))
	g := make([]float64, len(logits.Data))
	for k := range g {
		g[k] = r.NormFloat64()
	}
	dl := NewLogits(2, 4, 7)
	copy(dl.Data, g)
	require.NoError(t, m.Backward(ctx, dl))

	m.SetTraining(false)
	const eps = 1e-6
	for _, p := range m.Parameters() {
		for _, k := range []int{0, p.Size() / 2, p.Size() - 1} {
			orig := p.Value[k]
			p.Value[k] = orig + eps
			up, err := m.Forward(ctx, testIDs, testMask)
			require.NoError(t, err)
			p.Value[k] = orig - eps
			down, err := m.Forward(ctx, testIDs, testMask)
			require.NoError(t, err)
			p.Value[k] = orig

			numeric := (weightedSum(up, g) - weightedSum(down, g)) / (2 * eps)
			assert.InDelta(t, numeric, p.Grad[k], 1e-5, "%s[%d]", p.Name, k)
		}
	}
}

func TestTinyLMActivationCheckpointing(t *testing.T) {
	ctx := context.Background()
	plain := newTestModel(t)
	recompute := newTestModel(t)
	require.NoError(t, recompute.EnableActivationCheckpointing(TinyBlockType))

	for _, m := range []*TinyLM{plain, recompute} {
		logits, err := m.Forward(ctx, testIDs, testMask)
		require.NoError(t, err)
		dl := NewLogits(logits.Examples, logits.SeqLen, logits.Vocab)
		for k := range dl.Data {
			dl.Data[k] = 0.01 * float64(k%5)
		}
		require.NoError(t, m.Backward(ctx, dl))
	}

	for i, p := range plain.Parameters() {
		assert.InDeltaSlice(t, p.Grad, recompute.Parameters()[i].Grad, 1e-12, p.Name)
	}

	err := recompute.EnableActivationCheckpointing("GPT2Block")
	assert.True(t, errors.Is(err, errors.ErrCfgBlockNotFound.Code))
}

func TestTinyLMHookOrder(t *testing.T) {
	ctx := context.Background()
	m := newTestModel(t)

	var calls []string
	record := func(prefix string) func(context.Context, Module) error {
		return func(_ context.Context, mod Module) error {
			calls = append(calls, prefix+":"+mod.Name())
			return nil
		}
	}
	m.SetHooks(&Hooks{
		PreForward:   record("pre"),
		PostForward:  record("post"),
		PreBackward:  record("prebw"),
		PostBackward: record("postbw"),
	})

	logits, err := m.Forward(ctx, testIDs, testMask)
	require.NoError(t, err)
	require.NoError(t, m.Backward(ctx, NewLogits(logits.Examples, logits.SeqLen, logits.Vocab)))

	assert.Equal(t, []string{
		"pre:embed", "post:embed",
		"pre:blocks.0", "post:blocks.0",
		"pre:blocks.1", "post:blocks.1",
		"pre:head", "post:head",
		"prebw:head", "postbw:head",
		"prebw:blocks.1", "postbw:blocks.1",
		"prebw:blocks.0", "postbw:blocks.0",
		"prebw:embed", "postbw:embed",
	}, calls)
}

func TestTinyLMEdgeInputs(t *testing.T) {
	ctx := context.Background()
	m := newTestModel(t)

	t.Run("Zero examples still run hooks", func(t *testing.T) {
		n := 0
		m.SetHooks(&Hooks{PreForward: func(context.Context, Module) error { n++; return nil }})
		defer m.SetHooks(nil)

		logits, err := m.Forward(ctx, [][]int{}, [][]int{})
		require.NoError(t, err)
		assert.Equal(t, 0, logits.Examples)
		assert.Empty(t, logits.Data)
		assert.Equal(t, len(m.Modules()), n)
		require.NoError(t, m.Backward(ctx, NewLogits(0, 0, 7)))
	})

	t.Run("Ragged rows", func(t *testing.T) {
		_, err := m.Forward(ctx, [][]int{{1, 2}, {1}}, [][]int{{1, 1}, {1}})
		assert.True(t, errors.IsType(err, errors.ErrorTypeContract))
	})

	t.Run("Token outside vocabulary", func(t *testing.T) {
		_, err := m.Forward(ctx, [][]int{{9}}, [][]int{{1}})
		assert.True(t, errors.IsType(err, errors.ErrorTypeContract))
	})

	t.Run("Backward without forward", func(t *testing.T) {
		m.SetTraining(false)
		defer m.SetTraining(true)
		assert.Error(t, m.Backward(ctx, NewLogits(0, 0, 7)))
	})
}

func TestTinyLMGenerate(t *testing.T) {
	ctx := context.Background()
	m := newTestModel(t)
	opts := func(seed int64) GenerateOptions {
		return GenerateOptions{MaxLength: 8, TopP: 0.9, PadTokenID: 0, EOSTokenID: 6, Rand: rand.New(rand.NewSource(seed))}
	}

	a, err := m.Generate(ctx, testIDs, testMask, opts(1))
	require.NoError(t, err)
	b, err := m.Generate(ctx, testIDs, testMask, opts(1))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	require.Len(t, a, 2)
	for i, seq := range a {
		assert.Len(t, seq, 8)
		for _, id := range seq {
			assert.GreaterOrEqual(t, id, 0)
			assert.Less(t, id, 7)
		}
		n := 0
		for _, v := range testMask[i] {
			n += v
		}
		assert.Equal(t, testIDs[i][:n], seq[:n], "prompt is kept")
	}
}

func TestSampleTopP(t *testing.T) {
	r := rand.New(rand.NewSource(0))
	logits := []float64{10, 0, 0, 0}
	for i := 0; i < 20; i++ {
		assert.Equal(t, 0, sampleTopP(logits, 0.5, r))
	}
}

func TestStateDict(t *testing.T) {
	src := newTestModel(t)
	dst, err := NewTinyLM(TinyConfig{VocabSize: 7, HiddenSize: 4, NumBlocks: 2, Seed: 99})
	require.NoError(t, err)

	sd := StateDictOf(src.Parameters())
	require.NoError(t, LoadStateDict(dst.Parameters(), sd))
	for i, p := range src.Parameters() {
		assert.Equal(t, p.Value, dst.Parameters()[i].Value)
	}

	sd["head.weight"].Rows = 1
	err = LoadStateDict(dst.Parameters(), sd)
	assert.True(t, errors.Is(err, errors.ErrCkptStateMismatch.Code))

	delete(sd, "embed.weight")
	assert.Error(t, LoadStateDict(dst.Parameters(), sd))
}

func TestGradHelpers(t *testing.T) {
	p := NewParameter("w", 1, 2)
	p.Grad[0], p.Grad[1] = 3, 4
	assert.Equal(t, 5.0, GradNorm([]*Parameter{p}))
	assert.Equal(t, 2, CountParameters([]*Parameter{p}))
	ZeroGrads([]*Parameter{p})
	assert.Equal(t, []float64{0, 0}, p.Grad)
	assert.Equal(t, 2, p.Matrix().RawMatrix().Cols)
}
