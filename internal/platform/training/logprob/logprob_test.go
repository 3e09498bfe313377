package logprob

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openeeap/haloalign/internal/platform/training/model"
	"github.com/openeeap/haloalign/pkg/errors"
)

func TestBatchLogpsUniform(t *testing.T) {
	logits := model.NewLogits(2, 3, 4)
	labels := [][]int{
		{-100, 1, 2},
		{-100, -100, 3},
	}

	sum, err := BatchLogps(logits, labels, false)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{-2 * math.Log(4), -math.Log(4)}, sum, 1e-12)

	avg, err := BatchLogps(logits, labels, true)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{-math.Log(4), -math.Log(4)}, avg, 1e-12)
}

func TestBatchLogpsShiftsLabels(t *testing.T) {
	logits := model.NewLogits(1, 2, 2)
	// 位置 0 的分数预测位置 1 的标签
	copy(logits.Row(0, 0), []float64{0, math.Log(3)})
	copy(logits.Row(0, 1), []float64{100, -100})

	out, err := BatchLogps(logits, [][]int{{-100, 1}}, false)
	require.NoError(t, err)
	assert.InDelta(t, math.Log(0.75), out[0], 1e-12)
}

func TestBatchLogpsNoScoredTokens(t *testing.T) {
	logits := model.NewLogits(1, 3, 4)
	out, err := BatchLogps(logits, [][]int{{0, -100, -100}}, true)
	require.NoError(t, err)
	assert.Equal(t, []float64{0}, out)
}

func TestBatchLogpsShapeErrors(t *testing.T) {
	logits := model.NewLogits(2, 3, 4)

	_, err := BatchLogps(logits, [][]int{{-100, 1, 2}}, false)
	assert.True(t, errors.Is(err, errors.ErrShapeLogits.Code))

	_, err = BatchLogps(logits, [][]int{{-100, 1}, {-100, 1}}, false)
	assert.True(t, errors.Is(err, errors.ErrShapeLogits.Code))

	_, err = BatchLogps(logits, [][]int{{-100, 1, 9}, {-100, 1, 2}}, false)
	assert.True(t, errors.IsType(err, errors.ErrorTypeContract))
}

func TestBackwardMatchesFiniteDifferences(t *testing.T) {
	logits := model.NewLogits(2, 3, 3)
	for k := range logits.Data {
		logits.Data[k] = math.Sin(float64(k))
	}
	labels := [][]int{{-100, 2, 0}, {-100, -100, 1}}
	dLogps := []float64{0.7, -1.3}

	for _, average := range []bool{false, true} {
		grad, err := Backward(logits, labels, average, dLogps)
		require.NoError(t, err)

		objective := func() float64 {
			out, err := BatchLogps(logits, labels, average)
			require.NoError(t, err)
			return dLogps[0]*out[0] + dLogps[1]*out[1]
		}

		const eps = 1e-6
		for k := range logits.Data {
			orig := logits.Data[k]
			logits.Data[k] = orig + eps
			up := objective()
			logits.Data[k] = orig - eps
			down := objective()
			logits.Data[k] = orig
			assert.InDelta(t, (up-down)/(2*eps), grad.Data[k], 1e-6, "average=%v k=%d", average, k)
		}
	}

	_, err := Backward(logits, labels, false, []float64{1})
	assert.Error(t, err)
}
