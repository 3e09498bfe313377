package trainer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccumulator(t *testing.T) {
	acc := NewAccumulator()
	acc.Extend(map[string][]float64{"loss/train": {1, 2}, "rewards_train/chosen": {}})
	acc.Extend(map[string][]float64{"loss/train": {3}})
	acc.Append("grad_norm", 4)

	assert.Equal(t, 3, acc.Len())
	means := acc.Means()
	assert.Equal(t, map[string]float64{"loss/train": 2, "grad_norm": 4}, means)

	acc.Reset()
	assert.Equal(t, 0, acc.Len())
	assert.Empty(t, acc.Means())
}

func TestFormatMetrics(t *testing.T) {
	assert.Equal(t, "{}", FormatMetrics(nil))
	assert.Equal(t, "{a: 2, b: 0.33333, c/d: 1.2346e+06}", FormatMetrics(map[string]float64{
		"c/d": 1234567,
		"b":   1.0 / 3,
		"a":   2,
	}))

	keys := Sorted(map[string]float64{"z": 1, "m": 2, "a": 3}).Keys()
	assert.Equal(t, []interface{}{"a", "m", "z"}, keys)
}
