// internal/platform/training/trainer/metrics.go
package trainer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/emirpasic/gods/maps/treemap"
)

// Accumulator 一个日志区间内的指标观测，键到标量序列
type Accumulator struct {
	values map[string][]float64
}

// NewAccumulator 创建空的累加器
func NewAccumulator() *Accumulator {
	return &Accumulator{values: make(map[string][]float64)}
}

// Extend 追加一批指标
func (a *Accumulator) Extend(metrics map[string][]float64) {
	for k, v := range metrics {
		a.values[k] = append(a.values[k], v...)
	}
}

// Append 追加单个观测
func (a *Accumulator) Append(key string, v float64) {
	a.values[key] = append(a.values[key], v)
}

// Len 键的数量
func (a *Accumulator) Len() int { return len(a.values) }

// Means 每个键的均值，没有观测的键不出现
func (a *Accumulator) Means() map[string]float64 {
	out := make(map[string]float64, len(a.values))
	for k, v := range a.values {
		if len(v) == 0 {
			continue
		}
		sum := 0.0
		for _, x := range v {
			sum += x
		}
		out[k] = sum / float64(len(v))
	}
	return out
}

// Reset 清空
func (a *Accumulator) Reset() {
	a.values = make(map[string][]float64)
}

// Sorted 按键排序的视图
func Sorted(metrics map[string]float64) *treemap.Map {
	m := treemap.NewWithStringComparator()
	for k, v := range metrics {
		m.Put(k, v)
	}
	return m
}

// FormatMetrics 按键排序输出，数值保留 5 位有效数字
func FormatMetrics(metrics map[string]float64) string {
	var sb strings.Builder
	sb.WriteByte('{')
	first := true
	Sorted(metrics).Each(func(key, value interface{}) {
		if !first {
			sb.WriteString(", ")
		}
		first = false
		fmt.Fprintf(&sb, "%s: %s", key, strconv.FormatFloat(value.(float64), 'g', 5, 64))
	})
	sb.WriteByte('}')
	return sb.String()
}

//Personal.AI order the ending
