// internal/platform/training/precision/dtype.go
package precision

import (
	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"

	"github.com/openeeap/haloalign/pkg/errors"
)

// DType 浮点宽度
type DType string

const (
	Float64  DType = "float64"
	Float32  DType = "float32"
	Float16  DType = "float16"
	BFloat16 DType = "bfloat16"
)

// Parse 解析浮点宽度名称，空字符串表示不做降精度
func Parse(name string) (DType, error) {
	switch DType(name) {
	case "":
		return Float64, nil
	case Float64, Float32, Float16, BFloat16:
		return DType(name), nil
	default:
		return "", errors.NewFromCodef(errors.ErrCfgUnknownDType, name)
	}
}

// Bits 每个元素的位数
func (d DType) Bits() int {
	switch d {
	case Float32:
		return 32
	case Float16, BFloat16:
		return 16
	default:
		return 64
	}
}

// Round 将数值舍入到该宽度可表示的最近值
func (d DType) Round(x float64) float64 {
	switch d {
	case Float32:
		return float64(float32(x))
	case Float16:
		return float64(float16.Fromfloat32(float32(x)).Float32())
	case BFloat16:
		return float64(bfloat16.DecodeFloat32(bfloat16.EncodeFloat32([]float32{float32(x)}))[0])
	default:
		return x
	}
}

// RoundSlice 原地舍入
func (d DType) RoundSlice(xs []float64) {
	switch d {
	case Float32, Float16:
		for i, x := range xs {
			xs[i] = d.Round(x)
		}
	case BFloat16:
		if len(xs) == 0 {
			return
		}
		f32 := make([]float32, len(xs))
		for i, x := range xs {
			f32[i] = float32(x)
		}
		for i, v := range bfloat16.DecodeFloat32(bfloat16.EncodeFloat32(f32)) {
			xs[i] = float64(v)
		}
	}
}

// Policy 混合精度策略：参数、梯度归约与通信缓冲统一使用同一宽度
type Policy struct {
	Param  DType
	Reduce DType
	Buffer DType
}

// UniformPolicy 三者使用同一宽度
func UniformPolicy(d DType) Policy {
	return Policy{Param: d, Reduce: d, Buffer: d}
}

// Enabled 是否降精度
func (p Policy) Enabled() bool {
	return p.Param != Float64 || p.Reduce != Float64 || p.Buffer != Float64
}

//Personal.AI order the ending
