// internal/platform/training/dist/communicator.go
package dist

import (
	"context"
)

// 集合操作名称，用于跨 rank 校验调用顺序
const (
	OpAllGather    = "all_gather"
	OpAllReduceSum = "all_reduce_sum"
	OpBarrier      = "barrier"
)

// Communicator 进程组接口
// 每个 rank 必须以相同顺序调用每个集合操作，即使本地贡献为空
type Communicator interface {
	// Rank 当前进程的 rank
	Rank() int

	// WorldSize 进程组大小
	WorldSize() int

	// AllGather 收集每个 rank 的贡献，按 rank 顺序返回；贡献长度可以不同，包括 0
	AllGather(ctx context.Context, local []float64) ([][]float64, error)

	// AllReduceSum 逐元素求和，所有 rank 的长度必须一致
	AllReduceSum(ctx context.Context, values []float64) ([]float64, error)

	// Barrier 等待所有 rank 到达
	Barrier(ctx context.Context) error

	// Close 释放进程组资源
	Close() error
}

// IsCoordinator 判断是否为协调进程（rank 0）
func IsCoordinator(c Communicator) bool {
	return c.Rank() == 0
}

// Concat 按 rank 顺序拼接 AllGather 的结果
func Concat(parts [][]float64) []float64 {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]float64, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// ============================================================================
// 单进程实现
// ============================================================================

// single 大小为 1 的进程组，所有操作都不通信
type single struct{}

// NewSingle 创建单进程进程组
func NewSingle() Communicator {
	return single{}
}

func (single) Rank() int      { return 0 }
func (single) WorldSize() int { return 1 }
func (single) Close() error   { return nil }

func (single) AllGather(ctx context.Context, local []float64) ([][]float64, error) {
	return [][]float64{append([]float64(nil), local...)}, nil
}

func (single) AllReduceSum(ctx context.Context, values []float64) ([]float64, error) {
	return append([]float64(nil), values...), nil
}

func (single) Barrier(ctx context.Context) error {
	return ctx.Err()
}

//Personal.AI order the ending
