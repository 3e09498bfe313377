// internal/platform/training/batch/transport.go
package batch

import (
	"context"

	"github.com/openeeap/haloalign/internal/platform/training/dist"
	"github.com/openeeap/haloalign/pkg/errors"
)

// ShardRange 第 rank 个分片的 [start, end) 范围
// 每个 rank 取 floor(n/world) 个样本，最后一个 rank 额外取余数
func ShardRange(n, rank, worldSize int) (start, end int) {
	chunk := n / worldSize
	start = rank * chunk
	end = start + chunk
	if rank == worldSize-1 {
		end = n
	}
	return start, end
}

// Shard 切出当前 rank 的微批次，结果是独立的深拷贝
func Shard(b *Batch, rank, worldSize int) (*Batch, error) {
	if worldSize < 1 || rank < 0 || rank >= worldSize {
		return nil, errors.NewFromCodef(errors.ErrDistInvalidRank, rank, worldSize)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	start, end := ShardRange(b.Len(), rank, worldSize)
	return b.Slice(start, end), nil
}

// Gather 按 rank 顺序拼接每个 rank 的局部结果
// 单进程时原样返回；局部结果可以为空
func Gather(ctx context.Context, comm dist.Communicator, local []float64) ([]float64, error) {
	if comm.WorldSize() == 1 {
		return local, nil
	}
	parts, err := comm.AllGather(ctx, local)
	if err != nil {
		return nil, err
	}
	return dist.Concat(parts), nil
}

// GatherRows 收集等宽的整数行，用于跨 rank 汇总生成的 token
func GatherRows(ctx context.Context, comm dist.Communicator, rows [][]int, width int) ([][]int, error) {
	flat := make([]float64, 0, len(rows)*width)
	for _, row := range rows {
		if len(row) != width {
			return nil, errors.ContractError("row of width %d cannot be gathered at width %d", len(row), width)
		}
		for _, v := range row {
			flat = append(flat, float64(v))
		}
	}
	all, err := Gather(ctx, comm, flat)
	if err != nil {
		return nil, err
	}
	if width == 0 {
		return nil, nil
	}
	out := make([][]int, 0, len(all)/width)
	for i := 0; i+width <= len(all); i += width {
		row := make([]int, width)
		for j := range row {
			row[j] = int(all[i+j])
		}
		out = append(out, row)
	}
	return out, nil
}

//Personal.AI order the ending
