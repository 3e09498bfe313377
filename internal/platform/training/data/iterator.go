// internal/platform/training/data/iterator.go
package data

import (
	"context"
	"io"
	"math/rand"

	"github.com/openeeap/haloalign/internal/platform/training/batch"
	"github.com/openeeap/haloalign/pkg/errors"
)

// Iterator 批次迭代器，耗尽时返回 io.EOF
type Iterator interface {
	Next(ctx context.Context) (*batch.Batch, error)
}

// IteratorConfig 样本迭代配置
type IteratorConfig struct {
	BatchSize   int   // 全局批次大小
	Epochs      int   // 轮数，0 视为 1
	MaxExamples int   // 最多产出的样本数，0 表示不限
	Shuffle     bool  // 每轮打乱
	Seed        int64 // 打乱种子
}

// exampleIterator 在内存样本上按轮次产出批次，最后一个批次可以不满
type exampleIterator struct {
	examples []Example
	collator *Collator
	cfg      IteratorConfig
	rng      *rand.Rand

	epoch    int
	pos      int
	order    []int
	produced int
}

// NewExampleIterator 创建样本迭代器
func NewExampleIterator(examples []Example, collator *Collator, cfg IteratorConfig) (Iterator, error) {
	if cfg.BatchSize <= 0 {
		return nil, errors.ConfigurationError("batch_size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.Epochs <= 0 {
		cfg.Epochs = 1
	}
	it := &exampleIterator{
		examples: examples,
		collator: collator,
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
	}
	it.reorder()
	return it, nil
}

func (it *exampleIterator) reorder() {
	it.order = make([]int, len(it.examples))
	for i := range it.order {
		it.order[i] = i
	}
	if it.cfg.Shuffle {
		it.rng.Shuffle(len(it.order), func(i, j int) { it.order[i], it.order[j] = it.order[j], it.order[i] })
	}
}

func (it *exampleIterator) Next(ctx context.Context) (*batch.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if it.pos >= len(it.order) {
		it.epoch++
		it.pos = 0
		it.reorder()
	}
	if it.epoch >= it.cfg.Epochs || len(it.order) == 0 {
		return nil, io.EOF
	}

	size := it.cfg.BatchSize
	if it.cfg.MaxExamples > 0 {
		if it.produced >= it.cfg.MaxExamples {
			return nil, io.EOF
		}
		size = min(size, it.cfg.MaxExamples-it.produced)
	}
	end := min(it.pos+size, len(it.order))

	chunk := make([]Example, 0, end-it.pos)
	for _, idx := range it.order[it.pos:end] {
		chunk = append(chunk, it.examples[idx])
	}
	it.pos = end
	it.produced += len(chunk)

	return it.collator.Collate(chunk)
}

// sliceIterator 依次产出给定批次
type sliceIterator struct {
	batches []*batch.Batch
	pos     int
}

// FromBatches 由已有批次构造迭代器
func FromBatches(batches ...*batch.Batch) Iterator {
	return &sliceIterator{batches: batches}
}

func (it *sliceIterator) Next(ctx context.Context) (*batch.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if it.pos >= len(it.batches) {
		return nil, io.EOF
	}
	b := it.batches[it.pos]
	it.pos++
	return b, nil
}

// Collect 读完迭代器
func Collect(ctx context.Context, it Iterator) ([]*batch.Batch, error) {
	var out []*batch.Batch
	for {
		b, err := it.Next(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
}

//Personal.AI order the ending
