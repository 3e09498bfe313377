// internal/platform/training/dist/local.go
package dist

import (
	"context"
	"sync"

	"github.com/openeeap/haloalign/pkg/errors"
)

// LocalGroup 进程内进程组，每个 rank 是同一进程中的一个 goroutine
type LocalGroup struct {
	size int

	mu     sync.Mutex
	rounds map[uint64]*round

	closed    chan struct{}
	closeOnce sync.Once
}

// round 一次集合操作的汇合点
type round struct {
	op       string
	parts    [][]float64
	arrived  int
	finished bool
	done     chan struct{}

	sum []float64
	err error
}

// NewLocalGroup 创建大小为 size 的进程内进程组
func NewLocalGroup(size int) *LocalGroup {
	if size < 1 {
		size = 1
	}
	return &LocalGroup{
		size:   size,
		rounds: make(map[uint64]*round),
		closed: make(chan struct{}),
	}
}

// Size 进程组大小
func (g *LocalGroup) Size() int {
	return g.size
}

// Communicator 返回指定 rank 的通信句柄，每个 rank 只应取一次
func (g *LocalGroup) Communicator(rank int) (Communicator, error) {
	if rank < 0 || rank >= g.size {
		return nil, errors.NewFromCodef(errors.ErrDistInvalidRank, rank, g.size)
	}
	return &localComm{group: g, rank: rank}, nil
}

// Communicators 按 rank 顺序返回全部通信句柄
func (g *LocalGroup) Communicators() []Communicator {
	comms := make([]Communicator, g.size)
	for i := range comms {
		comms[i] = &localComm{group: g, rank: i}
	}
	return comms
}

// Close 关闭进程组，唤醒所有等待中的 rank
func (g *LocalGroup) Close() {
	g.closeOnce.Do(func() { close(g.closed) })
}

// localComm 单个 rank 的通信句柄
type localComm struct {
	group *LocalGroup
	rank  int
	seq   uint64
}

func (c *localComm) Rank() int      { return c.rank }
func (c *localComm) WorldSize() int { return c.group.size }

// Close 单个 rank 关闭时不影响其他 rank
func (c *localComm) Close() error { return nil }

func (c *localComm) AllGather(ctx context.Context, local []float64) ([][]float64, error) {
	r, err := c.enter(ctx, OpAllGather, local)
	if err != nil {
		return nil, err
	}
	out := make([][]float64, len(r.parts))
	for i, p := range r.parts {
		out[i] = append([]float64(nil), p...)
	}
	return out, nil
}

func (c *localComm) AllReduceSum(ctx context.Context, values []float64) ([]float64, error) {
	r, err := c.enter(ctx, OpAllReduceSum, values)
	if err != nil {
		return nil, err
	}
	return append([]float64(nil), r.sum...), nil
}

func (c *localComm) Barrier(ctx context.Context) error {
	_, err := c.enter(ctx, OpBarrier, nil)
	return err
}

// enter 登记本 rank 的贡献并等待整组到达
func (c *localComm) enter(ctx context.Context, op string, values []float64) (*round, error) {
	g := c.group

	select {
	case <-g.closed:
		return nil, errors.NewFromCode(errors.ErrDistClosed)
	default:
	}

	g.mu.Lock()
	seq := c.seq
	c.seq++

	r, ok := g.rounds[seq]
	if !ok {
		r = &round{op: op, parts: make([][]float64, g.size), done: make(chan struct{})}
		g.rounds[seq] = r
	}

	if r.op != op {
		// 调用顺序不一致，整组失败
		if r.err == nil {
			r.err = errors.NewFromCodef(errors.ErrDistOpMismatch, seq, c.rank, op, r.op)
		}
		if !r.finished {
			r.finished = true
			close(r.done)
		}
		err := r.err
		g.mu.Unlock()
		return nil, err
	}

	r.parts[c.rank] = append([]float64(nil), values...)
	r.arrived++
	if r.arrived == g.size && !r.finished {
		if op == OpAllReduceSum {
			r.sum, r.err = reduceSum(r.parts)
		}
		r.finished = true
		close(r.done)
		delete(g.rounds, seq)
	}
	g.mu.Unlock()

	select {
	case <-r.done:
		if r.err != nil {
			return nil, r.err
		}
		return r, nil
	case <-ctx.Done():
		return nil, errors.CollectiveError(op, ctx.Err())
	case <-g.closed:
		return nil, errors.NewFromCode(errors.ErrDistClosed)
	}
}

// reduceSum 逐元素求和，长度以 rank 0 为准
func reduceSum(parts [][]float64) ([]float64, error) {
	if len(parts) == 0 {
		return nil, nil
	}
	want := len(parts[0])
	sum := make([]float64, want)
	for rank, p := range parts {
		if len(p) != want {
			return nil, errors.NewFromCodef(errors.ErrDistLengthMismatch, rank, len(p), want)
		}
		for i, v := range p {
			sum[i] += v
		}
	}
	return sum, nil
}

//Personal.AI order the ending
