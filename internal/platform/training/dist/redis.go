// internal/platform/training/dist/redis.go
package dist

import (
	"context"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	redisrepo "github.com/openeeap/haloalign/internal/infrastructure/repository/redis"
	"github.com/openeeap/haloalign/pkg/errors"
)

// RedisOptions Redis 进程组配置
type RedisOptions struct {
	RunID        string        // 同一次运行的所有 rank 共享
	Rank         int           // 当前 rank
	WorldSize    int           // 进程组大小
	PollInterval time.Duration // 等待其他 rank 时的轮询间隔
	OpTimeout    time.Duration // 单次集合操作超时
	KeyTTL       time.Duration // 交换键的过期时间
}

// message 一个 rank 在一次集合操作中的贡献
type message struct {
	Op     string    `cbor:"op"`
	Rank   int       `cbor:"rank"`
	Values []float64 `cbor:"values"`
}

// redisComm 通过 Redis 交换贡献的多机进程组
//
// 第 seq 次集合操作中，每个 rank 写入 {run}:{seq}:{rank}，
// 递增 {run}:{seq}:arrived，然后轮询计数直到整组到齐再批量读取。
type redisComm struct {
	store redisrepo.RendezvousStore
	opts  RedisOptions
	seq   uint64
}

// NewRedis 基于交换仓储创建进程组，进程组关闭时一并关闭仓储
func NewRedis(store redisrepo.RendezvousStore, opts RedisOptions) (Communicator, error) {
	if opts.WorldSize < 1 || opts.Rank < 0 || opts.Rank >= opts.WorldSize {
		return nil, errors.NewFromCodef(errors.ErrDistInvalidRank, opts.Rank, opts.WorldSize)
	}
	if opts.RunID == "" {
		return nil, errors.ConfigurationError("distributed.run_id is required for the redis backend")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Millisecond
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 5 * time.Minute
	}
	if opts.KeyTTL <= 0 {
		opts.KeyTTL = 10 * time.Minute
	}
	return &redisComm{store: store, opts: opts}, nil
}

func (c *redisComm) Rank() int      { return c.opts.Rank }
func (c *redisComm) WorldSize() int { return c.opts.WorldSize }

func (c *redisComm) Close() error {
	return c.store.Close()
}

func (c *redisComm) AllGather(ctx context.Context, local []float64) ([][]float64, error) {
	msgs, err := c.exchange(ctx, OpAllGather, local)
	if err != nil {
		return nil, err
	}
	out := make([][]float64, len(msgs))
	for i, m := range msgs {
		out[i] = m.Values
	}
	return out, nil
}

func (c *redisComm) AllReduceSum(ctx context.Context, values []float64) ([]float64, error) {
	msgs, err := c.exchange(ctx, OpAllReduceSum, values)
	if err != nil {
		return nil, err
	}
	parts := make([][]float64, len(msgs))
	for i, m := range msgs {
		parts[i] = m.Values
	}
	return reduceSum(parts)
}

func (c *redisComm) Barrier(ctx context.Context) error {
	_, err := c.exchange(ctx, OpBarrier, nil)
	return err
}

func (c *redisComm) exchange(ctx context.Context, op string, values []float64) ([]message, error) {
	seq := c.seq
	c.seq++

	ctx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
	defer cancel()

	base := fmt.Sprintf("%s:%d", c.opts.RunID, seq)

	data, err := cbor.Marshal(message{Op: op, Rank: c.opts.Rank, Values: values})
	if err != nil {
		return nil, errors.CollectiveError(op, err)
	}
	if err := c.store.Put(ctx, fmt.Sprintf("%s:%d", base, c.opts.Rank), data, c.opts.KeyTTL); err != nil {
		return nil, errors.CollectiveError(op, err)
	}
	if _, err := c.store.Incr(ctx, base+":arrived", c.opts.KeyTTL); err != nil {
		return nil, errors.CollectiveError(op, err)
	}

	// 等待整组到达
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()
	for {
		n, err := c.store.Counter(ctx, base+":arrived")
		if err != nil {
			return nil, errors.CollectiveError(op, err)
		}
		if n >= int64(c.opts.WorldSize) {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.CollectiveError(op, ctx.Err())
		case <-ticker.C:
		}
	}

	keys := make([]string, c.opts.WorldSize)
	for r := range keys {
		keys[r] = fmt.Sprintf("%s:%d", base, r)
	}
	raw, err := c.store.GetMany(ctx, keys...)
	if err != nil {
		return nil, errors.CollectiveError(op, err)
	}

	msgs := make([]message, len(raw))
	for r, b := range raw {
		if b == nil {
			return nil, errors.CollectiveError(op, fmt.Errorf("contribution of rank %d expired", r))
		}
		if err := cbor.Unmarshal(b, &msgs[r]); err != nil {
			return nil, errors.CollectiveError(op, err)
		}
		if msgs[r].Op != op {
			return nil, errors.NewFromCodef(errors.ErrDistOpMismatch, seq, r, msgs[r].Op, op)
		}
	}
	return msgs, nil
}

//Personal.AI order the ending
