package dist

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/openeeap/haloalign/internal/observability/logging"
	"github.com/openeeap/haloalign/internal/observability/metrics"
	"github.com/openeeap/haloalign/internal/observability/trace"
	"github.com/openeeap/haloalign/pkg/errors"
)

// runRanks 在每个 rank 上并发执行 fn
func runRanks(t *testing.T, size int, fn func(ctx context.Context, c Communicator) error) {
	t.Helper()
	group := NewLocalGroup(size)
	defer group.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for _, c := range group.Communicators() {
		c := c
		g.Go(func() error { return fn(ctx, c) })
	}
	require.NoError(t, g.Wait())
}

func TestSingle(t *testing.T) {
	c := NewSingle()
	ctx := context.Background()

	parts, err := c.AllGather(ctx, []float64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 2}}, parts)

	sum, err := c.AllReduceSum(ctx, []float64{3})
	require.NoError(t, err)
	assert.Equal(t, []float64{3}, sum)

	assert.NoError(t, c.Barrier(ctx))
	assert.True(t, IsCoordinator(c))
}

func TestLocalGroupAllGather(t *testing.T) {
	results := make([][]float64, 3)
	runRanks(t, 3, func(ctx context.Context, c Communicator) error {
		// rank 1 没有贡献
		local := map[int][]float64{0: {0.5}, 1: {}, 2: {2, 2.5}}[c.Rank()]
		parts, err := c.AllGather(ctx, local)
		if err != nil {
			return err
		}
		results[c.Rank()] = Concat(parts)
		return nil
	})

	for rank := range results {
		assert.Equal(t, []float64{0.5, 2, 2.5}, results[rank], "rank %d", rank)
	}
}

func TestLocalGroupAllReduceSum(t *testing.T) {
	t.Run("Sum in every rank", func(t *testing.T) {
		results := make([][]float64, 4)
		runRanks(t, 4, func(ctx context.Context, c Communicator) error {
			sum, err := c.AllReduceSum(ctx, []float64{float64(c.Rank()), 1})
			results[c.Rank()] = sum
			return err
		})
		for _, r := range results {
			assert.Equal(t, []float64{6, 4}, r)
		}
	})

	t.Run("Length mismatch", func(t *testing.T) {
		group := NewLocalGroup(2)
		defer group.Close()
		comms := group.Communicators()

		errs := make(chan error, 2)
		go func() { _, err := comms[0].AllReduceSum(context.Background(), []float64{1}); errs <- err }()
		go func() { _, err := comms[1].AllReduceSum(context.Background(), []float64{1, 2}); errs <- err }()

		for i := 0; i < 2; i++ {
			err := <-errs
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrDistLengthMismatch.Code))
		}
	})
}

func TestLocalGroupOrdering(t *testing.T) {
	t.Run("Sequences are matched per call", func(t *testing.T) {
		runRanks(t, 2, func(ctx context.Context, c Communicator) error {
			for i := 0; i < 10; i++ {
				sum, err := c.AllReduceSum(ctx, []float64{float64(i)})
				if err != nil {
					return err
				}
				if sum[0] != float64(2*i) {
					return errors.InternalErrorf("step %d: got %v", i, sum)
				}
				if err := c.Barrier(ctx); err != nil {
					return err
				}
			}
			return nil
		})
	})

	t.Run("Mismatched collectives fail every rank", func(t *testing.T) {
		group := NewLocalGroup(2)
		defer group.Close()
		comms := group.Communicators()

		errs := make(chan error, 2)
		go func() { errs <- comms[0].Barrier(context.Background()) }()
		go func() { _, err := comms[1].AllGather(context.Background(), []float64{1}); errs <- err }()

		for i := 0; i < 2; i++ {
			err := <-errs
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrDistOpMismatch.Code))
		}
	})

	t.Run("Context deadline", func(t *testing.T) {
		group := NewLocalGroup(2)
		defer group.Close()
		c, err := group.Communicator(0)
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err = c.Barrier(ctx)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeCollective))
	})

	t.Run("Closed group", func(t *testing.T) {
		group := NewLocalGroup(2)
		c, err := group.Communicator(1)
		require.NoError(t, err)
		group.Close()
		assert.True(t, errors.Is(c.Barrier(context.Background()), errors.ErrDistClosed.Code))
	})

	t.Run("Invalid rank", func(t *testing.T) {
		_, err := NewLocalGroup(2).Communicator(2)
		assert.True(t, errors.Is(err, errors.ErrDistInvalidRank.Code))
	})
}

func TestInstrument(t *testing.T) {
	collector := metrics.NewMetricsCollector(metrics.CollectorConfig{Namespace: "test"})
	c := Instrument(NewSingle(), logging.NewNoopLogger(), collector, trace.NewNoopTracer())

	parts, err := c.AllGather(context.Background(), []float64{1})
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, Concat(parts))
	assert.Equal(t, 0, c.Rank())
	assert.Equal(t, 1, c.WorldSize())
}
