package dist

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"golang.org/x/sync/errgroup"

	redisrepo "github.com/openeeap/haloalign/internal/infrastructure/repository/redis"
	"github.com/openeeap/haloalign/pkg/types"
)

// RedisCommunicatorTestSuite 基于 Redis 容器的进程组集成测试
type RedisCommunicatorTestSuite struct {
	suite.Suite
	ctx       context.Context
	container *tcredis.RedisContainer
	addr      string
}

func TestRedisCommunicatorSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}
	suite.Run(t, new(RedisCommunicatorTestSuite))
}

func (s *RedisCommunicatorTestSuite) SetupSuite() {
	s.ctx = context.Background()

	container, err := tcredis.Run(s.ctx, "redis:7-alpine")
	require.NoError(s.T(), err, "Failed to start Redis container")
	s.container = container

	uri, err := container.ConnectionString(s.ctx)
	require.NoError(s.T(), err)
	opts, err := goredis.ParseURL(uri)
	require.NoError(s.T(), err)
	s.addr = opts.Addr
}

func (s *RedisCommunicatorTestSuite) TearDownSuite() {
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *RedisCommunicatorTestSuite) newGroup(world int) []Communicator {
	runID := types.NewID().String()
	comms := make([]Communicator, world)
	for rank := range comms {
		store, err := redisrepo.NewRendezvousStore(&redisrepo.StoreConfig{Addr: s.addr, KeyPrefix: "haloalign-test"})
		require.NoError(s.T(), err)
		c, err := NewRedis(store, RedisOptions{
			RunID:        runID,
			Rank:         rank,
			WorldSize:    world,
			PollInterval: time.Millisecond,
			OpTimeout:    10 * time.Second,
		})
		require.NoError(s.T(), err)
		comms[rank] = c
	}
	return comms
}

func (s *RedisCommunicatorTestSuite) TestCollectives() {
	comms := s.newGroup(3)
	gathered := make([][]float64, 3)
	reduced := make([][]float64, 3)

	g, ctx := errgroup.WithContext(s.ctx)
	for _, c := range comms {
		c := c
		g.Go(func() error {
			defer c.Close()
			local := make([]float64, c.Rank())
			for i := range local {
				local[i] = float64(c.Rank())
			}
			parts, err := c.AllGather(ctx, local)
			if err != nil {
				return err
			}
			gathered[c.Rank()] = Concat(parts)

			sum, err := c.AllReduceSum(ctx, []float64{float64(c.Rank() + 1)})
			if err != nil {
				return err
			}
			reduced[c.Rank()] = sum
			return c.Barrier(ctx)
		})
	}
	require.NoError(s.T(), g.Wait())

	for rank := 0; rank < 3; rank++ {
		assert.Equal(s.T(), []float64{1, 2, 2}, gathered[rank])
		assert.Equal(s.T(), []float64{6}, reduced[rank])
	}
}

func TestNewRedisValidation(t *testing.T) {
	_, err := NewRedis(nil, RedisOptions{RunID: "r", Rank: 2, WorldSize: 2})
	assert.Error(t, err)
	_, err = NewRedis(nil, RedisOptions{Rank: 0, WorldSize: 2})
	assert.Error(t, err)
}
