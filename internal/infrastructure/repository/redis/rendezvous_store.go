package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openeeap/haloalign/pkg/errors"
)

// RendezvousStore Redis 集合通信交换仓储接口
type RendezvousStore interface {
	// Put 写入一个 rank 的贡献
	Put(ctx context.Context, key string, data []byte, expiration time.Duration) error
	// Incr 原子递增到达计数并刷新过期时间
	Incr(ctx context.Context, key string, expiration time.Duration) (int64, error)
	// Counter 读取计数，不存在时为 0
	Counter(ctx context.Context, key string) (int64, error)
	// GetMany 按顺序读取多个键，缺失的键返回 nil
	GetMany(ctx context.Context, keys ...string) ([][]byte, error)
	// Delete 删除键
	Delete(ctx context.Context, keys ...string) error
	// Ping 健康检查
	Ping(ctx context.Context) error
	// Close 关闭连接
	Close() error
}

// rendezvousStore Redis 交换仓储实现
type rendezvousStore struct {
	client     *redis.Client
	keyPrefix  string
	defaultTTL time.Duration
	maxRetries int
	retryDelay time.Duration
}

// StoreConfig Redis 交换仓储配置
type StoreConfig struct {
	Addr         string        // Redis 地址
	Password     string        // 密码
	DB           int           // 数据库编号
	PoolSize     int           // 连接池大小
	MinIdleConns int           // 最小空闲连接数
	MaxRetries   int           // 最大重试次数
	DialTimeout  time.Duration // 连接超时
	ReadTimeout  time.Duration // 读超时
	WriteTimeout time.Duration // 写超时
	KeyPrefix    string        // 键前缀
	DefaultTTL   time.Duration // 默认过期时间
}

// NewRendezvousStore 创建 Redis 交换仓储
func NewRendezvousStore(config *StoreConfig) (RendezvousStore, error) {
	if config == nil {
		return nil, errors.New(errors.CodeInvalidParameter, errors.ErrorTypeValidation, "config cannot be nil")
	}

	// 设置默认值
	if config.PoolSize == 0 {
		config.PoolSize = 10
	}
	if config.MinIdleConns == 0 {
		config.MinIdleConns = 2
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 5 * time.Second
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 3 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 3 * time.Second
	}
	if config.DefaultTTL == 0 {
		config.DefaultTTL = 10 * time.Minute
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		MaxRetries:   config.MaxRetries,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.InfrastructureError("redis", err)
	}

	return NewRendezvousStoreFromClient(client, config.KeyPrefix, config.DefaultTTL, config.MaxRetries), nil
}

// NewRendezvousStoreFromClient 基于已有客户端创建交换仓储
func NewRendezvousStoreFromClient(client *redis.Client, keyPrefix string, defaultTTL time.Duration, maxRetries int) RendezvousStore {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	if defaultTTL == 0 {
		defaultTTL = 10 * time.Minute
	}
	return &rendezvousStore{
		client:     client,
		keyPrefix:  keyPrefix,
		defaultTTL: defaultTTL,
		maxRetries: maxRetries,
		retryDelay: 50 * time.Millisecond,
	}
}

// buildKey 构建完整的键
func (r *rendezvousStore) buildKey(key string) string {
	if r.keyPrefix == "" {
		return key
	}
	return fmt.Sprintf("%s:%s", r.keyPrefix, key)
}

// retry 按线性退避重试，context 取消时立即返回
func (r *rendezvousStore) retry(ctx context.Context, op func() error) error {
	var lastErr error
	for i := 0; i < r.maxRetries; i++ {
		if lastErr = op(); lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.retryDelay * time.Duration(i+1)):
		}
	}
	return lastErr
}

// Put 写入一个 rank 的贡献
func (r *rendezvousStore) Put(ctx context.Context, key string, data []byte, expiration time.Duration) error {
	if key == "" {
		return errors.New(errors.CodeInvalidParameter, errors.ErrorTypeValidation, "key cannot be empty")
	}
	if expiration == 0 {
		expiration = r.defaultTTL
	}

	fullKey := r.buildKey(key)
	err := r.retry(ctx, func() error {
		return r.client.Set(ctx, fullKey, data, expiration).Err()
	})
	if err != nil {
		return errors.InfrastructureError("redis", err).WithDetails("key", key)
	}
	return nil
}

// Incr 原子递增到达计数并刷新过期时间
func (r *rendezvousStore) Incr(ctx context.Context, key string, expiration time.Duration) (int64, error) {
	if key == "" {
		return 0, errors.New(errors.CodeInvalidParameter, errors.ErrorTypeValidation, "key cannot be empty")
	}
	if expiration == 0 {
		expiration = r.defaultTTL
	}

	fullKey := r.buildKey(key)

	// INCR 不是幂等操作，因此不重试
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.Expire(ctx, fullKey, expiration)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, errors.InfrastructureError("redis", err).WithDetails("key", key)
	}
	return incr.Val(), nil
}

// Counter 读取计数，不存在时为 0
func (r *rendezvousStore) Counter(ctx context.Context, key string) (int64, error) {
	fullKey := r.buildKey(key)

	var n int64
	err := r.retry(ctx, func() error {
		v, err := r.client.Get(ctx, fullKey).Int64()
		if err == redis.Nil {
			n = 0
			return nil
		}
		n = v
		return err
	})
	if err != nil {
		return 0, errors.InfrastructureError("redis", err).WithDetails("key", key)
	}
	return n, nil
}

// GetMany 按顺序读取多个键，缺失的键返回 nil
func (r *rendezvousStore) GetMany(ctx context.Context, keys ...string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	fullKeys := make([]string, len(keys))
	for i, key := range keys {
		fullKeys[i] = r.buildKey(key)
	}

	var values []interface{}
	err := r.retry(ctx, func() error {
		var err error
		values, err = r.client.MGet(ctx, fullKeys...).Result()
		return err
	})
	if err != nil {
		return nil, errors.InfrastructureError("redis", err)
	}

	out := make([][]byte, len(values))
	for i, v := range values {
		switch s := v.(type) {
		case string:
			out[i] = []byte(s)
		case []byte:
			out[i] = s
		}
	}
	return out, nil
}

// Delete 删除键
func (r *rendezvousStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	fullKeys := make([]string, len(keys))
	for i, key := range keys {
		fullKeys[i] = r.buildKey(key)
	}

	err := r.retry(ctx, func() error {
		return r.client.Del(ctx, fullKeys...).Err()
	})
	if err != nil {
		return errors.InfrastructureError("redis", err)
	}
	return nil
}

// Ping 健康检查
func (r *rendezvousStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close 关闭 Redis 连接
func (r *rendezvousStore) Close() error {
	return r.client.Close()
}

//Personal.AI order the ending
