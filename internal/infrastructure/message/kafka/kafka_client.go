package kafka

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/openeeap/haloalign/internal/infrastructure/message"
	"github.com/openeeap/haloalign/internal/observability/trace"
	"github.com/openeeap/haloalign/pkg/errors"
)

// kafkaPublisher 基于 Sarama 同步生产者的发布者
type kafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	tracer   trace.Tracer
	mu       sync.RWMutex
	closed   bool
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Brokers      []string      // Broker 地址列表
	ClientID     string        // 客户端ID
	Version      string        // Kafka 版本
	Topic        string        // 默认主题
	Timeout      time.Duration // 网络超时
	MaxRetries   int           // 最大重试次数
	RetryBackoff time.Duration // 重试退避时间
	RequiredAcks RequiredAcks  // 需要的确认
	Compression  CompressionCodec
	Tracer       trace.Tracer // 为空时不注入链路头
}

// RequiredAcks 需要的确认
type RequiredAcks int16

const (
	NoResponse   RequiredAcks = 0  // 无响应
	WaitForLocal RequiredAcks = 1  // 等待本地
	WaitForAll   RequiredAcks = -1 // 等待所有
)

// CompressionCodec 压缩编解码器
type CompressionCodec int8

const (
	CompressionNone   CompressionCodec = 0 // 无压缩
	CompressionGZIP   CompressionCodec = 1 // GZIP
	CompressionSnappy CompressionCodec = 2 // Snappy
	CompressionLZ4    CompressionCodec = 3 // LZ4
	CompressionZSTD   CompressionCodec = 4 // ZSTD
)

// SaramaConfig 由配置构建 Sarama 配置
func SaramaConfig(config *KafkaConfig) (*sarama.Config, error) {
	// 设置默认值
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.RetryBackoff == 0 {
		config.RetryBackoff = 100 * time.Millisecond
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.ClientID = config.ClientID
	saramaConfig.Net.DialTimeout = config.Timeout
	saramaConfig.Net.ReadTimeout = config.Timeout
	saramaConfig.Net.WriteTimeout = config.Timeout

	// 设置版本
	if config.Version != "" {
		version, err := sarama.ParseKafkaVersion(config.Version)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInvalidParameter, "invalid kafka version")
		}
		saramaConfig.Version = version
	}

	// 同步生产者要求返回成功与错误
	saramaConfig.Producer.RequiredAcks = sarama.RequiredAcks(config.RequiredAcks)
	saramaConfig.Producer.Compression = sarama.CompressionCodec(config.Compression)
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.Retry.Max = config.MaxRetries
	saramaConfig.Producer.Retry.Backoff = config.RetryBackoff

	return saramaConfig, nil
}

// NewKafkaPublisher 连接 Broker 并创建发布者
func NewKafkaPublisher(config *KafkaConfig) (message.Publisher, error) {
	if config == nil {
		return nil, errors.NewValidationError(errors.CodeInvalidParameter, "config cannot be nil")
	}
	if len(config.Brokers) == 0 {
		return nil, errors.NewValidationError(errors.CodeInvalidParameter, "brokers cannot be empty")
	}
	if config.Topic == "" {
		return nil, errors.NewValidationError(errors.CodeInvalidParameter, "topic cannot be empty")
	}

	saramaConfig, err := SaramaConfig(config)
	if err != nil {
		return nil, err
	}

	producer, err := sarama.NewSyncProducer(config.Brokers, saramaConfig)
	if err != nil {
		return nil, errors.InfrastructureError("kafka", err)
	}
	return NewKafkaPublisherFromProducer(producer, config.Topic, config.Tracer), nil
}

// NewKafkaPublisherFromProducer 使用已有的同步生产者
func NewKafkaPublisherFromProducer(producer sarama.SyncProducer, topic string, tracer trace.Tracer) message.Publisher {
	return &kafkaPublisher{producer: producer, topic: topic, tracer: tracer}
}

// Publish 发送消息
func (kp *kafkaPublisher) Publish(ctx context.Context, msg *message.Message) (*message.PublishResult, error) {
	kp.mu.RLock()
	defer kp.mu.RUnlock()

	if kp.closed {
		return nil, errors.New(errors.CodeInternalError, errors.ErrorTypeInternal, "kafka publisher is closed")
	}
	if msg == nil {
		return nil, errors.NewValidationError(errors.CodeInvalidParameter, "message cannot be nil")
	}

	topic := msg.Topic
	if topic == "" {
		topic = kp.topic
	}

	// 构建消息
	pm := &sarama.ProducerMessage{
		Topic:   topic,
		Value:   sarama.ByteEncoder(msg.Value),
		Headers: kp.headers(ctx, msg.Headers),
	}
	if len(msg.Key) > 0 {
		pm.Key = sarama.ByteEncoder(msg.Key)
	}
	if !msg.Timestamp.IsZero() {
		pm.Timestamp = msg.Timestamp
	}

	partition, offset, err := kp.producer.SendMessage(pm)
	if err != nil {
		return nil, errors.InfrastructureError("kafka", err)
	}
	return &message.PublishResult{Topic: topic, Partition: partition, Offset: offset}, nil
}

// headers 按键排序，附带链路上下文
func (kp *kafkaPublisher) headers(ctx context.Context, extra map[string]string) []sarama.RecordHeader {
	carrier := trace.HeadersCarrier{}
	for k, v := range extra {
		carrier.Set(k, v)
	}
	if kp.tracer != nil {
		kp.tracer.InjectContext(ctx, carrier)
	}

	keys := carrier.Keys()
	sort.Strings(keys)
	out := make([]sarama.RecordHeader, 0, len(keys))
	for _, k := range keys {
		out = append(out, sarama.RecordHeader{Key: []byte(k), Value: []byte(carrier.Get(k))})
	}
	return out
}

// Close 关闭发布者
func (kp *kafkaPublisher) Close() error {
	kp.mu.Lock()
	defer kp.mu.Unlock()

	if kp.closed {
		return nil
	}
	kp.closed = true
	if err := kp.producer.Close(); err != nil {
		return errors.InfrastructureError("kafka", err)
	}
	return nil
}

//Personal.AI order the ending
