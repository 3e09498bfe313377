package message

import (
	"context"
	"time"
)

// Publisher 消息发布接口
type Publisher interface {
	// Publish 同步发布一条消息
	Publish(ctx context.Context, msg *Message) (*PublishResult, error)

	// Close 关闭发布者
	Close() error
}

// Message 待发布的消息
type Message struct {
	Topic     string            // 主题，为空时使用发布者的默认主题
	Key       []byte            // 分区键
	Value     []byte            // 消息体
	Headers   map[string]string // 头部
	Timestamp time.Time         // 时间戳，零值表示由客户端填写
}

// PublishResult 发布结果
type PublishResult struct {
	Topic     string // 主题
	Partition int32  // 分区
	Offset    int64  // 偏移量
}

//Personal.AI order the ending
