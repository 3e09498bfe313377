package storage

import (
	"context"
	"io"
	"time"
)

// ObjectStore 对象存储接口
// 训练只需要的子集：确保存储桶、上传、下载、查询、健康检查
type ObjectStore interface {
	// EnsureBucket 存储桶不存在时创建
	EnsureBucket(ctx context.Context, bucket string) error

	// PutObject 上传对象
	PutObject(ctx context.Context, req *PutObjectRequest) (*ObjectInfo, error)

	// GetObject 下载对象，调用方负责关闭
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)

	// HeadObject 查询对象信息
	HeadObject(ctx context.Context, bucket, key string) (*ObjectInfo, error)

	// Ping 健康检查
	Ping(ctx context.Context) error
}

// PutObjectRequest 上传对象请求
type PutObjectRequest struct {
	Bucket      string            // 存储桶
	Key         string            // 对象键
	Reader      io.Reader         // 数据
	Size        int64             // 大小，-1 表示未知
	ContentType string            // 内容类型
	Metadata    map[string]string // 用户元数据
}

// ObjectInfo 对象信息
type ObjectInfo struct {
	Bucket       string            // 存储桶
	Key          string            // 对象键
	Size         int64             // 大小
	ETag         string            // ETag
	ContentType  string            // 内容类型
	LastModified time.Time         // 最后修改时间
	Metadata     map[string]string // 用户元数据
}

// 内容类型
const (
	ContentTypeCBOR  = "application/cbor"
	ContentTypeOctet = "application/octet-stream"
)

//Personal.AI order the ending
