package minio

import (
	"context"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/openeeap/haloalign/internal/infrastructure/storage"
	"github.com/openeeap/haloalign/pkg/errors"
)

// minioClient MinIO 对象存储实现
type minioClient struct {
	client *minio.Client
	config *MinIOConfig
}

// MinIOConfig MinIO 配置
type MinIOConfig struct {
	Endpoint        string        // 服务端点
	AccessKeyID     string        // 访问密钥ID
	SecretAccessKey string        // 访问密钥
	UseSSL          bool          // 是否使用SSL
	Region          string        // 区域
	Token           string        // 临时token
	BucketLookup    BucketLookup  // 存储桶查找类型
	Timeout         time.Duration // 连接检查超时
}

// BucketLookup 存储桶查找类型
type BucketLookup int

const (
	BucketLookupAuto BucketLookup = iota // 自动
	BucketLookupDNS                      // DNS查找
	BucketLookupPath                     // 路径查找
)

func (b BucketLookup) toMinio() minio.BucketLookupType {
	switch b {
	case BucketLookupDNS:
		return minio.BucketLookupDNS
	case BucketLookupPath:
		return minio.BucketLookupPath
	default:
		return minio.BucketLookupAuto
	}
}

// NewMinIOClient 创建 MinIO 客户端并检查连接
func NewMinIOClient(ctx context.Context, config *MinIOConfig) (storage.ObjectStore, error) {
	if config == nil {
		return nil, errors.NewValidationError(errors.CodeInvalidParameter, "config cannot be nil")
	}
	if config.Endpoint == "" {
		return nil, errors.NewValidationError(errors.CodeInvalidParameter, "endpoint cannot be empty")
	}

	// 设置默认值
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, config.Token),
		Secure:       config.UseSSL,
		Region:       config.Region,
		BucketLookup: config.BucketLookup.toMinio(),
	})
	if err != nil {
		return nil, errors.WrapStorageError(err, errors.CodeStorageError, "failed to create minio client")
	}

	mc := &minioClient{client: client, config: config}

	pingCtx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()
	if err := mc.Ping(pingCtx); err != nil {
		return nil, err
	}

	return mc, nil
}

// EnsureBucket 确保存储桶存在
func (mc *minioClient) EnsureBucket(ctx context.Context, bucket string) error {
	if bucket == "" {
		return errors.NewValidationError(errors.CodeInvalidParameter, "bucket name cannot be empty")
	}

	exists, err := mc.client.BucketExists(ctx, bucket)
	if err != nil {
		return errors.WrapStorageError(err, errors.CodeStorageError, "failed to check bucket existence")
	}
	if exists {
		return nil
	}

	if err := mc.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: mc.config.Region}); err != nil {
		// 并发创建时其他 rank 可能已经建好
		if resp := minio.ToErrorResponse(err); resp.Code == "BucketAlreadyOwnedByYou" || resp.Code == "BucketAlreadyExists" {
			return nil
		}
		return errors.WrapStorageError(err, errors.CodeStorageError, "failed to create bucket")
	}
	return nil
}

// PutObject 上传对象
func (mc *minioClient) PutObject(ctx context.Context, req *storage.PutObjectRequest) (*storage.ObjectInfo, error) {
	if req == nil {
		return nil, errors.NewValidationError(errors.CodeInvalidParameter, "put object request cannot be nil")
	}
	if req.Bucket == "" {
		return nil, errors.NewValidationError(errors.CodeInvalidParameter, "bucket name cannot be empty")
	}
	if req.Key == "" {
		return nil, errors.NewValidationError(errors.CodeInvalidParameter, "object key cannot be empty")
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = storage.ContentTypeOctet
	}

	info, err := mc.client.PutObject(ctx, req.Bucket, req.Key, req.Reader, req.Size, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: req.Metadata,
	})
	if err != nil {
		return nil, errors.WrapStorageError(err, errors.CodeStorageError, "failed to put object")
	}

	return &storage.ObjectInfo{
		Bucket:       info.Bucket,
		Key:          info.Key,
		Size:         info.Size,
		ETag:         info.ETag,
		ContentType:  contentType,
		LastModified: info.LastModified,
		Metadata:     req.Metadata,
	}, nil
}

// GetObject 下载对象
func (mc *minioClient) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if bucket == "" || key == "" {
		return nil, errors.NewValidationError(errors.CodeInvalidParameter, "bucket and key cannot be empty")
	}

	object, err := mc.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.WrapStorageError(err, errors.CodeStorageError, "failed to get object")
	}

	// GetObject 是惰性的，Stat 才会暴露不存在的键
	if _, err := object.Stat(); err != nil {
		object.Close()
		return nil, mc.wrapStatError(err, key)
	}
	return object, nil
}

// HeadObject 查询对象信息
func (mc *minioClient) HeadObject(ctx context.Context, bucket, key string) (*storage.ObjectInfo, error) {
	stat, err := mc.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, mc.wrapStatError(err, key)
	}

	return &storage.ObjectInfo{
		Bucket:       bucket,
		Key:          stat.Key,
		Size:         stat.Size,
		ETag:         stat.ETag,
		ContentType:  stat.ContentType,
		LastModified: stat.LastModified,
		Metadata:     stat.UserMetadata,
	}, nil
}

// Ping 健康检查
func (mc *minioClient) Ping(ctx context.Context) error {
	// 通过列出存储桶来检查连接状态
	if _, err := mc.client.ListBuckets(ctx); err != nil {
		return errors.InfrastructureError("minio", err)
	}
	return nil
}

func (mc *minioClient) wrapStatError(err error, key string) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return errors.NotFoundError("object " + key).WithCause(err)
	}
	return errors.WrapStorageError(err, errors.CodeStorageError, "failed to stat object")
}

//Personal.AI order the ending
