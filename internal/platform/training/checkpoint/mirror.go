// internal/platform/training/checkpoint/mirror.go
package checkpoint

import (
	"bytes"
	"context"
	"io"
	"path"
	"strconv"

	"github.com/openeeap/haloalign/internal/infrastructure/storage"
	"github.com/openeeap/haloalign/pkg/errors"
)

// Mirror 将检查点产物复制到对象存储，键为 prefix/<相对运行目录的路径>
type Mirror struct {
	store  storage.ObjectStore
	bucket string
	prefix string
}

// NewMirror 创建镜像并确保存储桶存在
func NewMirror(ctx context.Context, store storage.ObjectStore, bucket, prefix string) (*Mirror, error) {
	if store == nil {
		return nil, errors.ConfigurationError("checkpoint mirror requires an object store")
	}
	if err := store.EnsureBucket(ctx, bucket); err != nil {
		return nil, err
	}
	return &Mirror{store: store, bucket: bucket, prefix: prefix}, nil
}

// Key 对象键
func (m *Mirror) Key(rel string) string {
	return path.Join(m.prefix, rel)
}

// Upload 上传一个已编码的产物
func (m *Mirror) Upload(ctx context.Context, rel string, data []byte) error {
	_, err := m.store.PutObject(ctx, &storage.PutObjectRequest{
		Bucket:      m.bucket,
		Key:         m.Key(rel),
		Reader:      bytes.NewReader(data),
		Size:        int64(len(data)),
		ContentType: storage.ContentTypeCBOR,
		Metadata:    map[string]string{"bytes": strconv.Itoa(len(data))},
	})
	return err
}

// Fetch 下载并解码产物
func (m *Mirror) Fetch(ctx context.Context, rel string) (*Record, error) {
	key := m.Key(rel)
	rc, err := m.store.GetObject(ctx, m.bucket, key)
	if err != nil {
		return nil, errors.NewFromCodef(errors.ErrCkptRead, m.bucket+"/"+key).WithCause(err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.NewFromCodef(errors.ErrCkptRead, m.bucket+"/"+key).WithCause(err)
	}
	rec, err := Decode(data)
	if err != nil {
		return nil, errors.NewFromCodef(errors.ErrCkptRead, m.bucket+"/"+key).WithCause(err)
	}
	return rec, nil
}

//Personal.AI order the ending
