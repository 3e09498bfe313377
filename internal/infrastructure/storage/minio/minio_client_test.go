package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/openeeap/haloalign/internal/infrastructure/storage"
	"github.com/openeeap/haloalign/pkg/errors"
)

const (
	testAccessKey = "haloalign"
	testSecretKey = "haloalign-secret"
)

// MinIOClientTestSuite 基于 MinIO 容器的对象存储集成测试
type MinIOClientTestSuite struct {
	suite.Suite
	ctx       context.Context
	container testcontainers.Container
	store     storage.ObjectStore
}

func TestMinIOClientSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping minio integration test in short mode")
	}
	suite.Run(t, new(MinIOClientTestSuite))
}

func (s *MinIOClientTestSuite) SetupSuite() {
	s.ctx = context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Cmd:          []string{"server", "/data"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     testAccessKey,
			"MINIO_ROOT_PASSWORD": testSecretKey,
		},
		WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp").
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(s.ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(s.T(), err, "Failed to start MinIO container")
	s.container = container

	host, err := container.Host(s.ctx)
	require.NoError(s.T(), err)
	port, err := container.MappedPort(s.ctx, "9000")
	require.NoError(s.T(), err)

	s.store, err = NewMinIOClient(s.ctx, &MinIOConfig{
		Endpoint:        fmt.Sprintf("%s:%s", host, port.Port()),
		AccessKeyID:     testAccessKey,
		SecretAccessKey: testSecretKey,
		Region:          "us-east-1",
		BucketLookup:    BucketLookupPath,
	})
	require.NoError(s.T(), err)
}

func (s *MinIOClientTestSuite) TearDownSuite() {
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *MinIOClientTestSuite) TestRoundTrip() {
	const bucket = "checkpoints"
	require.NoError(s.T(), s.store.EnsureBucket(s.ctx, bucket))
	// 重复创建不报错
	require.NoError(s.T(), s.store.EnsureBucket(s.ctx, bucket))

	payload := []byte("step-128 policy")
	info, err := s.store.PutObject(s.ctx, &storage.PutObjectRequest{
		Bucket:      bucket,
		Key:         "run/step-128/policy.pt",
		Reader:      bytes.NewReader(payload),
		Size:        int64(len(payload)),
		ContentType: storage.ContentTypeCBOR,
	})
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(len(payload)), info.Size)

	head, err := s.store.HeadObject(s.ctx, bucket, "run/step-128/policy.pt")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), storage.ContentTypeCBOR, head.ContentType)
	assert.Equal(s.T(), int64(len(payload)), head.Size)

	rc, err := s.store.GetObject(s.ctx, bucket, "run/step-128/policy.pt")
	require.NoError(s.T(), err)
	got, err := io.ReadAll(rc)
	require.NoError(s.T(), err)
	require.NoError(s.T(), rc.Close())
	assert.Equal(s.T(), payload, got)
}

func (s *MinIOClientTestSuite) TestMissingObject() {
	const bucket = "missing"
	require.NoError(s.T(), s.store.EnsureBucket(s.ctx, bucket))

	_, err := s.store.GetObject(s.ctx, bucket, "run/LATEST/policy.pt")
	assert.True(s.T(), errors.IsType(err, errors.ErrorTypeNotFound))

	_, err = s.store.HeadObject(s.ctx, bucket, "run/LATEST/policy.pt")
	assert.True(s.T(), errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestNewMinIOClientValidation(t *testing.T) {
	ctx := context.Background()

	_, err := NewMinIOClient(ctx, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = NewMinIOClient(ctx, &MinIOConfig{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}
