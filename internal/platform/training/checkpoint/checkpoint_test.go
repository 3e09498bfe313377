package checkpoint

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openeeap/haloalign/internal/infrastructure/storage"
	"github.com/openeeap/haloalign/internal/observability/metrics"
	"github.com/openeeap/haloalign/internal/platform/training/model"
	"github.com/openeeap/haloalign/pkg/errors"
)

type memStore struct {
	mu      sync.Mutex
	buckets map[string]bool
	objects map[string][]byte
	putErr  error
}

func newMemStore() *memStore {
	return &memStore{buckets: map[string]bool{}, objects: map[string][]byte{}}
}

func (s *memStore) EnsureBucket(ctx context.Context, bucket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets[bucket] = true
	return nil
}

func (s *memStore) PutObject(ctx context.Context, req *storage.PutObjectRequest) (*storage.ObjectInfo, error) {
	if s.putErr != nil {
		return nil, s.putErr
	}
	data, err := io.ReadAll(req.Reader)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[req.Bucket+"/"+req.Key] = data
	return &storage.ObjectInfo{Bucket: req.Bucket, Key: req.Key, Size: int64(len(data))}, nil
}

func (s *memStore) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[bucket+"/"+key]
	if !ok {
		return nil, errors.NotFoundError("object " + key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memStore) HeadObject(ctx context.Context, bucket, key string) (*storage.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[bucket+"/"+key]
	if !ok {
		return nil, errors.NotFoundError("object " + key)
	}
	return &storage.ObjectInfo{Bucket: bucket, Key: key, Size: int64(len(data))}, nil
}

func (s *memStore) Ping(ctx context.Context) error { return nil }

func bits(xs []float64) []uint64 {
	out := make([]uint64, len(xs))
	for i, x := range xs {
		out[i] = math.Float64bits(x)
	}
	return out
}

func TestWriterDefaults(t *testing.T) {
	runDir := t.TempDir()
	w := NewWriter(runDir)

	path, err := w.Write(context.Background(), 12, map[string]int{"a": 1}, nil, PolicyFile, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(runDir, LatestDir, PolicyFile), path)

	rec, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 12, rec.StepIdx)
	assert.NotNil(t, rec.Metrics)
	assert.Empty(t, rec.Metrics)

	var state map[string]int
	require.NoError(t, rec.DecodeState(&state))
	assert.Equal(t, map[string]int{"a": 1}, state)

	// no temp files left behind
	entries, err := os.ReadDir(filepath.Join(runDir, LatestDir))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestModelStateRoundTrip(t *testing.T) {
	values := []float64{0.1, math.Copysign(0, -1), 5e-324, math.MaxFloat64, -1.0 / 3.0, 1e-300, math.Inf(1)}
	params := []*model.Parameter{model.NewParameter("embed.weight", 1, len(values)), model.NewParameter("head.weight", 2, 1)}
	copy(params[0].Value, values)
	copy(params[1].Value, []float64{math.Pi, math.E})

	w := NewWriter(t.TempDir())
	dir := filepath.Join(w.RunDir(), "step-64")
	path, err := w.Write(context.Background(), 64, model.StateDictOf(params), map[string]float64{"loss/eval": 0.25}, PolicyFile, dir)
	require.NoError(t, err)

	rec, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"loss/eval": 0.25}, rec.Metrics)

	var sd model.StateDict
	require.NoError(t, rec.DecodeState(&sd))

	fresh := []*model.Parameter{model.NewParameter("embed.weight", 1, len(values)), model.NewParameter("head.weight", 2, 1)}
	require.NoError(t, model.LoadStateDict(fresh, sd))
	for i := range params {
		assert.Equal(t, bits(params[i].Value), bits(fresh[i].Value), params[i].Name)
	}
}

func TestEncodeDeterministic(t *testing.T) {
	state := map[string][]float64{"b": {2}, "a": {1}, "c": {3}}
	values := map[string]float64{"z": 1, "y": 2}
	first, err := Encode(3, state, values)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Encode(3, state, values)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestWriterErrors(t *testing.T) {
	runDir := t.TempDir()
	blocker := filepath.Join(runDir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	t.Run("Directory cannot be created", func(t *testing.T) {
		_, err := NewWriter(runDir).Write(context.Background(), 1, nil, nil, PolicyFile, filepath.Join(blocker, "sub"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrCkptWrite.Code))
		assert.True(t, errors.IsType(err, errors.ErrorTypeCheckpoint))
	})

	t.Run("Unencodable state", func(t *testing.T) {
		_, err := NewWriter(runDir).Write(context.Background(), 1, make(chan int), nil, PolicyFile, "")
		assert.True(t, errors.Is(err, errors.ErrCkptWrite.Code))
	})

	t.Run("Missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(runDir, "nope.pt"))
		assert.True(t, errors.Is(err, errors.ErrCkptRead.Code))
	})

	t.Run("Corrupted file", func(t *testing.T) {
		_, err := Load(blocker)
		assert.True(t, errors.Is(err, errors.ErrCkptRead.Code))
	})

	t.Run("Record without state", func(t *testing.T) {
		rec := &Record{StepIdx: 4}
		var sd model.StateDict
		assert.True(t, errors.IsType(rec.DecodeState(&sd), errors.ErrorTypeContract))
	})
}

func TestWriterMetrics(t *testing.T) {
	collector := metrics.NewMetricsCollector(metrics.CollectorConfig{Namespace: "ckpt"})
	w := NewWriter(t.TempDir(), WithMetrics(collector))

	_, err := w.Write(context.Background(), 1, nil, nil, PolicyFile, "")
	require.NoError(t, err)
	_, err = w.Write(context.Background(), 1, nil, nil, OptimizerFile, "")
	require.NoError(t, err)

	n, err := testutil.GatherAndCount(collector.Registry(), "ckpt_checkpoint_writes_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMirror(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	mirror, err := NewMirror(ctx, store, "checkpoints", "run-a")
	require.NoError(t, err)
	assert.True(t, store.buckets["checkpoints"])

	runDir := t.TempDir()
	w := NewWriter(runDir, WithMirror(mirror))

	t.Run("Uploads relative to the run directory", func(t *testing.T) {
		_, err := w.Write(ctx, 8, map[string]float64{"w": 1.5}, map[string]float64{"loss/train": 1}, PolicyFile, filepath.Join(runDir, "step-8"))
		require.NoError(t, err)

		_, ok := store.objects["checkpoints/run-a/step-8/policy.pt"]
		require.True(t, ok, fmt.Sprint(store.objects))

		rec, err := mirror.Fetch(ctx, "step-8/policy.pt")
		require.NoError(t, err)
		assert.Equal(t, 8, rec.StepIdx)
		var state map[string]float64
		require.NoError(t, rec.DecodeState(&state))
		assert.Equal(t, 1.5, state["w"])
	})

	t.Run("Directory outside the run directory", func(t *testing.T) {
		_, err := w.Write(ctx, 9, nil, nil, SchedulerFile, filepath.Join(t.TempDir(), "export"))
		require.NoError(t, err)
		_, ok := store.objects["checkpoints/run-a/export/scheduler.pt"]
		assert.True(t, ok)
	})

	t.Run("Upload failure keeps the local file", func(t *testing.T) {
		store.putErr = errors.InfrastructureError("minio", io.ErrUnexpectedEOF)
		defer func() { store.putErr = nil }()

		path, err := w.Write(ctx, 10, nil, nil, PolicyFile, "")
		require.NoError(t, err)
		_, err = Load(path)
		assert.NoError(t, err)
	})

	t.Run("Missing object", func(t *testing.T) {
		_, err := mirror.Fetch(ctx, "step-99/policy.pt")
		assert.True(t, errors.Is(err, errors.ErrCkptRead.Code))
	})

	_, err = NewMirror(ctx, nil, "checkpoints", "")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration))
}

func TestSources(t *testing.T) {
	ctx := context.Background()
	runDir := t.TempDir()
	store := newMemStore()
	mirror, err := NewMirror(ctx, store, "checkpoints", "runs")
	require.NoError(t, err)
	w := NewWriter(runDir, WithMirror(mirror))

	_, err = w.Write(ctx, 5, map[string]int{"k": 1}, nil, SchedulerFile, "")
	require.NoError(t, err)

	for _, src := range []Source{DirSource(w.DefaultDir()), mirror.Source(LatestDir)} {
		rec, err := src.Fetch(ctx, SchedulerFile)
		require.NoError(t, err, src.String())
		assert.Equal(t, 5, rec.StepIdx)
	}
	assert.Equal(t, "checkpoints/runs/LATEST", mirror.Source(LatestDir).String())
}
