// internal/platform/training/checkpoint/writer.go
package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/openeeap/haloalign/internal/observability/logging"
	"github.com/openeeap/haloalign/internal/observability/metrics"
	"github.com/openeeap/haloalign/internal/observability/trace"
	"github.com/openeeap/haloalign/pkg/errors"
)

// LatestDir 未指定目录时的默认子目录
const LatestDir = "LATEST"

// 标准产物文件名
const (
	PolicyFile    = "policy.pt"
	OptimizerFile = "optimizer.pt"
	SchedulerFile = "scheduler.pt"
)

// ArtifactSaver 与检查点一起保存的附属产物（例如分词器）
type ArtifactSaver interface {
	SaveArtifacts(ctx context.Context, dir string) error
}

// Writer 检查点写入器
type Writer struct {
	runDir  string
	logger  logging.Logger
	metrics *metrics.MetricsCollector
	tracer  trace.Tracer
	mirror  *Mirror
}

// WriterOption 写入器选项
type WriterOption func(*Writer)

// WithLogger 设置日志器
func WithLogger(logger logging.Logger) WriterOption {
	return func(w *Writer) { w.logger = logger }
}

// WithMetrics 设置指标收集器
func WithMetrics(collector *metrics.MetricsCollector) WriterOption {
	return func(w *Writer) { w.metrics = collector }
}

// WithTracer 设置链路追踪
func WithTracer(tracer trace.Tracer) WriterOption {
	return func(w *Writer) { w.tracer = tracer }
}

// WithMirror 写入后同步上传到对象存储
func WithMirror(mirror *Mirror) WriterOption {
	return func(w *Writer) { w.mirror = mirror }
}

// NewWriter 创建写入器
func NewWriter(runDir string, opts ...WriterOption) *Writer {
	w := &Writer{
		runDir: runDir,
		logger: logging.NewNoopLogger(),
		tracer: trace.NewNoopTracer(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// RunDir 运行目录
func (w *Writer) RunDir() string { return w.runDir }

// DefaultDir run_dir/LATEST
func (w *Writer) DefaultDir() string { return filepath.Join(w.runDir, LatestDir) }

// Write 将 {step_idx, state, metrics} 写入 dir/filename 并返回路径
// dir 为空时使用 run_dir/LATEST，values 为 nil 时写入空映射
func (w *Writer) Write(ctx context.Context, step int, state interface{}, values map[string]float64, filename, dir string) (string, error) {
	ctx, span := w.tracer.Start(ctx, "CheckpointWriter.Write")
	defer span.End()

	if dir == "" {
		dir = w.DefaultDir()
	}
	path := filepath.Join(dir, filename)
	kind := strings.TrimSuffix(filename, filepath.Ext(filename))

	data, err := w.write(step, state, values, dir, path)
	if w.metrics != nil {
		w.metrics.RecordCheckpoint(kind, err)
	}
	if err != nil {
		trace.RecordSpanError(ctx, err)
		return "", err
	}

	w.logger.WithContext(ctx).Info("writing checkpoint",
		logging.String("path", path),
		logging.Int("step", step),
		logging.Int("bytes", len(data)))

	if w.mirror != nil {
		if err := w.mirror.Upload(ctx, w.objectKey(dir, filename), data); err != nil {
			if w.metrics != nil {
				w.metrics.RecordCheckpoint("mirror", err)
			}
			w.logger.WithContext(ctx).Warn("checkpoint mirror upload failed",
				logging.String("path", path),
				logging.Error(err))
		}
	}
	return path, nil
}

func (w *Writer) write(step int, state interface{}, values map[string]float64, dir, path string) ([]byte, error) {
	data, err := Encode(step, state, values)
	if err != nil {
		return nil, errors.NewFromCodef(errors.ErrCkptWrite, path).WithCause(err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.NewFromCodef(errors.ErrCkptWrite, path).WithCause(err)
	}

	// 先写临时文件再改名，读者不会看到半个文件
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return nil, errors.NewFromCodef(errors.ErrCkptWrite, path).WithCause(err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, errors.NewFromCodef(errors.ErrCkptWrite, path).WithCause(err)
	}
	if err := tmp.Close(); err != nil {
		return nil, errors.NewFromCodef(errors.ErrCkptWrite, path).WithCause(err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return nil, errors.NewFromCodef(errors.ErrCkptWrite, path).WithCause(err)
	}
	return data, nil
}

// objectKey 相对运行目录的对象键，目录在运行目录之外时只取最后一级
func (w *Writer) objectKey(dir, filename string) string {
	rel, err := filepath.Rel(w.runDir, dir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		rel = filepath.Base(dir)
	}
	return filepath.ToSlash(filepath.Join(rel, filename))
}

// Load 读取检查点文件
func Load(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewFromCodef(errors.ErrCkptRead, path).WithCause(err)
	}
	rec, err := Decode(data)
	if err != nil {
		return nil, errors.NewFromCodef(errors.ErrCkptRead, path).WithCause(err)
	}
	return rec, nil
}

//Personal.AI order the ending
