// internal/platform/training/checkpoint/source.go
package checkpoint

import (
	"context"
	"path"
	"path/filepath"
)

// Source 按文件名读取一个检查点目录中的产物
type Source interface {
	Fetch(ctx context.Context, name string) (*Record, error)
	String() string
}

type dirSource string

// DirSource 本地目录
func DirSource(dir string) Source { return dirSource(dir) }

func (d dirSource) Fetch(ctx context.Context, name string) (*Record, error) {
	return Load(filepath.Join(string(d), name))
}

func (d dirSource) String() string { return string(d) }

type mirrorSource struct {
	mirror *Mirror
	dir    string
}

// Source 镜像中 rel 目录下的产物，rel 相对运行目录
func (m *Mirror) Source(rel string) Source {
	return &mirrorSource{mirror: m, dir: rel}
}

func (s *mirrorSource) Fetch(ctx context.Context, name string) (*Record, error) {
	return s.mirror.Fetch(ctx, path.Join(s.dir, name))
}

func (s *mirrorSource) String() string {
	return s.mirror.bucket + "/" + s.mirror.Key(s.dir)
}

//Personal.AI order the ending
