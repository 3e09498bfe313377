// internal/platform/training/trainer/results.go
package trainer

import (
	"encoding/json"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/openeeap/haloalign/pkg/errors"
)

// WriteYAML 以 {metadata, results} 写出评估结果
func (r *EvalResults) WriteYAML(path string) error {
	out, err := yaml.Marshal(r)
	if err != nil {
		return errors.NewFromCodef(errors.ErrCkptWrite, path).WithCause(err)
	}
	return writeFile(path, out)
}

// WriteSamples 以 JSON 数组写出采样结果
func WriteSamples(path string, samples []SampleRecord) error {
	out, err := json.MarshalIndent(samples, "", "  ")
	if err != nil {
		return errors.NewFromCodef(errors.ErrCkptWrite, path).WithCause(err)
	}
	return writeFile(path, out)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.NewFromCodef(errors.ErrCkptWrite, path).WithCause(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.NewFromCodef(errors.ErrCkptWrite, path).WithCause(err)
	}
	return nil
}

//Personal.AI order the ending
