// internal/platform/training/data/jsonl.go
package data

import (
	"bufio"
	"io"
	"os"

	"github.com/tidwall/gjson"

	"github.com/openeeap/haloalign/internal/platform/training/batch"
	"github.com/openeeap/haloalign/pkg/errors"
)

// ReadJSONL 读取每行一个 {"prompt", "completion", "label"} 的数据集
// label 缺省为 true（desirable）；completion 也接受 "output"
func ReadJSONL(r io.Reader, tok Tokenizer) ([]Example, error) {
	var examples []Example
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		if !gjson.ValidBytes(raw) {
			return nil, errors.ValidationErrorf("line %d is not valid JSON", line)
		}

		fields := gjson.GetManyBytes(raw, "prompt", "completion", "output", "label")
		if !fields[0].Exists() {
			return nil, errors.ValidationErrorf("line %d has no prompt", line)
		}
		completion := fields[1]
		if !completion.Exists() {
			completion = fields[2]
		}
		if !completion.Exists() {
			return nil, errors.ValidationErrorf("line %d has no completion", line)
		}

		status := batch.StatusChosen
		if label := fields[3]; label.Exists() && !label.Bool() {
			status = batch.StatusRejected
		}

		examples = append(examples, Example{
			Prompt:     tok.Encode(fields[0].String()),
			Target:     tok.Encode(completion.String()),
			Status:     status,
			PromptText: fields[0].String(),
			TargetText: completion.String(),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.ValidationErrorf("reading dataset: %v", err)
	}
	return examples, nil
}

// LoadJSONL 读取 JSONL 文件
func LoadJSONL(path string, tok Tokenizer) ([]Example, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NotFoundError("dataset " + path).WithCause(err)
	}
	defer f.Close()
	return ReadJSONL(f, tok)
}

//Personal.AI order the ending
