// internal/platform/training/data/tokenizer.go
package data

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openeeap/haloalign/pkg/errors"
)

// 特殊 token
const (
	PadToken = "<pad>"
	EOSToken = "<eos>"
	UnkToken = "<unk>"

	PadTokenID = 0
	EOSTokenID = 1
	UnkTokenID = 2

	// TokenizerFile 分词器产物文件名
	TokenizerFile = "tokenizer.yaml"
)

// Tokenizer 文本与 token id 之间的转换
type Tokenizer interface {
	Encode(text string) []int
	Decode(ids []int) string
	VocabSize() int
	PadTokenID() int
	EOSTokenID() int
	EOSToken() string
}

// VocabTokenizer 按空白切分的词表分词器
type VocabTokenizer struct {
	vocab []string
	index map[string]int
}

type tokenizerFile struct {
	Vocab []string `yaml:"vocab"`
}

// NewVocabTokenizer 创建词表分词器，前三个 id 固定为 <pad> <eos> <unk>
func NewVocabTokenizer(words []string) *VocabTokenizer {
	vocab := append([]string{PadToken, EOSToken, UnkToken}, words...)
	t := &VocabTokenizer{vocab: vocab, index: make(map[string]int, len(vocab))}
	for i, w := range vocab {
		if _, dup := t.index[w]; !dup {
			t.index[w] = i
		}
	}
	return t
}

// NewSyntheticTokenizer 生成 w3..w{size-1} 的词表
func NewSyntheticTokenizer(size int) *VocabTokenizer {
	var words []string
	for i := UnkTokenID + 1; i < size; i++ {
		words = append(words, fmt.Sprintf("w%d", i))
	}
	return NewVocabTokenizer(words)
}

// LoadTokenizer 从产物目录读取分词器
func LoadTokenizer(dir string) (*VocabTokenizer, error) {
	raw, err := os.ReadFile(filepath.Join(dir, TokenizerFile))
	if err != nil {
		return nil, errors.NewFromCodef(errors.ErrCkptRead, filepath.Join(dir, TokenizerFile)).WithCause(err)
	}
	var f tokenizerFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, errors.NewFromCodef(errors.ErrCkptRead, filepath.Join(dir, TokenizerFile)).WithCause(err)
	}
	if len(f.Vocab) < 3 || f.Vocab[PadTokenID] != PadToken || f.Vocab[EOSTokenID] != EOSToken || f.Vocab[UnkTokenID] != UnkToken {
		return nil, errors.ContractError("tokenizer vocabulary in %s does not start with the special tokens", dir)
	}
	return NewVocabTokenizer(f.Vocab[3:]), nil
}

func (t *VocabTokenizer) VocabSize() int   { return len(t.vocab) }
func (t *VocabTokenizer) PadTokenID() int  { return PadTokenID }
func (t *VocabTokenizer) EOSTokenID() int  { return EOSTokenID }
func (t *VocabTokenizer) EOSToken() string { return EOSToken }

// Encode 未知词映射到 <unk>
func (t *VocabTokenizer) Encode(text string) []int {
	fields := strings.Fields(text)
	ids := make([]int, len(fields))
	for i, w := range fields {
		id, ok := t.index[w]
		if !ok {
			id = UnkTokenID
		}
		ids[i] = id
	}
	return ids
}

// Decode 跳过 <pad>
func (t *VocabTokenizer) Decode(ids []int) string {
	words := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == PadTokenID {
			continue
		}
		if id < 0 || id >= len(t.vocab) {
			words = append(words, UnkToken)
			continue
		}
		words = append(words, t.vocab[id])
	}
	return strings.Join(words, " ")
}

// SaveArtifacts 将词表写入 dir/tokenizer.yaml
func (t *VocabTokenizer) SaveArtifacts(ctx context.Context, dir string) error {
	out, err := yaml.Marshal(tokenizerFile{Vocab: t.vocab})
	if err != nil {
		return errors.NewFromCodef(errors.ErrCkptWrite, filepath.Join(dir, TokenizerFile)).WithCause(err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.NewFromCodef(errors.ErrCkptWrite, filepath.Join(dir, TokenizerFile)).WithCause(err)
	}
	if err := os.WriteFile(filepath.Join(dir, TokenizerFile), out, 0o644); err != nil {
		return errors.NewFromCodef(errors.ErrCkptWrite, filepath.Join(dir, TokenizerFile)).WithCause(err)
	}
	return nil
}

//Personal.AI order the ending
