package data

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openeeap/haloalign/internal/platform/training/batch"
	"github.com/openeeap/haloalign/pkg/errors"
)

func TestVocabTokenizer(t *testing.T) {
	tok := NewVocabTokenizer([]string{"hello", "world"})
	assert.Equal(t, 5, tok.VocabSize())
	assert.Equal(t, []int{3, 4, UnkTokenID}, tok.Encode("hello world  again"))
	assert.Equal(t, "hello <eos>", tok.Decode([]int{3, EOSTokenID, PadTokenID, PadTokenID}))
	assert.Equal(t, "<unk>", tok.Decode([]int{99}))

	dir := t.TempDir()
	require.NoError(t, tok.SaveArtifacts(context.Background(), dir))
	loaded, err := LoadTokenizer(dir)
	require.NoError(t, err)
	assert.Equal(t, tok.Encode("world hello"), loaded.Encode("world hello"))

	_, err = LoadTokenizer(t.TempDir())
	assert.True(t, errors.Is(err, errors.ErrCkptRead.Code))
}

func TestCollate(t *testing.T) {
	tok := NewSyntheticTokenizer(10)
	c := NewCollator(tok, 6, 3)

	b, err := c.Collate([]Example{
		{Prompt: []int{3, 4, 5, 6}, Target: []int{7}, Status: batch.StatusChosen},
		{Prompt: []int{8}, Target: []int{9, 9, 9, 9, 9, 9}, Status: batch.StatusRejected},
	})
	require.NoError(t, err)
	require.Equal(t, 2, b.Len())
	assert.Equal(t, []batch.Status{batch.StatusChosen, batch.StatusRejected}, b.Status)

	ids, _ := b.Tensor(batch.FieldTargetInputIDs)
	labels, _ := b.Tensor(batch.FieldTargetLabels)
	mask, _ := b.Tensor(batch.FieldTargetAttentionMask)

	// prompt keeps its last three tokens
	assert.Equal(t, []int{4, 5, 6, 7, EOSTokenID, PadTokenID}, ids[0])
	assert.Equal(t, []int{-100, -100, -100, 7, EOSTokenID, -100}, labels[0])
	assert.Equal(t, []int{1, 1, 1, 1, 1, 0}, mask[0])

	// combined sequence is cut at max_length
	assert.Equal(t, []int{8, 9, 9, 9, 9, 9}, ids[1])
	assert.Equal(t, []int{-100, 9, 9, 9, 9, 9}, labels[1])

	// KL rows pair each prompt with the next example's completion
	klIDs, _ := b.Tensor(batch.FieldKLInputIDs)
	assert.Equal(t, []int{4, 5, 6, 9, 9, 9}, klIDs[0])
	assert.Equal(t, []int{8, 7, EOSTokenID}, klIDs[1][:3])

	prompts, _ := b.Tensor(batch.FieldPromptInputIDs)
	promptMask, _ := b.Tensor(batch.FieldPromptAttentionMask)
	assert.Equal(t, []int{8, PadTokenID, PadTokenID}, prompts[1])
	assert.Equal(t, []int{1, 0, 0}, promptMask[1])

	text, ok := b.Text(batch.FieldTargetText)
	require.True(t, ok)
	assert.Equal(t, "w7 <eos>", text[0])
	promptText, _ := b.Text(batch.FieldPromptText)
	assert.Equal(t, "w4 w5 w6", promptText[0])

	t.Run("Empty", func(t *testing.T) {
		b, err := c.Collate(nil)
		require.NoError(t, err)
		assert.Equal(t, 0, b.Len())
		assert.NotNil(t, b.Status)
	})

	t.Run("Max length too small", func(t *testing.T) {
		_, err := NewCollator(tok, 1, 0).Collate(nil)
		assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration))
	})
}

func TestGenerateSynthetic(t *testing.T) {
	cfg := SyntheticConfig{NumExamples: 20, PromptLength: 3, TargetLength: 4, VocabSize: 12, RejectedFraction: 0.5, Seed: 7}
	a, err := GenerateSynthetic(cfg)
	require.NoError(t, err)
	b, err := GenerateSynthetic(cfg)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	var chosen, rejected int
	for _, ex := range a {
		for _, id := range append(ex.Prompt, ex.Target...) {
			assert.GreaterOrEqual(t, id, 3)
			assert.Less(t, id, 12)
		}
		if ex.Status == batch.StatusChosen {
			chosen++
			prev := ex.Prompt[len(ex.Prompt)-1]
			for _, id := range ex.Target {
				assert.Equal(t, 3+(prev-3+1)%9, id)
				prev = id
			}
		} else {
			rejected++
		}
	}
	assert.Positive(t, chosen)
	assert.Positive(t, rejected)

	_, err = GenerateSynthetic(SyntheticConfig{NumExamples: 1, PromptLength: 1, TargetLength: 1, VocabSize: 4})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration))
}

func TestExampleIterator(t *testing.T) {
	tok := NewSyntheticTokenizer(12)
	examples, err := GenerateSynthetic(SyntheticConfig{NumExamples: 5, PromptLength: 2, TargetLength: 2, VocabSize: 12, Seed: 1})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("Epochs with a short final batch", func(t *testing.T) {
		it, err := NewExampleIterator(examples, NewCollator(tok, 8, 0), IteratorConfig{BatchSize: 2, Epochs: 2})
		require.NoError(t, err)
		batches, err := Collect(ctx, it)
		require.NoError(t, err)

		var sizes []int
		for _, b := range batches {
			sizes = append(sizes, b.Len())
		}
		assert.Equal(t, []int{2, 2, 1, 2, 2, 1}, sizes)
	})

	t.Run("Example cap", func(t *testing.T) {
		it, err := NewExampleIterator(examples, NewCollator(tok, 8, 0), IteratorConfig{BatchSize: 2, Epochs: 3, MaxExamples: 3})
		require.NoError(t, err)
		batches, err := Collect(ctx, it)
		require.NoError(t, err)
		require.Len(t, batches, 2)
		assert.Equal(t, 1, batches[1].Len())
	})

	t.Run("Shuffle is seeded", func(t *testing.T) {
		first := func() []int {
			it, err := NewExampleIterator(examples, NewCollator(tok, 8, 0), IteratorConfig{BatchSize: 5, Shuffle: true, Seed: 3})
			require.NoError(t, err)
			b, err := it.Next(ctx)
			require.NoError(t, err)
			ids, _ := b.Tensor(batch.FieldPromptInputIDs)
			var heads []int
			for _, row := range ids {
				heads = append(heads, row[0])
			}
			return heads
		}
		assert.Equal(t, first(), first())
	})

	t.Run("Cancelled context", func(t *testing.T) {
		it, err := NewExampleIterator(examples, NewCollator(tok, 8, 0), IteratorConfig{BatchSize: 2})
		require.NoError(t, err)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err = it.Next(cctx)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("Invalid batch size", func(t *testing.T) {
		_, err := NewExampleIterator(examples, NewCollator(tok, 8, 0), IteratorConfig{})
		assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration))
	})

	t.Run("From batches", func(t *testing.T) {
		it := FromBatches(batch.New(), batch.New())
		_, err := it.Next(ctx)
		require.NoError(t, err)
		_, err = it.Next(ctx)
		require.NoError(t, err)
		_, err = it.Next(ctx)
		assert.Equal(t, io.EOF, err)
	})
}

func TestReadJSONL(t *testing.T) {
	tok := NewVocabTokenizer([]string{"what", "is", "two", "four", "five"})
	input := strings.Join([]string{
		`{"prompt": "what is two", "completion": "four", "label": true}`,
		``,
		`{"prompt": "what is two", "output": "five", "label": false}`,
		`{"prompt": "two", "completion": "two"}`,
	}, "\n")

	examples, err := ReadJSONL(strings.NewReader(input), tok)
	require.NoError(t, err)
	require.Len(t, examples, 3)
	assert.Equal(t, batch.StatusChosen, examples[0].Status)
	assert.Equal(t, []int{3, 4, 5}, examples[0].Prompt)
	assert.Equal(t, []int{6}, examples[0].Target)
	assert.Equal(t, batch.StatusRejected, examples[1].Status)
	assert.Equal(t, "five", examples[1].TargetText)
	assert.Equal(t, batch.StatusChosen, examples[2].Status)

	_, err = ReadJSONL(strings.NewReader(`{"prompt": `), tok)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = ReadJSONL(strings.NewReader(`{"prompt": "two"}`), tok)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = LoadJSONL("/does/not/exist.jsonl", tok)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}
