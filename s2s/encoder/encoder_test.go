package encoder

import (
	"fmt"
	"strings"
	"testing"

	"github.com/ZanzyTHEbar/seq2seq-encoder/s2s/normalize"
	"github.com/ZanzyTHEbar/seq2seq-encoder/s2s/tokenizer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Vocabulary ids: [PAD]=0 [UNK]=1 [CLS]=2 [MASK]=3 [gMASK]=4 sop=5 eop=6
// Content=7 :=8 the=9 cat=10 sat=11
var vocabTokens = []string{
	"[PAD]", "[UNK]", "[CLS]", "[MASK]", "[gMASK]", "<|startofpiece|>", "<|endofpiece|>",
	"Content", ":", "the", "cat", "sat",
}

func newVocab(t *testing.T) *tokenizer.Vocab {
	t.Helper()
	v, err := tokenizer.NewVocab(vocabTokens, nil)
	require.NoError(t, err)
	return v
}

// lengthTokenizer emits one id per whitespace-separated word, derived from the
// word length, and fixed special ids.
type lengthTokenizer struct{}

func (lengthTokenizer) Encode(text string) ([]int, error) {
	words := strings.Fields(text)
	ids := make([]int, len(words))
	for i, w := range words {
		ids[i] = 10 + len(w)
	}
	return ids, nil
}

func (lengthTokenizer) Decode(ids []int) (string, error) {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strings.Repeat("x", id-10)
	}
	return strings.Join(parts, " "), nil
}

func (lengthTokenizer) SpecialID(name string) (int, bool) {
	id, ok := map[string]int{
		tokenizer.PAD: 0, tokenizer.ENC: 1, tokenizer.MASK: 2,
		tokenizer.GMASK: 3, tokenizer.SOP: 4, tokenizer.EOP: 5,
	}[name]
	return id, ok
}

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "the"
	}
	return strings.Join(parts, " ")
}

func TestEncodeEvalNoTruncation(t *testing.T) {
	enc, err := NewEncoder(newVocab(t), Config{MaxSourceLength: 10, Mode: Eval})
	require.NoError(t, err)
	require.Len(t, enc.Prompt(), 4)

	res, err := enc.Encode("dev-0", "the cat sat", "ignored")
	require.NoError(t, err)

	s := res.Sample
	assert.False(t, res.SourceTruncated)
	assert.False(t, res.EmptySource)
	assert.Equal(t, 3, res.SourceTokens)
	assert.Equal(t, "dev-0", s.ID)
	assert.Equal(t, []int64{2, 3, 7, 8, 9, 10, 11, 0, 0, 0, 5}, s.Tokens)
	assert.Equal(t, 1, enc.MaskPos())
	assert.Equal(t, int64(10), s.AttentionBoundary)
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 1}, s.PositionIDs.Absolute)
	assert.Equal(t, []int64{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}, s.PositionIDs.BlockRelative)
	assert.Nil(t, s.Target)
	assert.Nil(t, s.LossMask)
	assert.False(t, s.HasTarget())
}

func TestEncodeEvalSourceTruncated(t *testing.T) {
	enc, err := NewEncoder(newVocab(t), Config{MaxSourceLength: 5, Mode: Eval})
	require.NoError(t, err)

	res, err := enc.Encode("test-3", words(20), "")
	require.NoError(t, err)

	assert.True(t, res.SourceTruncated)
	assert.Equal(t, 20, res.SourceTokens)
	assert.Equal(t, []int64{2, 3, 7, 8, 9, 5}, res.Sample.Tokens)
	assert.Equal(t, int64(5), res.Sample.AttentionBoundary)
	assert.Nil(t, res.Sample.Target)
	assert.Nil(t, res.Sample.LossMask)
}

func TestEncodeTrain(t *testing.T) {
	tests := []struct {
		name          string
		target        string
		wantTarget    []int64
		wantMask      []int64
		wantTruncated bool
	}{
		{"exact fit keeps eop", "the cat sat", []int64{9, 10, 11, 6}, []int64{1, 1, 1, 1}, false},
		{"padded", "cat", []int64{10, 6, 0, 0}, []int64{1, 1, 0, 0}, false},
		{"truncation drops eop", "the cat sat the cat", []int64{9, 10, 11, 9}, []int64{1, 1, 1, 1}, true},
		{"empty target is just eop", "", []int64{6, 0, 0, 0}, []int64{1, 0, 0, 0}, false},
	}

	enc, err := NewEncoder(newVocab(t), Config{MaxSourceLength: 8, MaxTargetLength: 4, Mode: Train})
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := enc.Encode("train-1", "the cat", tt.target)
			require.NoError(t, err)
			s := res.Sample

			src := []int64{2, 3, 7, 8, 9, 10, 0, 0}
			zeros := make([]int64, len(src))

			wantTokens := append(append(append([]int64{}, src...), 5), tt.wantTarget[:3]...)
			assert.Equal(t, wantTokens, s.Tokens)
			assert.Equal(t, append(append([]int64{}, zeros...), tt.wantTarget...), s.Target)
			assert.Equal(t, append(append([]int64{}, zeros...), tt.wantMask...), s.LossMask)
			assert.Equal(t, tt.wantTruncated, res.TargetTruncated)
			assert.False(t, res.SourceTruncated)
			assert.Equal(t, int64(8), s.AttentionBoundary)
			assert.Equal(t, []int64{0, 1, 2, 3, 4, 5, 6, 7, 1, 1, 1, 1}, s.PositionIDs.Absolute)
			assert.Equal(t, []int64{0, 0, 0, 0, 0, 0, 0, 0, 1, 2, 3, 4}, s.PositionIDs.BlockRelative)
		})
	}
}

func TestEncodeShapeInvariants(t *testing.T) {
	for _, mode := range []Mode{Train, Eval} {
		for _, maxSrc := range []int{2, 3, 5, 16} {
			for _, maxTgt := range []int{1, 2, 7} {
				cfg := Config{MaxSourceLength: maxSrc, MaxTargetLength: maxTgt, Mode: mode}
				enc, err := NewEncoder(lengthTokenizer{}, cfg)
				require.NoError(t, err)

				for _, n := range []int{0, 1, 4, 12, 30} {
					name := fmt.Sprintf("%s/src=%d/tgt=%d/words=%d", mode, maxSrc, maxTgt, n)
					t.Run(name, func(t *testing.T) {
						res, err := enc.Encode("x", words(n), words(n))
						require.NoError(t, err)
						checkInvariants(t, cfg, enc.MaskPos(), res)
					})
				}
			}
		}
	}
}

func checkInvariants(t *testing.T, cfg Config, maskPos int, res Result) {
	t.Helper()
	s := res.Sample
	n := cfg.SequenceLength()

	require.Len(t, s.Tokens, n)
	require.Len(t, s.PositionIDs.Absolute, n)
	require.Len(t, s.PositionIDs.BlockRelative, n)
	assert.Equal(t, int64(cfg.MaxSourceLength), s.AttentionBoundary)

	for i := 0; i < cfg.MaxSourceLength; i++ {
		assert.Equal(t, int64(i), s.PositionIDs.Absolute[i])
		assert.Equal(t, int64(0), s.PositionIDs.BlockRelative[i])
	}
	for i := cfg.MaxSourceLength; i < n; i++ {
		assert.Equal(t, int64(maskPos), s.PositionIDs.Absolute[i])
		assert.Equal(t, int64(i-cfg.MaxSourceLength+1), s.PositionIDs.BlockRelative[i])
	}

	// lengthTokenizer builds a three-token prompt
	assert.Equal(t, res.SourceTokens > max(cfg.MaxSourceLength-3, 0), res.SourceTruncated)

	if cfg.Mode != Train {
		assert.Nil(t, s.Target)
		assert.Nil(t, s.LossMask)
		return
	}
	require.Len(t, s.Target, n)
	require.Len(t, s.LossMask, n)

	live := min(res.TargetTokens, cfg.MaxTargetLength)
	var sum int64
	for i, m := range s.LossMask {
		want := int64(0)
		if i >= cfg.MaxSourceLength && i-cfg.MaxSourceLength < live {
			want = 1
		}
		assert.Equal(t, want, m, "loss mask at %d", i)
		sum += m
	}
	assert.LessOrEqual(t, sum, int64(cfg.MaxTargetLength))
	assert.Equal(t, res.TargetTokens > cfg.MaxTargetLength, res.TargetTruncated)
	for i := 0; i < cfg.MaxSourceLength; i++ {
		assert.Equal(t, int64(0), s.Target[i])
	}
}

func TestEncodeTinySourceLength(t *testing.T) {
	enc, err := NewEncoder(lengthTokenizer{}, Config{MaxSourceLength: 2, Mode: Eval})
	require.NoError(t, err)

	res, err := enc.Encode("x", "some words", "")
	require.NoError(t, err)
	assert.True(t, res.SourceTruncated)
	assert.True(t, res.EmptySource)
	assert.Equal(t, []int64{1, 2, 4}, res.Sample.Tokens)

	res, err = enc.Encode("y", "", "")
	require.NoError(t, err)
	assert.False(t, res.SourceTruncated)
	assert.True(t, res.EmptySource)
}

func TestEncodeGenerationMask(t *testing.T) {
	enc, err := NewEncoder(newVocab(t), Config{MaxSourceLength: 6, Mode: Eval, MaskKind: Generation})
	require.NoError(t, err)
	assert.Equal(t, int64(4), enc.Specials().Mask)
	assert.Equal(t, []int64{2, 4, 7, 8}, enc.Prompt())

	res, err := enc.Encode("x", "cat", "")
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Sample.Tokens[enc.MaskPos()])
}

func TestNewEncoderErrors(t *testing.T) {
	t.Run("invalid source length", func(t *testing.T) {
		_, err := NewEncoder(newVocab(t), Config{MaxSourceLength: 1, Mode: Eval})
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("invalid target length", func(t *testing.T) {
		_, err := NewEncoder(newVocab(t), Config{MaxSourceLength: 8, Mode: Train})
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("missing special token", func(t *testing.T) {
		v, err := tokenizer.NewVocab(vocabTokens[:6], nil)
		require.NoError(t, err)
		_, err = NewEncoder(v, Config{MaxSourceLength: 8, Mode: Eval})
		assert.ErrorIs(t, err, ErrMissingSpecialToken)
	})

	t.Run("duplicate special token", func(t *testing.T) {
		specials := tokenizer.DefaultSpecialTokens()
		specials[tokenizer.EOP] = specials[tokenizer.SOP]
		v, err := tokenizer.NewVocab(vocabTokens, specials)
		require.NoError(t, err)
		_, err = NewEncoder(v, Config{MaxSourceLength: 8, Mode: Eval})
		assert.ErrorIs(t, err, ErrDuplicateSpecialToken)
	})
}

func TestNormalizeAndReference(t *testing.T) {
	enc, err := NewEncoder(newVocab(t), Config{MaxSourceLength: 8, Mode: Eval}, WithStrategy(normalize.CNNDM))
	require.NoError(t, err)

	src, tgt := enc.Normalize("a<S_SEP>b", "a<S_SEP>b")
	assert.Equal(t, "ab", src)
	assert.Equal(t, "a[SEP]b", tgt)

	ref, err := enc.Reference("the  dog sat")
	require.NoError(t, err)
	assert.Equal(t, "the [UNK] sat", ref)
}

func TestParseMaskKind(t *testing.T) {
	k, err := ParseMaskKind("gMASK")
	require.NoError(t, err)
	assert.Equal(t, Generation, k)

	k, err = ParseMaskKind("")
	require.NoError(t, err)
	assert.Equal(t, Short, k)

	_, err = ParseMaskKind("wide")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestWithPromptText(t *testing.T) {
	enc, err := NewEncoder(newVocab(t), Config{MaxSourceLength: 8, Mode: Eval}, WithPromptText(""))
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, enc.Prompt())
}

func TestSampleClone(t *testing.T) {
	s := Sample{
		ID:          "train-0",
		Tokens:      []int64{1, 2, 3},
		Target:      []int64{0, 4, 5},
		LossMask:    []int64{0, 1, 1},
		PositionIDs: PositionIDs{Absolute: []int64{0, 1, 1}, BlockRelative: []int64{0, 1, 2}},
	}
	c := s.Clone()
	assert.Equal(t, s, c)

	c.Tokens[0] = 9
	c.PositionIDs.Absolute[0] = 9
	assert.Equal(t, int64(1), s.Tokens[0])
	assert.Equal(t, int64(0), s.PositionIDs.Absolute[0])

	eval := Sample{ID: "test-0", Tokens: []int64{1}}.Clone()
	assert.False(t, eval.HasTarget())
	assert.Nil(t, eval.LossMask)
}
