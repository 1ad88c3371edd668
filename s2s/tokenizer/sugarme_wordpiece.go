package tokenizer

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"

	tk "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/decoder"
	"github.com/sugarme/tokenizer/model/wordpiece"
	"github.com/sugarme/tokenizer/normalizer"
	"github.com/sugarme/tokenizer/pretokenizer"
)

// SugarWordPiece wraps sugarme/tokenizer WordPiece (BERT-style)
type SugarWordPiece struct {
	t        *tk.Tokenizer
	specials map[string]string
}

// NewSugarWordPiece loads vocab.txt (or a directory holding one) and builds a
// BERT WordPiece tokenizer. No post-processor is attached: the encoder adds
// its own scaffold tokens.
func NewSugarWordPiece(vocabPath string, lowercase bool, specials map[string]string) (*SugarWordPiece, error) {
	vocabFile := vocabPath
	if fi, err := os.Stat(vocabPath); err == nil && fi.IsDir() {
		vocabFile = filepath.Join(vocabPath, "vocab.txt")
	}
	if _, err := os.Stat(vocabFile); err != nil {
		return nil, fmt.Errorf("%w: vocab file %s: %v", ErrUnsupported, vocabFile, err)
	}

	wp, err := wordpiece.NewWordPieceFromFile(vocabFile, unkToken)
	if err != nil {
		// fallback: the builder tolerates vocabularies without [UNK]
		wp = wordpiece.NewWordPieceBuilder().Files(vocabFile).Build()
	}

	t := tk.NewTokenizer(wp)
	t.WithNormalizer(normalizer.NewBertNormalizer(true, true, lowercase, lowercase))
	t.WithPreTokenizer(pretokenizer.NewBertPreTokenizer())
	t.WithDecoder(decoder.NewWordPieceDecoder(continuationPrefix, true))

	// bracketed vocab entries ([SEP], <|endofpiece|>) are matched whole
	var added []tk.AddedToken
	for _, tok := range slices.Sorted(maps.Keys(wp.GetVocab())) {
		if isAddedToken(tok) {
			added = append(added, tk.NewAddedToken(tok, true))
		}
	}
	t.AddSpecialTokens(added)

	if specials == nil {
		specials = DefaultSpecialTokens()
	}
	return &SugarWordPiece{t: t, specials: specials}, nil
}

func (s *SugarWordPiece) Encode(text string) ([]int, error) {
	enc, err := s.t.Encode(tk.NewSingleEncodeInput(tk.NewInputSequence(text)), false)
	if err != nil {
		return nil, err
	}
	return enc.GetIds(), nil
}

func (s *SugarWordPiece) Decode(ids []int) (string, error) {
	return s.t.Decode(ids, false), nil
}

func (s *SugarWordPiece) SpecialID(name string) (int, bool) {
	tok, ok := s.specials[name]
	if !ok {
		return 0, false
	}
	return s.t.TokenToId(tok)
}
