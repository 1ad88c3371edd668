package encoder

import (
	"fmt"

	"github.com/ZanzyTHEbar/seq2seq-encoder/s2s/tokenizer"
)

// SpecialTokens are the scaffold token ids, resolved once per encoder.
type SpecialTokens struct {
	CLS          int64
	Mask         int64
	Pad          int64
	StartOfPiece int64
	EndOfPiece   int64
}

// ResolveSpecialTokens looks up the five scaffold tokens by name. The mask
// token is MASK or gMASK depending on kind.
func ResolveSpecialTokens(tok tokenizer.Tokenizer, kind MaskKind) (SpecialTokens, error) {
	maskName := tokenizer.MASK
	if kind == Generation {
		maskName = tokenizer.GMASK
	}

	names := []string{tokenizer.ENC, maskName, tokenizer.PAD, tokenizer.SOP, tokenizer.EOP}
	ids := make([]int64, len(names))
	seen := make(map[int64]string, len(names))
	for i, name := range names {
		id, ok := tok.SpecialID(name)
		if !ok || id < 0 {
			return SpecialTokens{}, fmt.Errorf("%w: %s", ErrMissingSpecialToken, name)
		}
		if prev, dup := seen[int64(id)]; dup {
			return SpecialTokens{}, fmt.Errorf("%w: %s and %s both map to %d", ErrDuplicateSpecialToken, prev, name, id)
		}
		seen[int64(id)] = name
		ids[i] = int64(id)
	}

	return SpecialTokens{
		CLS:          ids[0],
		Mask:         ids[1],
		Pad:          ids[2],
		StartOfPiece: ids[3],
		EndOfPiece:   ids[4],
	}, nil
}
