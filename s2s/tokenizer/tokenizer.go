package tokenizer

import (
	"errors"
	"fmt"
	"strings"
)

// Names of the special tokens the encoder resolves by name.
const (
	ENC   = "ENC"
	MASK  = "MASK"
	GMASK = "gMASK"
	PAD   = "pad"
	SOP   = "sop"
	EOP   = "eop"
)

// Tokenizer maps text to token ids and back, and resolves named special tokens.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
	// SpecialID returns the id of a named special token (see ENC, MASK, ...).
	SpecialID(name string) (int, bool)
}

// DefaultSpecialTokens maps special token names to their vocabulary strings.
func DefaultSpecialTokens() map[string]string {
	return map[string]string{
		ENC:   "[CLS]",
		MASK:  "[MASK]",
		GMASK: "[gMASK]",
		PAD:   "[PAD]",
		SOP:   "<|startofpiece|>",
		EOP:   "<|endofpiece|>",
	}
}

var (
	// ErrUnsupported indicates the tokenizer could not be initialized
	ErrUnsupported = errors.New("unsupported tokenizer configuration")
	ErrUnknownID   = errors.New("token id not in vocabulary")
	ErrEmptyVocab  = errors.New("vocabulary is empty")
)

// Load selects a tokenizer backend by name ("vocab", "sugarme"/"wordpiece").
// Unknown names are an error.
func Load(kind, vocabPath string, lowercase bool, specials map[string]string) (Tokenizer, error) {
	var (
		tok Tokenizer
		err error
	)
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "vocab", "":
		tok, err = LoadVocab(vocabPath, specials)
	case "sugarme", "wordpiece", "bert":
		tok, err = NewSugarWordPiece(vocabPath, lowercase, specials)
	default:
		return nil, fmt.Errorf("%w: unknown tokenizer kind %q", ErrUnsupported, kind)
	}
	if err != nil {
		return nil, err
	}
	return tok, nil
}
