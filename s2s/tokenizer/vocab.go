package tokenizer

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/armon/go-radix"
)

const (
	continuationPrefix   = "##"
	unkToken             = "[UNK]"
	maxInputCharsPerWord = 100
)

// Vocab is a WordPiece tokenizer over a plain vocab file (one token per line,
// id = line number). Subword matching is greedy longest-prefix over a radix tree.
// Bracketed entries such as [SEP] or <|endofpiece|> are added tokens: they are
// matched whole anywhere in the text before words are split.
type Vocab struct {
	tree     *radix.Tree
	added    *radix.Tree
	idToTok  []string
	unkID    int
	specials map[string]string
}

// LoadVocab reads a vocab file from disk.
func LoadVocab(path string, specials map[string]string) (*Vocab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadVocab(f, specials)
}

// ReadVocab builds a Vocab from r. A nil specials map selects DefaultSpecialTokens.
func ReadVocab(r io.Reader, specials map[string]string) (*Vocab, error) {
	var tokens []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		tok := strings.TrimSpace(scanner.Text())
		if tok == "" {
			continue
		}
		tokens = append(tokens, tok)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vocab: %w", err)
	}
	return NewVocab(tokens, specials)
}

// NewVocab builds a Vocab from an ordered token list.
func NewVocab(tokens []string, specials map[string]string) (*Vocab, error) {
	if len(tokens) == 0 {
		return nil, ErrEmptyVocab
	}
	if specials == nil {
		specials = DefaultSpecialTokens()
	}
	v := &Vocab{
		tree:     radix.New(),
		added:    radix.New(),
		idToTok:  make([]string, len(tokens)),
		unkID:    -1,
		specials: specials,
	}
	for id, tok := range tokens {
		v.idToTok[id] = tok
		// first occurrence wins for duplicated lines
		if _, exists := v.tree.Get(tok); !exists {
			v.tree.Insert(tok, id)
		}
		if isAddedToken(tok) {
			if _, exists := v.added.Get(tok); !exists {
				v.added.Insert(tok, id)
			}
		}
	}
	if id, ok := v.tree.Get(unkToken); ok {
		v.unkID = id.(int)
	}
	return v, nil
}

// Size returns the number of vocabulary entries.
func (v *Vocab) Size() int { return len(v.idToTok) }

// Encode emits added tokens whole, splits the remaining text on whitespace
// and punctuation, then greedily matches each word against the vocabulary.
func (v *Vocab) Encode(text string) ([]int, error) {
	var ids []int
	encodeText := func(chunk string) error {
		for _, word := range splitWords(chunk) {
			pieces, err := v.encodeWord(word)
			if err != nil {
				return err
			}
			ids = append(ids, pieces...)
		}
		return nil
	}

	start := 0
	for i := 0; i < len(text); {
		if c := text[i]; c == '[' || c == '<' {
			if match, id, ok := v.added.LongestPrefix(text[i:]); ok {
				if err := encodeText(text[start:i]); err != nil {
					return nil, err
				}
				ids = append(ids, id.(int))
				i += len(match)
				start = i
				continue
			}
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		i += size
	}
	if err := encodeText(text[start:]); err != nil {
		return nil, err
	}
	return ids, nil
}

// isAddedToken reports whether tok is a bracketed control token like [SEP],
// <unk> or <|startofpiece|>.
func isAddedToken(tok string) bool {
	if len(tok) < 3 {
		return false
	}
	return (tok[0] == '[' && tok[len(tok)-1] == ']') || (tok[0] == '<' && tok[len(tok)-1] == '>')
}

func (v *Vocab) encodeWord(word string) ([]int, error) {
	if len([]rune(word)) > maxInputCharsPerWord {
		return v.unknown(word)
	}
	var ids []int
	for start := 0; start < len(word); {
		key := word[start:]
		if start > 0 {
			key = continuationPrefix + key
		}
		match, id, ok := v.tree.LongestPrefix(key)
		if !ok || (start > 0 && len(match) <= len(continuationPrefix)) {
			return v.unknown(word)
		}
		ids = append(ids, id.(int))
		if start > 0 {
			start += len(match) - len(continuationPrefix)
		} else {
			start += len(match)
		}
	}
	return ids, nil
}

func (v *Vocab) unknown(word string) ([]int, error) {
	if v.unkID < 0 {
		return nil, fmt.Errorf("no vocabulary match for %q and no %s token", word, unkToken)
	}
	return []int{v.unkID}, nil
}

// Decode joins tokens with single spaces, gluing continuation pieces.
func (v *Vocab) Decode(ids []int) (string, error) {
	var sb strings.Builder
	for i, id := range ids {
		if id < 0 || id >= len(v.idToTok) {
			return "", fmt.Errorf("%w: %d", ErrUnknownID, id)
		}
		tok := v.idToTok[id]
		if rest, ok := strings.CutPrefix(tok, continuationPrefix); ok && i > 0 {
			sb.WriteString(rest)
			continue
		}
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(tok)
	}
	return sb.String(), nil
}

// SpecialID resolves a special token name through the alias table.
func (v *Vocab) SpecialID(name string) (int, bool) {
	tok, ok := v.specials[name]
	if !ok {
		return 0, false
	}
	id, ok := v.tree.Get(tok)
	if !ok {
		return 0, false
	}
	return id.(int), true
}

// splitWords splits on whitespace and isolates every punctuation rune.
func splitWords(text string) []string {
	var words []string
	for _, field := range strings.Fields(text) {
		start := 0
		for i, r := range field {
			if !unicode.IsPunct(r) {
				continue
			}
			if i > start {
				words = append(words, field[start:i])
			}
			end := i + len(string(r))
			words = append(words, field[i:end])
			start = end
		}
		if start < len(field) {
			words = append(words, field[start:])
		}
	}
	return words
}
