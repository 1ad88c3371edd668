package encoder

import (
	"fmt"

	"github.com/ZanzyTHEbar/seq2seq-encoder/s2s/normalize"
	"github.com/ZanzyTHEbar/seq2seq-encoder/s2s/tokenizer"
)

// DefaultPromptText follows [cls, mask] in every source.
const DefaultPromptText = " Content:"

// Encoder turns normalized (source, target) pairs into fixed-shape samples.
// It holds no per-example state and is safe for concurrent use as long as the
// tokenizer is.
type Encoder struct {
	cfg        Config
	tok        tokenizer.Tokenizer
	strategy   normalize.Strategy
	specials   SpecialTokens
	promptText string
	prompt     []int64
	maskPos    int
}

// Option configures an Encoder.
type Option func(*Encoder)

// WithStrategy sets the text normalizer applied by Normalize.
func WithStrategy(s normalize.Strategy) Option {
	return func(e *Encoder) { e.strategy = s }
}

// WithPromptText replaces the literal continuation that follows [cls, mask].
func WithPromptText(text string) Option {
	return func(e *Encoder) { e.promptText = text }
}

// NewEncoder validates cfg, resolves the special tokens and builds the prompt.
func NewEncoder(tok tokenizer.Tokenizer, cfg Config, opts ...Option) (*Encoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Encoder{
		cfg:        cfg,
		tok:        tok,
		strategy:   normalize.Identity,
		promptText: DefaultPromptText,
	}
	for _, opt := range opts {
		opt(e)
	}

	specials, err := ResolveSpecialTokens(tok, cfg.MaskKind)
	if err != nil {
		return nil, err
	}
	e.specials = specials

	literal, err := tok.Encode(e.promptText)
	if err != nil {
		return nil, fmt.Errorf("failed to encode prompt %q: %w", e.promptText, err)
	}
	e.prompt = append([]int64{specials.CLS, specials.Mask}, toInt64(literal)...)
	e.maskPos = 1
	return e, nil
}

// Config returns the encoder configuration.
func (e *Encoder) Config() Config { return e.cfg }

// Specials returns the resolved special tokens.
func (e *Encoder) Specials() SpecialTokens { return e.specials }

// Prompt returns a copy of the prompt scaffold.
func (e *Encoder) Prompt() []int64 { return append([]int64(nil), e.prompt...) }

// MaskPos is the index of the mask token in every source segment.
func (e *Encoder) MaskPos() int { return e.maskPos }

// Normalize applies the task normalizer to a source/target pair.
func (e *Encoder) Normalize(source, target string) (string, string) {
	return e.strategy.Normalize(source, false), e.strategy.Normalize(target, true)
}

// Reference round-trips target through the tokenizer, capturing whatever the
// tokenizer itself normalizes away. It is not assumed to equal target.
func (e *Encoder) Reference(target string) (string, error) {
	ids, err := e.tok.Encode(target)
	if err != nil {
		return "", err
	}
	return e.tok.Decode(ids)
}

// Encode builds the sample for one normalized example. The target is only
// tokenized in train mode.
func (e *Encoder) Encode(id, source, target string) (Result, error) {
	src, res, err := e.assembleSource(source)
	if err != nil {
		return Result{}, fmt.Errorf("example %s: %w", id, err)
	}
	res.Sample.ID = id
	res.Sample.AttentionBoundary = int64(len(src))

	if e.cfg.Mode != Train {
		tokens := make([]int64, 0, len(src)+1)
		tokens = append(tokens, src...)
		tokens = append(tokens, e.specials.StartOfPiece)
		res.Sample.Tokens = tokens
		res.Sample.PositionIDs = derivePositions(len(src), e.maskPos, 1)
		return res, nil
	}

	tgt, lossMask, rawLen, truncated, err := e.assembleTarget(target)
	if err != nil {
		return Result{}, fmt.Errorf("example %s: %w", id, err)
	}
	res.TargetTokens = rawLen
	res.TargetTruncated = truncated

	n := len(src) + len(tgt)
	tokens := make([]int64, 0, n)
	tokens = append(tokens, src...)
	tokens = append(tokens, e.specials.StartOfPiece)
	tokens = append(tokens, tgt[:len(tgt)-1]...)

	labels := make([]int64, len(src), n)
	labels = append(labels, tgt...)

	mask := make([]int64, len(src), n)
	mask = append(mask, lossMask...)

	res.Sample.Tokens = tokens
	res.Sample.Target = labels
	res.Sample.LossMask = mask
	res.Sample.PositionIDs = derivePositions(len(src), e.maskPos, len(tgt))
	return res, nil
}

// assembleSource returns prompt + source tokens, truncated and padded to
// exactly MaxSourceLength.
func (e *Encoder) assembleSource(source string) ([]int64, Result, error) {
	var res Result
	ids, err := e.tok.Encode(" " + source)
	if err != nil {
		return nil, res, fmt.Errorf("failed to tokenize source: %w", err)
	}
	res.SourceTokens = len(ids)

	limit := e.cfg.MaxSourceLength
	prompt := e.prompt
	if len(prompt) > limit {
		// a short limit cuts the literal continuation, never cls or mask
		prompt = prompt[:limit]
	}
	room := limit - len(prompt)
	if len(ids) > room {
		ids = ids[:room]
		res.SourceTruncated = true
	}
	res.EmptySource = len(ids) == 0

	src := make([]int64, 0, limit)
	src = append(src, prompt...)
	src = append(src, toInt64(ids)...)
	for len(src) < limit {
		src = append(src, e.specials.Pad)
	}
	return src, res, nil
}

// assembleTarget returns the padded target tokens, their loss mask, the raw
// length (including eop) and whether truncation happened.
func (e *Encoder) assembleTarget(target string) ([]int64, []int64, int, bool, error) {
	ids, err := e.tok.Encode(" " + target)
	if err != nil {
		return nil, nil, 0, false, fmt.Errorf("failed to tokenize target: %w", err)
	}
	limit := e.cfg.MaxTargetLength

	tgt := make([]int64, 0, max(limit, len(ids)+1))
	tgt = append(tgt, toInt64(ids)...)
	tgt = append(tgt, e.specials.EndOfPiece)
	rawLen := len(tgt)

	truncated := false
	if len(tgt) > limit {
		// may drop eop
		tgt = tgt[:limit]
		truncated = true
	}

	lossMask := make([]int64, limit)
	for i := range tgt {
		lossMask[i] = 1
	}
	for len(tgt) < limit {
		tgt = append(tgt, e.specials.Pad)
	}
	return tgt, lossMask, rawLen, truncated, nil
}

// derivePositions builds both position channels for a source of srcLen
// tokens followed by genLen generation positions.
func derivePositions(srcLen, maskPos, genLen int) PositionIDs {
	n := srcLen + genLen
	abs := make([]int64, n)
	block := make([]int64, n)
	for i := 0; i < srcLen; i++ {
		abs[i] = int64(i)
	}
	for j := 0; j < genLen; j++ {
		abs[srcLen+j] = int64(maskPos)
		block[srcLen+j] = int64(j + 1)
	}
	return PositionIDs{Absolute: abs, BlockRelative: block}
}

func toInt64(ids []int) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
