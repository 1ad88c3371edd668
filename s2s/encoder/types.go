package encoder

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Mode selects whether samples carry shifted targets.
type Mode int

const (
	Train Mode = iota
	Eval
)

func (m Mode) String() string {
	if m == Train {
		return "train"
	}
	return "eval"
}

// MaskKind selects which mask token opens the generation span.
type MaskKind int

const (
	// Short uses the MASK token.
	Short MaskKind = iota
	// Generation uses the gMASK token.
	Generation
)

// ParseMaskKind accepts "short"/"mask" and "generation"/"gmask".
func ParseMaskKind(s string) (MaskKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "short", "mask", "":
		return Short, nil
	case "generation", "gmask":
		return Generation, nil
	default:
		return Short, fmt.Errorf("%w: unknown mask kind %q", ErrInvalidConfig, s)
	}
}

func (k MaskKind) String() string {
	if k == Generation {
		return "generation"
	}
	return "short"
}

// Config holds the fixed shape of every encoded sample.
type Config struct {
	MaxSourceLength int
	MaxTargetLength int
	Mode            Mode
	MaskKind        MaskKind
}

// Validate rejects lengths that cannot hold the cls and mask tokens.
func (c Config) Validate() error {
	if c.MaxSourceLength < 2 {
		return fmt.Errorf("%w: max source length %d must be at least 2", ErrInvalidConfig, c.MaxSourceLength)
	}
	if c.Mode == Train && c.MaxTargetLength < 1 {
		return fmt.Errorf("%w: max target length %d must be positive in train mode", ErrInvalidConfig, c.MaxTargetLength)
	}
	return nil
}

// SequenceLength is the length of every Tokens array produced under c. In
// train mode sop takes the slot of the last target token, which is never fed
// as input.
func (c Config) SequenceLength() int {
	if c.Mode == Train {
		return c.MaxSourceLength + c.MaxTargetLength
	}
	return c.MaxSourceLength + 1
}

// PositionIDs is the two-channel position encoding of a sample.
type PositionIDs struct {
	// Absolute counts up over the source and stays at the mask position
	// for the whole generation segment.
	Absolute []int64
	// BlockRelative is 0 over the source and 1, 2, 3, ... over generation.
	BlockRelative []int64
}

// Sample is one encoded example. It is never mutated after creation.
type Sample struct {
	ID     string
	Tokens []int64
	// Target and LossMask are nil in eval mode.
	Target            []int64
	LossMask          []int64
	AttentionBoundary int64
	PositionIDs       PositionIDs
}

// HasTarget reports whether the sample was encoded in train mode.
func (s Sample) HasTarget() bool { return s.Target != nil }

// Clone returns a copy of s that shares no arrays with it.
func (s Sample) Clone() Sample {
	c := s
	c.Tokens = slices.Clone(s.Tokens)
	c.Target = slices.Clone(s.Target)
	c.LossMask = slices.Clone(s.LossMask)
	c.PositionIDs = PositionIDs{
		Absolute:      slices.Clone(s.PositionIDs.Absolute),
		BlockRelative: slices.Clone(s.PositionIDs.BlockRelative),
	}
	return c
}

// Result is a Sample plus the truncation facts recorded while encoding it.
type Result struct {
	Sample          Sample
	SourceTruncated bool
	TargetTruncated bool
	// EmptySource is set when no source content token survived.
	EmptySource bool
	// Raw token counts before truncation (TargetTokens includes eop).
	SourceTokens int
	TargetTokens int
}

var (
	ErrInvalidConfig         = errors.New("invalid encoder configuration")
	ErrMissingSpecialToken   = errors.New("special token not resolved by tokenizer")
	ErrDuplicateSpecialToken = errors.New("special tokens must have distinct ids")
)
