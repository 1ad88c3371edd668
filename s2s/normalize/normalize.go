// Package normalize undoes corpus-specific tokenization artifacts before text
// reaches the tokenizer.
package normalize

import (
	"regexp"
	"strings"
)

// Strategy is the closed set of per-task text normalizers.
type Strategy int

const (
	Identity Strategy = iota
	Gigaword
	CNNDM
)

// ForTask selects the strategy for a task identifier. Unknown tasks get Identity.
func ForTask(task string) Strategy {
	switch strings.ToLower(strings.TrimSpace(task)) {
	case "gigaword":
		return Gigaword
	case "cnn_dm", "cnndm":
		return CNNDM
	default:
		return Identity
	}
}

func (s Strategy) String() string {
	switch s {
	case Gigaword:
		return "gigaword"
	case CNNDM:
		return "cnn_dm"
	default:
		return "identity"
	}
}

// Normalize applies the strategy to a source (isTarget=false) or target line.
func (s Strategy) Normalize(text string, isTarget bool) string {
	switch s {
	case Gigaword:
		return strings.ReplaceAll(text, "UNK", "<unk>")
	case CNNDM:
		// every rule shrinks the string or removes a backtick, so this terminates
		for {
			next := cnndmPass(text, isTarget)
			if next == text {
				return next
			}
			text = next
		}
	default:
		return text
	}
}

var (
	cnndmBrackets = strings.NewReplacer(
		"-LRB-", "(", "-RRB-", ")",
		"-LSB-", "[", "-RSB-", "]",
		"-LCB-", "{", "-RCB-", "}",
	)
	cnndmContraction = regexp.MustCompile(`\s+(n't|'s|'d|'ll)`)
)

func cnndmPass(text string, isTarget bool) string {
	if isTarget {
		text = strings.ReplaceAll(text, "<S_SEP>", "[SEP]")
	} else {
		text = strings.ReplaceAll(text, "<S_SEP>", "")
	}
	text = cnndmBrackets.Replace(text)
	text = strings.ReplaceAll(text, "`", "'")
	text = strings.ReplaceAll(text, "''", "\"")
	return cnndmContraction.ReplaceAllString(text, "$1")
}
