package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrUnknownSplit       = errors.New("unknown split")
	ErrLineCountMismatch  = errors.New("source and target line counts differ")
	ErrIndexOutOfRange    = errors.New("sample index out of range")
	ErrSplitFileNotExists = errors.New("split file does not exist")
)

// maxLineBytes bounds a single corpus line; CNN/DM articles run long.
const maxLineBytes = 16 << 20

// SplitFileName maps a split name to the stem of its corpus files.
func SplitFileName(split string) (string, error) {
	switch split {
	case "train":
		return "train", nil
	case "dev":
		return "val", nil
	case "test":
		return "test", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSplit, split)
	}
}

// ReadPairs reads <dir>/<stem>.source and <dir>/<stem>.target. Lines are
// whitespace-trimmed; the two files must have the same number of lines.
func ReadPairs(dir, split string) (sources, targets []string, err error) {
	stem, err := SplitFileName(split)
	if err != nil {
		return nil, nil, err
	}
	sources, err = readLines(filepath.Join(dir, stem+".source"))
	if err != nil {
		return nil, nil, err
	}
	targets, err = readLines(filepath.Join(dir, stem+".target"))
	if err != nil {
		return nil, nil, err
	}
	if len(sources) != len(targets) {
		return nil, nil, fmt.Errorf("%w: %d sources, %d targets", ErrLineCountMismatch, len(sources), len(targets))
	}
	return sources, targets, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSplitFileNotExists, path)
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return lines, nil
}
