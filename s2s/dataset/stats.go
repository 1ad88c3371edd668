package dataset

import (
	roaring "github.com/RoaringBitmap/roaring"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ZanzyTHEbar/seq2seq-encoder/s2s/encoder"
)

// LengthSummary describes raw (pre-truncation) token lengths.
type LengthSummary struct {
	Mean   float64
	StdDev float64
	Max    int
}

// Stats is the end-of-pass report. Bitmaps hold example indices; the counts
// are their cardinalities.
type Stats struct {
	Split           string
	Examples        int
	SourceTruncated *roaring.Bitmap
	TargetTruncated *roaring.Bitmap
	EmptySource     *roaring.Bitmap
	SourceLengths   LengthSummary
	// TargetLengths is zero in eval mode, where targets are not tokenized.
	TargetLengths LengthSummary
}

func newStats(split string) *Stats {
	return &Stats{
		Split:           split,
		SourceTruncated: roaring.New(),
		TargetTruncated: roaring.New(),
		EmptySource:     roaring.New(),
	}
}

// collectStats reduces per-example results into one report.
func collectStats(split string, mode encoder.Mode, results []encoder.Result) *Stats {
	s := newStats(split)
	s.Examples = len(results)
	if len(results) == 0 {
		return s
	}

	srcLens := make([]float64, len(results))
	tgtLens := make([]float64, len(results))
	for i, r := range results {
		idx := uint32(i)
		if r.SourceTruncated {
			s.SourceTruncated.Add(idx)
		}
		if r.TargetTruncated {
			s.TargetTruncated.Add(idx)
		}
		if r.EmptySource {
			s.EmptySource.Add(idx)
		}
		srcLens[i] = float64(r.SourceTokens)
		tgtLens[i] = float64(r.TargetTokens)
	}

	s.SourceLengths = summarize(srcLens)
	if mode == encoder.Train {
		s.TargetLengths = summarize(tgtLens)
	}
	return s
}

func summarize(xs []float64) LengthSummary {
	mean, std := stat.MeanStdDev(xs, nil)
	if len(xs) < 2 {
		std = 0
	}
	return LengthSummary{Mean: mean, StdDev: std, Max: int(floats.Max(xs))}
}

func (s *Stats) NumSourceTruncated() int { return int(s.SourceTruncated.GetCardinality()) }

func (s *Stats) NumTargetTruncated() int { return int(s.TargetTruncated.GetCardinality()) }

func (s *Stats) NumEmptySource() int { return int(s.EmptySource.GetCardinality()) }
